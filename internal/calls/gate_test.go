package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"
)

func noZone(string, string) (*time.Location, bool) { return nil, false }

func TestGateOutcomes(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	funded := fakeCredits{domain: "acme.io", balance: 10}
	callsOff := campaigns.DefaultRules()
	callsOff.SendCalls = false

	cases := []struct {
		name    string
		credits fakeCredits
		rules   campaigns.Rules
		mutate  func(*domain.Lead)
		locate  func(string, string) (*time.Location, bool)
		want    string
	}{
		{name: "allowed", credits: funded, rules: campaigns.DefaultRules(), want: OutcomeAllowed},
		{name: "do not contact", credits: funded, rules: campaigns.DefaultRules(), mutate: func(l *domain.Lead) { l.DoNotContact = true }, want: OutcomeDoNotContact},
		{name: "low balance", credits: fakeCredits{domain: "acme.io", balance: 1}, rules: campaigns.DefaultRules(), want: OutcomeInsufficientCredits},
		{name: "calls disabled", credits: funded, rules: callsOff, want: OutcomeCallsDisabled},
		{name: "no phone", credits: funded, rules: campaigns.DefaultRules(), mutate: func(l *domain.Lead) { l.Phone = "n/a" }, want: OutcomeNoPhone},
		{name: "no timezone", credits: funded, rules: campaigns.DefaultRules(), locate: noZone, want: OutcomeNoTimezone},
	}
	for _, tc := range cases {
		lead := newLead()
		if tc.mutate != nil {
			tc.mutate(&lead)
		}
		gate := NewGate(tc.credits, "US", true)
		if tc.locate != nil {
			gate.locate = tc.locate
		}
		res, err := gate.Evaluate(context.Background(), lead, tc.rules, now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Outcome != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, res.Outcome)
		}
		if res.Allowed() != (tc.want == OutcomeAllowed) {
			t.Fatalf("%s: Allowed() disagrees with outcome", tc.name)
		}
	}
}

func TestGatePropagatesCreditLookupError(t *testing.T) {
	gate := NewGate(fakeCredits{err: errors.New("connection reset")}, "US", true)
	if _, err := gate.Evaluate(context.Background(), newLead(), campaigns.DefaultRules(), time.Now()); err == nil {
		t.Fatalf("expected the lookup error to surface")
	}
}

func TestAttemptCallWithoutTimezone(t *testing.T) {
	lead := newLead()
	h := newHarness(t, fakeCredits{domain: "acme.io", balance: 10}, campaigns.DefaultRules(), lead)
	h.svc.gate.locate = noZone

	res, err := h.svc.AttemptCall(context.Background(), lead)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if res.OK || res.Reason != OutcomeNoTimezone {
		t.Fatalf(fmtUnexpectedReason, OutcomeNoTimezone, res.Reason)
	}
	if len(h.voice.requests) != 0 {
		t.Fatalf("provider must not be called without a timezone")
	}
	got := h.leads.lead(lead.ID)
	if got.LastCallStatus == nil || *got.LastCallStatus != domain.CallMarkerNoTimezone {
		t.Fatalf("expected %q marker, got %v", domain.CallMarkerNoTimezone, got.LastCallStatus)
	}
}
