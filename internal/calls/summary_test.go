package calls

import (
	"testing"

	"leadflow_backend/internal/campaigns"
)

func TestParseSummary(t *testing.T) {
	fields := ParseSummary("name=Ann Lee; Company = Acme BV ;intent=positive; action=booked; notes=wants a demo; junk")
	if fields["name"] != "Ann Lee" || fields["company"] != "Acme BV" || fields["action"] != "booked" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["junk"]; ok {
		t.Fatalf("segments without = must be ignored")
	}

	name, first, company := contactedPatch(fields)
	if name != "Ann Lee" || first != "Ann" || company != "Acme BV" {
		t.Fatalf("unexpected patch %q %q %q", name, first, company)
	}
}

func TestShouldMarkDoNotContact(t *testing.T) {
	rules := campaigns.DefaultRules()
	if shouldMarkDoNotContact(rules, "intent=not_interested") {
		t.Fatalf("policy none must never mark do not contact")
	}

	rules.Caller.NotInterestedPolicy = campaigns.PolicyMarkDoNotContact
	for _, summary := range []string{
		"intent=not_interested; action=none",
		"intent=negative; action=dnc",
		"caller said DO_NOT_CONTACT again",
	} {
		if !shouldMarkDoNotContact(rules, summary) {
			t.Fatalf("expected %q to mark do not contact", summary)
		}
	}
	if shouldMarkDoNotContact(rules, "intent=positive; action=booked") {
		t.Fatalf("positive call must not mark do not contact")
	}
}

func TestShouldSendFollowup(t *testing.T) {
	rules := campaigns.DefaultRules()
	if shouldSendFollowup(rules, "action=followup") {
		t.Fatalf("policy none must never request a follow-up")
	}

	rules.Caller.NotInterestedPolicy = campaigns.PolicySendFollowupEmail
	if !shouldSendFollowup(rules, "intent=neutral; action=followup") {
		t.Fatalf("expected action=followup to request a follow-up")
	}
	if !shouldSendFollowup(rules, "intent=not_interested; action=none") {
		t.Fatalf("expected not interested to request a follow-up")
	}
	if shouldSendFollowup(rules, "intent=positive; action=booked") {
		t.Fatalf("booked call must not request a follow-up")
	}
}
