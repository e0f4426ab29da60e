package calls

import (
	"context"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/phone"

	"github.com/google/uuid"
)

// Gate outcomes. Everything except OutcomeAllowed means no call is placed now.
const (
	OutcomeAllowed             = "allowed"
	OutcomeDoNotContact        = "do_not_contact"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomeCallsDisabled       = "calls_disabled"
	OutcomeNoPhone             = "no_phone"
	OutcomeNoTimezone          = "no_timezone"
	OutcomeOutOfWindow         = "out_of_window"
)

// CreditChecker is the slice of the credit ledger the gate needs.
type CreditChecker interface {
	ResolveDomain(ctx context.Context, userID uuid.UUID) (string, error)
	Balance(ctx context.Context, domain string) (int64, error)
	MinRequiredCredits() int64
}

// GateResult is the gate's decision for one lead.
type GateResult struct {
	Outcome      string
	Phone        string
	Location     *time.Location
	NextEligible time.Time
	Domain       string
	Balance      int64
	Required     int64
}

// Allowed reports whether the call may be dispatched now.
func (r GateResult) Allowed() bool {
	return r.Outcome == OutcomeAllowed
}

// Gate evaluates whether a lead may be called right now.
type Gate struct {
	credits            CreditChecker
	region             string
	allowWithoutDomain bool
	locate             func(number, region string) (*time.Location, bool)
}

// NewGate creates a gate. region is the default phone region for numbers
// without a country code.
func NewGate(credits CreditChecker, region string, allowWithoutDomain bool) *Gate {
	return &Gate{credits: credits, region: region, allowWithoutDomain: allowWithoutDomain, locate: phone.Location}
}

// Evaluate runs the checks in order: opt-out, credit, campaign toggle,
// phone, timezone and window. It has no side effects.
func (g *Gate) Evaluate(ctx context.Context, lead domain.Lead, rules campaigns.Rules, now time.Time) (GateResult, error) {
	if lead.DoNotContact {
		return GateResult{Outcome: OutcomeDoNotContact}, nil
	}

	res, err := g.checkCredit(ctx, lead)
	if err != nil || res.Outcome != "" {
		return res, err
	}

	if !rules.SendCalls {
		res.Outcome = OutcomeCallsDisabled
		return res, nil
	}

	number, ok := phone.FirstValid(lead.PhoneCandidates(), g.region)
	if !ok {
		res.Outcome = OutcomeNoPhone
		return res, nil
	}
	res.Phone = number

	loc, ok := g.locate(number, g.region)
	if !ok {
		res.Outcome = OutcomeNoTimezone
		return res, nil
	}
	res.Location = loc

	if !InWindow(now, loc, rules.CallWindowStart, rules.CallWindowEnd) {
		res.Outcome = OutcomeOutOfWindow
		res.NextEligible = NextEligibleInstant(now, loc, rules.CallWindowStart, rules.CallWindowEnd)
		return res, nil
	}

	res.Outcome = OutcomeAllowed
	return res, nil
}

func (g *Gate) checkCredit(ctx context.Context, lead domain.Lead) (GateResult, error) {
	var res GateResult
	if g.credits == nil {
		return res, nil
	}
	domainName, err := g.credits.ResolveDomain(ctx, lead.UserID)
	if err != nil {
		return res, err
	}
	res.Domain = domainName
	if domainName == "" {
		if !g.allowWithoutDomain {
			res.Outcome = OutcomeInsufficientCredits
		}
		return res, nil
	}

	balance, err := g.credits.Balance(ctx, domainName)
	if err != nil {
		return res, err
	}
	res.Balance = balance
	res.Required = g.credits.MinRequiredCredits()
	if balance < res.Required {
		res.Outcome = OutcomeInsufficientCredits
	}
	return res, nil
}
