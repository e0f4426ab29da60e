package credits

import (
	"context"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"github.com/google/uuid"
)

const (
	ReasonCallUsage      = "call_usage"
	ReasonStripeCheckout = "stripe_checkout"
	ReasonManualGrant    = "manual_grant"
)

// Store is the persistence surface used by Service.
type Store interface {
	OwnerEmail(ctx context.Context, userID uuid.UUID) (string, error)
	Balance(ctx context.Context, domain string) (int64, error)
	Increment(ctx context.Context, domain string, amount int64) (int64, error)
	Decrement(ctx context.Context, domain string, amount int64) (int64, error)
	AppendLedger(ctx context.Context, entry LedgerEntry) error
	RecordUsageAndSpend(ctx context.Context, p UsageParams) (bool, int64, error)
	ApplyCheckout(ctx context.Context, entry LedgerEntry, sessionID string) (bool, int64, error)
}

// BillCallParams identifies a completed call to bill.
type BillCallParams struct {
	ExternalCallID  string
	LeadID          uuid.UUID
	UserID          uuid.UUID
	DurationSeconds int
}

// BillResult reports what BillCall did.
type BillResult struct {
	Domain    string
	Credits   int64
	Balance   int64
	Applied   bool
	Unmetered bool
}

// Service implements the credit ledger operations.
type Service struct {
	store   Store
	cfg     config.BillingConfig
	bus     events.Bus
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewService creates a new credits service.
func NewService(store Store, cfg config.BillingConfig, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{store: store, cfg: cfg, bus: bus, metrics: m, log: log}
}

// DomainFromEmail returns the lowercase domain part of an email address.
func DomainFromEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// ResolveDomain derives the billing organization from a user's email.
// An empty result means the user is not metered.
func (s *Service) ResolveDomain(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", nil
	}
	email, err := s.store.OwnerEmail(ctx, userID)
	if err != nil {
		return "", err
	}
	return DomainFromEmail(email), nil
}

// Balance returns the balance for domain.
func (s *Service) Balance(ctx context.Context, domain string) (int64, error) {
	return s.store.Balance(ctx, domain)
}

// Add increments the balance. amount must be positive.
func (s *Service) Add(ctx context.Context, domain string, amount int64, reason string, meta map[string]any) (int64, error) {
	if domain == "" {
		return 0, apperr.Validation("domain is required")
	}
	if amount <= 0 {
		return 0, apperr.Validation("amount must be positive")
	}

	balance, err := s.store.Increment(ctx, domain, amount)
	if err != nil {
		return 0, err
	}
	s.appendLedger(ctx, LedgerEntry{Domain: domain, Delta: amount, Reason: reason, Meta: meta})
	s.metrics.CreditsAdd(amount)
	s.publishAdded(ctx, domain, amount, reason)
	return balance, nil
}

// Spend decrements the balance, never below zero.
func (s *Service) Spend(ctx context.Context, domain string, amount int64, reason string, meta map[string]any) (int64, error) {
	if domain == "" {
		return 0, apperr.Validation("domain is required")
	}
	if amount <= 0 {
		return s.store.Balance(ctx, domain)
	}

	balance, err := s.store.Decrement(ctx, domain, amount)
	if err != nil {
		return 0, err
	}
	s.appendLedger(ctx, LedgerEntry{Domain: domain, Delta: -amount, Reason: reason, Meta: meta})
	s.metrics.CreditsSpend(amount)
	return balance, nil
}

// MinRequiredCredits converts the reserve threshold in cents into whole credits.
func (s *Service) MinRequiredCredits() int64 {
	return MinRequiredCredits(s.cfg.GetMinReserveCents(), s.cfg.GetPriceCentsPerMinute())
}

// MinRequiredCredits is ceil(reserveCents/priceCentsPerMinute), at least 1.
func MinRequiredCredits(reserveCents, priceCentsPerMinute int64) int64 {
	if priceCentsPerMinute <= 0 || reserveCents <= 0 {
		return 1
	}
	n := (reserveCents + priceCentsPerMinute - 1) / priceCentsPerMinute
	if n < 1 {
		return 1
	}
	return n
}

// CreditsForDuration rounds a call duration up to whole minutes, minimum 1.
func CreditsForDuration(seconds int) int64 {
	if seconds <= 0 {
		return 1
	}
	return int64((seconds + 59) / 60)
}

// CreditsForCents converts a paid amount into credits.
func (s *Service) CreditsForCents(amountCents int64) int64 {
	price := s.cfg.GetPriceCentsPerCredit()
	if price <= 0 || amountCents <= 0 {
		return 0
	}
	return amountCents / price
}

// BillCall charges a completed call exactly once per external call id.
func (s *Service) BillCall(ctx context.Context, p BillCallParams) (BillResult, error) {
	if p.ExternalCallID == "" {
		return BillResult{}, apperr.Validation("external call id is required")
	}

	domain, err := s.ResolveDomain(ctx, p.UserID)
	if err != nil {
		return BillResult{}, err
	}
	credits := CreditsForDuration(p.DurationSeconds)
	if domain == "" {
		return BillResult{Credits: credits, Unmetered: true}, nil
	}

	applied, balance, err := s.store.RecordUsageAndSpend(ctx, UsageParams{
		ExternalCallID:  p.ExternalCallID,
		Domain:          domain,
		LeadID:          p.LeadID,
		DurationSeconds: p.DurationSeconds,
		Credits:         credits,
	})
	if err != nil {
		return BillResult{}, err
	}
	if !applied {
		s.log.Info("call already billed", "externalCallId", p.ExternalCallID, "domain", domain)
		return BillResult{Domain: domain, Credits: credits}, nil
	}

	s.appendLedger(ctx, LedgerEntry{
		Domain: domain,
		Delta:  -credits,
		Reason: ReasonCallUsage,
		Meta: map[string]any{
			"external_call_id": p.ExternalCallID,
			"lead_id":          p.LeadID.String(),
			"duration_seconds": p.DurationSeconds,
		},
	})
	s.metrics.CreditsSpend(credits)
	s.log.Info("call billed", "externalCallId", p.ExternalCallID, "domain", domain, "credits", credits, "balance", balance)
	return BillResult{Domain: domain, Credits: credits, Balance: balance, Applied: true}, nil
}

// ApplyCheckout credits a paid Stripe session once.
func (s *Service) ApplyCheckout(ctx context.Context, sessionID, domain string, amountCents int64) (BillResult, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || sessionID == "" {
		return BillResult{}, apperr.Validation("session id and domain are required")
	}
	credits := s.CreditsForCents(amountCents)
	if credits <= 0 {
		return BillResult{Domain: domain}, nil
	}

	applied, balance, err := s.store.ApplyCheckout(ctx, LedgerEntry{
		Domain: domain,
		Delta:  credits,
		Reason: ReasonStripeCheckout,
		Meta:   map[string]any{"amount_cents": amountCents},
	}, sessionID)
	if err != nil {
		return BillResult{}, err
	}
	if applied {
		s.metrics.CreditsAdd(credits)
		s.publishAdded(ctx, domain, credits, ReasonStripeCheckout)
	}
	return BillResult{Domain: domain, Credits: credits, Balance: balance, Applied: applied}, nil
}

func (s *Service) appendLedger(ctx context.Context, entry LedgerEntry) {
	if err := s.store.AppendLedger(ctx, entry); err != nil {
		s.log.Warn("credit ledger entry failed", "domain", entry.Domain, "reason", entry.Reason, "error", err)
	}
}

func (s *Service) publishAdded(ctx context.Context, domain string, amount int64, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.CreditsAdded{
		BaseEvent: events.NewBaseEvent(),
		Domain:    domain,
		Delta:     amount,
		Reason:    reason,
	})
}
