// Package payments sells credits through Stripe Checkout and credits the
// buyer's organization when Stripe reports the session as completed.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"leadflow_backend/internal/credits"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	MinAmountCents = 100

	eventCheckoutCompleted = "checkout.session.completed"
	productName            = "Outreach credits"
	reasonTopup            = "topup"
)

var (
	ErrWebhookNotConfigured = errors.New("stripe webhook secret not configured")
	ErrInvalidSignature     = errors.New("invalid stripe signature")
)

// SessionCreator creates Stripe checkout sessions.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CreditLedger is the part of the credits service payments needs.
type CreditLedger interface {
	ResolveDomain(ctx context.Context, userID uuid.UUID) (string, error)
	CreditsForCents(amountCents int64) int64
	ApplyCheckout(ctx context.Context, sessionID, domain string, amountCents int64) (credits.BillResult, error)
}

// CheckoutResult is returned to the browser.
type CheckoutResult struct {
	URL        string `json:"url"`
	SessionID  string `json:"sessionId"`
	EstCredits int64  `json:"estCredits"`
}

// WebhookResult describes what a verified event did.
type WebhookResult struct {
	Type    string `json:"type"`
	Domain  string `json:"domain,omitempty"`
	Credits int64  `json:"credits,omitempty"`
	Applied bool   `json:"applied"`
}

// Service implements checkout creation and webhook handling.
type Service struct {
	sessions SessionCreator
	ledger   CreditLedger
	cfg      config.StripeConfig
	log      *logger.Logger
}

// NewService creates a payments service. A nil creator builds one from the
// configured secret key.
func NewService(sessions SessionCreator, ledger CreditLedger, cfg config.StripeConfig, log *logger.Logger) *Service {
	if sessions == nil && cfg.GetStripeSecretKey() != "" {
		sessions = &checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.GetStripeSecretKey()}
	}
	return &Service{sessions: sessions, ledger: ledger, cfg: cfg, log: log}
}

// CreateCheckout opens a one-off payment session for the caller's organization.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, amountCents int64, returnTo string) (CheckoutResult, error) {
	if s.sessions == nil {
		return CheckoutResult{}, apperr.Unavailable("payments are not configured")
	}
	if amountCents < MinAmountCents {
		return CheckoutResult{}, apperr.Validation(fmt.Sprintf("amountCents must be at least %d", MinAmountCents))
	}
	domain, err := s.ledger.ResolveDomain(ctx, userID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if domain == "" {
		return CheckoutResult{}, apperr.Validation("no billing organization for this account")
	}

	estCredits := s.ledger.CreditsForCents(amountCents)
	successURL := strings.TrimSpace(returnTo)
	if successURL == "" {
		successURL = s.cfg.GetStripeSuccessURL()
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.cfg.GetStripeCurrency()),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(s.cfg.GetStripeCancelURL()),
		Metadata: map[string]string{
			"domain":                 domain,
			"amount_cents":           strconv.FormatInt(amountCents, 10),
			"price_cents_per_credit": strconv.FormatInt(s.cfg.GetPriceCentsPerCredit(), 10),
			"est_credits":            strconv.FormatInt(estCredits, 10),
			"reason":                 reasonTopup,
		},
	}
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		s.log.Error("stripe checkout session failed", "domain", domain, "error", err)
		return CheckoutResult{}, apperr.Wrap(apperr.KindInternal, "failed to create checkout session", err)
	}
	s.log.Info("stripe checkout created", "domain", domain, "amountCents", amountCents, "sessionId", sess.ID)
	return CheckoutResult{URL: sess.URL, SessionID: sess.ID, EstCredits: estCredits}, nil
}

// HandleWebhook verifies and applies one Stripe event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	secret := s.cfg.GetStripeWebhookSecret()
	if secret == "" {
		return WebhookResult{}, ErrWebhookNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := WebhookResult{Type: string(event.Type)}
	if event.Type != eventCheckoutCompleted {
		return result, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return result, apperr.BadRequest("malformed checkout session")
	}
	domain := strings.ToLower(strings.TrimSpace(sess.Metadata["domain"]))
	amountCents := checkoutAmount(&sess)
	if domain == "" || amountCents <= 0 {
		s.log.Warn("checkout session without domain or amount", "sessionId", sess.ID)
		return result, nil
	}

	billed, err := s.ledger.ApplyCheckout(ctx, sess.ID, domain, amountCents)
	if err != nil {
		return result, err
	}
	result.Domain = billed.Domain
	result.Credits = billed.Credits
	result.Applied = billed.Applied
	s.log.Info("stripe checkout completed",
		"sessionId", sess.ID,
		"domain", domain,
		"amountCents", amountCents,
		"credits", billed.Credits,
		"applied", billed.Applied,
	)
	return result, nil
}

// checkoutAmount prefers the amount recorded at creation over the charged total.
func checkoutAmount(sess *stripe.CheckoutSession) int64 {
	if v, err := strconv.ParseInt(strings.TrimSpace(sess.Metadata["amount_cents"]), 10, 64); err == nil && v > 0 {
		return v
	}
	return sess.AmountTotal
}
