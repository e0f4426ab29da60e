package email

import (
	"context"
	"fmt"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// TokenSources hands out a user's Google token source. ok is false when the
// user has not connected an account.
type TokenSources interface {
	TokenSource(ctx context.Context, userID uuid.UUID) (ts oauth2.TokenSource, ok bool, err error)
}

// Router picks the channel for a send: the owner's Gmail account when
// connected, else the shared SMTP mailbox when fallback is allowed.
type Router struct {
	tokens        TokenSources
	smtp          Sender
	allowFallback bool
	fromName      string
	fromEmail     string
	log           *logger.Logger
}

// NewRouter creates a router. tokens and smtp may be nil.
func NewRouter(cfg config.EmailConfig, tokens TokenSources, smtp Sender, log *logger.Logger) *Router {
	return &Router{
		tokens:        tokens,
		smtp:          smtp,
		allowFallback: cfg.GetAllowSMTPFallback(),
		fromName:      cfg.GetEmailFromName(),
		fromEmail:     cfg.GetEmailFromAddress(),
		log:           log,
	}
}

// SenderFor resolves the channel for a lead owner.
func (r *Router) SenderFor(ctx context.Context, userID uuid.UUID) (Sender, error) {
	if r.tokens != nil && userID != uuid.Nil {
		ts, ok, err := r.tokens.TokenSource(ctx, userID)
		if err != nil {
			r.log.Warn("google token lookup failed", "userId", userID, "error", err)
		}
		if ok {
			return NewGmailSender(ts, r.fromEmail, r.fromName), nil
		}
	}
	if r.allowFallback && r.smtp != nil {
		return r.smtp, nil
	}
	return nil, ErrNoChannel
}

// Send delivers msg through the owner's channel.
func (r *Router) Send(ctx context.Context, userID uuid.UUID, msg Message) (Receipt, error) {
	sender, err := r.SenderFor(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := sender.Send(ctx, msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return receipt, nil
}

// FromAddress is the shared sender address used for plus-tagged replies.
func (r *Router) FromAddress() string {
	return r.fromEmail
}
