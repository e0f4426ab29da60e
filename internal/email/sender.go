// Package email delivers plain-text outreach email over SMTP or the Gmail API.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Providers recorded in email_logs.provider.
const (
	ProviderSMTP  = "smtp"
	ProviderGmail = "gmail_api"
	ProviderNoop  = "noop"
)

// ErrNoChannel is returned when neither a per-user nor the shared channel can send.
var ErrNoChannel = errors.New("no email channel available")

// Message is one outbound email. Body is plain text.
type Message struct {
	To       string
	Subject  string
	Body     string
	ReplyTo  string
	FromName string
}

// Receipt identifies a delivered message.
type Receipt struct {
	Provider  string
	MessageID string
}

// Sender delivers a message through one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NoopSender accepts every message without delivering it.
type NoopSender struct{}

func (NoopSender) Send(context.Context, Message) (Receipt, error) {
	return Receipt{Provider: ProviderNoop}, nil
}

// ReplyAddress builds the plus-tagged Reply-To for a lead. When domain is
// empty the sender's own domain is used.
func ReplyAddress(from, domain string, leadID uuid.UUID) string {
	local, senderDomain, ok := strings.Cut(strings.TrimSpace(from), "@")
	if !ok || local == "" {
		return ""
	}
	if domain == "" {
		domain = senderDomain
	}
	if domain == "" {
		return ""
	}
	return fmt.Sprintf("%s+%s@%s", local, leadID.String(), domain)
}
