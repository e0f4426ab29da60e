package email

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender sends as a connected Google account. Gmail rewrites From to
// the account address; fromEmail is only a label.
type GmailSender struct {
	ts        oauth2.TokenSource
	fromName  string
	fromEmail string
}

// NewGmailSender creates a sender bound to one user's tokens.
func NewGmailSender(ts oauth2.TokenSource, fromEmail, fromName string) *GmailSender {
	return &GmailSender{ts: ts, fromName: fromName, fromEmail: fromEmail}
}

func (s *GmailSender) Send(ctx context.Context, m Message) (Receipt, error) {
	msg, err := buildMsg(s.fromName, s.fromEmail, m)
	if err != nil {
		return Receipt{}, err
	}
	raw, err := rawMIME(msg)
	if err != nil {
		return Receipt{}, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(s.ts))
	if err != nil {
		return Receipt{}, fmt.Errorf("gmail service: %w", err)
	}
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return Receipt{}, fmt.Errorf("gmail send: %w", err)
	}
	return Receipt{Provider: ProviderGmail, MessageID: sent.Id}, nil
}
