package replies

import (
	"context"
	"errors"
	"testing"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeMailbox struct {
	messages []Inbound
	closed   bool
}

func (b *fakeMailbox) Unseen(_ context.Context, limit int) ([]Inbound, error) {
	if limit > 0 && len(b.messages) > limit {
		return b.messages[:limit], nil
	}
	return b.messages, nil
}

func (b *fakeMailbox) Close() error {
	b.closed = true
	return nil
}

func TestIMAPPollerReconcilesUnseen(t *testing.T) {
	h := newHarness()
	box := &fakeMailbox{messages: []Inbound{
		{Source: SourceIMAP, ProviderMessageID: "a@mx", To: []string{h.replyTo()}, Text: "yes"},
		{Source: SourceIMAP, ProviderMessageID: "a@mx", To: []string{h.replyTo()}, Text: "yes"},
		{Source: SourceIMAP, ProviderMessageID: "b@mx", To: []string{"outreach@acme.io"}, Text: "newsletter"},
	}}
	p := NewIMAPPoller(func(context.Context) (Mailbox, error) { return box, nil }, h.svc, logger.NewNop())

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if n != 1 {
		t.Fatalf("expected one matched reply, got %d", n)
	}
	if !box.closed {
		t.Fatalf("expected the mailbox to be closed")
	}
}

func TestIMAPPollerDisabledAndDialFailure(t *testing.T) {
	h := newHarness()
	if n, err := NewIMAPPoller(nil, h.svc, logger.NewNop()).Poll(context.Background()); n != 0 || err != nil {
		t.Fatalf("a nil dialer must be a no-op, got %d %v", n, err)
	}
	dialErr := errors.New("auth failed")
	p := NewIMAPPoller(func(context.Context) (Mailbox, error) { return nil, dialErr }, h.svc, logger.NewNop())
	if _, err := p.Poll(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestIMAPPollerContinuesPastFailedMessage(t *testing.T) {
	h := newHarness()
	broken := uuid.New()
	storeErr := errors.New("connection reset")
	h.leads.failFor = map[uuid.UUID]error{broken: storeErr}
	box := &fakeMailbox{messages: []Inbound{
		{Source: SourceIMAP, ProviderMessageID: "a@mx", To: []string{"outreach@acme.io"}, Text: "newsletter"},
		{Source: SourceIMAP, ProviderMessageID: "b@mx", To: []string{"outreach+" + broken.String() + "@reply.acme.io"}, Text: "stop"},
		{Source: SourceIMAP, ProviderMessageID: "c@mx", To: []string{h.replyTo()}, Text: "yes please"},
	}}
	p := NewIMAPPoller(func(context.Context) (Mailbox, error) { return box, nil }, h.svc, logger.NewNop())

	n, err := p.Poll(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected the failed message to be reported, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the message after the failure to match, got %d", n)
	}
	if _, ok := h.leads.replies[h.lead.ID]; !ok {
		t.Fatalf("expected the reply after the failure to be recorded")
	}
	if !box.closed {
		t.Fatalf("expected the mailbox to be closed")
	}
}
