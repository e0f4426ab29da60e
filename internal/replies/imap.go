package replies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	imap "github.com/BrianLeishman/go-imap"
)

const (
	imapFolder = "INBOX"
	imapSearch = "UNSEEN"
	imapBatch  = 50
)

// Mailbox is an open IMAP session on the shared sender mailbox.
type Mailbox interface {
	Unseen(ctx context.Context, limit int) ([]Inbound, error)
	Close() error
}

// MailboxDialer opens a session per poll.
type MailboxDialer func(ctx context.Context) (Mailbox, error)

// IMAPPoller reconciles replies that land in the shared sender mailbox when
// no Google account is connected.
type IMAPPoller struct {
	dial MailboxDialer
	svc  *Service
	log  *logger.Logger
}

// NewIMAPPoller creates a poller. A nil dialer disables it.
func NewIMAPPoller(dial MailboxDialer, svc *Service, log *logger.Logger) *IMAPPoller {
	return &IMAPPoller{dial: dial, svc: svc, log: log}
}

// DialerFromConfig returns a go-imap backed dialer, or nil when IMAP is not
// configured.
func DialerFromConfig(cfg config.IMAPConfig) MailboxDialer {
	if cfg == nil || !cfg.IsIMAPEnabled() {
		return nil
	}
	return func(ctx context.Context) (Mailbox, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := imap.New(cfg.GetEmailFromAddress(), cfg.GetEmailAppPassword(), cfg.GetIMAPHost(), cfg.GetIMAPPort())
		if err != nil {
			return nil, fmt.Errorf("imap connect: %w", err)
		}
		if err := d.SelectFolder(imapFolder); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("imap select %s: %w", imapFolder, err)
		}
		return &imapMailbox{dialer: d}, nil
	}
}

// Poll reconciles unseen messages and returns the number matched.
func (p *IMAPPoller) Poll(ctx context.Context) (int, error) {
	if p == nil || p.dial == nil {
		return 0, nil
	}
	box, err := p.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := box.Close(); cerr != nil {
			p.log.Warn("imap close failed", "error", cerr)
		}
	}()

	messages, err := box.Unseen(ctx, imapBatch)
	if err != nil {
		return 0, err
	}

	// The fetch already flagged every message \Seen, so one bad message
	// must not strand the rest of the batch.
	matched := 0
	var failed []error
	for _, in := range messages {
		m, err := p.svc.Reconcile(ctx, in)
		if err != nil {
			p.log.Error("imap reply reconcile failed", "messageId", in.ProviderMessageID, "error", err)
			failed = append(failed, err)
			continue
		}
		if m.Matched && !m.Duplicate {
			matched++
		}
	}
	return matched, errors.Join(failed...)
}

type imapMailbox struct {
	dialer *imap.Dialer
}

func (b *imapMailbox) Unseen(ctx context.Context, limit int) ([]Inbound, error) {
	uids, err := b.dialer.GetUIDs(imapSearch)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emails, err := b.dialer.GetEmails(uids...)
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	out := make([]Inbound, 0, len(emails))
	for _, uid := range uids {
		e, ok := emails[uid]
		if !ok || e == nil {
			continue
		}
		out = append(out, Inbound{
			Source:            SourceIMAP,
			ProviderMessageID: strings.Trim(e.MessageID, "<> "),
			To:                append(addressKeys(e.To), addressKeys(e.CC)...),
			From:              firstAddress(e.From),
			Subject:           e.Subject,
			Text:              e.Text,
			HTML:              e.HTML,
			ReceivedAt:        e.Received.UTC(),
		})
	}
	return out, nil
}

func (b *imapMailbox) Close() error {
	return b.dialer.Close()
}

func addressKeys(addrs imap.EmailAddresses) []string {
	out := make([]string, 0, len(addrs))
	for addr := range addrs {
		out = append(out, addr)
	}
	return out
}

func firstAddress(addrs imap.EmailAddresses) string {
	for addr := range addrs {
		return addr
	}
	return ""
}
