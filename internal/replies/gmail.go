package replies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/google"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"google.golang.org/api/gmail/v1"
)

const (
	gmailUser       = "me"
	gmailMaxResults = 100
	gmailLookback   = "newer_than:7d -in:sent -in:chat"
	gmailInboxLabel = "INBOX"
	headerTo        = "To"
	headerDelivered = "Delivered-To"
	headerCc        = "Cc"
	headerFrom      = "From"
	headerSubject   = "Subject"
)

// GmailAccounts hands out Gmail clients for connected users.
type GmailAccounts interface {
	ConnectedUsers(ctx context.Context) ([]google.Account, error)
	Gmail(ctx context.Context, userID uuid.UUID) (*gmail.Service, string, error)
}

// GmailPoller scans the inboxes of connected Google accounts for replies
// addressed to plus-tagged reply addresses.
type GmailPoller struct {
	accounts GmailAccounts
	svc      *Service
	log      *logger.Logger
}

// NewGmailPoller creates a poller over the connected accounts.
func NewGmailPoller(accounts GmailAccounts, svc *Service, log *logger.Logger) *GmailPoller {
	return &GmailPoller{accounts: accounts, svc: svc, log: log}
}

// Poll reconciles new replies across every connected account and returns
// the number of replies matched. One failing account does not stop the rest.
func (p *GmailPoller) Poll(ctx context.Context) (int, error) {
	if p == nil || p.accounts == nil {
		return 0, nil
	}
	accounts, err := p.accounts.ConnectedUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list connected accounts: %w", err)
	}

	matched := 0
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		n, err := p.pollAccount(ctx, acc.UserID)
		if err != nil {
			p.log.Warn("gmail reply poll failed", "userId", acc.UserID.String(), "error", err)
			continue
		}
		matched += n
	}
	return matched, nil
}

func (p *GmailPoller) pollAccount(ctx context.Context, userID uuid.UUID) (int, error) {
	client, address, err := p.accounts.Gmail(ctx, userID)
	if err != nil {
		return 0, err
	}
	local, domain := splitEmail(address)
	if local == "" {
		return 0, fmt.Errorf("connected account has no usable address %q", address)
	}

	ids, err := listMessageIDs(ctx, client, taggedQuery(local, domain))
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		// Some providers rewrite the envelope, so fall back to the bare address.
		if ids, err = listMessageIDs(ctx, client, plainQuery(local, domain)); err != nil {
			return 0, err
		}
	}

	matched := 0
	for _, id := range ids {
		seen, err := p.svc.AlreadySeen(ctx, SourceGmail, id)
		if err != nil {
			return matched, err
		}
		if seen {
			continue
		}
		msg, err := client.Users.Messages.Get(gmailUser, id).
			Format("metadata").
			MetadataHeaders(headerTo, headerDelivered, headerCc, headerFrom, headerSubject).
			Context(ctx).
			Do()
		if err != nil {
			p.log.Warn("gmail message fetch failed", "messageId", id, "error", err)
			continue
		}
		m, err := p.svc.Reconcile(ctx, inboundFromGmail(msg))
		if err != nil {
			return matched, err
		}
		if m.Matched && !m.Duplicate {
			matched++
		}
	}
	return matched, nil
}

func taggedQuery(local, domain string) string {
	return fmt.Sprintf("to:%s+*@%s %s", local, domain, gmailLookback)
}

func plainQuery(local, domain string) string {
	return fmt.Sprintf("to:%s@%s %s", local, domain, gmailLookback)
}

func listMessageIDs(ctx context.Context, client *gmail.Service, query string) ([]string, error) {
	resp, err := client.Users.Messages.List(gmailUser).
		Q(query).
		LabelIds(gmailInboxLabel).
		MaxResults(gmailMaxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			ids = append(ids, m.Id)
		}
	}
	return ids, nil
}

// inboundFromGmail maps a metadata-format message. Gmail only returns the
// snippet in this format, which is enough for the reply preview.
func inboundFromGmail(msg *gmail.Message) Inbound {
	in := Inbound{Source: SourceGmail, ProviderMessageID: msg.Id, Text: msg.Snippet}
	if msg.InternalDate > 0 {
		in.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return in
	}
	for _, h := range msg.Payload.Headers {
		if h == nil {
			continue
		}
		switch {
		case strings.EqualFold(h.Name, headerDelivered),
			strings.EqualFold(h.Name, headerTo),
			strings.EqualFold(h.Name, headerCc):
			in.To = append(in.To, SplitAddresses(h.Value)...)
		case strings.EqualFold(h.Name, headerFrom):
			in.From = h.Value
		case strings.EqualFold(h.Name, headerSubject):
			in.Subject = h.Value
		}
	}
	return in
}
