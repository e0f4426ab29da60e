// Package replies matches inbound email to leads through the plus-tagged
// Reply-To address and stops their follow-up sequence.
package replies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Ingestion sources, also used as the dedup key prefix.
const (
	SourceGmail   = "gmail"
	SourceIMAP    = "imap"
	SourceWebhook = "inbound"
)

const snippetLength = 500

var providers = map[string]string{
	SourceGmail:   "gmail_inbox",
	SourceIMAP:    "imap_inbox",
	SourceWebhook: "inbound",
}

// Inbound is one received message, normalized across sources.
type Inbound struct {
	Source            string
	ProviderMessageID string
	To                []string
	From              string
	Subject           string
	Text              string
	HTML              string
	LeadID            *uuid.UUID // explicit id from provider variables, used when no tag matches
	ReceivedAt        time.Time
}

// Match is the outcome of reconciling one message.
type Match struct {
	Matched   bool      `json:"matched"`
	Duplicate bool      `json:"duplicate,omitempty"`
	LeadID    uuid.UUID `json:"leadId,omitempty"`
}

// LeadStore records replies on leads.
type LeadStore interface {
	RecordReply(ctx context.Context, id uuid.UUID, snap repository.ReplySnapshot) (domain.Lead, error)
}

// LogStore is the email log used for reply rows and dedup.
type LogStore interface {
	Append(ctx context.Context, e emaillog.Entry) (bool, error)
	Seen(ctx context.Context, idemKey string) (bool, error)
}

// Service reconciles inbound replies.
type Service struct {
	leads   LeadStore
	logs    LogStore
	bus     events.Bus
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewService creates the reply reconciler.
func NewService(leads LeadStore, logs LogStore, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		leads:   leads,
		logs:    logs,
		bus:     bus,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func dedupKey(in Inbound) string {
	if in.ProviderMessageID == "" {
		return ""
	}
	return in.Source + ":" + in.ProviderMessageID
}

// AlreadySeen reports whether a polled message was reconciled before.
func (s *Service) AlreadySeen(ctx context.Context, source, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	return s.logs.Seen(ctx, source+":"+providerMessageID)
}

// Reconcile matches a message to a lead, logs the reply and stops the
// lead's sequence. Messages without a lead id are ignored.
func (s *Service) Reconcile(ctx context.Context, in Inbound) (Match, error) {
	leadID, ok := LeadIDFromAddresses(in.To)
	if !ok && in.LeadID != nil {
		leadID, ok = *in.LeadID, true
	}
	if !ok {
		return Match{}, nil
	}

	key := dedupKey(in)
	if key != "" {
		seen, err := s.logs.Seen(ctx, key)
		if err != nil {
			return Match{}, fmt.Errorf("reply dedup lookup: %w", err)
		}
		if seen {
			return Match{Matched: true, Duplicate: true, LeadID: leadID}, nil
		}
	}

	at := in.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	snippet := sanitize.Snippet(in.Text, in.HTML, snippetLength)
	from := strings.TrimSpace(in.From)
	subject := strings.TrimSpace(in.Subject)

	log := s.log.WithLead(leadID.String())
	lead, err := s.leads.RecordReply(ctx, leadID, repository.ReplySnapshot{
		From:    from,
		Subject: subject,
		Snippet: snippet,
		At:      at,
	})
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			log.Warn("reply tagged with unknown lead", "source", in.Source)
			return Match{LeadID: leadID}, nil
		}
		return Match{}, fmt.Errorf("record reply: %w", err)
	}

	notes := "from=" + from
	entry := emaillog.Entry{
		LeadID:   &leadID,
		ToEmail:  strings.Join(in.To, ","),
		Status:   emaillog.StatusReply,
		Subject:  subject,
		Body:     snippet,
		Provider: providers[in.Source],
		Notes:    &notes,
	}
	if key != "" {
		entry.IdemKey = &key
	}
	if in.ProviderMessageID != "" {
		entry.ProviderMessageID = &in.ProviderMessageID
	}
	inserted, err := s.logs.Append(ctx, entry)
	if err != nil {
		log.Warn("reply log append failed", "source", in.Source, "error", err)
	}
	if err == nil && !inserted {
		return Match{Matched: true, Duplicate: true, LeadID: leadID}, nil
	}

	s.metrics.ReplyMatched(in.Source)
	log.Info("reply matched, sequence stopped", "source", in.Source, "from", from)
	if s.bus != nil {
		s.bus.Publish(ctx, events.LeadReplied{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    leadID,
			UserID:    lead.UserID,
			Source:    in.Source,
			Snippet:   snippet,
		})
	}
	return Match{Matched: true, LeadID: leadID}, nil
}
