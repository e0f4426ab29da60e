package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

// HandleWebhook reconciles one provider event. Every event with a known lead
// gets an observability row; only terminal events change lead state.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) error {
	ev, err := ParseEvent(body)
	if err != nil {
		return err
	}
	s.metrics.CallEvent(ev.StatusOrRaw())

	leadID := ev.LeadID
	if leadID == nil && ev.ExternalCallID != "" {
		if id, err := s.logs.LeadIDForCall(ctx, ev.ExternalCallID); err == nil {
			leadID = &id
		} else if !errors.Is(err, ErrCallNotFound) {
			s.log.Warn("call lookup failed", "externalCallId", ev.ExternalCallID, "error", err)
		}
	}

	if leadID != nil {
		recordEvent(ctx, s.logs, s.log, EventRow{
			LeadID:         leadID,
			ExternalCallID: ev.ExternalCallID,
			Status:         ev.StatusOrRaw(),
			Notes:          sanitize.Truncate(ev.Summary, maxEventNotes),
			Raw:            json.RawMessage(body),
		})
	}

	if ev.Status == "" {
		return nil
	}
	if !IsTerminal(ev.Status) {
		if err := s.logs.UpdateProgress(ctx, ev.ExternalCallID, ev.Status); err != nil {
			s.log.Warn("call progress update failed", "externalCallId", ev.ExternalCallID, "error", err)
		}
		return nil
	}
	if leadID == nil {
		s.log.Warn("terminal call event without lead", "externalCallId", ev.ExternalCallID, "status", ev.Status)
		return nil
	}

	return s.reconcileTerminal(ctx, *leadID, ev)
}

func (s *Service) reconcileTerminal(ctx context.Context, leadID uuid.UUID, ev Event) error {
	log := s.log.WithLead(leadID.String()).WithCall(ev.ExternalCallID)

	applied, err := s.logs.ApplyTerminal(ctx, leadID, ev.ExternalCallID, TerminalPatch{
		Status:          ev.Status,
		StartedAt:       ev.StartedAt,
		EndedAt:         ev.EndedAt,
		DurationSeconds: ev.DurationSeconds,
		RecordingURL:    ev.RecordingURL,
		Summary:         ev.Summary,
	})
	if err != nil {
		return fmt.Errorf("apply terminal call status: %w", err)
	}
	if applied.RowID != uuid.Nil && !applied.Applied {
		log.Info("terminal call event ignored", "status", ev.Status, "current", applied.Previous)
		return nil
	}

	lead, err := s.leads.Get(ctx, leadID)
	if errors.Is(err, repository.ErrLeadNotFound) {
		log.Warn("terminal call event for unknown lead")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	switch ev.Status {
	case StatusCompleted:
		return s.completeCall(ctx, lead, ev, applied.RowID)
	case StatusFailed:
		return s.leads.MarkCallFailed(ctx, lead.ID, StatusFailed)
	case StatusCanceled:
		return s.leads.SetLastCallStatus(ctx, lead.ID, StatusCanceled)
	case StatusNoAnswer, StatusBusy:
		_, err := s.Reschedule(ctx, lead, ev.Status)
		return err
	}
	return nil
}

func (s *Service) completeCall(ctx context.Context, lead domain.Lead, ev Event, rowID uuid.UUID) error {
	log := s.log.WithLead(lead.ID.String())

	name, firstName, company := contactedPatch(ParseSummary(ev.Summary))
	if err := s.leads.MarkContacted(ctx, lead.ID, repository.ContactedPatch{
		Name:        name,
		FirstName:   firstName,
		CompanyName: company,
	}); err != nil {
		return fmt.Errorf("mark contacted: %w", err)
	}

	rules := s.rules.Rules(ctx, lead.CampaignID)
	if shouldMarkDoNotContact(rules, ev.Summary) {
		if err := s.leads.MarkDoNotContact(ctx, lead.ID); err != nil {
			log.Error("failed to mark do not contact", "error", err)
		} else {
			log.Info("lead opted out on call")
		}
	} else if shouldSendFollowup(rules, ev.Summary) && s.bus != nil {
		s.bus.Publish(ctx, events.CallFollowupRequested{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID,
			UserID:     lead.UserID,
			CampaignID: lead.CampaignID,
		})
	}

	billingKey := ev.ExternalCallID
	if billingKey == "" && rowID != uuid.Nil {
		billingKey = "log:" + rowID.String()
	}
	if billingKey == "" {
		log.Warn("completed call has no billing key, not billed")
		return nil
	}
	if s.bus == nil {
		return nil
	}

	// Billing failures are logged; the provider still gets its acknowledgement.
	if err := s.bus.PublishSync(ctx, events.CallCompleted{
		BaseEvent:       events.NewBaseEvent(),
		LeadID:          lead.ID,
		UserID:          lead.UserID,
		ExternalCallID:  billingKey,
		DurationSeconds: ev.Duration(),
	}); err != nil {
		log.Error("call billing failed", "externalCallId", billingKey, "error", err)
	}
	return nil
}
