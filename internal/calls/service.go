package calls

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"github.com/google/uuid"
)

// LeadStore is the lead persistence the voice channel drives.
type LeadStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	DueForCall(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error)
	ClaimDueCall(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ScheduleCall(ctx context.Context, id uuid.UUID, at time.Time, marker string) error
	SetLastCallStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkSentForContact(ctx context.Context, id uuid.UUID) error
	MarkContacted(ctx context.Context, id uuid.UUID, patch repository.ContactedPatch) error
	MarkCallFailed(ctx context.Context, id uuid.UUID, status string) error
	IncrementAttempts(ctx context.Context, id uuid.UUID, maxAttempts, retryMinutes int, status string) (repository.RetryOutcome, error)
	MarkDoNotContact(ctx context.Context, id uuid.UUID) error
}

// LogStore persists structured call logs and observability events.
type LogStore interface {
	InsertQueued(ctx context.Context, leadID uuid.UUID, attempt int, externalCallID string) (uuid.UUID, error)
	UpdateProgress(ctx context.Context, externalCallID, status string) error
	LeadIDForCall(ctx context.Context, externalCallID string) (uuid.UUID, error)
	ApplyTerminal(ctx context.Context, leadID uuid.UUID, externalCallID string, patch TerminalPatch) (TerminalResult, error)
	RecordEvent(ctx context.Context, row EventRow) error
	ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]CallLog, error)
}

const (
	// errorRetryMinutes is the fallback delay before a failed due attempt is retried.
	errorRetryMinutes = 30
	maxEventNotes     = 500
)

// RulesSource resolves effective campaign rules.
type RulesSource interface {
	Rules(ctx context.Context, id *uuid.UUID) campaigns.Rules
}

// Service orchestrates the gate, the dispatcher and the lead call state.
type Service struct {
	leads      LeadStore
	logs       LogStore
	rules      RulesSource
	gate       *Gate
	dispatcher *Dispatcher
	bus        events.Bus
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
}

// NewService creates the calls service.
func NewService(leads LeadStore, logs LogStore, rules RulesSource, gate *Gate, dispatcher *Dispatcher, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		leads:      leads,
		logs:       logs,
		rules:      rules,
		gate:       gate,
		dispatcher: dispatcher,
		bus:        bus,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// AttemptCall runs the gate for a lead and either dispatches, defers or
// records why the call was not placed.
func (s *Service) AttemptCall(ctx context.Context, lead domain.Lead) (DispatchResult, error) {
	rules := s.rules.Rules(ctx, lead.CampaignID)
	now := s.now().UTC()
	log := s.log.WithLead(lead.ID.String())

	gate, err := s.gate.Evaluate(ctx, lead, rules, now)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("evaluate gate: %w", err)
	}

	switch gate.Outcome {
	case OutcomeAllowed:
		return s.dispatcher.Dispatch(ctx, lead, rules, gate.Phone)

	case OutcomeInsufficientCredits:
		notes := fmt.Sprintf("domain=%s balance=%d required=%d", gate.Domain, gate.Balance, gate.Required)
		recordEvent(ctx, s.logs, s.log, EventRow{LeadID: &lead.ID, Status: domain.CallMarkerBlocked, Notes: notes})
		if err := s.leads.SetLastCallStatus(ctx, lead.ID, domain.StatusBlockedInsufficientCredits); err != nil {
			return DispatchResult{}, fmt.Errorf("mark blocked: %w", err)
		}
		if s.bus != nil {
			s.bus.Publish(ctx, events.CallBlocked{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    lead.ID,
				UserID:    lead.UserID,
				Reason:    OutcomeInsufficientCredits,
			})
		}
		log.Info("call blocked", "reason", OutcomeInsufficientCredits, "domain", gate.Domain, "balance", gate.Balance)

	case OutcomeCallsDisabled:
		recordEvent(ctx, s.logs, s.log, EventRow{LeadID: &lead.ID, Status: domain.CallMarkerSkipped, Notes: "calls disabled by campaign"})

	case OutcomeDoNotContact:
		recordEvent(ctx, s.logs, s.log, EventRow{LeadID: &lead.ID, Status: domain.CallMarkerSkipped, Notes: "do not contact"})

	case OutcomeNoPhone:
		recordEvent(ctx, s.logs, s.log, EventRow{LeadID: &lead.ID, Status: domain.CallMarkerNoPhone})
		if err := s.leads.SetLastCallStatus(ctx, lead.ID, domain.CallMarkerNoPhone); err != nil {
			return DispatchResult{}, fmt.Errorf("mark no phone: %w", err)
		}

	case OutcomeNoTimezone:
		recordEvent(ctx, s.logs, s.log, EventRow{LeadID: &lead.ID, Status: domain.CallMarkerNoTimezone, Notes: gate.Phone})
		if err := s.leads.SetLastCallStatus(ctx, lead.ID, domain.CallMarkerNoTimezone); err != nil {
			return DispatchResult{}, fmt.Errorf("mark no timezone: %w", err)
		}

	case OutcomeOutOfWindow:
		if err := s.leads.ScheduleCall(ctx, lead.ID, gate.NextEligible, domain.CallMarkerScheduled); err != nil {
			return DispatchResult{}, fmt.Errorf("schedule call: %w", err)
		}
		recordEvent(ctx, s.logs, s.log, EventRow{
			LeadID: &lead.ID,
			Status: domain.CallMarkerScheduled,
			Notes:  "next=" + gate.NextEligible.Format(time.RFC3339) + " tz=" + gate.Location.String(),
		})
		log.Info("call deferred to window", "nextCallAt", gate.NextEligible)
	}

	s.metrics.CallDispatched(gate.Outcome)
	return DispatchResult{Reason: gate.Outcome}, nil
}

// AttemptCallByID loads the lead and attempts it.
func (s *Service) AttemptCallByID(ctx context.Context, leadID uuid.UUID) (DispatchResult, error) {
	lead, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return DispatchResult{}, err
	}
	return s.AttemptCall(ctx, lead)
}

// leadForUser loads a lead owned by userID; other owners see ErrLeadNotFound.
func (s *Service) leadForUser(ctx context.Context, leadID, userID uuid.UUID) (domain.Lead, error) {
	lead, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead.UserID != userID {
		return domain.Lead{}, repository.ErrLeadNotFound
	}
	return lead, nil
}

// CampaignInstructions renders the assistant prompt for a campaign. An
// unknown or missing campaign gets the default caller script.
func (s *Service) CampaignInstructions(ctx context.Context, campaignID *uuid.UUID) string {
	return campaigns.BuildPrompt(s.rules.Rules(ctx, campaignID).Caller)
}

// RunDueCalls processes leads whose retry is due. A lead is only attempted by
// the worker whose conditional claim cleared its next_call_at.
func (s *Service) RunDueCalls(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	due, err := s.leads.DueForCall(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due calls: %w", err)
	}

	processed := 0
	for _, lead := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		claimed, err := s.leads.ClaimDueCall(ctx, lead.ID, now)
		if err != nil {
			s.log.Error("claim due call failed", "leadId", lead.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		lead.NextCallAt = nil
		if _, err := s.AttemptCall(ctx, lead); err != nil {
			s.log.Error("due call attempt failed", "leadId", lead.ID, "error", err)
			s.requeueAfterError(ctx, lead)
			continue
		}
		processed++
	}
	return processed, nil
}

// requeueAfterError puts a claimed lead back on the schedule when its attempt
// failed before a call was placed. The claim already cleared next_call_at, so
// without this the lead would never be picked up again.
func (s *Service) requeueAfterError(ctx context.Context, lead domain.Lead) {
	ctx = context.WithoutCancel(ctx)
	minutes := s.rules.Rules(ctx, lead.CampaignID).RetryMinutes
	if minutes < 1 {
		minutes = errorRetryMinutes
	}
	next := s.now().UTC().Add(time.Duration(minutes) * time.Minute)
	if err := s.leads.ScheduleCall(ctx, lead.ID, next, domain.CallMarkerRetryAfterError); err != nil {
		s.log.Error("requeue after failed attempt", "leadId", lead.ID, "error", err)
	}
}

// Reschedule counts an unanswered attempt and schedules the next one, or
// stops at the campaign's ceiling.
func (s *Service) Reschedule(ctx context.Context, lead domain.Lead, status string) (repository.RetryOutcome, error) {
	rules := s.rules.Rules(ctx, lead.CampaignID)
	out, err := s.leads.IncrementAttempts(ctx, lead.ID, rules.MaxAttempts, rules.RetryMinutes, status)
	if err != nil {
		return out, fmt.Errorf("increment attempts: %w", err)
	}
	if out.NextCallAt == nil {
		recordEvent(ctx, s.logs, s.log, EventRow{
			LeadID: &lead.ID,
			Status: domain.CallMarkerMaxRetries,
			Notes:  fmt.Sprintf("attempts=%d max=%d", out.Attempts, rules.MaxAttempts),
		})
		return out, nil
	}
	recordEvent(ctx, s.logs, s.log, EventRow{
		LeadID: &lead.ID,
		Status: domain.CallMarkerScheduledRetry,
		Notes:  fmt.Sprintf("attempts=%d next=%s", out.Attempts, out.NextCallAt.UTC().Format(time.RFC3339)),
	})
	return out, nil
}

// CallLogs returns the structured call history of a lead.
func (s *Service) CallLogs(ctx context.Context, leadID uuid.UUID) ([]CallLog, error) {
	return s.logs.ListForLead(ctx, leadID, 50)
}

// recordEvent writes an observability row; failures are logged, never returned.
func recordEvent(ctx context.Context, store LogStore, log *logger.Logger, row EventRow) {
	if err := store.RecordEvent(ctx, row); err != nil {
		log.Warn("failed to record call event", "status", row.Status, "error", err)
	}
}

