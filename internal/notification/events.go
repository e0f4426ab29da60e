package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
)

// RegisterHandlers subscribes the service to the events it reacts to.
func (s *Service) RegisterHandlers(bus events.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.CallFollowupRequested{}.EventName(), s)
	bus.Subscribe(events.LeadReplied{}.EventName(), s)
}

// Handle routes events to the appropriate handler method.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallFollowupRequested:
		return s.handleCallFollowup(ctx, e)
	case events.LeadReplied:
		return s.handleLeadReplied(ctx, e)
	}
	return nil
}

// handleLeadReplied retires the sequence emails still waiting in the outbox
// for a lead that answered.
func (s *Service) handleLeadReplied(ctx context.Context, e events.LeadReplied) error {
	cancelled, err := s.outbox.CancelQueuedForLead(ctx, e.LeadID, firstSequenceStep, skipReasonReplied)
	if err != nil {
		return fmt.Errorf("cancel queued sequence emails: %w", err)
	}
	s.log.Info("lead replied, sequence stopped", "leadId", e.LeadID, "source", e.Source, "cancelled", cancelled)
	return nil
}

// handleCallFollowup queues a single follow-up email after a call that ended
// with the lead asking for one.
func (s *Service) handleCallFollowup(ctx context.Context, e events.CallFollowupRequested) error {
	lead, err := s.leads.Get(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("load lead for call follow-up: %w", err)
	}
	if lead.DoNotContact {
		return nil
	}
	if !s.campaigns.Rules(ctx, lead.CampaignID).SendEmail {
		return nil
	}
	res, err := s.Enqueue(ctx, EnqueueRequest{
		Lead:       lead,
		CampaignID: lead.CampaignID,
		Step:       followupStep,
		IdemKey:    callFollowupIdemKey(lead.ID),
	})
	if err != nil {
		return err
	}
	s.log.Info("call follow-up email", "leadId", lead.ID, "queued", res.Queued, "reason", res.Reason)
	return nil
}
