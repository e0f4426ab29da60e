package notification

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// RunSequence enqueues every due follow-up step (step 2 and later) for the
// leads still in their campaign's sequence, and records each lead's next
// upcoming step. It returns the number of newly queued emails.
func (s *Service) RunSequence(ctx context.Context) (int, error) {
	steps, err := s.campaigns.FollowUpSteps(ctx)
	if err != nil {
		return 0, fmt.Errorf("list follow-up steps: %w", err)
	}

	var order []uuid.UUID
	byCampaign := make(map[uuid.UUID][]campaigns.Step)
	for _, step := range steps {
		if step.StepNumber < 2 {
			continue
		}
		if _, seen := byCampaign[step.CampaignID]; !seen {
			order = append(order, step.CampaignID)
		}
		byCampaign[step.CampaignID] = append(byCampaign[step.CampaignID], step)
	}

	queued := 0
	for _, campaignID := range order {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		id := campaignID
		if !s.campaigns.Rules(ctx, &id).SendEmail {
			continue
		}
		leads, err := s.leads.SequenceCandidates(ctx, id)
		if err != nil {
			s.log.Error("sequence candidates lookup failed", "campaignId", id, "error", err)
			continue
		}
		for _, lead := range leads {
			queued += s.scheduleLead(ctx, lead, id, byCampaign[id])
		}
	}
	return queued, nil
}

func (s *Service) scheduleLead(ctx context.Context, lead domain.Lead, campaignID uuid.UUID, steps []campaigns.Step) int {
	now := s.now()
	log := s.log.WithLead(lead.ID.String())

	queued := 0
	var next *time.Time
	for _, step := range steps {
		due, upcoming := stepSchedule(step, lead, now)
		key := StepIdemKey(lead.ID, &campaignID, step.StepNumber)

		exists, err := s.outbox.Exists(ctx, key)
		if err != nil {
			log.Warn("outbox lookup failed", "idemKey", key, "error", err)
			continue
		}
		if exists {
			continue
		}

		if due {
			content := s.stepContent(ctx, lead.UserID, step)
			res, err := s.Enqueue(ctx, EnqueueRequest{
				Lead:       lead,
				CampaignID: &campaignID,
				Step:       step.StepNumber,
				Content:    &content,
				IdemKey:    key,
				SendAfter:  now,
			})
			if err != nil {
				log.Error("sequence enqueue failed", "idemKey", key, "error", err)
				continue
			}
			if res.Queued {
				queued++
			}
			continue
		}
		if upcoming != nil && (next == nil || upcoming.Before(*next)) {
			next = upcoming
		}
	}

	if !sameInstant(lead.NextEmailAt, next) {
		if err := s.leads.SetNextEmailAt(ctx, lead.ID, next); err != nil {
			log.Warn("next email update failed", "error", err)
		}
	}
	return queued
}

// stepSchedule decides whether a step is due for a lead and, if not, when it
// will be. A step is due once its absolute send_at has passed or once its
// offset after the lead's first email has elapsed.
func stepSchedule(step campaigns.Step, lead domain.Lead, now time.Time) (due bool, upcoming *time.Time) {
	var candidates []time.Time
	if step.SendAt != nil {
		candidates = append(candidates, *step.SendAt)
	}
	if step.OffsetMinutes != nil && lead.EmailedAt != nil {
		candidates = append(candidates, lead.EmailedAt.Add(time.Duration(*step.OffsetMinutes)*time.Minute))
	}
	for _, at := range candidates {
		if !at.After(now) {
			return true, nil
		}
	}
	for i := range candidates {
		at := candidates[i].UTC()
		if upcoming == nil || at.Before(*upcoming) {
			upcoming = &at
		}
	}
	return false, upcoming
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
