package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/internal/notification/outbox"

	"github.com/google/uuid"
)

// Email outcome labels for metrics.
const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultSkipped = "skipped"
	resultLost    = "lost"
)

const outboxNote = "outbox"

// ProcessOutbox claims due rows and delivers them, inline or through the task
// queue. It returns the number of rows this worker claimed.
func (s *Service) ProcessOutbox(ctx context.Context, limit int) (int, error) {
	now := s.now()
	if released, err := s.outbox.ReleaseStale(ctx, now.Add(-staleClaimAfter)); err != nil {
		s.log.Warn("release stale outbox claims failed", "error", err)
	} else if released > 0 {
		s.log.Warn("released stale outbox claims", "count", released)
	}
	if released, err := s.logs.ReleaseStale(ctx, now.Add(-staleClaimAfter)); err != nil {
		s.log.Warn("release stale email reservations failed", "error", err)
	} else if released > 0 {
		s.log.Warn("released stale email reservations", "count", released)
	}

	due, err := s.outbox.Due(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due outbox rows: %w", err)
	}

	claimed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		token := uuid.New()
		row, err := s.outbox.Claim(ctx, rec.ID, token)
		if errors.Is(err, outbox.ErrClaimLost) {
			continue
		}
		if err != nil {
			s.log.Error("outbox claim failed", "outboxId", rec.ID, "error", err)
			continue
		}
		claimed++

		if s.tasks != nil {
			err := s.tasks.EnqueueOutboxSend(ctx, row.ID, token)
			if err == nil {
				continue
			}
			s.log.Warn("outbox task enqueue failed, sending inline", "outboxId", row.ID, "error", err)
		}
		s.deliver(ctx, row, token)
	}
	return claimed, nil
}

// DeliverClaimed sends a row previously claimed under token. A row that is no
// longer held by token is left alone.
func (s *Service) DeliverClaimed(ctx context.Context, outboxID, token uuid.UUID) error {
	row, err := s.outbox.GetClaimed(ctx, outboxID, token)
	if errors.Is(err, outbox.ErrClaimLost) {
		s.log.Info("outbox row no longer claimed, skipping", "outboxId", outboxID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load claimed outbox row: %w", err)
	}
	s.deliver(ctx, row, token)
	return nil
}

func (s *Service) deliver(ctx context.Context, row outbox.Record, token uuid.UUID) {
	log := s.log.WithLead(row.LeadID.String())

	lead, err := s.leads.Get(ctx, row.LeadID)
	if err != nil {
		log.Warn("outbox lead lookup failed, requeueing", "outboxId", row.ID, "error", err)
		s.requeue(ctx, row, token, s.now().Add(leadLookupBackoff), "lead lookup: "+err.Error())
		return
	}

	if reason := skipReason(lead, row.StepNumber); reason != "" {
		if err := s.outbox.MarkSkipped(ctx, row.ID, token, reason); err != nil {
			log.Error("outbox skip failed", "outboxId", row.ID, "error", err)
		}
		s.metrics.EmailResult(pathOutbox, resultSkipped)
		log.Info("outbox row skipped", "idemKey", row.IdemKey, "reason", reason)
		return
	}

	if s.mailer == nil {
		s.requeue(ctx, row, token, s.now().Add(sendBackoff), email.ErrNoChannel.Error())
		return
	}

	userID := lead.UserID
	if userID == uuid.Nil && row.UserID != nil {
		userID = *row.UserID
	}
	receipt, err := s.mailer.Send(ctx, userID, email.Message{
		To:      row.ToEmail,
		Subject: row.Subject,
		Body:    row.Body,
		ReplyTo: s.replyAddress(lead.ID),
	})
	if err != nil {
		log.Warn("outbox send failed, requeueing", "outboxId", row.ID, "idemKey", row.IdemKey, "attempts", row.Attempts, "error", err)
		s.metrics.EmailResult(pathOutbox, resultFailed)
		s.requeue(ctx, row, token, s.now().Add(sendBackoff), err.Error())
		return
	}

	won, err := s.outbox.MarkSent(ctx, row.ID, token)
	if err != nil {
		log.Error("outbox finalize failed after send", "outboxId", row.ID, "error", err)
		return
	}
	if !won {
		s.metrics.EmailResult(pathOutbox, resultLost)
		log.Warn("outbox finalize lost after send", "outboxId", row.ID, "idemKey", row.IdemKey)
		return
	}
	s.metrics.EmailResult(pathOutbox, resultSent)

	note := outboxNote
	key := row.IdemKey
	var msgID *string
	if receipt.MessageID != "" {
		msgID = &receipt.MessageID
	}
	leadID := lead.ID
	if _, err := s.logs.Append(ctx, emaillog.Entry{
		LeadID:            &leadID,
		ToEmail:           row.ToEmail,
		Status:            emaillog.StatusSent,
		Subject:           row.Subject,
		Body:              row.Body,
		Provider:          receipt.Provider,
		Notes:             &note,
		IdemKey:           &key,
		ProviderMessageID: msgID,
	}); err != nil {
		log.Warn("email log append failed", "idemKey", key, "error", err)
	}

	if err := s.leads.RecordEmailSent(ctx, lead.ID, row.StepNumber <= 1); err != nil {
		log.Warn("lead email state update failed", "error", err)
	}
	log.Info("outbox email sent", "idemKey", key, "provider", receipt.Provider, "step", row.StepNumber)
}

func (s *Service) requeue(ctx context.Context, row outbox.Record, token uuid.UUID, at time.Time, reason string) {
	if err := s.outbox.Requeue(ctx, row.ID, token, at, reason); err != nil {
		s.log.Error("outbox requeue failed", "outboxId", row.ID, "error", err)
	}
}

// skipReason returns why a claimed row must not be sent any more. Follow-up
// steps also stop once the sequence was halted after the row was queued.
func skipReason(lead domain.Lead, step int) string {
	switch {
	case lead.DoNotContact:
		return "do_not_contact"
	case step >= firstSequenceStep && lead.EmailSequenceStopped:
		return "sequence_stopped"
	case step >= firstSequenceStep && lead.Status == domain.StatusReplied:
		return skipReasonReplied
	}
	return ""
}
