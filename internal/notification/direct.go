package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/notification/emaillog"

	"github.com/google/uuid"
)

// Direct send reason codes.
const (
	ReasonSendingDisabled   = "SENDING_DISABLED"
	ReasonDisabledByRules   = "DISABLED_BY_RULES"
	ReasonInvalidTo         = "INVALID_TO"
	ReasonDuplicate         = "DUPLICATE"
	ReasonThrottled         = "THROTTLED"
	ReasonDuplicateReserved = "DUPLICATE_RESERVED"
	ReasonSendFailed        = "SEND_FAILED"
	ReasonNoChannel         = "NO_CHANNEL"
	ReasonFinalizeLost      = "FINALIZE_LOST"
)

// DirectRequest is a synchronous send that bypasses the outbox.
type DirectRequest struct {
	Lead       domain.Lead
	TemplateID *uuid.UUID
	Content    *Content // optional; resolved from the template chain when nil
	IdemKey    string
	Step       int
	Note       string
}

// SendResult reports the outcome of a direct send.
type SendResult struct {
	Sent     bool   `json:"sent"`
	Reason   string `json:"reason,omitempty"`
	Provider string `json:"provider,omitempty"`
	IdemKey  string `json:"idemKey,omitempty"`
	To       string `json:"to,omitempty"`
}

// SendInitial delivers the first email of a lead right away.
func (s *Service) SendInitial(ctx context.Context, lead domain.Lead, templateID *uuid.UUID) (SendResult, error) {
	return s.SendDirect(ctx, DirectRequest{
		Lead:       lead,
		TemplateID: templateID,
		IdemKey:    InitialIdemKey(lead.ID),
		Step:       1,
		Note:       "initial",
	})
}

// SendDirect runs the guarded direct-send path. Policy outcomes come back as
// reason codes; only store failures are returned as errors.
func (s *Service) SendDirect(ctx context.Context, req DirectRequest) (SendResult, error) {
	lead := req.Lead
	to := strings.ToLower(strings.TrimSpace(lead.Email))
	result := SendResult{IdemKey: req.IdemKey, To: to}
	log := s.log.WithLead(lead.ID.String())

	if !s.cfg.GetEmailSendingEnabled() {
		return s.declined(result, ReasonSendingDisabled), nil
	}

	if !s.campaigns.Rules(ctx, lead.CampaignID).SendEmail {
		s.logSkip(ctx, lead, to, req.IdemKey, ReasonDisabledByRules)
		return s.declined(result, ReasonDisabledByRules), nil
	}

	if !s.validAddress(to) {
		s.logSkip(ctx, lead, to, req.IdemKey, ReasonInvalidTo)
		return s.declined(result, ReasonInvalidTo), nil
	}

	sent, err := s.logs.Sent(ctx, req.IdemKey)
	if err != nil {
		return result, fmt.Errorf("idempotency check: %w", err)
	}
	if sent {
		return s.declined(result, ReasonDuplicate), nil
	}

	if limit := s.cfg.GetMaxEmailsPerDay(); limit > 0 {
		count, err := s.logs.CountSentSince(ctx, emaillog.StartOfDayUTC(s.now()))
		switch {
		case err != nil:
			log.Warn("daily email count failed, not throttling", "error", err)
		case count >= limit:
			s.logSkip(ctx, lead, to, req.IdemKey, ReasonThrottled)
			return s.declined(result, ReasonThrottled), nil
		}
	}

	content := req.Content
	if content == nil {
		resolved := s.resolveContent(ctx, lead.UserID, lead.CampaignID, req.TemplateID)
		content = &resolved
	}
	rendered := content.Rendered(lead)

	var leadID *uuid.UUID
	if lead.ID != uuid.Nil {
		id := lead.ID
		leadID = &id
	}
	token, ok, err := s.logs.Reserve(ctx, emaillog.Reservation{
		IdemKey: req.IdemKey,
		LeadID:  leadID,
		ToEmail: to,
		Subject: rendered.Subject,
		Body:    rendered.Body,
		Notes:   req.Note,
	})
	if err != nil {
		return result, fmt.Errorf("reserve %s: %w", req.IdemKey, err)
	}
	if !ok {
		return s.declined(result, ReasonDuplicateReserved), nil
	}

	receipt, sendErr := s.send(ctx, lead, to, rendered)
	if sendErr != nil {
		reason := ReasonSendFailed
		if errors.Is(sendErr, email.ErrNoChannel) {
			reason = ReasonNoChannel
		}
		if _, err := s.logs.Finalize(ctx, req.IdemKey, token, emaillog.Outcome{
			Status: emaillog.StatusFailed,
			Error:  sendErr.Error(),
		}); err != nil {
			log.Error("email reservation finalize failed", "idemKey", req.IdemKey, "error", err)
		}
		if lead.ID != uuid.Nil {
			if err := s.leads.SetLastEmailStatus(ctx, lead.ID, emaillog.StatusFailed); err != nil {
				log.Warn("lead email state update failed", "error", err)
			}
		}
		log.Warn("direct email failed", "idemKey", req.IdemKey, "reason", reason, "error", sendErr)
		return s.declined(result, reason), nil
	}

	won, err := s.logs.Finalize(ctx, req.IdemKey, token, emaillog.Outcome{
		Status:            emaillog.StatusSent,
		Provider:          receipt.Provider,
		ProviderMessageID: receipt.MessageID,
	})
	if err != nil {
		return result, fmt.Errorf("finalize %s: %w", req.IdemKey, err)
	}
	if !won {
		log.Warn("direct email finalize lost", "idemKey", req.IdemKey)
		return s.declined(result, ReasonFinalizeLost), nil
	}

	if lead.ID != uuid.Nil {
		if err := s.leads.RecordEmailSent(ctx, lead.ID, req.Step <= 1); err != nil {
			log.Warn("lead email state update failed", "error", err)
		}
	}
	s.metrics.EmailResult(pathDirect, resultSent)
	log.Info("direct email sent", "idemKey", req.IdemKey, "provider", receipt.Provider, "template", rendered.Source)

	result.Sent = true
	result.Provider = receipt.Provider
	return result, nil
}

func (s *Service) send(ctx context.Context, lead domain.Lead, to string, c Content) (email.Receipt, error) {
	if s.mailer == nil {
		return email.Receipt{}, email.ErrNoChannel
	}
	return s.mailer.Send(ctx, lead.UserID, email.Message{
		To:      to,
		Subject: c.Subject,
		Body:    c.Body,
		ReplyTo: s.replyAddress(lead.ID),
	})
}

func (s *Service) declined(result SendResult, reason string) SendResult {
	result.Reason = reason
	s.metrics.EmailResult(pathDirect, strings.ToLower(reason))
	return result
}

// logSkip records a refused send without an idempotency key so the key stays
// available for a later attempt.
func (s *Service) logSkip(ctx context.Context, lead domain.Lead, to, idemKey, reason string) {
	var leadID *uuid.UUID
	if lead.ID != uuid.Nil {
		id := lead.ID
		leadID = &id
	}
	note := reason
	if idemKey != "" {
		note = reason + " " + idemKey
	}
	errText := strings.ToLower(reason)
	if _, err := s.logs.Append(ctx, emaillog.Entry{
		LeadID:  leadID,
		ToEmail: to,
		Status:  emaillog.StatusFailed,
		Error:   &errText,
		Notes:   &note,
	}); err != nil {
		s.log.Warn("email skip log failed", "idemKey", idemKey, "reason", reason, "error", err)
	}
}

// sampleLead stands in for a real lead when previewing a template.
func sampleLead(userID uuid.UUID, to string) domain.Lead {
	return domain.Lead{
		UserID:      userID,
		FirstName:   "Alex",
		LastName:    "Morgan",
		CompanyName: "Example Company",
		JobTitle:    "Head of Partnerships",
		Email:       to,
	}
}

// SendTest renders a template against a sample lead and sends it to the
// given address through the caller's channel.
func (s *Service) SendTest(ctx context.Context, userID uuid.UUID, to string, templateID *uuid.UUID) (SendResult, error) {
	return s.SendDirect(ctx, DirectRequest{
		Lead:       sampleLead(userID, to),
		TemplateID: templateID,
		IdemKey:    "test:" + uuid.NewString(),
		Step:       1,
		Note:       "test",
	})
}
