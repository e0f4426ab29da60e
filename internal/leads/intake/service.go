// Package intake accepts leads into campaigns and kicks off their first
// call and initial email.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"leadflow_backend/internal/calls"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/internal/notification"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/validator"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	StatusSavedAndScheduled = "saved_and_scheduled"
	InitialSenderRender     = "render"

	dispatchTimeout     = 5 * time.Minute
	dispatchConcurrency = 4
)

// Store persists accepted leads.
type Store interface {
	UpsertAccepted(ctx context.Context, p repository.UpsertParams) (domain.Lead, error)
}

// CallAttempter runs the call gate for a freshly accepted lead.
type CallAttempter interface {
	AttemptCall(ctx context.Context, lead domain.Lead) (calls.DispatchResult, error)
}

// InitialSender sends the initial email directly.
type InitialSender interface {
	SendInitial(ctx context.Context, lead domain.Lead, templateID *uuid.UUID) (notification.SendResult, error)
}

// RulesSource resolves effective campaign rules.
type RulesSource interface {
	Rules(ctx context.Context, id *uuid.UUID) campaigns.Rules
}

// Service accepts lead batches.
type Service struct {
	store    Store
	calls    CallAttempter
	email    InitialSender
	rules    RulesSource
	cfg      config.OutreachConfig
	bus      events.Bus
	val      *validator.Validator
	log      *logger.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates the intake service.
func New(store Store, callSvc CallAttempter, email InitialSender, rules RulesSource, cfg config.OutreachConfig, bus events.Bus, val *validator.Validator, log *logger.Logger) *Service {
	return &Service{
		store: store,
		calls: callSvc,
		email: email,
		rules: rules,
		cfg:   cfg,
		bus:   bus,
		val:   val,
		log:   log,
	}
}

// Accept saves every valid lead of the batch, then attempts contact in the
// background. Leads without a usable email are skipped, not rejected.
func (s *Service) Accept(ctx context.Context, userID uuid.UUID, batch transport.AcceptBatch) (transport.AcceptResponse, error) {
	if !batch.HasCampaign() {
		return transport.AcceptResponse{}, apperr.Validation("campaignId is required (top-level or per lead)")
	}
	batchCampaign, err := parseOptionalUUID(batch.CampaignID)
	if err != nil {
		return transport.AcceptResponse{}, apperr.Validation("campaignId must be a uuid")
	}
	templateID, err := parseOptionalUUID(batch.EmailTemplateID)
	if err != nil {
		return transport.AcceptResponse{}, apperr.Validation("emailTemplateId must be a uuid")
	}

	saved := make([]domain.Lead, 0, len(batch.Leads))
	for _, in := range batch.Leads {
		campaignID := batchCampaign
		if in.CampaignID != "" {
			id, err := uuid.Parse(in.CampaignID)
			if err != nil {
				s.log.Warn("lead skipped: invalid campaign id", "campaignId", in.CampaignID)
				continue
			}
			campaignID = &id
		}
		if campaignID == nil {
			s.log.Warn("lead skipped: no campaign", "email", in.Email)
			continue
		}
		if in.Email == "" || s.val.Var(in.Email, "required,email") != nil {
			s.log.Warn("lead skipped: missing or invalid email", "email", in.Email, "name", in.FirstName)
			continue
		}

		lead, err := s.store.UpsertAccepted(ctx, upsertParams(userID, campaignID, in, s.cfg.GetDefaultPhoneRegion()))
		if err != nil {
			return transport.AcceptResponse{}, fmt.Errorf("save lead %s: %w", in.Email, err)
		}
		saved = append(saved, lead)
	}

	s.log.Info("leads accepted", "userId", userID.String(), "saved", len(saved), "received", batch.Received)
	if s.bus != nil && len(saved) > 0 {
		s.bus.Publish(ctx, events.LeadsAccepted{
			BaseEvent:  events.NewBaseEvent(),
			UserID:     userID,
			CampaignID: batchCampaign,
			Saved:      len(saved),
			Received:   batch.Received,
		})
	}

	s.contactAsync(ctx, saved, templateID)

	return transport.AcceptResponse{
		Status:   StatusSavedAndScheduled,
		NumLeads: len(saved),
		Received: batch.Received,
	}, nil
}

// Wait blocks until background contact attempts started by Accept finish.
// Accept calls that arrive meanwhile hold their contact attempts until the
// drain completes.
func (s *Service) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight.Wait()
}

// Close stops new contact attempts and waits for the running ones. Leads
// accepted afterwards are still saved, without an accept-time attempt.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// contactAsync detaches from the request so a client disconnect does not
// abort calls that are already being placed.
func (s *Service) contactAsync(ctx context.Context, leads []domain.Lead, templateID *uuid.UUID) {
	if len(leads) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("intake closed, skipping accept-time contact", "leads", len(leads))
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		var g errgroup.Group
		g.SetLimit(dispatchConcurrency)
		for _, lead := range leads {
			g.Go(func() error {
				s.contact(bg, lead, templateID)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// contact applies the campaign rules to one lead. The call gate decides
// between dispatching now, scheduling into the window and recording no-tz.
func (s *Service) contact(ctx context.Context, lead domain.Lead, templateID *uuid.UUID) {
	rules := s.rules.Rules(ctx, lead.CampaignID)
	log := s.log.WithLead(lead.ID.String())

	if rules.SendCalls && s.calls != nil {
		res, err := s.calls.AttemptCall(ctx, lead)
		if err != nil {
			log.Error("accept-time call attempt failed", "error", err)
		} else {
			log.Info("accept-time call attempt", "reason", res.Reason, "ok", res.OK)
		}
	}

	if !rules.SendEmail || !rules.SendInitialEmail || s.email == nil {
		return
	}
	if sender := strings.ToLower(strings.TrimSpace(s.cfg.GetInitialEmailSender())); sender != InitialSenderRender {
		log.Info("initial email left to external sender", "sender", sender)
		return
	}
	res, err := s.email.SendInitial(ctx, lead, templateID)
	if err != nil {
		log.Error("initial email failed", "error", err)
		return
	}
	log.Info("initial email", "sent", res.Sent, "reason", res.Reason)
}

// Phones that parse are stored as E.164; anything else is kept as sent so the
// structured contact numbers can still be tried at call time.
func upsertParams(userID uuid.UUID, campaignID *uuid.UUID, in transport.IncomingLead, region string) repository.UpsertParams {
	return repository.UpsertParams{
		UserID:              userID,
		CampaignID:          campaignID,
		FirstName:           in.FirstName,
		LastName:            in.LastName,
		Name:                in.Name,
		Email:               in.Email,
		Phone:               phone.NormalizeE164ForRegion(in.Phone, region),
		ContactPhoneNumbers: in.ContactPhoneNumbers,
		CompanyName:         in.CompanyName,
		Company:             in.Company,
		JobTitle:            in.JobTitle,
		City:                in.City,
		State:               in.State,
		Country:             in.Country,
	}
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
