// Package management serves read access to leads and their delivery history.
package management

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/calls"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/platform/apperr"

	"github.com/google/uuid"
)

const (
	callHistoryLimit  = 50
	emailHistoryLimit = 100
)

// LeadReader loads leads scoped to their owner.
type LeadReader interface {
	GetForUser(ctx context.Context, id, userID uuid.UUID) (domain.Lead, error)
}

// CallHistory lists structured call logs.
type CallHistory interface {
	ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]calls.CallLog, error)
}

// EmailHistory lists email log rows.
type EmailHistory interface {
	ListForLead(ctx context.Context, leadID uuid.UUID, since *time.Time, limit int) ([]emaillog.Entry, error)
}

// Service handles lead reads.
type Service struct {
	leads  LeadReader
	calls  CallHistory
	emails EmailHistory
}

// New creates a new lead management service.
func New(leads LeadReader, callHistory CallHistory, emails EmailHistory) *Service {
	return &Service{leads: leads, calls: callHistory, emails: emails}
}

// GetByID returns a lead owned by userID.
func (s *Service) GetByID(ctx context.Context, userID, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.leads.GetForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, err
	}
	return lead, nil
}

// Activity returns the lead with its call and email history, optionally
// limited to rows created at or after since.
func (s *Service) Activity(ctx context.Context, userID, id uuid.UUID, since *time.Time) (transport.ActivityResponse, error) {
	lead, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return transport.ActivityResponse{}, err
	}

	resp := transport.ActivityResponse{Lead: lead, Calls: []calls.CallLog{}, Emails: []emaillog.Entry{}, Since: since}
	if s.calls != nil {
		logs, err := s.calls.ListForLead(ctx, id, callHistoryLimit)
		if err != nil {
			return transport.ActivityResponse{}, err
		}
		for _, l := range logs {
			if since == nil || !l.CreatedAt.Before(*since) {
				resp.Calls = append(resp.Calls, l)
			}
		}
	}
	if s.emails != nil {
		entries, err := s.emails.ListForLead(ctx, id, since, emailHistoryLimit)
		if err != nil {
			return transport.ActivityResponse{}, err
		}
		if entries != nil {
			resp.Emails = entries
		}
	}
	return resp, nil
}
