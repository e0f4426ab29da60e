// Package events holds the domain events exchanged between the outreach
// modules. The bus itself lives in platform/events.
package events

import (
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

func NewInMemoryBus(log *logger.Logger) *InMemoryBus { return events.NewInMemoryBus(log) }

// =============================================================================
// Call Domain Events
// =============================================================================

// CallCompleted is published when the voice provider reports a call as ended
// and the lead was moved to its terminal state.
type CallCompleted struct {
	BaseEvent
	LeadID          uuid.UUID `json:"leadId"`
	UserID          uuid.UUID `json:"userId"`
	ExternalCallID  string    `json:"externalCallId"`
	DurationSeconds int       `json:"durationSeconds"`
}

func (e CallCompleted) EventName() string { return "calls.completed" }

// CallBlocked is published when the credit gate refuses to start a call.
type CallBlocked struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	UserID uuid.UUID `json:"userId"`
	Reason string    `json:"reason"`
}

func (e CallBlocked) EventName() string { return "calls.blocked" }

// CallFollowupRequested is published when a completed call asks for a
// follow-up email instead of further calls.
type CallFollowupRequested struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	UserID     uuid.UUID  `json:"userId"`
	CampaignID *uuid.UUID `json:"campaignId,omitempty"`
}

func (e CallFollowupRequested) EventName() string { return "calls.followup_requested" }

// =============================================================================
// Lead / Reply Domain Events
// =============================================================================

// LeadReplied is published once per newly recorded inbound reply.
type LeadReplied struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	UserID  uuid.UUID `json:"userId"`
	Source  string    `json:"source"`
	Snippet string    `json:"snippet"`
}

func (e LeadReplied) EventName() string { return "leads.replied" }

// LeadsAccepted is published after a batch of leads has been saved.
type LeadsAccepted struct {
	BaseEvent
	UserID     uuid.UUID  `json:"userId"`
	CampaignID *uuid.UUID `json:"campaignId,omitempty"`
	Saved      int        `json:"saved"`
	Received   int        `json:"received"`
}

func (e LeadsAccepted) EventName() string { return "leads.accepted" }

// =============================================================================
// Billing Domain Events
// =============================================================================

// CreditsAdded is published after a top-up has been applied to a balance.
type CreditsAdded struct {
	BaseEvent
	Domain string `json:"domain"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (e CreditsAdded) EventName() string { return "credits.added" }
