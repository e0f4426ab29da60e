package calls

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/voice"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/sanitize"
)

// Dispatch reasons.
const (
	ReasonDispatched    = "dispatched"
	ReasonNotConfigured = "not_configured"
	ReasonProviderError = "provider_error"
)

// VoiceStarter places outbound calls.
type VoiceStarter interface {
	StartCall(ctx context.Context, payload voice.CallRequest) (voice.CallResponse, error)
}

// DispatchResult is the outcome of one dispatch or gate evaluation.
type DispatchResult struct {
	OK             bool   `json:"ok"`
	Reason         string `json:"reason"`
	StatusCode     int    `json:"statusCode,omitempty"`
	ExternalCallID string `json:"externalCallId,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
}

// DispatchSettings are the provider defaults used when a campaign has no override.
type DispatchSettings struct {
	AssistantID   string
	PhoneNumberID string
	ModelProvider string
	ModelName     string
}

// SettingsFromConfig reads dispatch defaults from configuration.
func SettingsFromConfig(cfg config.VoiceConfig) DispatchSettings {
	return DispatchSettings{
		AssistantID:   cfg.GetVapiAssistantID(),
		PhoneNumberID: cfg.GetVapiPhoneNumberID(),
		ModelProvider: cfg.GetVapiModelProvider(),
		ModelName:     cfg.GetVapiModelName(),
	}
}

// Dispatcher builds provider requests and records their outcome.
type Dispatcher struct {
	voice    VoiceStarter
	settings DispatchSettings
	leads    LeadStore
	logs     LogStore
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(v VoiceStarter, settings DispatchSettings, leads LeadStore, logs LogStore, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	return &Dispatcher{voice: v, settings: settings, leads: leads, logs: logs, metrics: m, log: log, now: time.Now}
}

// BuildRequest renders the provider payload for a lead.
func (d *Dispatcher) BuildRequest(lead domain.Lead, rules campaigns.Rules, number string) voice.CallRequest {
	caller := rules.Caller
	assistantID := caller.AssistantID
	if assistantID == "" {
		assistantID = d.settings.AssistantID
	}

	campaignID := ""
	if lead.CampaignID != nil {
		campaignID = lead.CampaignID.String()
	}
	attempt := strconv.Itoa(lead.CallAttempts + 1)

	req := voice.CallRequest{
		AssistantID:   assistantID,
		PhoneNumberID: d.settings.PhoneNumberID,
		Customer:      voice.Customer{Number: number},
		AssistantOverrides: voice.AssistantOverrides{
			VariableValues: map[string]string{
				"lead_id":     lead.ID.String(),
				"campaign_id": campaignID,
				"first_name":  lead.DisplayFirstName(),
				"company":     lead.CompanyDisplayName(),
			},
			MaxDurationSeconds: caller.MaxDurationSec,
		},
		Metadata: map[string]string{
			"lead_id":     lead.ID.String(),
			"campaign_id": campaignID,
			"user_id":     lead.UserID.String(),
			"attempt":     attempt,
		},
	}
	if d.settings.ModelProvider != "" && d.settings.ModelName != "" {
		req.AssistantOverrides.Model = &voice.ModelOverride{
			Provider: d.settings.ModelProvider,
			Model:    d.settings.ModelName,
			Messages: []voice.Message{{Role: "system", Content: campaigns.BuildPrompt(caller)}},
		}
	}
	return req
}

// Dispatch places the call. A provider rejection is rescheduled after the
// campaign's retry interval without consuming an attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, lead domain.Lead, rules campaigns.Rules, number string) (DispatchResult, error) {
	log := d.log.WithLead(lead.ID.String())
	req := d.BuildRequest(lead, rules, number)
	attempt := lead.CallAttempts + 1

	if req.AssistantID == "" {
		d.metrics.CallDispatched(ReasonNotConfigured)
		recordEvent(ctx, d.logs, d.log, EventRow{LeadID: &lead.ID, Status: ReasonNotConfigured, Notes: "no assistant configured"})
		return DispatchResult{Reason: ReasonNotConfigured}, nil
	}

	resp, err := d.voice.StartCall(ctx, req)
	if errors.Is(err, voice.ErrNotConfigured) {
		d.metrics.CallDispatched(ReasonNotConfigured)
		recordEvent(ctx, d.logs, d.log, EventRow{LeadID: &lead.ID, Status: ReasonNotConfigured, Notes: err.Error()})
		return DispatchResult{Reason: ReasonNotConfigured}, nil
	}
	if err != nil {
		d.metrics.CallDispatched(ReasonProviderError)
		status := "error"
		if resp.StatusCode > 0 {
			status = fmt.Sprintf("http-%d", resp.StatusCode)
		}
		log.Warn("call dispatch failed", "status", resp.StatusCode, "error", err)
		recordEvent(ctx, d.logs, d.log, EventRow{LeadID: &lead.ID, Status: status, Notes: sanitize.Truncate(err.Error(), maxEventNotes)})

		next := d.now().UTC().Add(time.Duration(rules.RetryMinutes) * time.Minute)
		if serr := d.leads.ScheduleCall(ctx, lead.ID, next, domain.CallMarkerDispatchFailed); serr != nil {
			return DispatchResult{}, fmt.Errorf("reschedule after dispatch failure: %w", serr)
		}
		return DispatchResult{Reason: ReasonProviderError, StatusCode: resp.StatusCode, Attempt: attempt}, nil
	}

	if _, err := d.logs.InsertQueued(ctx, lead.ID, attempt, resp.CallID); err != nil {
		log.Error("failed to write call log", "externalCallId", resp.CallID, "error", err)
	}
	recordEvent(ctx, d.logs, d.log, EventRow{
		LeadID:         &lead.ID,
		ExternalCallID: resp.CallID,
		Status:         fmt.Sprintf("http-%d", resp.StatusCode),
		Notes:          "queued attempt " + strconv.Itoa(attempt),
	})
	// The call is live, so a failed state write must not surface as an error
	// that would get the lead requeued and dialled twice. The webhook settles it.
	if err := d.leads.MarkSentForContact(ctx, lead.ID); err != nil {
		log.Error("mark sent for contact failed", "externalCallId", resp.CallID, "error", err)
	}

	d.metrics.CallDispatched(ReasonDispatched)
	log.Info("call dispatched", "externalCallId", resp.CallID, "attempt", attempt)
	return DispatchResult{
		OK:             true,
		Reason:         ReasonDispatched,
		StatusCode:     resp.StatusCode,
		ExternalCallID: resp.CallID,
		Attempt:        attempt,
	}, nil
}
