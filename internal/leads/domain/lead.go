// Package domain holds the lead model and its delivery-state vocabulary.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead statuses.
const (
	StatusAccepted                   = "accepted"
	StatusSentForContact             = "sent_for_contact"
	StatusContacted                  = "contacted"
	StatusReplied                    = "replied"
	StatusBlockedInsufficientCredits = "blocked_insufficient_credits"
)

// Call outcome markers stored in last_call_status and call_events.
const (
	CallMarkerBlocked         = "blocked"
	CallMarkerScheduled       = "scheduled"
	CallMarkerScheduledRetry  = "scheduled-retry"
	CallMarkerMaxRetries      = "max-retries"
	CallMarkerNoTimezone      = "no-tz"
	CallMarkerNoPhone         = "no-phone"
	CallMarkerSkipped         = "skipped"
	CallMarkerDispatchFailed  = "dispatch_failed"
	CallMarkerRetryAfterError = "retry-after-error"
)

// Email markers stored in last_email_status.
const (
	EmailStatusSent  = "sent"
	EmailStatusReply = "reply"
)

// PhoneEntry is one element of the contact_phone_numbers document.
type PhoneEntry struct {
	RawNumber       string `json:"rawNumber,omitempty"`
	SanitizedNumber string `json:"sanitizedNumber,omitempty"`
}

// Lead is a contact accepted into a campaign together with its delivery state.
type Lead struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"userId"`
	CampaignID           *uuid.UUID      `json:"campaignId,omitempty"`
	FirstName            string          `json:"firstName"`
	LastName             string          `json:"lastName"`
	Name                 string          `json:"name"`
	Email                string          `json:"email"`
	Phone                string          `json:"phone"`
	ContactPhoneNumbers  json.RawMessage `json:"contactPhoneNumbers,omitempty"`
	CompanyName          string          `json:"companyName"`
	Company              json.RawMessage `json:"company,omitempty"`
	JobTitle             string          `json:"jobTitle"`
	City                 string          `json:"city"`
	State                string          `json:"state"`
	Country              string          `json:"country"`
	Status               string          `json:"status"`
	AcceptedAt           *time.Time      `json:"acceptedAt,omitempty"`
	CallAttempts         int             `json:"callAttempts"`
	LastCallStatus       *string         `json:"lastCallStatus,omitempty"`
	NextCallAt           *time.Time      `json:"nextCallAt,omitempty"`
	SentForContactAt     *time.Time      `json:"sentForContactAt,omitempty"`
	EmailedAt            *time.Time      `json:"emailedAt,omitempty"`
	LastEmailStatus      *string         `json:"lastEmailStatus,omitempty"`
	EmailSequenceStopped bool            `json:"emailSequenceStopped"`
	NextEmailAt          *time.Time      `json:"nextEmailAt,omitempty"`
	LastReplyAt          *time.Time      `json:"lastReplyAt,omitempty"`
	LastReplyFrom        *string         `json:"lastReplyFrom,omitempty"`
	LastReplySubject     *string         `json:"lastReplySubject,omitempty"`
	LastReplySnippet     *string         `json:"lastReplySnippet,omitempty"`
	DoNotContact         bool            `json:"doNotContact"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// DisplayFirstName falls back to the full name.
func (l Lead) DisplayFirstName() string {
	if strings.TrimSpace(l.FirstName) != "" {
		return strings.TrimSpace(l.FirstName)
	}
	return strings.TrimSpace(l.Name)
}

// FullName joins first and last name, falling back to Name.
func (l Lead) FullName() string {
	full := strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
	if full != "" {
		return full
	}
	return strings.TrimSpace(l.Name)
}

// CompanyDisplayName returns company_name or the name inside the company document.
func (l Lead) CompanyDisplayName() string {
	if strings.TrimSpace(l.CompanyName) != "" {
		return strings.TrimSpace(l.CompanyName)
	}
	var doc map[string]any
	if len(l.Company) > 0 && json.Unmarshal(l.Company, &doc) == nil {
		if name, ok := doc["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// PhoneCandidates lists the places a dialable number may live, in order of
// preference: phone, contact_phone_numbers (sanitized before raw), then the
// company document.
func (l Lead) PhoneCandidates() []string {
	var out []string
	if p := strings.TrimSpace(l.Phone); p != "" {
		out = append(out, p)
	}

	if len(l.ContactPhoneNumbers) > 0 {
		var entries []json.RawMessage
		if err := json.Unmarshal(l.ContactPhoneNumbers, &entries); err == nil {
			for _, raw := range entries {
				var entry PhoneEntry
				if json.Unmarshal(raw, &entry) == nil {
					if entry.SanitizedNumber != "" {
						out = append(out, entry.SanitizedNumber)
					}
					if entry.RawNumber != "" {
						out = append(out, entry.RawNumber)
					}
					continue
				}
				var s string
				if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
					out = append(out, s)
				}
			}
		}
	}

	var company map[string]any
	if len(l.Company) > 0 && json.Unmarshal(l.Company, &company) == nil {
		for _, key := range []string{"phone", "phone_number", "main_phone", "switchboard"} {
			if v, ok := company[key].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
			}
		}
	}
	return out
}

// Placeholders returns the values used for template substitution.
func (l Lead) Placeholders() map[string]string {
	return map[string]string{
		"first_name": l.DisplayFirstName(),
		"last_name":  strings.TrimSpace(l.LastName),
		"company":    l.CompanyDisplayName(),
		"job_title":  strings.TrimSpace(l.JobTitle),
		"email":      strings.TrimSpace(l.Email),
		"city":       strings.TrimSpace(l.City),
		"state":      strings.TrimSpace(l.State),
		"country":    strings.TrimSpace(l.Country),
	}
}
