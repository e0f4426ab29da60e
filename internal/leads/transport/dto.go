// Package transport holds the request and response shapes of the leads API.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"leadflow_backend/internal/calls"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/notification/emaillog"
)

var ErrInvalidBody = errors.New("body must be a lead, a list of leads or {leads: [...]}")

// Phone aliases accepted when "phone" is absent, in priority order.
var phoneAliases = []string{
	"phone", "phone_number", "mobile", "mobile_number", "cell", "work_phone",
	"telephone", "tel", "primary_phone", "contact_number",
}

// IncomingLead is one lead as posted by the lead finder, after alias resolution.
type IncomingLead struct {
	CampaignID          string
	FirstName           string
	LastName            string
	Name                string
	Email               string
	Phone               string
	ContactPhoneNumbers json.RawMessage
	CompanyName         string
	Company             json.RawMessage
	JobTitle            string
	City                string
	State               string
	Country             string
}

// AcceptBatch is the normalized body of POST /api/v1/leads/accept.
type AcceptBatch struct {
	CampaignID      string
	EmailTemplateID string
	Leads           []IncomingLead
	Received        int
}

// AcceptResponse is returned after the batch was saved.
type AcceptResponse struct {
	Status   string `json:"status"`
	NumLeads int    `json:"num_leads"`
	Received int    `json:"received"`
}

// ActivityResponse is the per-lead delivery history.
type ActivityResponse struct {
	Lead   domain.Lead      `json:"lead"`
	Calls  []calls.CallLog  `json:"calls"`
	Emails []emaillog.Entry `json:"emails"`
	Since  *time.Time       `json:"since,omitempty"`
}

// ParseAcceptBody accepts a single lead object, a list of leads, or a
// container object carrying leads, emailTemplateId and campaignId.
func ParseAcceptBody(raw []byte) (AcceptBatch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return AcceptBatch{}, ErrInvalidBody
	}

	var items []map[string]any
	var batch AcceptBatch
	switch raw[0] {
	case '[':
		var list []any
		if err := json.Unmarshal(raw, &list); err != nil {
			return AcceptBatch{}, ErrInvalidBody
		}
		items = objects(list)
		batch.Received = len(list)
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return AcceptBatch{}, ErrInvalidBody
		}
		batch.CampaignID = str(obj, "campaignId", "campaign_id")
		if list, ok := obj["leads"]; ok {
			arr, _ := list.([]any)
			items = objects(arr)
			batch.Received = len(arr)
			batch.EmailTemplateID = str(obj, "emailTemplateId", "email_template_id")
		} else {
			items = []map[string]any{obj}
			batch.Received = 1
		}
	default:
		return AcceptBatch{}, ErrInvalidBody
	}

	for _, item := range items {
		batch.Leads = append(batch.Leads, incomingLead(item))
	}
	return batch, nil
}

// HasCampaign reports whether the batch or at least one lead names a campaign.
func (b AcceptBatch) HasCampaign() bool {
	if b.CampaignID != "" {
		return true
	}
	for _, l := range b.Leads {
		if l.CampaignID != "" {
			return true
		}
	}
	return false
}

func incomingLead(m map[string]any) IncomingLead {
	l := IncomingLead{
		CampaignID:  str(m, "campaignId", "campaign_id"),
		FirstName:   str(m, "first_name", "firstName"),
		LastName:    str(m, "last_name", "lastName"),
		Name:        str(m, "name"),
		Email:       strings.ToLower(str(m, "email_address", "email", "Email")),
		Phone:       str(m, phoneAliases...),
		CompanyName: str(m, "company_name", "companyName", "organization_name"),
		JobTitle:    str(m, "job_title", "title", "jobTitle"),
		City:        str(m, "city_name", "city"),
		State:       str(m, "state_name", "state"),
		Country:     str(m, "country_name", "country"),
	}
	l.Company = jsonDoc(m["company"], '{')
	l.ContactPhoneNumbers = jsonDoc(m["contact_phone_numbers"], '[')
	if len(l.ContactPhoneNumbers) == 0 && l.Phone != "" {
		l.ContactPhoneNumbers, _ = json.Marshal([]domain.PhoneEntry{{RawNumber: l.Phone}})
	}
	if l.CompanyName == "" && len(l.Company) > 0 {
		var company map[string]any
		if json.Unmarshal(l.Company, &company) == nil {
			l.CompanyName = str(company, "name")
		}
	}
	return l
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// jsonDoc re-encodes an object or array, also accepting it stringified.
// Anything else yields nil.
func jsonDoc(v any, open byte) json.RawMessage {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || s[0] != open || !json.Valid([]byte(s)) {
			return nil
		}
		return json.RawMessage(s)
	}
	switch v.(type) {
	case map[string]any:
		if open != '{' {
			return nil
		}
	case []any:
		if open != '[' {
			return nil
		}
	default:
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
