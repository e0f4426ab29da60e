package notification

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Template sources, reported in logs.
const (
	sourceStep     = "step"
	sourceCampaign = "campaign"
	sourceExplicit = "template"
	sourceLatest   = "latest_active"
	sourceDefault  = "default"
)

const defaultSubject = "{first_name}, quick intro"

const defaultBody = `Hi {first_name},

I'm reaching out because we work with teams like {company} on introductions, events and hands-on support that help them grow.

Would you be open to a short call next week to see if there is a fit?

Best regards`

// Content is a resolved, not yet rendered, subject and body pair.
type Content struct {
	Subject string
	Body    string
	Source  string
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// LeadVars returns the placeholder values for a lead.
func LeadVars(lead domain.Lead) map[string]string {
	first := lead.DisplayFirstName()
	if first == "" {
		first = "there"
	}
	company := lead.CompanyDisplayName()
	if company == "" {
		company = "your organisation"
	}
	return map[string]string{
		"first_name": first,
		"last_name":  strings.TrimSpace(lead.LastName),
		"company":    company,
		"job_title":  strings.TrimSpace(lead.JobTitle),
		"email":      strings.TrimSpace(lead.Email),
		"city":       strings.TrimSpace(lead.City),
		"state":      strings.TrimSpace(lead.State),
		"country":    strings.TrimSpace(lead.Country),
	}
}

// Render substitutes {placeholder} tokens. Unknown placeholders are left as is.
func Render(tpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		if v, ok := vars[match[1:len(match)-1]]; ok {
			return v
		}
		return match
	})
}

// Rendered applies LeadVars to both parts of c.
func (c Content) Rendered(lead domain.Lead) Content {
	vars := LeadVars(lead)
	return Content{Subject: Render(c.Subject, vars), Body: Render(c.Body, vars), Source: c.Source}
}

// resolveContent walks the template chain: campaign override, explicit
// template (argument, then the campaign's own), the owner's latest active
// template, the built-in default. Lookup failures fall through to the next link.
func (s *Service) resolveContent(ctx context.Context, userID uuid.UUID, campaignID, templateID *uuid.UUID) Content {
	var campaign *campaigns.Campaign
	if campaignID != nil && *campaignID != uuid.Nil {
		c, err := s.campaigns.Campaign(ctx, *campaignID)
		switch {
		case err == nil:
			campaign = &c
			if subject, body, ok := campaignOverride(c); ok {
				return Content{Subject: subject, Body: body, Source: sourceCampaign}
			}
		case !errors.Is(err, campaigns.ErrCampaignNotFound):
			s.log.Warn("campaign template lookup failed", "campaignId", campaignID.String(), "error", err)
		}
	}

	if templateID == nil && campaign != nil {
		templateID = campaign.EmailTemplateID
	}
	if templateID != nil && *templateID != uuid.Nil {
		t, err := s.campaigns.Template(ctx, *templateID)
		if err == nil {
			return Content{Subject: t.Subject, Body: t.Body, Source: sourceExplicit}
		}
		if !errors.Is(err, campaigns.ErrTemplateNotFound) {
			s.log.Warn("email template lookup failed", "templateId", templateID.String(), "error", err)
		}
	}

	if userID != uuid.Nil {
		t, err := s.campaigns.LatestActiveTemplate(ctx, userID)
		if err == nil {
			return Content{Subject: t.Subject, Body: t.Body, Source: sourceLatest}
		}
		if !errors.Is(err, campaigns.ErrTemplateNotFound) {
			s.log.Warn("latest template lookup failed", "userId", userID.String(), "error", err)
		}
	}

	return Content{Subject: defaultSubject, Body: defaultBody, Source: sourceDefault}
}

// stepContent prefers the step's own copy, then its template, then the chain.
func (s *Service) stepContent(ctx context.Context, userID uuid.UUID, step campaigns.Step) Content {
	if strings.TrimSpace(step.Subject) != "" || strings.TrimSpace(step.Body) != "" {
		return Content{Subject: step.Subject, Body: step.Body, Source: sourceStep}
	}
	campaignID := step.CampaignID
	return s.resolveContent(ctx, userID, &campaignID, step.TemplateID)
}

// campaignOverride reads subject_line and email_body from the campaign
// columns, then email_config, then messaging. Either being set is enough.
func campaignOverride(c campaigns.Campaign) (subject, body string, ok bool) {
	emailConfig := decodeDoc(c.EmailConfig)
	messaging := decodeDoc(c.Messaging)
	subject = firstNonEmpty(c.SubjectLine, emailConfig["subject_line"], messaging["subject_line"])
	body = firstNonEmpty(c.EmailBody, emailConfig["email_body"], messaging["email_body"])
	return subject, body, subject != "" || body != ""
}

func decodeDoc(raw []byte) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out
	}
	for k, v := range doc {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
