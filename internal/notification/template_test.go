package notification

import (
	"context"
	"testing"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
)

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	vars := LeadVars(domain.Lead{Name: "Bob Stone", City: "Utrecht"})
	got := Render("Hi {first_name} at {company} in {city}, {favourite_colour}", vars)
	want := "Hi Bob Stone at your organisation in Utrecht, {favourite_colour}"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLeadVarsDefaults(t *testing.T) {
	vars := LeadVars(domain.Lead{})
	if vars["first_name"] != "there" || vars["company"] != "your organisation" {
		t.Fatalf("unexpected defaults %v", vars)
	}
	if vars["last_name"] != "" || vars["job_title"] != "" {
		t.Fatalf("optional placeholders must render empty, got %v", vars)
	}
}

func TestCampaignOverrideSources(t *testing.T) {
	if _, _, ok := campaignOverride(campaigns.Campaign{}); ok {
		t.Fatalf("empty campaign has no override")
	}

	subject, body, ok := campaignOverride(campaigns.Campaign{
		EmailConfig: []byte(`{"subject_line":"From config"}`),
		Messaging:   []byte(`{"email_body":"Body from messaging"}`),
	})
	if !ok || subject != "From config" || body != "Body from messaging" {
		t.Fatalf("unexpected override %q %q %v", subject, body, ok)
	}

	subject, body, ok = campaignOverride(campaigns.Campaign{SubjectLine: "Column subject", EmailConfig: []byte(`{"subject_line":"ignored"}`)})
	if !ok || subject != "Column subject" || body != "" {
		t.Fatalf("column must win and a missing body stays empty, got %q %q", subject, body)
	}
}

func TestResolveContentChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	campaignID := uuid.New()
	templateID := uuid.New()
	campaignTemplateID := uuid.New()

	if got := h.svc.resolveContent(ctx, userID, nil, nil); got.Source != sourceDefault {
		t.Fatalf("expected default, got %s", got.Source)
	}

	h.camps.latest[userID] = campaigns.Template{Subject: "latest"}
	if got := h.svc.resolveContent(ctx, userID, nil, nil); got.Source != sourceLatest {
		t.Fatalf("expected latest active, got %s", got.Source)
	}

	h.camps.templates[campaignTemplateID] = campaigns.Template{Subject: "campaign template"}
	h.camps.campaigns[campaignID] = campaigns.Campaign{ID: campaignID, EmailTemplateID: &campaignTemplateID}
	if got := h.svc.resolveContent(ctx, userID, &campaignID, nil); got.Subject != "campaign template" {
		t.Fatalf("expected the campaign's template, got %q", got.Subject)
	}

	h.camps.templates[templateID] = campaigns.Template{Subject: "explicit"}
	if got := h.svc.resolveContent(ctx, userID, &campaignID, &templateID); got.Subject != "explicit" {
		t.Fatalf("expected the explicit template, got %q", got.Subject)
	}

	h.camps.campaigns[campaignID] = campaigns.Campaign{ID: campaignID, SubjectLine: "override", EmailBody: "body"}
	if got := h.svc.resolveContent(ctx, userID, &campaignID, &templateID); got.Source != sourceCampaign || got.Subject != "override" {
		t.Fatalf("expected campaign override, got %+v", got)
	}
}
