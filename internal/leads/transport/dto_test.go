package transport

import (
	"encoding/json"
	"testing"

	"leadflow_backend/internal/leads/domain"
)

func TestParseAcceptBodyShapes(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantLeads    int
		wantReceived int
		wantCampaign string
		wantTemplate string
	}{
		{name: "single", body: `{"email":"a@x.io","campaignId":"c1"}`, wantLeads: 1, wantReceived: 1, wantCampaign: "c1"},
		{name: "list", body: `[{"email":"a@x.io"},{"email":"b@x.io"},"junk"]`, wantLeads: 2, wantReceived: 3},
		{name: "container", body: `{"leads":[{"email":"a@x.io"}],"campaign_id":"c2","emailTemplateId":"t1"}`, wantLeads: 1, wantReceived: 1, wantCampaign: "c2", wantTemplate: "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseAcceptBody([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if len(b.Leads) != tt.wantLeads || b.Received != tt.wantReceived {
				t.Fatalf("expected %d/%d leads, got %d/%d", tt.wantLeads, tt.wantReceived, len(b.Leads), b.Received)
			}
			if b.CampaignID != tt.wantCampaign || b.EmailTemplateID != tt.wantTemplate {
				t.Fatalf("unexpected ids %q %q", b.CampaignID, b.EmailTemplateID)
			}
		})
	}

	for _, bad := range []string{"", "42", `"lead"`, `{"leads":`} {
		if _, err := ParseAcceptBody([]byte(bad)); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestIncomingLeadAliases(t *testing.T) {
	b, err := ParseAcceptBody([]byte(`{
		"Email": " Ann@Example.COM ",
		"first_name": "Ann",
		"mobile_number": "+31 6 12345678",
		"work_phone": "+31 20 1234567",
		"company": "{\"name\":\"Acme BV\",\"phone\":\"+31 20 0000000\"}",
		"city_name": "Utrecht",
		"campaign_id": "c1"
	}`))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	l := b.Leads[0]
	if l.Email != "ann@example.com" {
		t.Fatalf("expected lower-cased trimmed email, got %q", l.Email)
	}
	if l.Phone != "+31 6 12345678" {
		t.Fatalf("expected the first phone alias, got %q", l.Phone)
	}
	if l.CompanyName != "Acme BV" || l.City != "Utrecht" || l.CampaignID != "c1" {
		t.Fatalf("unexpected lead %+v", l)
	}

	var phones []domain.PhoneEntry
	if err := json.Unmarshal(l.ContactPhoneNumbers, &phones); err != nil || len(phones) != 1 || phones[0].RawNumber != l.Phone {
		t.Fatalf("expected the phone to seed contact_phone_numbers, got %s", l.ContactPhoneNumbers)
	}
}

func TestIncomingLeadKeepsStructuredPhones(t *testing.T) {
	b, err := ParseAcceptBody([]byte(`{"email":"a@x.io","contact_phone_numbers":[{"sanitizedNumber":"+14155551212"}],"company":"not json"}`))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	l := b.Leads[0]
	if string(l.ContactPhoneNumbers) != `[{"sanitizedNumber":"+14155551212"}]` {
		t.Fatalf("unexpected phones %s", l.ContactPhoneNumbers)
	}
	if l.Company != nil {
		t.Fatalf("an unparseable company must be dropped, got %s", l.Company)
	}
	if b.HasCampaign() {
		t.Fatalf("no campaign was given")
	}
}
