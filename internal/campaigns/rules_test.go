package campaigns

import (
	"strings"
	"testing"
)

const fmtUnexpectedValue = "expected %s=%v, got %v"

func TestParseRulesDefaults(t *testing.T) {
	rules := ParseRules(nil)
	if !rules.SendEmail || !rules.SendCalls || !rules.SendInitialEmail {
		t.Fatalf("expected all channels enabled by default, got %+v", rules)
	}
	if rules.CallWindowStart != 9 || rules.CallWindowEnd != 18 {
		t.Fatalf("unexpected default window %d-%d", rules.CallWindowStart, rules.CallWindowEnd)
	}
	if rules.MaxAttempts != 3 || rules.RetryMinutes != 30 {
		t.Fatalf("unexpected default retry policy %d/%d", rules.MaxAttempts, rules.RetryMinutes)
	}
}

func TestParseRulesAliasesAndNesting(t *testing.T) {
	raw := []byte(`{
		"use_email": false,
		"use_calls": "true",
		"call_window_start": 7,
		"call": {"window_start": 10, "window_end": "17", "max_attempts": 5, "retry_minutes": 45},
		"email": {"send_initial": false},
		"caller": {"tone": "warm_friendly", "qualify_questions": ["Budget?", ""], "not_interested_policy": "mark_do_not_contact"}
	}`)
	rules := ParseRules(raw)

	if rules.SendEmail {
		t.Fatalf(fmtUnexpectedValue, "SendEmail", false, rules.SendEmail)
	}
	if !rules.SendCalls {
		t.Fatalf(fmtUnexpectedValue, "SendCalls", true, rules.SendCalls)
	}
	if rules.CallWindowStart != 10 || rules.CallWindowEnd != 17 {
		t.Fatalf("expected nested window 10-17, got %d-%d", rules.CallWindowStart, rules.CallWindowEnd)
	}
	if rules.MaxAttempts != 5 || rules.RetryMinutes != 45 {
		t.Fatalf("unexpected retry policy %d/%d", rules.MaxAttempts, rules.RetryMinutes)
	}
	if rules.SendInitialEmail {
		t.Fatalf(fmtUnexpectedValue, "SendInitialEmail", false, rules.SendInitialEmail)
	}
	if rules.Caller.Tone != "warm_friendly" || len(rules.Caller.QualifyQuestions) != 1 {
		t.Fatalf("unexpected caller %+v", rules.Caller)
	}
	if rules.Caller.NotInterestedPolicy != PolicyMarkDoNotContact {
		t.Fatalf(fmtUnexpectedValue, "NotInterestedPolicy", PolicyMarkDoNotContact, rules.Caller.NotInterestedPolicy)
	}
}

func TestParseRulesInvalidValuesKeepDefaults(t *testing.T) {
	rules := ParseRules([]byte(`{"max_attempts": "lots", "call_window_end": 40, "retry_minutes": -3}`))
	if rules.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf(fmtUnexpectedValue, "MaxAttempts", DefaultMaxAttempts, rules.MaxAttempts)
	}
	if rules.CallWindowEnd != 24 {
		t.Fatalf(fmtUnexpectedValue, "CallWindowEnd", 24, rules.CallWindowEnd)
	}
	if rules.RetryMinutes != DefaultRetryMinutes {
		t.Fatalf(fmtUnexpectedValue, "RetryMinutes", DefaultRetryMinutes, rules.RetryMinutes)
	}

	if got := ParseRules([]byte(`not json`)); got.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected defaults for malformed document")
	}
}

func TestParseCallerOverlaysColumn(t *testing.T) {
	base := DefaultCallerConfig()
	cfg := ParseCaller(base, []byte(`{"objections":[{"objection":"Too busy","response":"Two minutes?"},{"objection":"x"}],"vapi_assistant_id":"asst_1"}`))
	if len(cfg.Objections) != 1 {
		t.Fatalf("expected incomplete objection pair to be dropped, got %d", len(cfg.Objections))
	}
	if cfg.AssistantID != "asst_1" {
		t.Fatalf(fmtUnexpectedValue, "AssistantID", "asst_1", cfg.AssistantID)
	}
	if cfg.Goal != "qualify" {
		t.Fatalf("expected default goal to survive overlay")
	}
}

func TestBuildPromptSections(t *testing.T) {
	cfg := DefaultCallerConfig()
	cfg.OpeningScript = "Hi, quick question about your roof."
	cfg.QualifyQuestions = []string{"Do you own the property?"}
	cfg.BookingLink = "https://cal.example/book"
	cfg.NotInterestedPolicy = PolicyMarkDoNotContact

	prompt := BuildPrompt(cfg)
	for _, want := range []string{
		"OPENING (adapt naturally): Hi, quick question about your roof.",
		"GOAL: qualify",
		"- Do you own the property?",
		"https://cal.example/book",
		"action=dnc",
		"COMPLIANCE:",
		"SUMMARY FORMAT",
		"name=<Full Name>; company=<Company>",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "transfer the call") {
		t.Fatalf("prompt should not mention transfer without a number")
	}
}
