package campaigns

import (
	"fmt"
	"strings"
)

// Not-interested policies.
const (
	PolicyNone              = "none"
	PolicyMarkDoNotContact  = "mark_do_not_contact"
	PolicySendFollowupEmail = "send_followup_email"
)

// Objection is one scripted objection/response pair.
type Objection struct {
	Objection string `json:"objection"`
	Response  string `json:"response"`
}

// CallerConfig is the per-campaign voice script configuration.
type CallerConfig struct {
	OpeningScript       string      `json:"opening_script"`
	Goal                string      `json:"goal"`
	Tone                string      `json:"tone"`
	DiscloseAI          bool        `json:"disclose_ai"`
	MaxDurationSec      int         `json:"max_duration_sec"`
	QualifyQuestions    []string    `json:"qualify_questions"`
	Objections          []Objection `json:"objections"`
	BookingLink         string      `json:"booking_link,omitempty"`
	TransferNumber      string      `json:"transfer_number,omitempty"`
	VoicemailScript     string      `json:"voicemail_script,omitempty"`
	NotInterestedPolicy string      `json:"not_interested_policy"`
	Disclaimer          string      `json:"disclaimer,omitempty"`
	AssistantID         string      `json:"vapi_assistant_id,omitempty"`
}

// DefaultCallerConfig returns the caller defaults.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		Goal:                "qualify",
		Tone:                "professional",
		MaxDurationSec:      180,
		QualifyQuestions:    []string{},
		Objections:          []Objection{},
		NotInterestedPolicy: PolicyNone,
	}
}

// ParseCaller overlays a stored caller document on base.
func ParseCaller(base CallerConfig, raw []byte) CallerConfig {
	doc := decodeObject(raw)
	if doc == nil {
		return base
	}
	return applyCaller(base, doc)
}

func applyCaller(cfg CallerConfig, doc map[string]any) CallerConfig {
	if v, ok := doc["opening_script"]; ok {
		cfg.OpeningScript = asString(v)
	}
	if v := asString(doc["goal"]); v != "" {
		cfg.Goal = strings.ToLower(v)
	}
	if v := asString(doc["tone"]); v != "" {
		cfg.Tone = v
	}
	if v, ok := asBool(doc["disclose_ai"]); ok {
		cfg.DiscloseAI = v
	}
	if n, ok := asInt(doc["max_duration_sec"]); ok && n > 0 {
		cfg.MaxDurationSec = n
	}
	if list, ok := doc["qualify_questions"].([]any); ok {
		cfg.QualifyQuestions = cfg.QualifyQuestions[:0:0]
		for _, item := range list {
			if q := asString(item); q != "" {
				cfg.QualifyQuestions = append(cfg.QualifyQuestions, q)
			}
		}
	}
	if list, ok := doc["objections"].([]any); ok {
		cfg.Objections = cfg.Objections[:0:0]
		for _, item := range list {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			o := Objection{Objection: asString(pair["objection"]), Response: asString(pair["response"])}
			if o.Objection != "" && o.Response != "" {
				cfg.Objections = append(cfg.Objections, o)
			}
		}
	}
	if v, ok := doc["booking_link"]; ok {
		cfg.BookingLink = asString(v)
	}
	if v, ok := doc["transfer_number"]; ok {
		cfg.TransferNumber = asString(v)
	}
	if v, ok := doc["voicemail_script"]; ok {
		cfg.VoicemailScript = asString(v)
	}
	if v := strings.ToLower(asString(doc["not_interested_policy"])); v != "" {
		switch v {
		case PolicyNone, PolicyMarkDoNotContact, PolicySendFollowupEmail:
			cfg.NotInterestedPolicy = v
		}
	}
	if v, ok := doc["disclaimer"]; ok {
		cfg.Disclaimer = asString(v)
	}
	if v := asString(doc["vapi_assistant_id"]); v != "" {
		cfg.AssistantID = v
	}
	return cfg
}

// BuildPrompt renders the system prompt for the voice assistant. It only
// uses campaign-provided content and always asks for a parseable summary.
func BuildPrompt(cfg CallerConfig) string {
	tone := strings.ReplaceAll(orDefault(cfg.Tone, "professional"), "_", " ")
	goal := orDefault(cfg.Goal, "qualify")
	maxSec := cfg.MaxDurationSec
	if maxSec <= 0 {
		maxSec = 180
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a brief, %s outbound caller working on behalf of the campaign owner.\n", tone)
	b.WriteString("Follow the campaign configuration below and do not make up facts that are not in it.\n\n")

	fmt.Fprintf(&b, "OPENING (adapt naturally): %s\n\n", cfg.OpeningScript)
	fmt.Fprintf(&b, "GOAL: %s. The whole call must stay under %d seconds.\n\n", goal, maxSec)

	disclose := "If someone asks directly whether you are an AI, say so briefly; do not bring it up yourself."
	if cfg.DiscloseAI {
		disclose = "You may say that you are an AI assistant when asked."
	}
	fmt.Fprintf(&b, "TONE: %s. %s\n\n", tone, disclose)

	b.WriteString("QUALIFY (only what is needed, keep it short):\n")
	if len(cfg.QualifyQuestions) == 0 {
		b.WriteString("- Ask at most one clarifying question, then move on.\n")
	}
	for _, q := range cfg.QualifyQuestions {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("\n")

	b.WriteString("OBJECTIONS:\n")
	if len(cfg.Objections) == 0 {
		b.WriteString("- Stay polite; offer to send a short email or to talk at a later time.\n")
	}
	for _, o := range cfg.Objections {
		fmt.Fprintf(&b, "- When the lead says %q, answer with %q.\n", o.Objection, o.Response)
	}
	b.WriteString("\n")

	b.WriteString("OPERATIONS:\n")
	b.WriteString("- Do not ask the lead to confirm their name, company or job title; address them as \"you\".\n")
	b.WriteString("- If the lead wants to go into detail right away, say a senior colleague will call back shortly and stop there.\n")
	b.WriteString("- Never discuss pricing or confidential data on this call.\n")
	if cfg.BookingLink != "" {
		fmt.Fprintf(&b, "- When the lead is positive, offer to book a meeting at %s.\n", cfg.BookingLink)
	}
	if cfg.TransferNumber != "" {
		fmt.Fprintf(&b, "- When the lead explicitly asks to talk now, transfer the call to %s.\n", cfg.TransferNumber)
	}
	if cfg.VoicemailScript != "" {
		fmt.Fprintf(&b, "- On voicemail, leave exactly this message in under 20 seconds: %s\n", cfg.VoicemailScript)
	}
	switch cfg.NotInterestedPolicy {
	case PolicyMarkDoNotContact:
		b.WriteString("- When the lead is not interested, close politely and use action=dnc in the summary.\n")
	case PolicySendFollowupEmail:
		b.WriteString("- When the lead is not interested, close politely and use action=followup in the summary.\n")
	}
	b.WriteString("\n")

	b.WriteString("COMPLIANCE:\n")
	b.WriteString(orDefault(cfg.Disclaimer, "Be courteous and respect local calling rules."))
	b.WriteString("\n\n")

	b.WriteString("SUMMARY FORMAT (put this in the call summary):\n")
	b.WriteString("name=<Full Name>; company=<Company>; intent=<positive|neutral|negative|not_interested>; action=<booked|transferred|followup|dnc|none>; notes=<one sentence>")
	return b.String()
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
