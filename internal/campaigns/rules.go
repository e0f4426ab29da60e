// Package campaigns resolves per-campaign delivery rules, caller scripts and
// email steps. Stored JSON shapes are parsed once here into typed values.
package campaigns

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	DefaultCallWindowStart = 9
	DefaultCallWindowEnd   = 18
	DefaultMaxAttempts     = 3
	DefaultRetryMinutes    = 30
)

// Rules are the effective delivery rules of a campaign.
type Rules struct {
	SendEmail        bool
	SendCalls        bool
	SendInitialEmail bool
	CallWindowStart  int
	CallWindowEnd    int
	MaxAttempts      int
	RetryMinutes     int
	Caller           CallerConfig
}

// DefaultRules returns the rules used when a campaign stores nothing.
func DefaultRules() Rules {
	return Rules{
		SendEmail:        true,
		SendCalls:        true,
		SendInitialEmail: true,
		CallWindowStart:  DefaultCallWindowStart,
		CallWindowEnd:    DefaultCallWindowEnd,
		MaxAttempts:      DefaultMaxAttempts,
		RetryMinutes:     DefaultRetryMinutes,
		Caller:           DefaultCallerConfig(),
	}
}

// ParseRules maps a stored delivery_rules document onto the defaults.
//
// Accepted keys: send_email|use_email, send_calls|use_calls, nested
// call{window_start, window_end, max_attempts, retry_minutes}, the flat
// call_window_start, call_window_end, max_attempts, retry_minutes,
// email{send_initial} and caller{...}. Nested values win over flat ones.
// Unparseable values keep the default.
func ParseRules(raw []byte) Rules {
	rules := DefaultRules()
	doc := decodeObject(raw)
	if doc == nil {
		return rules
	}

	for _, key := range []string{"send_email", "use_email"} {
		if v, ok := asBool(doc[key]); ok {
			rules.SendEmail = v
		}
	}
	for _, key := range []string{"send_calls", "use_calls"} {
		if v, ok := asBool(doc[key]); ok {
			rules.SendCalls = v
		}
	}

	applyInt(&rules.CallWindowStart, doc["call_window_start"])
	applyInt(&rules.CallWindowEnd, doc["call_window_end"])
	applyInt(&rules.MaxAttempts, doc["max_attempts"])
	applyInt(&rules.RetryMinutes, doc["retry_minutes"])

	if call, ok := doc["call"].(map[string]any); ok {
		applyInt(&rules.CallWindowStart, call["window_start"])
		applyInt(&rules.CallWindowEnd, call["window_end"])
		applyInt(&rules.MaxAttempts, call["max_attempts"])
		applyInt(&rules.RetryMinutes, call["retry_minutes"])
	}

	if email, ok := doc["email"].(map[string]any); ok {
		if v, ok := asBool(email["send_initial"]); ok {
			rules.SendInitialEmail = v
		}
	}

	if caller, ok := doc["caller"].(map[string]any); ok {
		rules.Caller = applyCaller(rules.Caller, caller)
	}

	rules.CallWindowStart = clampHour(rules.CallWindowStart)
	rules.CallWindowEnd = clampHour(rules.CallWindowEnd)
	if rules.MaxAttempts < 1 {
		rules.MaxAttempts = DefaultMaxAttempts
	}
	if rules.RetryMinutes < 1 {
		rules.RetryMinutes = DefaultRetryMinutes
	}
	return rules
}

func decodeObject(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 24 {
		return 24
	}
	return h
}

func applyInt(dst *int, v any) {
	if n, ok := asInt(v); ok {
		*dst = n
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	}
	return false, false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
