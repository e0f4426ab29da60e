package calls

import (
	"strings"

	"leadflow_backend/internal/campaigns"
)

const doNotContactMarker = "DO_NOT_CONTACT"

// ParseSummary reads the "key=value; key=value" line the assistant is asked
// to end with. Keys are lower-cased; unknown text is ignored.
func ParseSummary(summary string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(summary, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// wantsNoContact reports whether a completed call asked to stop outreach.
func wantsNoContact(summary string, fields map[string]string) bool {
	if strings.EqualFold(fields["intent"], "not_interested") || strings.EqualFold(fields["action"], "dnc") {
		return true
	}
	return strings.Contains(strings.ToUpper(summary), doNotContactMarker)
}

// contactedPatch maps summary fields onto lead columns.
func contactedPatch(fields map[string]string) (name, firstName, company string) {
	name = fields["name"]
	if first, _, _ := strings.Cut(name, " "); first != "" {
		firstName = first
	}
	company = fields["company"]
	return name, firstName, company
}

func shouldMarkDoNotContact(rules campaigns.Rules, summary string) bool {
	if rules.Caller.NotInterestedPolicy != campaigns.PolicyMarkDoNotContact {
		return false
	}
	return wantsNoContact(summary, ParseSummary(summary))
}

// shouldSendFollowup reports whether a not-interested lead gets a follow-up email.
func shouldSendFollowup(rules campaigns.Rules, summary string) bool {
	if rules.Caller.NotInterestedPolicy != campaigns.PolicySendFollowupEmail {
		return false
	}
	fields := ParseSummary(summary)
	if strings.EqualFold(fields["action"], "followup") {
		return true
	}
	return wantsNoContact(summary, fields)
}
