package replies

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var plusTagPattern = regexp.MustCompile(`\+([0-9a-fA-F-]{8,})@`)

// LeadIDFromAddresses returns the first plus-tag that parses as a lead id.
func LeadIDFromAddresses(addresses []string) (uuid.UUID, bool) {
	for _, addr := range addresses {
		for _, m := range plusTagPattern.FindAllStringSubmatch(addr, -1) {
			if id, err := uuid.Parse(m[1]); err == nil {
				return id, true
			}
		}
	}
	return uuid.Nil, false
}

// SplitAddresses splits a header or form value on commas.
func SplitAddresses(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BareAddress returns the address part of "Name <addr>", or the input trimmed.
func BareAddress(value string) string {
	if a, err := mail.ParseAddress(strings.TrimSpace(value)); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.TrimSpace(value)
}

func splitEmail(addr string) (local, domain string) {
	local, domain, _ = strings.Cut(strings.TrimSpace(addr), "@")
	return local, domain
}
