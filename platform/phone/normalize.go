// Package phone parses lead phone numbers with libphonenumber.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164ForRegion formats input as E.164, reading numbers without a
// country prefix in region. Unparseable input comes back trimmed.
func NormalizeE164ForRegion(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, ok := parseValid(trimmed, region)
	if !ok {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// FirstValid returns the first candidate that parses to a valid number,
// formatted as E.164.
func FirstValid(candidates []string, region string) (string, bool) {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if number, ok := parseValid(raw, region); ok {
			return phonenumbers.Format(number, phonenumbers.E164), true
		}
	}
	return "", false
}

func parseValid(raw, region string) (*phonenumbers.PhoneNumber, bool) {
	if region == "" {
		region = defaultRegion
	}
	number, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return nil, false
	}
	if !phonenumbers.IsValidNumber(number) {
		return nil, false
	}
	return number, true
}
