package phone

import (
	"time"

	"github.com/nyaruka/phonenumbers"
)

const unknownZone = "Etc/Unknown"

// Location resolves the IANA timezone of a phone number from its country and
// area code. The first zone the runtime can load wins. ok is false when the
// number is invalid or maps to no known zone.
func Location(number, region string) (*time.Location, bool) {
	parsed, ok := parseValid(number, region)
	if !ok {
		return nil, false
	}

	zones, err := phonenumbers.GetTimezonesForNumber(parsed)
	if err != nil {
		return nil, false
	}

	for _, zone := range zones {
		if zone == "" || zone == unknownZone {
			continue
		}
		loc, err := time.LoadLocation(zone)
		if err == nil {
			return loc, true
		}
	}
	return nil, false
}
