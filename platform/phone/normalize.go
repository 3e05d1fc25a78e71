// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const unknownTimezone = "Etc/Unknown"

// NormalizeE164 formats a phone number to E.164 using region for numbers
// without a country prefix. If parsing fails, it returns the trimmed input.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// TimezoneFor returns the first IANA zone associated with the number's
// geography, or "" when the number cannot be placed.
func TimezoneFor(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return ""
	}

	zones, err := phonenumbers.GetTimezonesForNumber(number)
	if err != nil {
		return ""
	}
	for _, zone := range zones {
		if zone != "" && zone != unknownTimezone {
			return zone
		}
	}
	return ""
}
