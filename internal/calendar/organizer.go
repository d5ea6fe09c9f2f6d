package calendar

import (
	"regexp"
	"strings"
)

// organizerPattern matches `Display Name <address>`. Everything before the
// last '<' is the display name.
var organizerPattern = regexp.MustCompile(`^(.*)<(.*)>$`)

// Organizer is the parsed form of a "Display Name <address>" field.
type Organizer struct {
	Name    string
	Address string
}

// ParseOrganizer extracts the display name and address from raw. The second
// return value is false when raw is empty or has no angle-bracketed address;
// callers treat that as "no organizer".
func ParseOrganizer(raw string) (Organizer, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Organizer{}, false
	}

	m := organizerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Organizer{}, false
	}

	return Organizer{
		Name:    strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"'`)),
		Address: strings.TrimSpace(m[2]),
	}, true
}

// CalendarAddress is the address in calendar-user form.
func (o Organizer) CalendarAddress() string {
	return "MAILTO:" + o.Address
}
