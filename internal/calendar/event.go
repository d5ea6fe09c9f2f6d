package calendar

import (
	"errors"
	"time"
)

var (
	// ErrInvalidEvent marks a single item that cannot become an event. The
	// item is dropped and the rest of the batch is kept.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidDate is returned when a date property cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")
)

// DefaultAlarmLead is how long before the start a reminder fires.
const DefaultAlarmLead = 15 * time.Minute

// Transparency values for TRANSP.
const (
	TransparencyOpaque      = "OPAQUE"
	TransparencyTransparent = "TRANSPARENT"
)

// Reminder is a display alarm that fires Lead before the event starts.
type Reminder struct {
	Lead        time.Duration
	Description string
}

// Event is a finalized calendar event. Optional text fields are nil when the
// source item did not carry the property and point to "" when it was present
// but empty.
type Event struct {
	UID         string
	Summary     *string
	Location    *string
	Status      *string
	Description *string

	// Transparency is empty unless the item reported a busy status.
	Transparency string

	Start  time.Time
	End    time.Time
	AllDay bool

	Organizer *Organizer
	Reminder  *Reminder

	// Stamp is when the event was finalized (DTSTAMP).
	Stamp time.Time
}

// SummaryText returns the summary or "" when absent.
func (e Event) SummaryText() string {
	return deref(e.Summary)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
