package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
)

// uidNamespace scopes the name-based UUIDs given to events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/beekhof/exchange-ical-proxy"))

// FinalizeOptions controls the derived parts of an event.
type FinalizeOptions struct {
	// Now is the reference instant for reminder decisions. Zero means
	// time.Now().
	Now time.Time

	Alarms    bool
	AlarmLead time.Duration
}

// Builder accumulates the raw properties of one calendar item. It is used
// once: populate it with the setters, then call Finalize.
type Builder struct {
	zone *time.Location

	summary     *string
	location    *string
	status      *string
	description *string

	transparency string

	start *time.Time
	end   *time.Time

	organizer *Organizer
}

// NewBuilder returns a builder that interprets zone-less dates in zone and
// evaluates all-day boundaries and reminders against it. A nil zone means
// UTC.
func NewBuilder(zone *time.Location) *Builder {
	if zone == nil {
		zone = time.UTC
	}
	return &Builder{zone: zone}
}

// SetSummary copies v verbatim. A nil v leaves the summary unset.
func (b *Builder) SetSummary(v *string) { b.summary = clone(v) }

// SetLocation copies v verbatim. A nil v leaves the location unset.
func (b *Builder) SetLocation(v *string) { b.location = clone(v) }

// SetStatus copies v verbatim. A nil v leaves the status unset.
func (b *Builder) SetStatus(v *string) { b.status = clone(v) }

// SetDescription copies v verbatim. A nil v leaves the description unset.
func (b *Builder) SetDescription(v *string) { b.description = clone(v) }

// SetBusyStatus maps a free/busy value onto the event transparency.
func (b *Builder) SetBusyStatus(v *string) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return
	}
	if strings.EqualFold(strings.TrimSpace(*v), "FREE") {
		b.transparency = TransparencyTransparent
	} else {
		b.transparency = TransparencyOpaque
	}
}

// SetStart parses raw as the start of the event. A nil or blank raw leaves
// the start unset; unparseable text is an ErrInvalidDate.
func (b *Builder) SetStart(raw *string) error {
	t, err := b.parseDate("start", raw)
	if err != nil {
		return err
	}
	b.start = t
	return nil
}

// SetEnd parses raw as the end of the event, with the same rules as SetStart.
func (b *Builder) SetEnd(raw *string) error {
	t, err := b.parseDate("end", raw)
	if err != nil {
		return err
	}
	b.end = t
	return nil
}

// SetOrganizer parses raw with ParseOrganizer. Text that does not parse
// leaves the organizer unset.
func (b *Builder) SetOrganizer(raw *string) {
	if raw == nil {
		return
	}
	if org, ok := ParseOrganizer(*raw); ok {
		b.organizer = &org
	}
}

func (b *Builder) parseDate(field string, raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	text := strings.TrimSpace(*raw)
	if text == "" {
		return nil, nil
	}

	t, err := dateparse.ParseIn(text, b.zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidDate, field, text, err)
	}
	return &t, nil
}

// Finalize validates the accumulated properties and returns the event.
//
// Items without a start or an end, or whose end precedes the start, fail
// with ErrInvalidEvent. An event lasting 24 hours or more becomes an all-day
// event with both dates truncated to midnight in the builder's zone. When
// alarms are enabled and the start is after opts.Now, a single reminder is
// attached.
func (b *Builder) Finalize(opts FinalizeOptions) (Event, error) {
	if b.start == nil {
		return Event{}, fmt.Errorf("%w: missing start date", ErrInvalidEvent)
	}
	if b.end == nil {
		return Event{}, fmt.Errorf("%w: missing end date", ErrInvalidEvent)
	}

	start := b.start.In(b.zone)
	end := b.end.In(b.zone)
	if end.Before(start) {
		return Event{}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidEvent,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(b.zone)

	event := Event{
		Summary:      b.summary,
		Location:     b.location,
		Status:       b.status,
		Description:  b.description,
		Transparency: b.transparency,
		Organizer:    b.organizer,
		Stamp:        now.UTC(),
	}

	if end.Sub(start) >= 24*time.Hour {
		event.AllDay = true
		start = truncateToDay(start)
		end = truncateToDay(end)
	}
	event.Start = start
	event.End = end

	if opts.Alarms && start.After(now) {
		lead := opts.AlarmLead
		if lead <= 0 {
			lead = DefaultAlarmLead
		}
		event.Reminder = &Reminder{Lead: lead, Description: "REMINDER"}
	}

	event.UID = eventUID(event)
	return event, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// eventUID is stable for the same start, end and summary so clients that
// re-subscribe do not see duplicates.
func eventUID(e Event) string {
	key := e.Start.UTC().Format(time.RFC3339) + "/" + e.End.UTC().Format(time.RFC3339) + "/" + e.SummaryText()
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}

func clone(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
