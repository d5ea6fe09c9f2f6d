package calendar

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// ProductID is written as PRODID on every rendered document.
const ProductID = "-//Exchange iCal Proxy//EN"

// Document is an ordered set of events produced by one query.
type Document struct {
	Events []Event
}

// Append adds e after the events already in the document.
func (d *Document) Append(e Event) {
	d.Events = append(d.Events, e)
}

// Len reports the number of events.
func (d *Document) Len() int {
	return len(d.Events)
}

// ICalendar builds the iCalendar representation of the document.
func (d *Document) ICalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, e := range d.Events {
		cal.Children = append(cal.Children, e.Component())
	}
	return cal
}

// emptyCalendar is written for documents without events, which the
// go-ical encoder refuses.
const emptyCalendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:" + ProductID + "\r\n" +
	"END:VCALENDAR\r\n"

// Encode writes the document in iCalendar format.
func (d *Document) Encode(w io.Writer) error {
	if len(d.Events) == 0 {
		if _, err := io.WriteString(w, emptyCalendar); err != nil {
			return fmt.Errorf("failed to encode calendar: %w", err)
		}
		return nil
	}
	if err := ical.NewEncoder(w).Encode(d.ICalendar()); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// String renders the document, or returns "" if encoding fails.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Component converts the event into a VEVENT.
func (e Event) Component() *ical.Component {
	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, e.UID)

	stamp := e.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	if e.AllDay {
		dtstart := ical.NewProp(ical.PropDateTimeStart)
		dtstart.SetDate(e.Start)
		vevent.Props.Set(dtstart)

		dtend := ical.NewProp(ical.PropDateTimeEnd)
		dtend.SetDate(e.End)
		vevent.Props.Set(dtend)
	} else {
		// Instants are written in UTC so no VTIMEZONE is needed.
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
	}

	setOptionalText(vevent, ical.PropSummary, e.Summary)
	setOptionalText(vevent, ical.PropLocation, e.Location)
	setOptionalText(vevent, ical.PropDescription, e.Description)
	setOptionalText(vevent, ical.PropStatus, e.Status)

	if e.Transparency != "" {
		vevent.Props.SetText(ical.PropTransparency, e.Transparency)
	}

	if e.Organizer != nil {
		// The address goes out as-is; SetText would escape it.
		organizer := ical.NewProp(ical.PropOrganizer)
		organizer.Value = e.Organizer.CalendarAddress()
		organizer.Params.Set("CN", e.Organizer.Name)
		organizer.Params.Set("ROLE", "REQ-PARTICIPANT")
		vevent.Props.Set(organizer)
	}

	if e.Reminder != nil {
		vevent.Children = append(vevent.Children, e.Reminder.component())
	}

	return vevent
}

func (r Reminder) component() *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, r.Description)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = formatTrigger(-r.Lead)
	alarm.Props.Set(trigger)
	return alarm
}

func setOptionalText(comp *ical.Component, name string, value *string) {
	if value == nil {
		return
	}
	comp.Props.SetText(name, *value)
}

// formatTrigger renders d as an RFC 5545 duration, e.g. -PT15M.
func formatTrigger(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 && days > 0 {
		return b.String()
	}

	b.WriteByte('T')
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 || (h == 0 && m == 0) {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}
