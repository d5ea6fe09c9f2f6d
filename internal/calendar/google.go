package calendar

import (
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// GoogleEvents converts the document into the Google Calendar v3 list
// representation, for consumers that speak that JSON instead of iCalendar.
func (d *Document) GoogleEvents(summary string) *gcal.Events {
	events := &gcal.Events{
		Kind:    "calendar#events",
		Summary: summary,
		Items:   make([]*gcal.Event, 0, len(d.Events)),
	}
	for _, e := range d.Events {
		events.Items = append(events.Items, e.GoogleEvent())
	}
	return events
}

// GoogleEvent converts the event into a Google Calendar event.
func (e Event) GoogleEvent() *gcal.Event {
	event := &gcal.Event{
		ICalUID:     e.UID,
		Summary:     deref(e.Summary),
		Location:    deref(e.Location),
		Description: deref(e.Description),
	}

	if e.AllDay {
		event.Start = &gcal.EventDateTime{Date: e.Start.Format("2006-01-02")}
		event.End = &gcal.EventDateTime{Date: e.End.Format("2006-01-02")}
	} else {
		event.Start = &gcal.EventDateTime{DateTime: e.Start.Format(time.RFC3339)}
		event.End = &gcal.EventDateTime{DateTime: e.End.Format(time.RFC3339)}
	}

	// Google only accepts the lower-case RFC 5545 statuses.
	if e.Status != nil {
		switch status := strings.ToLower(strings.TrimSpace(*e.Status)); status {
		case "confirmed", "tentative", "cancelled":
			event.Status = status
		}
	}

	if e.Transparency == TransparencyTransparent {
		event.Transparency = "transparent"
	}

	if e.Organizer != nil {
		event.Organizer = &gcal.EventOrganizer{
			DisplayName: e.Organizer.Name,
			Email:       e.Organizer.Address,
		}
	}

	// Without an explicit override the subscriber's defaults would apply.
	event.Reminders = &gcal.EventReminders{ForceSendFields: []string{"UseDefault"}}
	if e.Reminder != nil {
		event.Reminders.Overrides = []*gcal.EventReminder{{
			Method:  "popup",
			Minutes: int64(e.Reminder.Lead / time.Minute),
		}}
	}

	return event
}
