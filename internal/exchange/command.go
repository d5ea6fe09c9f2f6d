package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/beekhof/exchange-ical-proxy/internal/calendar"
	"github.com/beekhof/exchange-ical-proxy/internal/logging"
	"github.com/beekhof/exchange-ical-proxy/internal/metrics"
)

const (
	// MethodSearch is the WebDAV verb Exchange accepts SQL queries on.
	MethodSearch = "SEARCH"

	DefaultService = "calendar"
)

// FetchCalendar queries a user's calendar folder and turns every
// appointment into an event.
type FetchCalendar struct {
	session *Session
	service string
	zone    *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

// CommandOption configures a FetchCalendar.
type CommandOption func(*FetchCalendar)

// WithService sets the mailbox folder searched. Default "calendar".
func WithService(name string) CommandOption {
	return func(c *FetchCalendar) { c.service = name }
}

// WithZone sets the fixed-offset zone used for zone-less dates, all-day
// boundaries and reminder decisions. Default UTC.
func WithZone(zone *time.Location) CommandOption {
	return func(c *FetchCalendar) { c.zone = zone }
}

// WithNow replaces time.Now for reminder decisions.
func WithNow(now func() time.Time) CommandOption {
	return func(c *FetchCalendar) { c.now = now }
}

// WithCommandLogger sets the logger. The default discards everything.
func WithCommandLogger(l *zap.Logger) CommandOption {
	return func(c *FetchCalendar) { c.logger = l }
}

// NewFetchCalendar returns a command that runs as session's user. The
// session is shared, not owned.
func NewFetchCalendar(session *Session, opts ...CommandOption) *FetchCalendar {
	c := &FetchCalendar{
		session: session,
		service: DefaultService,
		zone:    time.UTC,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type executeOptions struct {
	alarms    bool
	alarmLead time.Duration
}

// ExecuteOption adjusts a single Execute call.
type ExecuteOption func(*executeOptions)

// WithAlarms turns reminders on or off. They are on by default.
func WithAlarms(enabled bool) ExecuteOption {
	return func(o *executeOptions) { o.alarms = enabled }
}

// WithAlarmLead sets how long before the start reminders fire.
func WithAlarmLead(d time.Duration) ExecuteOption {
	return func(o *executeOptions) { o.alarmLead = d }
}

// Execute runs the search and returns the resulting document, in the order
// the server returned the items. Items that cannot become events are
// logged and skipped; any other failure aborts the whole call.
func (c *FetchCalendar) Execute(ctx context.Context, opts ...ExecuteOption) (*calendar.Document, error) {
	o := executeOptions{alarms: true, alarmLead: calendar.DefaultAlarmLead}
	for _, opt := range opts {
		opt(&o)
	}

	items, err := c.search(ctx)
	if err != nil {
		return nil, err
	}

	finalize := calendar.FinalizeOptions{
		Now:       c.now(),
		Alarms:    o.alarms,
		AlarmLead: o.alarmLead,
	}

	doc := &calendar.Document{}
	for i, item := range items {
		event, err := c.buildEvent(item, finalize)
		if errors.Is(err, calendar.ErrInvalidEvent) {
			metrics.ItemDropped()
			c.logger.Warn("skipping calendar item",
				logging.User(c.session.Username()), zap.Int("item", i), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("calendar item %d: %w", i, err)
		}
		doc.Append(event)
	}

	metrics.EventsRendered(doc.Len())
	c.logger.Debug("calendar fetched",
		logging.User(c.session.Username()), zap.Int("items", len(items)), zap.Int("events", doc.Len()))
	return doc, nil
}

// search sends the SEARCH request and decodes the result rows.
func (c *FetchCalendar) search(ctx context.Context) ([]Properties, error) {
	token, err := c.session.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	// The user always comes from the session, never from the caller.
	user := url.PathEscape(c.session.Username())
	body, err := CalendarQuery(c.session.Root(), c.session.Username(), c.service).Body()
	if err != nil {
		return nil, err
	}

	target := c.session.URL(c.session.Root(), user, c.service)
	req, err := http.NewRequestWithContext(ctx, MethodSearch, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="UTF-8"`)
	req.Header.Set("Depth", "0")
	req.Header.Set("Translate", "f")
	req.Header.Set("Cookie", token)

	start := time.Now()
	resp, err := c.session.Client().Do(req)
	if err != nil {
		metrics.ObserveSearch(0, time.Since(start))
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.ObserveSearch(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search request failed: %w", newStatusError(resp.StatusCode, resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	return parseSearchResponse(data)
}

func (c *FetchCalendar) buildEvent(item Properties, opts calendar.FinalizeOptions) (calendar.Event, error) {
	b := calendar.NewBuilder(c.zone)
	b.SetSummary(item.Get(FieldSubject))
	b.SetLocation(item.Get(FieldLocation))
	b.SetDescription(item.Get(FieldDescription))
	b.SetStatus(item.Get(FieldStatus))
	b.SetBusyStatus(item.Get(FieldBusyStatus))
	b.SetOrganizer(item.Get(FieldOrganizer))

	if err := b.SetStart(item.Get(FieldStart)); err != nil {
		return calendar.Event{}, err
	}
	if err := b.SetEnd(item.Get(FieldEnd)); err != nil {
		return calendar.Event{}, err
	}

	// timezone_info is a VTIMEZONE blob; instants already carry their offset.
	return b.Finalize(opts)
}
