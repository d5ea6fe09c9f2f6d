package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/exchange-ical-proxy/internal/calendar"
	"github.com/beekhof/exchange-ical-proxy/internal/exchange"
)

type stubFetcher struct {
	doc   *calendar.Document
	err   error
	calls int
	opts  int
}

func (f *stubFetcher) Execute(ctx context.Context, opts ...exchange.ExecuteOption) (*calendar.Document, error) {
	f.calls++
	f.opts = len(opts)
	return f.doc, f.err
}

func sampleDocument(t *testing.T) *calendar.Document {
	t.Helper()
	start, end := "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z"
	summary := "Standup"

	b := calendar.NewBuilder(time.UTC)
	require.NoError(t, b.SetStart(&start))
	require.NoError(t, b.SetEnd(&end))
	b.SetSummary(&summary)
	event, err := b.Finalize(calendar.FinalizeOptions{Now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	doc := &calendar.Document{}
	doc.Append(event)
	return doc
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_ICalendar(t *testing.T) {
	fetcher := &stubFetcher{doc: sampleDocument(t)}
	h := New(fetcher, WithExecuteOptions(exchange.WithAlarms(false))).Routes()

	for _, path := range []string{"/", "/calendar.ics"} {
		rec := get(t, h, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
		assert.Contains(t, rec.Body.String(), "SUMMARY:Standup")
	}
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, 1, fetcher.opts)
}

func TestServer_EmptyCalendar(t *testing.T) {
	h := New(&stubFetcher{doc: &calendar.Document{}}).Routes()

	rec := get(t, h, "/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "END:VCALENDAR")
	assert.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")

	rec = get(t, h, "/calendar.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"calendar#events"`)
}

func TestServer_JSON(t *testing.T) {
	h := New(&stubFetcher{doc: sampleDocument(t)}, WithCalendarName("Work")).Routes()

	rec := get(t, h, "/calendar.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Kind    string `json:"kind"`
		Summary string `json:"summary"`
		Items   []struct {
			Summary string `json:"summary"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "calendar#events", body.Kind)
	assert.Equal(t, "Work", body.Summary)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "Standup", body.Items[0].Summary)
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantHeader [2]string
	}{
		{
			name:       "authentication",
			err:        fmt.Errorf("get token: %w", &exchange.AuthError{User: "jdoe"}),
			wantStatus: http.StatusBadGateway,
			wantHeader: [2]string{"X-Exchange-Error", "authentication"},
		},
		{
			name:       "upstream status",
			err:        fmt.Errorf("search: %w", &exchange.StatusError{Code: 500, Reason: "Internal Server Error"}),
			wantStatus: http.StatusBadGateway,
			wantHeader: [2]string{"X-Exchange-Status", "500"},
		},
		{
			name:       "timeout",
			err:        fmt.Errorf("search: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "malformed",
			err:        exchange.ErrMalformedResponse,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&stubFetcher{err: tt.err}).Routes()
			rec := get(t, h, "/calendar.ics")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantHeader[0] != "" {
				assert.Equal(t, tt.wantHeader[1], rec.Header().Get(tt.wantHeader[0]))
			}
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	fetcher := &stubFetcher{}
	rec := get(t, New(fetcher).Routes(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fetcher.calls)
}

func TestServer_Metrics(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, New(&stubFetcher{}).Routes(), "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, New(&stubFetcher{}, WithMetrics(true)).Routes(), "/metrics").Code)
}

func TestServer_ServeShutsDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&stubFetcher{}).Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
}
