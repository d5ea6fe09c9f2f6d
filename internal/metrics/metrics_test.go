package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHandshake(t *testing.T) {
	before := testutil.ToFloat64(handshakesTotal.WithLabelValues(ResultRejected))
	ObserveHandshake(ResultRejected)
	assert.Equal(t, before+1, testutil.ToFloat64(handshakesTotal.WithLabelValues(ResultRejected)))
}

func TestObserveSearch(t *testing.T) {
	before := testutil.ToFloat64(searchRequestsTotal.WithLabelValues("207"))
	ObserveSearch(207, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(searchRequestsTotal.WithLabelValues("207")))
}

func TestItemDroppedAndEventsRendered(t *testing.T) {
	dropped := testutil.ToFloat64(itemsDroppedTotal)
	rendered := testutil.ToFloat64(eventsRenderedTotal)

	ItemDropped()
	EventsRendered(3)

	assert.Equal(t, dropped+1, testutil.ToFloat64(itemsDroppedTotal))
	assert.Equal(t, rendered+3, testutil.ToFloat64(eventsRenderedTotal))
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `icalproxy_http_requests_total{method="GET",route="/ping",status="418"}`)
}
