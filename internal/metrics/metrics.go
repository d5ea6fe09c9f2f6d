package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handshake results.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	handshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icalproxy_handshakes_total",
		Help: "Authentication handshakes against the Exchange server by result.",
	}, []string{"result"})

	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icalproxy_search_requests_total",
		Help: "Calendar SEARCH requests by HTTP status code.",
	}, []string{"code"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icalproxy_search_duration_seconds",
		Help:    "Latency of calendar SEARCH requests.",
		Buckets: prometheus.DefBuckets,
	})

	itemsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icalproxy_items_dropped_total",
		Help: "Calendar items skipped because they could not become events.",
	})

	eventsRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icalproxy_events_rendered_total",
		Help: "Events placed into calendar documents.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icalproxy_http_requests_total",
		Help: "HTTP requests served by route and status.",
	}, []string{"method", "route", "status"})
)

// ObserveHandshake counts one handshake with the given result.
func ObserveHandshake(result string) {
	handshakesTotal.WithLabelValues(result).Inc()
}

// ObserveSearch records a SEARCH round trip. A code of 0 means the request
// never got a response.
func ObserveSearch(code int, elapsed time.Duration) {
	searchRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	searchDuration.Observe(elapsed.Seconds())
}

func ItemDropped() { itemsDroppedTotal.Inc() }

func EventsRendered(n int) { eventsRenderedTotal.Add(float64(n)) }

// Middleware counts served requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
