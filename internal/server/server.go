// Package server exposes the calendar over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/beekhof/exchange-ical-proxy/internal/calendar"
	"github.com/beekhof/exchange-ical-proxy/internal/exchange"
	"github.com/beekhof/exchange-ical-proxy/internal/metrics"
)

// Fetcher produces a fresh calendar document per call.
type Fetcher interface {
	Execute(ctx context.Context, opts ...exchange.ExecuteOption) (*calendar.Document, error)
}

// Server serves the documents produced by a Fetcher.
type Server struct {
	fetcher Fetcher
	logger  *zap.Logger
	name    string
	metrics bool
	execute []exchange.ExecuteOption
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCalendarName sets the summary reported in the JSON view.
func WithCalendarName(name string) Option {
	return func(s *Server) { s.name = name }
}

// WithMetrics mounts /metrics and counts requests.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

// WithExecuteOptions are passed to every Execute call.
func WithExecuteOptions(opts ...exchange.ExecuteOption) Option {
	return func(s *Server) { s.execute = append(s.execute, opts...) }
}

// New creates a server backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Server {
	s := &Server{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		name:    "Exchange Calendar",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics {
		r.Use(metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Get("/", s.handleICalendar)
	r.Get("/calendar.ics", s.handleICalendar)
	r.Get("/calendar.json", s.handleJSON)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (s *Server) handleICalendar(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.fetch(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		s.logger.Error("failed to render calendar", zap.Error(err))
		http.Error(w, "failed to render calendar", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.fetch(w, r)
	if !ok {
		return
	}

	data, err := json.Marshal(doc.GoogleEvents(s.name))
	if err != nil {
		s.logger.Error("failed to render calendar", zap.Error(err))
		http.Error(w, "failed to render calendar", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) (*calendar.Document, bool) {
	doc, err := s.fetcher.Execute(r.Context(), s.execute...)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return doc, true
}

// writeError maps a fetch failure onto a response. Every failure is on the
// Exchange side, so the status is a gateway error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	var statusErr *exchange.StatusError

	switch {
	case errors.Is(err, exchange.ErrAuthentication):
		w.Header().Set("X-Exchange-Error", "authentication")
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &statusErr):
		w.Header().Set("X-Exchange-Status", fmt.Sprint(statusErr.Code))
	}

	s.logger.Error("calendar fetch failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err))
	http.Error(w, err.Error(), status)
}

// ListenAndServe serves Routes on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving calendar", zap.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
