package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/beekhof/exchange-ical-proxy/internal/auth"
	"github.com/beekhof/exchange-ical-proxy/internal/logging"
	"github.com/beekhof/exchange-ical-proxy/internal/metrics"
)

const (
	// AuthPath is the Outlook Web Access form-login endpoint.
	AuthPath = "/exchweb/bin/auth/owaauth.dll"

	DefaultRoot            = "exchange"
	DefaultSessionLifetime = 15 * time.Minute
	DefaultTimeout         = 30 * time.Second
)

// SessionConfig identifies one Exchange account.
type SessionConfig struct {
	Server   string // host[:port], always reached over HTTPS
	Username string
	Password string

	// Root is the first path segment of every mailbox URL. Default "exchange".
	Root string

	// Lifetime is how long a session cookie is reused. Default 15 minutes.
	Lifetime time.Duration

	// ValidateLogin issues a GET against the mailbox after each login so
	// rejected credentials surface as an AuthError.
	ValidateLogin bool

	// Timeout bounds each login, and each HTTP request when no client is
	// supplied. Default 30 seconds.
	Timeout time.Duration
}

// SessionOption configures optional Session collaborators.
type SessionOption func(*Session)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.client = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithTokenStore seeds the cookie cache from store and saves every new
// cookie to it.
func WithTokenStore(store auth.TokenStore) SessionOption {
	return func(s *Session) { s.store = store }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Session holds the credentials for one Exchange account and the cookie
// obtained with them. It is safe for concurrent use; at most one login is
// in flight at a time.
type Session struct {
	server   string
	username string
	password string
	root     string
	lifetime time.Duration
	validate bool
	timeout  time.Duration

	client     *http.Client
	noRedirect *http.Client
	now        func() time.Time
	store      auth.TokenStore
	logger     *zap.Logger

	mu        sync.RWMutex
	token     string
	refreshed time.Time
	restored  bool

	flight singleflight.Group
}

// NewSession creates a session. No network traffic happens until the first
// GetToken.
func NewSession(cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("exchange server is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("exchange username is required")
	}

	s := &Session{
		server:   cfg.Server,
		username: cfg.Username,
		password: cfg.Password,
		root:     cfg.Root,
		lifetime: cfg.Lifetime,
		validate: cfg.ValidateLogin,
		timeout:  cfg.Timeout,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	if s.root == "" {
		s.root = DefaultRoot
	}
	if s.lifetime <= 0 {
		s.lifetime = DefaultSessionLifetime
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: s.timeout}
	}

	// OWA answers the login POST with a redirect that carries the cookies.
	noRedirect := *s.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	s.noRedirect = &noRedirect

	return s, nil
}

// Username is the account every query runs as.
func (s *Session) Username() string { return s.username }

// Server is the Exchange host.
func (s *Session) Server() string { return s.server }

// Root is the first path segment of mailbox URLs.
func (s *Session) Root() string { return s.root }

// Client is the HTTP client mailbox requests are sent with. It does not
// follow redirects; OWA redirects unauthenticated requests to its login
// form.
func (s *Session) Client() *http.Client { return s.noRedirect }

// URL returns an https URL on the server for the given escaped path
// segments.
func (s *Session) URL(segments ...string) *url.URL {
	base := &url.URL{Scheme: "https", Host: s.server, Path: "/"}
	return base.JoinPath(segments...)
}

// IsExpired reports whether a cookie was obtained and has outlived the
// session lifetime. A session that never logged in is not expired.
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked(s.now())
}

// IsAuthenticated reports whether a cookie is held and still usable.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.expiredLocked(s.now())
}

// RefreshedAt is when the current cookie was stored. It is zero before the
// first login.
func (s *Session) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

func (s *Session) expiredLocked(now time.Time) bool {
	return s.token != "" && now.Sub(s.refreshed) >= s.lifetime
}

func (s *Session) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" && !s.expiredLocked(s.now()) {
		return s.token, true
	}
	return "", false
}

// GetToken returns a usable session cookie, logging in first if none is
// cached or the cached one has expired. Concurrent callers share a single
// login. Cancelling ctx abandons the wait but not the shared login, which
// is bounded by the session timeout.
func (s *Session) GetToken(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	ch := s.flight.DoChan("token", func() (interface{}, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(loginCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	// Another flight may have finished between the cache miss and now.
	if token, ok := s.cached(); ok {
		return token, nil
	}

	if token, ok := s.restore(); ok {
		return token, nil
	}

	token, err := s.authenticate(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.token = token
	s.refreshed = s.now()
	refreshed := s.refreshed
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveToken(auth.NewCookieToken(token, refreshed, s.lifetime)); err != nil {
			s.logger.Warn("failed to persist session cookie", logging.User(s.username), zap.Error(err))
		}
	}

	return token, nil
}

// restore adopts a still-valid cookie from the token store. The store is
// only consulted once per session.
func (s *Session) restore() (string, bool) {
	s.mu.Lock()
	if s.store == nil || s.restored {
		s.mu.Unlock()
		return "", false
	}
	s.restored = true
	s.mu.Unlock()

	stored, err := s.store.LoadToken()
	if err != nil {
		s.logger.Warn("failed to load stored session cookie", logging.User(s.username), zap.Error(err))
		return "", false
	}

	cookie, refreshed, ok := auth.CookieFromToken(stored, s.lifetime)
	if !ok || s.now().Sub(refreshed) >= s.lifetime {
		return "", false
	}

	s.mu.Lock()
	s.token = cookie
	s.refreshed = refreshed
	s.mu.Unlock()

	s.logger.Debug("reusing stored session cookie",
		logging.User(s.username), zap.Time("refreshed", refreshed))
	return cookie, true
}

// authenticate performs the form login and, if enabled, the validation
// request. It returns the cookie without storing it.
func (s *Session) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"destination": {s.URL(s.root).String()},
		"flags":       {"0"},
		"username":    {s.username},
		"password":    {s.password},
		"SubmitCreds": {"Log On"},
		"trusted":     {"4"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(AuthPath).String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create authentication request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.noRedirect.Do(req)
	if err != nil {
		metrics.ObserveHandshake(metrics.ResultError)
		return "", fmt.Errorf("authentication request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveHandshake(metrics.ResultError)
		return "", fmt.Errorf("authentication request failed: %w", newStatusError(resp.StatusCode, resp.Status))
	}

	cookie := cookieHeader(resp)
	if cookie == "" {
		metrics.ObserveHandshake(metrics.ResultRejected)
		return "", &AuthError{User: s.username, Err: errors.New("server issued no session cookie")}
	}

	if s.validate {
		if err := s.validateCookie(ctx, cookie); err != nil {
			return "", err
		}
	}

	metrics.ObserveHandshake(metrics.ResultSuccess)
	s.logger.Info("authenticated with exchange",
		logging.Server(s.server), logging.User(s.username), zap.String("cookie", logging.Redact(cookie)))
	return cookie, nil
}

// validateCookie fetches the mailbox root with cookie. Anything but a 2xx,
// including a redirect back to the login form, means the login failed.
func (s *Session) validateCookie(ctx context.Context, cookie string) error {
	target := s.URL(s.root, url.PathEscape(s.username)+"/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create validation request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("Translate", "f")

	resp, err := s.noRedirect.Do(req)
	if err != nil {
		metrics.ObserveHandshake(metrics.ResultError)
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveHandshake(metrics.ResultRejected)
		return &AuthError{User: s.username, Err: newStatusError(resp.StatusCode, resp.Status)}
	}
	return nil
}

// cookieHeader joins the cookies set by resp into a Cookie header value.
func cookieHeader(resp *http.Response) string {
	var pairs []string
	for _, c := range resp.Cookies() {
		// OWA clears stale cookies by setting them empty.
		if c.Value == "" || c.MaxAge < 0 {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.TrimSpace(strings.Join(pairs, "; "))
}
