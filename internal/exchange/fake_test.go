package exchange

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUser     = "jdoe"
	testPassword = "secret"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeExchange imitates the OWA login form and the calendar SEARCH.
type fakeExchange struct {
	t      *testing.T
	server *httptest.Server

	logins      atomic.Int32
	validations atomic.Int32
	searches    atomic.Int32

	// Behaviour knobs, set before use.
	loginStatus      int
	loginDelay       time.Duration
	onLogin          func()
	noCookie         bool
	rejectValidation bool
	searchStatus     int
	searchBody       string

	mu         sync.Mutex
	lastSearch *http.Request
	lastBody   string
	lastForm   url.Values
}

func newFakeExchange(t *testing.T) *fakeExchange {
	f := &fakeExchange{t: t, searchStatus: http.StatusMultiStatus}
	f.server = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExchange) host() string {
	u, err := url.Parse(f.server.URL)
	require.NoError(f.t, err)
	return u.Host
}

func (f *fakeExchange) currentCookie() string {
	n := f.logins.Load()
	return fmt.Sprintf("sessionid=s%d; cadata=c%d", n, n)
}

func (f *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == AuthPath:
		f.handleLogin(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/exchange/"+testUser+"/":
		f.validations.Add(1)
		if f.rejectValidation || r.Header.Get("Cookie") != f.currentCookie() {
			http.Redirect(w, r, "/exchweb/bin/auth/owalogon.asp", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == MethodSearch:
		f.handleSearch(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeExchange) handleLogin(w http.ResponseWriter, r *http.Request) {
	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := f.logins.Add(1)

	f.mu.Lock()
	f.lastForm = r.PostForm
	f.mu.Unlock()

	if f.onLogin != nil {
		f.onLogin()
	}
	if f.loginStatus != 0 {
		w.WriteHeader(f.loginStatus)
		return
	}
	if !f.noCookie {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: fmt.Sprintf("s%d", n), Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "cadata", Value: fmt.Sprintf("c%d", n), Path: "/", Secure: true})
	}
	http.Redirect(w, r, "/exchange", http.StatusFound)
}

func (f *fakeExchange) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.searches.Add(1)
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.lastSearch = r
	f.lastBody = string(body)
	f.mu.Unlock()

	if r.Header.Get("Cookie") != f.currentCookie() {
		http.Redirect(w, r, "/exchweb/bin/auth/owalogon.asp", http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(f.searchStatus)
	_, _ = io.WriteString(w, f.searchBody)
}

func (f *fakeExchange) session(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{WithHTTPClient(f.server.Client())}, opts...)
	s, err := NewSession(SessionConfig{
		Server:        f.host(),
		Username:      testUser,
		Password:      testPassword,
		ValidateLogin: true,
	}, opts...)
	require.NoError(t, err)
	return s
}
