package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/skycast/weather-app/internal/account"
	"github.com/skycast/weather-app/internal/claim"
	"github.com/skycast/weather-app/internal/lockout"
	"github.com/skycast/weather-app/internal/session"
	"github.com/skycast/weather-app/internal/weather"
)

// newTestRedis returns a client backed by an in-process miniredis.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

// fakeDirectory is an in-memory account directory with an atomic
// conditional claim, mirroring the real store's single-UPDATE semantics.
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: make(map[string]*account.Account)}
}

func (d *fakeDirectory) add(username, credential string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[username] = &account.Account{Username: username, Credential: credential}
}

func (d *fakeDirectory) FindByUsername(_ context.Context, username string) (*account.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[username]
	if !ok {
		return nil, nil
	}
	cp := *acct
	if acct.ClaimedSessionID != nil {
		id := *acct.ClaimedSessionID
		cp.ClaimedSessionID = &id
	}
	return &cp, nil
}

func (d *fakeDirectory) ClearClaim(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if acct, ok := d.accounts[username]; ok {
		acct.ClaimedSessionID = nil
	}
	return nil
}

func (d *fakeDirectory) ConditionalClaim(_ context.Context, username, sessionID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[username]
	if !ok || acct.ClaimedSessionID != nil {
		return 0, nil
	}
	acct.ClaimedSessionID = &sessionID
	return 1, nil
}

// fakeSessions is an in-memory session store with deterministic IDs.
type fakeSessions struct {
	mu      sync.Mutex
	records map[string]*session.Session
	seq     atomic.Int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: make(map[string]*session.Session)}
}

func (f *fakeSessions) NewID() string {
	return fmt.Sprintf("sess-%d", f.seq.Add(1))
}

func (f *fakeSessions) Get(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeSessions) Upsert(_ context.Context, id, username, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = &session.Session{ID: id, Username: username, Data: data}
	return nil
}

func (f *fakeSessions) Destroy(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return false, nil
	}
	delete(f.records, id)
	return true, nil
}

func (f *fakeSessions) expire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
}

func newTestServer(t *testing.T) (*Server, *fakeDirectory, *fakeSessions) {
	t.Helper()
	dir := newFakeDirectory()
	sessions := newFakeSessions()
	claims := claim.NewService(dir, sessions, nil)
	srv := NewServer(DefaultConfig(), claims, sessions)
	return srv, dir, sessions
}

// doLogin posts the login form and returns the response.
func doLogin(t *testing.T, handler http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// sessionCookie extracts the session cookie from a login response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "skycast_sid" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestLogin_FormSuccess(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	rec := doLogin(t, handler, "alice", "pw")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}

	c := sessionCookie(t, rec)
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if c.MaxAge <= 0 {
		t.Errorf("expected positive cookie MaxAge, got %d", c.MaxAge)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	rec := doLogin(t, handler, "alice", "wrong")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?reason=invalid_credentials" {
		t.Errorf("unexpected redirect %q", loc)
	}
}

func TestLogin_JSONError(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "invalid_credentials" {
		t.Errorf("expected invalid_credentials, got %q", body["error"])
	}
}

func TestGuard_Anonymous(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// Browser request: redirect to the login form.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for anonymous page request, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?reason=unauthenticated" {
		t.Errorf("unexpected redirect %q", loc)
	}

	// API request: JSON 401.
	req = httptest.NewRequest(http.MethodGet, "/api/weather/current?city=oslo", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous API request, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "unauthenticated" {
		t.Errorf("expected unauthenticated, got %q", body["error"])
	}
}

func TestGuard_AllowsClaimedSession(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	c := sessionCookie(t, doLogin(t, handler, "alice", "pw"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for claimed session, got %d", rec.Code)
	}
}

func TestGuard_SupersededSession(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	first := sessionCookie(t, doLogin(t, handler, "alice", "pw"))
	second := sessionCookie(t, doLogin(t, handler, "alice", "pw"))
	if first.Value == second.Value {
		t.Fatal("second login reused the first session identifier")
	}

	// The first browser's next request is rejected with the distinct
	// "logged in elsewhere" tag and its local session is terminated.
	req := httptest.NewRequest(http.MethodGet, "/api/weather/current?city=oslo", nil)
	req.AddCookie(first)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for superseded session, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "superseded_elsewhere" {
		t.Errorf("expected superseded_elsewhere, got %q", body["error"])
	}

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "skycast_sid" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected rejection to expire the session cookie")
	}

	// The second browser is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(second)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected surviving session to pass, got %d", rec.Code)
	}
}

func TestGuard_ExpiredSession(t *testing.T) {
	srv, dir, sessions := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	c := sessionCookie(t, doLogin(t, handler, "alice", "pw"))

	// Let the record expire out of the store; the middleware then sees an
	// anonymous request, so the guard reports unauthenticated. The claim
	// itself is lazily cleared on the next authenticated check, which the
	// claim package covers; here we assert the request is rejected.
	sessions.expire(c.Value)

	req := httptest.NewRequest(http.MethodGet, "/api/weather/current?city=oslo", nil)
	req.AddCookie(c)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after expiry, got %d", rec.Code)
	}

	// A fresh login succeeds even though the stale claim is still set.
	rec2 := doLogin(t, handler, "alice", "pw")
	if rec2.Code != http.StatusSeeOther || rec2.Header().Get("Location") != "/" {
		t.Fatalf("expected re-login to succeed, got %d -> %q", rec2.Code, rec2.Header().Get("Location"))
	}
}

func TestLogoutFlow(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	c := sessionCookie(t, doLogin(t, handler, "alice", "pw"))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(c)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 on logout, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?reason=logged_out" {
		t.Errorf("unexpected redirect %q", loc)
	}

	// The session no longer passes the guard.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected rejection after logout, got %d", rec.Code)
	}
}

func TestSessionProbe(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	handler := srv.Handler()

	type probe struct {
		Active   bool   `json:"active"`
		Username string `json:"username"`
	}

	// Anonymous: inactive, and no rejection.
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from probe, got %d", rec.Code)
	}
	var p probe
	json.NewDecoder(rec.Body).Decode(&p)
	if p.Active {
		t.Error("expected inactive probe for anonymous caller")
	}

	// Logged in: active with the username.
	c := sessionCookie(t, doLogin(t, handler, "alice", "pw"))
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	p = probe{}
	json.NewDecoder(rec.Body).Decode(&p)
	if !p.Active || p.Username != "alice" {
		t.Errorf("expected active probe for alice, got %+v", p)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")
	srv.SetLockouts(lockout.NewStore(newTestRedis(t)))
	handler := srv.Handler()

	for i := 0; i < lockout.LockThreshold; i++ {
		rec := doLogin(t, handler, "alice", "wrong")
		if loc := rec.Header().Get("Location"); loc != "/login?reason=invalid_credentials" {
			t.Fatalf("attempt %d: unexpected redirect %q", i+1, loc)
		}
	}

	// The lock has tripped: even the right password is rejected now.
	rec := doLogin(t, handler, "alice", "pw")
	if loc := rec.Header().Get("Location"); loc != "/login?reason=account_locked" {
		t.Fatalf("expected account_locked redirect, got %q", loc)
	}
}

func TestWeatherEndpoints(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.add("alice", "pw")

	cache := weather.NewCache(newTestRedis(t))
	ctx := context.Background()
	if err := cache.Put(ctx, weather.CurrentPrefix, "oslo", `{"temp_c":3.5}`, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	srv.SetWeather(cache)
	handler := srv.Handler()

	c := sessionCookie(t, doLogin(t, handler, "alice", "pw"))

	// Cached city: payload served verbatim.
	req := httptest.NewRequest(http.MethodGet, "/api/weather/current?city=oslo", nil)
	req.AddCookie(c)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"temp_c":3.5}` {
		t.Errorf("unexpected payload %q", got)
	}

	// Uncached city: 404.
	req = httptest.NewRequest(http.MethodGet, "/api/weather/forecast?city=nowhere", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for uncached city, got %d", rec.Code)
	}

	// Missing city parameter: 400.
	req = httptest.NewRequest(http.MethodGet, "/api/weather/current", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing city, got %d", rec.Code)
	}
}
