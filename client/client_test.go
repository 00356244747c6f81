package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	mu            sync.Mutex
	validAccess   string
	nextAccess    string
	nextRefresh   string
	rejectRefresh bool
	refreshDown   bool

	unauthorized  atomic.Int64
	refreshCalls  atomic.Int64
	refreshGate   func()
	lastLogoutTok atomic.Value
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "right" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"account":       map[string]any{"id": "acct-1", "email": body["email"], "role": "admin", "active": true, "provider": "local"},
		})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			f.refreshGate()
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshDown {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
			return
		}
		if f.rejectRefresh || r.Header.Get("Authorization") != "Bearer refresh-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh failed"})
			return
		}
		f.validAccess = f.nextAccess
		writeJSON(w, http.StatusOK, map[string]string{"access_token": f.nextAccess, "refresh_token": f.nextRefresh})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.lastLogoutTok.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /auth/whoami", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := "Bearer " + f.validAccess
		f.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			f.unauthorized.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "acct-1", "email": "alice@example.com", "role": "viewer", "active": true, "provider": "local"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{validAccess: "access-1", nextAccess: "access-2", nextRefresh: "refresh-2"}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestLoginPopulatesStoreAndMirror(t *testing.T) {
	_, srv := newFakeServer(t)
	mirror := NewMapMirror()
	c := New(srv.URL, NewSession(NewStore(mirror)))

	p, err := c.Login(context.Background(), "alice@example.com", "right")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if p.ID != "acct-1" || p.Role != "admin" {
		t.Fatalf("unexpected profile %+v", p)
	}
	st := c.Session().Store().Snapshot()
	if st.AccessToken != "access-1" || st.RefreshToken != "refresh-1" || st.Profile == nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if mirror.Get(MirrorKeyAccessToken) != "access-1" || mirror.Get(MirrorKeyUserRole) != "admin" {
		t.Fatal("mirror not written")
	}
	if !c.Session().HasRole("viewer") || c.Session().HasRole("superadmin") {
		t.Fatal("unexpected role ranking")
	}
}

func TestLoginRejectedIsAPIError(t *testing.T) {
	_, srv := newFakeServer(t)
	c := New(srv.URL, nil)

	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if c.Session().Authenticated() {
		t.Fatal("failed login must not create a session")
	}
}

func TestConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	f, srv := newFakeServer(t)
	const callers = 8

	f.refreshGate = func() {
		deadline := time.Now().Add(2 * time.Second)
		for f.unauthorized.Load() < callers && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "alice@example.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	f.mu.Lock()
	f.validAccess = "expired"
	f.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.WhoAmI(context.Background())
			if err == nil && p.Role != "viewer" {
				err = errors.New("unexpected profile")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("WhoAmI failed: %v", err)
		}
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	if c.Refresher().State() != StateIdle {
		t.Fatalf("refresher must return to idle, got %s", c.Refresher().State())
	}
	st := c.Session().Store().Snapshot()
	if st.AccessToken != "access-2" || st.RefreshToken != "refresh-2" {
		t.Fatalf("tokens not rotated: %+v", st)
	}
}

func TestRejectedRefreshClearsSession(t *testing.T) {
	f, srv := newFakeServer(t)
	mirror := NewMapMirror()
	c := New(srv.URL, NewSession(NewStore(mirror)))
	if _, err := c.Login(context.Background(), "alice@example.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	f.mu.Lock()
	f.validAccess = "expired"
	f.rejectRefresh = true
	f.mu.Unlock()

	if _, err := c.WhoAmI(context.Background()); !errors.Is(err, ErrReauthenticate) {
		t.Fatalf("expected ErrReauthenticate, got %v", err)
	}
	if c.Session().Authenticated() {
		t.Fatal("session must be cleared")
	}
	if mirror.Get(MirrorKeyAccessToken) != "" {
		t.Fatal("mirror must be cleared with the store")
	}
}

func TestNetworkErrorKeepsSession(t *testing.T) {
	_, srv := newFakeServer(t)
	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "alice@example.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	srv.Close()

	_, err := c.WhoAmI(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Kind() != "NetworkError" {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !c.Session().Authenticated() {
		t.Fatal("a transport failure must not end the session")
	}
}

func TestUnavailableRefreshKeepsSession(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "alice@example.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	f.mu.Lock()
	f.validAccess = "expired"
	f.refreshDown = true
	f.mu.Unlock()

	_, err := c.WhoAmI(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if !c.Session().Authenticated() || c.Session().Store().Snapshot().RefreshToken != "refresh-1" {
		t.Fatal("a server outage must not end the session")
	}

	f.mu.Lock()
	f.refreshDown = false
	f.mu.Unlock()
	if _, err := c.WhoAmI(context.Background()); err != nil {
		t.Fatalf("WhoAmI after recovery failed: %v", err)
	}
}

func TestDoReportsNeedsRefresh(t *testing.T) {
	f, srv := newFakeServer(t)
	f.validAccess = "something-else"
	c := New(srv.URL, nil)
	c.Session().Store().Set(State{AccessToken: "access-1", RefreshToken: "refresh-1"})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/whoami", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	res, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do returned error for 401: %v", err)
	}
	if !res.NeedsRefresh || res.Response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.refreshCalls.Load() != 0 {
		t.Fatal("Do must not refresh on its own")
	}
}

func TestLogoutSendsRefreshTokenAndClears(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "alice@example.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if got, _ := f.lastLogoutTok.Load().(string); got != "Bearer refresh-1" {
		t.Fatalf("logout must present the refresh token, got %q", got)
	}
	if c.Session().Authenticated() {
		t.Fatal("session must be cleared")
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
}

func TestStoreSetTokensKeepsRefreshWhenNotRotated(t *testing.T) {
	s := NewStore(nil)
	s.Set(State{AccessToken: "a1", RefreshToken: "r1", Profile: &Profile{ID: "acct-1"}})
	s.SetTokens("a2", "")

	st := s.Snapshot()
	if st.AccessToken != "a2" || st.RefreshToken != "r1" || st.Profile == nil || st.Profile.ID != "acct-1" {
		t.Fatalf("unexpected state %+v", st)
	}

	st.Profile.ID = "mutated"
	if s.Snapshot().Profile.ID != "acct-1" {
		t.Fatal("snapshot must not alias stored profile")
	}
}
