package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
)

type stubAuthorizer struct {
	principal *hybridAuth.Principal
	err       error

	gotToken string
	gotRole  account.Role
}

func (s *stubAuthorizer) Authorize(_ context.Context, token string, required account.Role) (*hybridAuth.Principal, error) {
	s.gotToken = token
	s.gotRole = required
	return s.principal, s.err
}

func TestGuardStoresPrincipal(t *testing.T) {
	stub := &stubAuthorizer{principal: &hybridAuth.Principal{AccountID: "acct-1", Role: account.RoleAdmin}}

	var seen *hybridAuth.Principal
	h := RequireAdmin(stub)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if stub.gotToken != "tok-1" || stub.gotRole != account.RoleAdmin {
		t.Fatalf("unexpected authorize call token=%q role=%s", stub.gotToken, stub.gotRole)
	}
	if seen == nil || seen.AccountID != "acct-1" {
		t.Fatalf("principal not stored, got %+v", seen)
	}
}

func TestGuardStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "unauthorized", header: "Bearer t", err: hybridAuth.ErrUnauthorized, want: http.StatusUnauthorized},
		{name: "forbidden", header: "Bearer t", err: hybridAuth.ErrForbidden, want: http.StatusForbidden},
		{name: "not linked", header: "Bearer t", err: hybridAuth.ErrLinkingDenied, want: http.StatusUnauthorized},
		{name: "provider rejected", header: "Bearer t", err: hybridAuth.ErrFederatedAuthFailed, want: http.StatusUnauthorized},
		{name: "store down", header: "Bearer t", err: errors.New("boom"), want: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAuthorizer{err: tc.err}
			h := Guard(stub, account.RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestAuthErrorStatusHidesLinkingOutcome(t *testing.T) {
	bad, badMsg, _ := AuthErrorStatus(hybridAuth.ErrUnauthorized)
	for _, err := range []error{hybridAuth.ErrLinkingDenied, hybridAuth.ErrFederatedAuthFailed} {
		status, msg, ok := AuthErrorStatus(err)
		if !ok || status != bad || msg != badMsg {
			t.Fatalf("%v rendered as %d %q, want %d %q", err, status, msg, bad, badMsg)
		}
	}
	if _, _, ok := AuthErrorStatus(errors.New("redis down")); ok {
		t.Fatal("infrastructure errors must be left to the caller")
	}
}

func TestGuardNilEngine(t *testing.T) {
	h := Guard(nil, account.RoleUser)(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
