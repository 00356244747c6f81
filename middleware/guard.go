package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
)

// Authorizer is satisfied by *hybridAuth.Engine.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string, required account.Role) (*hybridAuth.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Guard.
func PrincipalFromContext(ctx context.Context) (*hybridAuth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*hybridAuth.Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p in ctx. Guard uses it; handlers under test can too.
func WithPrincipal(ctx context.Context, p *hybridAuth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard admits requests whose bearer token belongs to an active account
// holding at least required. The role is read from the account store on every
// request, never from the token.
func Guard(engine Authorizer, required account.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			p, err := engine.Authorize(r.Context(), token, required)
			if err != nil {
				status, msg, ok := AuthErrorStatus(err)
				if !ok {
					status, msg = http.StatusServiceUnavailable, "authorization unavailable"
				}
				writeError(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// AuthErrorStatus maps an Authorize or WhoAmI error to a response. ok is
// false for infrastructure failures, which callers render themselves.
func AuthErrorStatus(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, hybridAuth.ErrForbidden):
		return http.StatusForbidden, "forbidden", true
	// A provider token that verified but could not be linked answers like a
	// bad token.
	case errors.Is(err, hybridAuth.ErrUnauthorized),
		errors.Is(err, hybridAuth.ErrLinkingDenied),
		errors.Is(err, hybridAuth.ErrFederatedAuthFailed):
		return http.StatusUnauthorized, "unauthorized", true
	default:
		return 0, "", false
	}
}

// BearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
