package hybridAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
)

// TokenPair is the credential set handed to a client after login or refresh.
// RefreshToken is empty after a refresh when rotation is disabled.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Profile is the public view of an account, always built from the stored
// record and never from token claims.
type Profile struct {
	ID            string           `json:"id"`
	Email         string           `json:"email"`
	Role          account.Role     `json:"role"`
	Active        bool             `json:"active"`
	Provider      account.Provider `json:"provider"`
	EmailVerified bool             `json:"email_verified"`
}

func profileOf(a account.Account) Profile {
	return Profile{
		ID:            a.ID,
		Email:         a.Email,
		Role:          a.Role,
		Active:        a.Active,
		Provider:      a.Provider,
		EmailVerified: a.EmailVerified,
	}
}

// LoginResult is returned by Login and FederatedLogin.
type LoginResult struct {
	Tokens  TokenPair
	Profile Profile
	// LinkReason is set for federated logins.
	LinkReason string
}

// Principal is an authorized caller.
type Principal struct {
	AccountID string
	SessionID string
	Role      account.Role
	Provider  account.Provider
	Email     string
	// Federated is true when a provider token was presented directly.
	Federated bool
}

// FederatedVerifier checks provider tokens. *federated.Verifier satisfies it.
type FederatedVerifier interface {
	VerifyIdentity(ctx context.Context, raw string) (*federated.Claims, error)
	VerifyBearer(ctx context.Context, raw string) (*federated.Claims, error)
}
