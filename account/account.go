package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned by Create when the normalized email already exists.
	ErrEmailTaken = errors.New("account email already exists")
	// ErrSubjectTaken is returned when a federated subject is already bound to another account.
	ErrSubjectTaken = errors.New("federated subject already bound")
	// ErrSubjectAlreadySet is returned by BindFederatedSubject when the target
	// account already carries a subject.
	ErrSubjectAlreadySet = errors.New("account already has a federated subject")
)

// Provider records which authentication paths an account may use.
type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderFederated Provider = "federated"
	ProviderHybrid    Provider = "hybrid"
)

// AllowsLocal reports whether password login is permitted for the provider.
func (p Provider) AllowsLocal() bool {
	return p == ProviderLocal || p == ProviderHybrid
}

// Account is the single authoritative identity record. Role and Active are
// always read from here at authorization time, never from token claims.
type Account struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             Role
	Active           bool
	Provider         Provider
	FederatedSubject string
	EmailVerified    bool
	PhoneNumber      string
	PhoneVerified    bool

	FailedLoginCount   int
	LockedUntil        *time.Time
	LastLoginAt        *time.Time
	LastLoginIP        string
	LastLoginUserAgent string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedAt reports whether the account is locked at now.
func (a Account) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// HasPassword reports whether local credentials exist for the account.
func (a Account) HasPassword() bool {
	return a.PasswordHash != "" && a.Provider.AllowsLocal()
}

// LockoutPolicy configures how failures turn into a temporary lock.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// LockoutState is the counter state after a recorded failure.
type LockoutState struct {
	Failures    int
	LockedUntil *time.Time
	// NewlyLocked is true only for the failure that crossed the threshold.
	NewlyLocked bool
}

// LoginMetadata is written on every successful authentication.
type LoginMetadata struct {
	At        time.Time
	IP        string
	UserAgent string
}

const maxUserAgentLength = 255

// Normalized truncates the user agent to the stored column width.
func (m LoginMetadata) Normalized() LoginMetadata {
	if len(m.UserAgent) > maxUserAgentLength {
		m.UserAgent = m.UserAgent[:maxUserAgentLength]
	}
	return m
}

// FederatedProfile carries the IdP attributes refreshed on each federated
// login. A verified email is never downgraded by a later unverified claim.
type FederatedProfile struct {
	EmailVerified bool
	PhoneNumber   string
	PhoneVerified bool
}

// Store persists accounts. Implementations must make RecordLoginFailure an
// atomic read-modify-write and must enforce uniqueness of non-empty
// federated subjects.
type Store interface {
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByFederatedSubject(ctx context.Context, subject string) (Account, error)
	Create(ctx context.Context, acct Account) (Account, error)

	// BindFederatedSubject sets the subject only when the account has none.
	BindFederatedSubject(ctx context.Context, id, subject string, provider Provider) error
	UpdateFederatedProfile(ctx context.Context, id string, profile FederatedProfile) error

	RecordLoginFailure(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (LockoutState, error)
	RecordLoginSuccess(ctx context.Context, id string, meta LoginMetadata) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// NormalizeEmail lower-cases and trims an email for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
