package account

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/hybridAuth/internal/ids"
)

// MemoryStore is an in-process Store. All operations hold a single mutex so
// failure counting and subject binding are atomic.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Account
	byEmail   map[string]string
	bySubject map[string]string
	now       func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Account),
		byEmail:   make(map[string]string),
		bySubject: make(map[string]string),
		now:       time.Now,
	}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) GetByFederatedSubject(_ context.Context, subject string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subject == "" {
		return Account{}, ErrNotFound
	}
	id, ok := s.bySubject[subject]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) Create(_ context.Context, acct Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct.Email = NormalizeEmail(acct.Email)
	if _, ok := s.byEmail[acct.Email]; ok {
		return Account{}, ErrEmailTaken
	}
	if acct.FederatedSubject != "" {
		if _, ok := s.bySubject[acct.FederatedSubject]; ok {
			return Account{}, ErrSubjectTaken
		}
	}
	if acct.ID == "" {
		acct.ID = ids.New()
	}
	if acct.Role == RoleUnknown {
		acct.Role = RoleUser
	}
	now := s.now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	stored := clone(&acct)
	s.byID[acct.ID] = &stored
	s.byEmail[acct.Email] = acct.ID
	if acct.FederatedSubject != "" {
		s.bySubject[acct.FederatedSubject] = acct.ID
	}
	return clone(&stored), nil
}

func (s *MemoryStore) BindFederatedSubject(_ context.Context, id, subject string, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.FederatedSubject != "" {
		return ErrSubjectAlreadySet
	}
	if _, taken := s.bySubject[subject]; taken {
		return ErrSubjectTaken
	}
	a.FederatedSubject = subject
	a.Provider = provider
	a.EmailVerified = true
	a.UpdatedAt = s.now().UTC()
	s.bySubject[subject] = id
	return nil
}

func (s *MemoryStore) UpdateFederatedProfile(_ context.Context, id string, profile FederatedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if profile.EmailVerified {
		a.EmailVerified = true
	}
	if profile.PhoneNumber != "" {
		a.PhoneNumber = profile.PhoneNumber
	}
	a.PhoneVerified = profile.PhoneVerified
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) RecordLoginFailure(_ context.Context, id string, policy LockoutPolicy, now time.Time) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return LockoutState{}, ErrNotFound
	}

	// An active lock is never extended by further attempts.
	if a.LockedAt(now) {
		a.FailedLoginCount++
		until := *a.LockedUntil
		return LockoutState{Failures: a.FailedLoginCount, LockedUntil: &until}, nil
	}

	if a.LockedUntil != nil {
		a.FailedLoginCount = 1
		a.LockedUntil = nil
	} else {
		a.FailedLoginCount++
	}

	state := LockoutState{Failures: a.FailedLoginCount}
	if policy.Threshold > 0 && a.FailedLoginCount >= policy.Threshold {
		until := now.Add(policy.Window)
		a.LockedUntil = &until
		locked := until
		state.LockedUntil = &locked
		state.NewlyLocked = true
	}
	a.UpdatedAt = now.UTC()
	return state, nil
}

func (s *MemoryStore) RecordLoginSuccess(_ context.Context, id string, meta LoginMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	meta = meta.Normalized()
	at := meta.At.UTC()
	a.FailedLoginCount = 0
	a.LockedUntil = nil
	a.LastLoginAt = &at
	a.LastLoginIP = meta.IP
	a.LastLoginUserAgent = meta.UserAgent
	a.UpdatedAt = at
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.EmailVerified = true
	a.UpdatedAt = s.now().UTC()
	return nil
}

// SetRole changes an account's role. Role administration lives outside the
// authentication subsystem; this exists for operators and tests.
func (s *MemoryStore) SetRole(_ context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.Role = role
	return nil
}

// SetActive toggles the active flag.
func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	return nil
}

func clone(a *Account) Account {
	out := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		out.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}
