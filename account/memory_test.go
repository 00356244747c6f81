package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreCreateNormalizesAndRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.Create(ctx, Account{Email: "  Alice@Example.COM ", Active: true, Provider: ProviderLocal})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.ID == "" || a.Email != "alice@example.com" || a.Role != RoleUser {
		t.Fatalf("unexpected account %+v", a)
	}

	if _, err := s.Create(ctx, Account{Email: "alice@example.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := s.GetByEmail(ctx, "ALICE@example.com")
	if err != nil || got.ID != a.ID {
		t.Fatalf("GetByEmail = %+v, %v", got, err)
	}
}

func TestMemoryStoreSubjectUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.Create(ctx, Account{Email: "a@example.com"})
	b, _ := s.Create(ctx, Account{Email: "b@example.com"})

	if err := s.BindFederatedSubject(ctx, a.ID, "sub-1", ProviderHybrid); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := s.BindFederatedSubject(ctx, a.ID, "sub-2", ProviderHybrid); !errors.Is(err, ErrSubjectAlreadySet) {
		t.Fatalf("expected ErrSubjectAlreadySet, got %v", err)
	}
	if err := s.BindFederatedSubject(ctx, b.ID, "sub-1", ProviderHybrid); !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("expected ErrSubjectTaken, got %v", err)
	}
	if _, err := s.Create(ctx, Account{Email: "c@example.com", FederatedSubject: "sub-1"}); !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("expected ErrSubjectTaken on create, got %v", err)
	}

	got, err := s.GetByFederatedSubject(ctx, "sub-1")
	if err != nil || got.ID != a.ID || !got.EmailVerified {
		t.Fatalf("GetByFederatedSubject = %+v, %v", got, err)
	}
}

func TestMemoryStoreLockoutCycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, Account{Email: "lock@example.com"})
	policy := LockoutPolicy{Threshold: 3, Window: time.Minute}
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 2; i++ {
		st, err := s.RecordLoginFailure(ctx, a.ID, policy, now)
		if err != nil || st.Failures != i || st.LockedUntil != nil {
			t.Fatalf("failure %d: %+v, %v", i, st, err)
		}
	}

	st, _ := s.RecordLoginFailure(ctx, a.ID, policy, now)
	if !st.NewlyLocked || st.LockedUntil == nil || !st.LockedUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected newly locked state, got %+v", st)
	}

	// Attempts during the lock do not extend it.
	st, _ = s.RecordLoginFailure(ctx, a.ID, policy, now.Add(30*time.Second))
	if st.NewlyLocked || !st.LockedUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("lock extended: %+v", st)
	}

	// After the window the count restarts.
	st, _ = s.RecordLoginFailure(ctx, a.ID, policy, now.Add(2*time.Minute))
	if st.Failures != 1 || st.LockedUntil != nil {
		t.Fatalf("expected counter restart, got %+v", st)
	}

	if err := s.RecordLoginSuccess(ctx, a.ID, LoginMetadata{At: now, IP: "10.0.0.1", UserAgent: string(make([]byte, 300))}); err != nil {
		t.Fatalf("RecordLoginSuccess failed: %v", err)
	}
	got, _ := s.GetByID(ctx, a.ID)
	if got.FailedLoginCount != 0 || got.LockedUntil != nil || len(got.LastLoginUserAgent) != 255 || got.LastLoginIP != "10.0.0.1" {
		t.Fatalf("unexpected account after success %+v", got)
	}
}

func TestMemoryStoreConcurrentFailuresAreCounted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, Account{Email: "race@example.com"})
	policy := LockoutPolicy{Threshold: 1000, Window: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordLoginFailure(ctx, a.ID, policy, time.Now())
		}()
	}
	wg.Wait()

	got, _ := s.GetByID(ctx, a.ID)
	if got.FailedLoginCount != 50 {
		t.Fatalf("expected 50 failures, got %d", got.FailedLoginCount)
	}
}
