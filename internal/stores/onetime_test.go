package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newOneTimeTestStore(t *testing.T) (*OneTimeStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewOneTimeStore(rdb, "test", 3), mr
}

func TestConsumeIsSingleUse(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("secret"))

	rec := &Record{AccountID: "acct-1", SecretHash: hash, Purpose: PurposePasswordReset}
	if err := store.Save(ctx, "tok-1", rec, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Consume(ctx, PurposePasswordReset, "tok-1", hash)
	if err != nil || got.AccountID != "acct-1" {
		t.Fatalf("Consume = %+v, %v", got, err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", hash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second consume must fail with ErrTokenNotFound, got %v", err)
	}
}

func TestConsumeRejectsOtherPurpose(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("secret"))

	if err := store.Save(ctx, "tok-1", &Record{AccountID: "a", SecretHash: hash, Purpose: PurposeEmailVerification}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", hash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound across purposes, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("secret"))

	if err := store.Save(ctx, "tok-1", &Record{AccountID: "a", SecretHash: hash, Purpose: PurposePasswordReset}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", hash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestConsumeAttemptLimit(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("secret"))
	wrong := sha256.Sum256([]byte("wrong"))

	if err := store.Save(ctx, "tok-1", &Record{AccountID: "a", SecretHash: hash, Purpose: PurposePasswordReset}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", wrong); !errors.Is(err, ErrTokenSecretMismatch) {
			t.Fatalf("attempt %d: expected ErrTokenSecretMismatch, got %v", i, err)
		}
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", wrong); !errors.Is(err, ErrTokenAttemptsExceeded) {
		t.Fatalf("expected ErrTokenAttemptsExceeded, got %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", hash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("record must be destroyed after too many attempts, got %v", err)
	}
}

func TestSaveInvalidatesPreviousToken(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	first := sha256.Sum256([]byte("first"))
	second := sha256.Sum256([]byte("second"))

	if err := store.Save(ctx, "tok-1", &Record{AccountID: "a", SecretHash: first, Purpose: PurposePasswordReset}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "tok-2", &Record{AccountID: "a", SecretHash: second, Purpose: PurposePasswordReset}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-1", first); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("superseded token must be gone, got %v", err)
	}
	if _, err := store.Consume(ctx, PurposePasswordReset, "tok-2", second); err != nil {
		t.Fatalf("latest token must consume: %v", err)
	}
}

func TestDeleteForAccount(t *testing.T) {
	store, _ := newOneTimeTestStore(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("secret"))

	if err := store.Save(ctx, "tok-1", &Record{AccountID: "a", SecretHash: hash, Purpose: PurposeEmailVerification}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.DeleteForAccount(ctx, PurposeEmailVerification, "a"); err != nil {
		t.Fatalf("DeleteForAccount failed: %v", err)
	}
	if _, err := store.Consume(ctx, PurposeEmailVerification, "tok-1", hash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected deleted token to be gone, got %v", err)
	}
	if err := store.DeleteForAccount(ctx, PurposeEmailVerification, "missing"); err != nil {
		t.Fatalf("deleting nothing must succeed: %v", err)
	}
}
