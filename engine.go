package hybridAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	internalaudit "github.com/MrEthical07/hybridAuth/internal/audit"
	"github.com/MrEthical07/hybridAuth/internal/rate"
	"github.com/MrEthical07/hybridAuth/internal/stores"
	"github.com/MrEthical07/hybridAuth/jwt"
	"github.com/MrEthical07/hybridAuth/linking"
	"github.com/MrEthical07/hybridAuth/password"
	"github.com/MrEthical07/hybridAuth/session"
)

// Engine is the authentication core. It is built once by [Builder] and is
// safe for concurrent use.
type Engine struct {
	config     Config
	accounts   account.Store
	sessions   *session.Store
	oneTime    *stores.OneTimeStore
	throttle   *rate.Limiter
	audit      *internalaudit.Dispatcher[AuditEvent]
	metrics    *Metrics
	logger     *zap.Logger
	notifier   Notifier
	policy     password.Policy
	hasher     *password.Hasher
	dummyHash  string
	jwtManager *jwt.Manager
	federated  FederatedVerifier
	resolver   *linking.Resolver
	clock      func() time.Time
}

// Close drains the audit queue. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer or a failing sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped() + e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Mode returns the configured authentication mode.
func (e *Engine) Mode() AuthMode {
	return e.config.Mode
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies a local email and password and issues a token pair.
//
// Unknown emails, wrong passwords, locked or inactive accounts and accounts
// without local credentials all fail with ErrInvalidCredentials after the
// same amount of hashing work. The only other credential error is
// ErrEmailNotVerified, which is returned after a correct password when
// verification is required.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Mode.AllowsLocal() {
		return nil, ErrAuthModeDisabled
	}

	email = account.NormalizeEmail(email)
	now := e.now()

	acct, err := e.accounts.GetByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}

	var reason string
	switch {
	case !found:
		reason = "unknown_email"
	case !acct.HasPassword():
		reason = "no_local_credentials"
	case !acct.Active:
		reason = "inactive"
	case acct.LockedAt(now):
		reason = "locked"
	}
	if reason != "" {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		if found {
			e.recordLoginFailure(ctx, acct, now)
		}
		return nil, e.loginFailed(ctx, acct.ID, email, reason)
	}

	ok, err := e.hasher.Verify(pw, acct.PasswordHash)
	if err != nil || !ok {
		e.recordLoginFailure(ctx, acct, now)
		return nil, e.loginFailed(ctx, acct.ID, email, "password_mismatch")
	}

	if e.config.EmailVerification.RequireForLogin && !acct.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditRecord{
			action:  AuditLoginFailure,
			outcome: OutcomeFailure,
			actorID: acct.ID,
			target:  email,
			details: map[string]string{"reason": "email_not_verified"},
		})
		return nil, ErrEmailNotVerified
	}

	e.recordLoginSuccess(ctx, acct.ID, now)
	e.upgradeHash(ctx, acct, pw)

	tokens, current, err := e.issue(ctx, acct.ID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditRecord{
			action:  AuditLoginFailure,
			outcome: OutcomeFailure,
			actorID: acct.ID,
			target:  email,
			details: map[string]string{"reason": "session_issue"},
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditLoginSuccess,
		outcome: OutcomeSuccess,
		actorID: current.ID,
		target:  current.Email,
		details: map[string]string{"auth_provider": string(account.ProviderLocal)},
	})
	return &LoginResult{Tokens: tokens, Profile: profileOf(current)}, nil
}

func (e *Engine) loginFailed(ctx context.Context, accountID, email, reason string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditRecord{
		action:  AuditLoginFailure,
		outcome: OutcomeFailure,
		actorID: accountID,
		target:  email,
		details: map[string]string{"reason": reason},
	})
	return ErrInvalidCredentials
}

func (e *Engine) recordLoginFailure(ctx context.Context, acct account.Account, now time.Time) {
	state, err := e.accounts.RecordLoginFailure(ctx, acct.ID, account.LockoutPolicy{
		Threshold: e.config.Lockout.Threshold,
		Window:    e.config.Lockout.Window,
	}, now)
	if err != nil {
		e.logger.Warn("record login failure", zap.String("account_id", acct.ID), zap.Error(err))
		return
	}
	if !state.NewlyLocked {
		return
	}

	e.metricInc(MetricAccountLocked)
	details := map[string]string{"failures": fmt.Sprint(state.Failures)}
	if state.LockedUntil != nil {
		details["locked_until"] = state.LockedUntil.UTC().Format(time.RFC3339)
	}
	e.emitAudit(ctx, auditRecord{
		action:  AuditAccountLocked,
		outcome: OutcomeDenied,
		actorID: acct.ID,
		target:  acct.Email,
		details: details,
	})
}

// recordLoginSuccess resets the failure counter and stores login metadata.
// It does not fail the login.
func (e *Engine) recordLoginSuccess(ctx context.Context, accountID string, now time.Time) {
	err := e.accounts.RecordLoginSuccess(ctx, accountID, account.LoginMetadata{
		At:        now,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	if err != nil {
		e.logger.Warn("record login metadata", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (e *Engine) upgradeHash(ctx context.Context, acct account.Account, pw string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(acct.PasswordHash) {
		return
	}
	upgraded, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password hash upgrade", zap.String("account_id", acct.ID), zap.Error(err))
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, upgraded); err != nil {
		e.logger.Warn("password hash upgrade", zap.String("account_id", acct.ID), zap.Error(err))
	}
}
