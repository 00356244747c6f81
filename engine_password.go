package hybridAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/internal"
	"github.com/MrEthical07/hybridAuth/internal/rate"
	"github.com/MrEthical07/hybridAuth/internal/stores"
)

// ChangePassword replaces the password of an authenticated account after
// checking the current one. Every refresh session of the account is
// revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if e == nil || e.hasher == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}

	if !acct.HasPassword() {
		_, _ = e.hasher.Verify(current, e.dummyHash)
		return e.passwordChangeFailed(ctx, acct, "no_local_credentials", ErrInvalidCredentials)
	}
	ok, err := e.hasher.Verify(current, acct.PasswordHash)
	if err != nil || !ok {
		return e.passwordChangeFailed(ctx, acct, "current_mismatch", ErrInvalidCredentials)
	}
	if err := e.policy.Check(next); err != nil {
		return e.passwordChangeFailed(ctx, acct, "policy", fmt.Errorf("%w: %w", ErrPasswordPolicy, err))
	}
	if current == next {
		return e.passwordChangeFailed(ctx, acct, "reuse", ErrPasswordReuse)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	if _, err := e.LogoutAll(ctx, acct.ID); err != nil {
		e.logger.Warn("revoke sessions after password change", zap.String("account_id", acct.ID), zap.Error(err))
	}
	if e.oneTime != nil {
		// An outstanding reset link would otherwise undo the change.
		if err := e.oneTime.DeleteForAccount(ctx, stores.PurposePasswordReset, acct.ID); err != nil {
			e.logger.Warn("drop reset token after password change", zap.String("account_id", acct.ID), zap.Error(err))
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditPasswordChanged,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
	})
	return nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, acct account.Account, reason string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emitAudit(ctx, auditRecord{
		action:  AuditPasswordChangeFailure,
		outcome: OutcomeFailure,
		actorID: acct.ID,
		target:  acct.Email,
		details: map[string]string{"reason": reason},
	})
	return err
}

// RequestPasswordReset sends a single-use reset link to an active account
// with local credentials. It returns nil whether or not the email exists;
// only a spent per-email throttle or a disabled feature is reported.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.oneTime == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	cfg := e.config.PasswordReset
	if !cfg.Enabled || !e.config.Mode.AllowsLocal() {
		return ErrAuthModeDisabled
	}

	email = account.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	if err := e.allowRequest(ctx, "reset", cfg.RequestsPerEmail, cfg.RequestWindow, email); err != nil {
		return err
	}
	e.metricInc(MetricPasswordResetRequest)

	acct, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			e.logger.Warn("password reset lookup", zap.Error(err))
		}
		return nil
	}
	if !acct.Active || !acct.HasPassword() {
		return nil
	}

	token, err := e.saveOneTimeToken(ctx, stores.PurposePasswordReset, acct.ID, cfg.ResetTTL)
	if err != nil {
		e.logger.Warn("password reset token", zap.String("account_id", acct.ID), zap.Error(err))
		return nil
	}
	e.notify(ctx, Notification{
		Kind:      NotifyPasswordReset,
		AccountID: acct.ID,
		Email:     acct.Email,
		Token:     token,
		Link:      buildLink(cfg.LinkBaseURL, token),
	})

	e.emitAudit(ctx, auditRecord{
		action:  AuditPasswordResetRequested,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
	})
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. The new
// password is checked against the policy before the token is spent, so a
// weak choice does not burn the link. All sessions are revoked on success.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.oneTime == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled || !e.config.Mode.AllowsLocal() {
		return ErrAuthModeDisabled
	}

	if err := e.policy.Check(newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	record, err := e.consumeOneTimeToken(ctx, stores.PurposePasswordReset, token)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetTokenInvalid
	}

	acct, err := e.accounts.GetByID(ctx, record.AccountID)
	if err != nil || !acct.Active {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetTokenInvalid
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	if _, err := e.LogoutAll(ctx, acct.ID); err != nil {
		e.logger.Warn("revoke sessions after password reset", zap.String("account_id", acct.ID), zap.Error(err))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditPasswordResetCompleted,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
	})
	return nil
}

func (e *Engine) allowRequest(ctx context.Context, name string, limit int, window time.Duration, subject string) error {
	err := e.throttle.Allow(ctx, rate.Rule{Name: name, Limit: limit, Window: window}, subject)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	default:
		// Throttle storage failures do not block the request.
		e.logger.Warn("request throttle", zap.String("rule", name), zap.Error(err))
		return nil
	}
}

func (e *Engine) saveOneTimeToken(ctx context.Context, purpose stores.Purpose, accountID string, ttl time.Duration) (string, error) {
	id, secret, token, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	err = e.oneTime.Save(ctx, id.String(), &stores.Record{
		AccountID:  accountID,
		SecretHash: secret.Hash(),
		Purpose:    purpose,
	}, ttl)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (e *Engine) consumeOneTimeToken(ctx context.Context, purpose stores.Purpose, token string) (*stores.Record, error) {
	id, secret, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		return nil, err
	}
	record, err := e.oneTime.Consume(ctx, purpose, id.String(), secret.Hash())
	if err != nil {
		if errors.Is(err, stores.ErrTokenRedisUnavailable) {
			e.logger.Warn("one-time token consume", zap.String("purpose", purpose.String()), zap.Error(err))
		}
		return nil, err
	}
	return record, nil
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification delivery", zap.String("kind", string(n.Kind)), zap.String("account_id", n.AccountID), zap.Error(err))
	}
}
