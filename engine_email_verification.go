package hybridAuth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/internal/stores"
)

// RequestEmailVerification sends a verification link to an active,
// unverified account. Like RequestPasswordReset it does not reveal whether
// the email exists. A new request invalidates the previous link.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if e == nil || e.oneTime == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	cfg := e.config.EmailVerification
	if !cfg.Enabled {
		return ErrAuthModeDisabled
	}

	email = account.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	if err := e.allowRequest(ctx, "verify", cfg.RequestsPerEmail, cfg.RequestWindow, email); err != nil {
		return err
	}
	e.metricInc(MetricEmailVerificationRequest)

	acct, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			e.logger.Warn("email verification lookup", zap.Error(err))
		}
		return nil
	}
	if !acct.Active || acct.EmailVerified {
		return nil
	}

	token, err := e.saveOneTimeToken(ctx, stores.PurposeEmailVerification, acct.ID, cfg.VerificationTTL)
	if err != nil {
		e.logger.Warn("email verification token", zap.String("account_id", acct.ID), zap.Error(err))
		return nil
	}
	e.notify(ctx, Notification{
		Kind:      NotifyEmailVerification,
		AccountID: acct.ID,
		Email:     acct.Email,
		Token:     token,
		Link:      buildLink(cfg.LinkBaseURL, token),
	})

	e.emitAudit(ctx, auditRecord{
		action:  AuditEmailVerificationRequested,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
	})
	return nil
}

// VerifyEmail consumes a verification token and marks the account's email
// verified. Tokens are single use.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.oneTime == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrAuthModeDisabled
	}

	record, err := e.consumeOneTimeToken(ctx, stores.PurposeEmailVerification, token)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return ErrVerificationTokenInvalid
	}

	acct, err := e.accounts.GetByID(ctx, record.AccountID)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, account.ErrNotFound) {
			return ErrVerificationTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	if err := e.accounts.MarkEmailVerified(ctx, acct.ID); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditEmailVerified,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
	})
	return nil
}
