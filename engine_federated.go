package hybridAuth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/federated"
	"github.com/MrEthical07/hybridAuth/linking"
)

// FederatedLogin verifies a provider identity token, resolves it to exactly
// one account and issues a token pair.
//
// Every verification failure returns ErrFederatedAuthFailed without touching
// any account. Denied linking decisions return ErrLinkingDenied. Both are
// rendered identically to callers; the reason is kept in the audit trail.
func (e *Engine) FederatedLogin(ctx context.Context, identityToken string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Mode.AllowsFederated() {
		return nil, ErrAuthModeDisabled
	}
	if e.federated == nil || e.resolver == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.federated.VerifyIdentity(ctx, identityToken)
	if err != nil {
		e.logVerifyError(err)
		return nil, e.federatedFailed(ctx, "", "", "verification")
	}

	decision, err := e.resolver.Resolve(ctx, claims)
	if err != nil {
		e.logger.Warn("federated linking", zap.Error(err))
		e.federatedFailed(ctx, "", claims.Email, "account_store")
		return nil, fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	e.auditLinkDecision(ctx, claims, decision)
	if decision.Reason.Denied() || decision.Account == nil {
		e.federatedFailed(ctx, "", claims.Email, string(decision.Reason))
		return nil, ErrLinkingDenied
	}

	acct := *decision.Account
	if !acct.Active {
		return nil, e.federatedFailed(ctx, acct.ID, acct.Email, "inactive")
	}

	if err := e.accounts.UpdateFederatedProfile(ctx, acct.ID, account.FederatedProfile{
		EmailVerified: claims.EmailVerified,
		PhoneNumber:   claims.PhoneNumber,
		PhoneVerified: claims.PhoneVerified,
	}); err != nil {
		e.logger.Warn("federated profile update", zap.String("account_id", acct.ID), zap.Error(err))
	}

	if e.config.EmailVerification.RequireForLogin && !acct.EmailVerified && !claims.EmailVerified {
		e.federatedFailed(ctx, acct.ID, acct.Email, "email_not_verified")
		return nil, ErrEmailNotVerified
	}

	e.recordLoginSuccess(ctx, acct.ID, e.now())

	tokens, current, err := e.issue(ctx, acct.ID)
	if err != nil {
		e.federatedFailed(ctx, acct.ID, acct.Email, "session_issue")
		return nil, err
	}

	e.metricInc(MetricFederatedLoginSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditFederatedLoginSuccess,
		outcome: OutcomeSuccess,
		actorID: current.ID,
		target:  current.Email,
		details: map[string]string{
			"auth_provider": string(account.ProviderFederated),
			"link_reason":   string(decision.Reason),
		},
	})
	return &LoginResult{
		Tokens:     tokens,
		Profile:    profileOf(current),
		LinkReason: string(decision.Reason),
	}, nil
}

func (e *Engine) federatedFailed(ctx context.Context, accountID, target, reason string) error {
	e.metricInc(MetricFederatedLoginFailure)
	e.emitAudit(ctx, auditRecord{
		action:  AuditFederatedLoginFailure,
		outcome: OutcomeFailure,
		actorID: accountID,
		target:  target,
		details: map[string]string{"reason": reason},
	})
	return ErrFederatedAuthFailed
}

func (e *Engine) logVerifyError(err error) {
	if errors.Is(err, federated.ErrKeySetUnavailable) {
		e.logger.Warn("federated key set unavailable", zap.Error(err))
		return
	}
	e.logger.Debug("federated token rejected", zap.Error(err))
}

// auditLinkDecision emits the single audit event for a linking decision.
func (e *Engine) auditLinkDecision(ctx context.Context, claims *federated.Claims, d linking.Decision) {
	rec := auditRecord{
		target: claims.Email,
		details: map[string]string{
			"subject": claims.Subject,
			"reason":  string(d.Reason),
		},
	}
	if d.Account != nil {
		rec.actorID = d.Account.ID
	}
	if d.Detail != "" {
		rec.details["detail"] = d.Detail
	}

	switch d.Reason {
	case linking.ReasonLinkedBySub:
		e.metricInc(MetricLinkBySub)
		rec.action, rec.outcome = AuditIdentityLinkedBySub, OutcomeSuccess
	case linking.ReasonLinkedByEmail:
		e.metricInc(MetricLinkByEmail)
		rec.action, rec.outcome = AuditUserLinkedToFederated, OutcomeSuccess
	case linking.ReasonCreated:
		e.metricInc(MetricLinkCreated)
		rec.action, rec.outcome = AuditUserProvisioned, OutcomeSuccess
	case linking.ReasonDeniedMismatch:
		e.metricInc(MetricLinkDenied)
		rec.action, rec.outcome = AuditFederatedSubMismatch, OutcomeDenied
	default:
		e.metricInc(MetricLinkDenied)
		rec.action, rec.outcome = AuditFederatedLinkDenied, OutcomeDenied
	}
	e.emitAudit(ctx, rec)
}
