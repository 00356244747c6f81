package hybridAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hybridAuth/account"
)

// Authorize validates accessToken and checks that the account behind it
// holds at least required.
//
// The token only identifies the account. Role and active state are re-read
// from the account store on every call, so a downgrade or deactivation takes
// effect on the next request. In hybrid and federated modes a provider
// bearer token is accepted in place of a local access token.
func (e *Engine) Authorize(ctx context.Context, accessToken string, required account.Role) (*Principal, error) {
	p, _, err := e.authorize(ctx, accessToken, required)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// WhoAmI returns the stored profile of the caller.
func (e *Engine) WhoAmI(ctx context.Context, accessToken string) (*Profile, error) {
	_, acct, err := e.authorize(ctx, accessToken, account.RoleUser)
	if err != nil {
		return nil, err
	}
	profile := profileOf(acct)
	return &profile, nil
}

func (e *Engine) authorize(ctx context.Context, accessToken string, required account.Role) (Principal, account.Account, error) {
	if e == nil || e.jwtManager == nil || e.accounts == nil {
		return Principal{}, account.Account{}, ErrEngineNotReady
	}

	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
		}()
	}

	p, err := e.principalFromToken(ctx, accessToken)
	if err != nil {
		e.metricInc(MetricAuthorizeDenied)
		return Principal{}, account.Account{}, err
	}

	acct, err := e.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		e.metricInc(MetricAuthorizeDenied)
		if errors.Is(err, account.ErrNotFound) {
			return Principal{}, account.Account{}, ErrUnauthorized
		}
		return Principal{}, account.Account{}, fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}

	if !acct.Active {
		return Principal{}, account.Account{}, e.accessDenied(ctx, acct, required, "inactive")
	}
	if !acct.Role.AtLeast(required) {
		return Principal{}, account.Account{}, e.accessDenied(ctx, acct, required, "insufficient_role")
	}

	p.Role = acct.Role
	p.Provider = acct.Provider
	p.Email = acct.Email
	e.metricInc(MetricAuthorizeAllowed)
	return p, acct, nil
}

// principalFromToken identifies the caller. Only the account id is taken
// from the token.
func (e *Engine) principalFromToken(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthorized
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err == nil {
		return Principal{AccountID: claims.UID, SessionID: claims.SID}, nil
	}

	if !e.config.Mode.AllowsFederated() || e.federated == nil || e.resolver == nil {
		return Principal{}, ErrUnauthorized
	}

	fc, ferr := e.federated.VerifyBearer(ctx, token)
	if ferr != nil {
		e.logVerifyError(ferr)
		return Principal{}, ErrUnauthorized
	}
	decision, err := e.resolver.Resolve(ctx, fc)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	e.auditLinkDecision(ctx, fc, decision)
	if decision.Reason.Denied() || decision.Account == nil {
		return Principal{}, ErrLinkingDenied
	}
	return Principal{AccountID: decision.Account.ID, Federated: true}, nil
}

func (e *Engine) accessDenied(ctx context.Context, acct account.Account, required account.Role, reason string) error {
	e.metricInc(MetricAuthorizeDenied)
	e.emitAudit(ctx, auditRecord{
		action:  AuditAccessDenied,
		outcome: OutcomeDenied,
		actorID: acct.ID,
		target:  acct.Email,
		details: map[string]string{
			"reason":   reason,
			"role":     acct.Role.String(),
			"required": required.String(),
		},
	})
	return ErrForbidden
}
