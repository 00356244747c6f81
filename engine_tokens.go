package hybridAuth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/internal"
	"github.com/MrEthical07/hybridAuth/jwt"
	"github.com/MrEthical07/hybridAuth/session"
)

// issue creates a refresh session for accountID and signs an access token.
// The account is re-read so the role hint in the token is current.
func (e *Engine) issue(ctx context.Context, accountID string) (TokenPair, account.Account, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return TokenPair{}, account.Account{}, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	if !acct.Active {
		return TokenPair{}, account.Account{}, fmt.Errorf("%w: account inactive", ErrSessionCreationFailed)
	}

	id, secret, refreshToken, err := internal.NewOpaqueToken()
	if err != nil {
		return TokenPair{}, account.Account{}, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	now := e.now()
	sess := &session.Session{
		ID:          id.String(),
		AccountID:   acct.ID,
		RefreshHash: secret.Hash(),
		IP:          clientIPFromContext(ctx),
		UserAgent:   truncate(userAgentFromContext(ctx), 255),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.Session.RefreshTTL),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return TokenPair{}, account.Account{}, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	access, accessExp, err := e.jwtManager.CreateAccess(jwt.AccessInput{
		AccountID: acct.ID,
		SessionID: sess.ID,
		Role:      acct.Role.String(),
		Provider:  string(acct.Provider),
	})
	if err != nil {
		_ = e.sessions.Delete(ctx, sess.ID)
		return TokenPair{}, account.Account{}, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionCreated)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, acct, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// enabled the refresh token is replaced and the presented one dies; a
// replayed secret deletes the whole session.
//
// The access token carries the role currently stored for the account.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	id, secret, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", "malformed")
	}
	sid := id.String()
	presented := secret.Hash()

	next := presented
	var nextSecret internal.Secret
	rotate := e.config.Session.RotateRefreshTokens
	if rotate {
		if nextSecret, err = internal.NewSecret(); err != nil {
			return nil, fmt.Errorf("refresh secret: %w", err)
		}
		next = nextSecret.Hash()
	}

	// Resolve the owner before rotating so an account store outage leaves
	// the presented token usable for a retry.
	sess, err := e.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionCorrupt) {
			return nil, e.refreshFailed(ctx, "", sid, "not_found")
		}
		e.logger.Warn("refresh session lookup", zap.String("session_id", sid), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	acct, err := e.accounts.GetByID(ctx, sess.AccountID)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		e.logger.Warn("refresh account lookup", zap.String("account_id", sess.AccountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAccountStoreUnavailable, err)
	}
	orphaned := err != nil || !acct.Active

	if orphaned {
		// Verify only; the session is deleted below once the secret matched.
		next = presented
	}
	accountID, err := e.sessions.Rotate(ctx, sid, presented, next)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			return nil, e.refreshFailed(ctx, accountID, sid, "reuse_detected")
		case errors.Is(err, session.ErrSessionExpired):
			return nil, e.refreshFailed(ctx, accountID, sid, "expired")
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionCorrupt):
			return nil, e.refreshFailed(ctx, "", sid, "not_found")
		default:
			e.logger.Warn("refresh rotation", zap.String("session_id", sid), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
		}
	}

	if orphaned || accountID != acct.ID {
		if delErr := e.sessions.Delete(ctx, sid); delErr != nil {
			e.logger.Warn("refresh session cleanup", zap.String("session_id", sid), zap.Error(delErr))
		}
		return nil, e.refreshFailed(ctx, accountID, sid, "account_unavailable")
	}

	access, accessExp, err := e.jwtManager.CreateAccess(jwt.AccessInput{
		AccountID: acct.ID,
		SessionID: sid,
		Role:      acct.Role.String(),
		Provider:  string(acct.Provider),
	})
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	pair := &TokenPair{
		AccessToken:     access,
		SessionID:       sid,
		AccessExpiresAt: accessExp,
	}
	if rotate {
		pair.RefreshToken = internal.EncodeOpaqueToken(id, nextSecret)
	}
	if sess, err := e.sessions.Get(ctx, sid); err == nil {
		pair.RefreshExpiresAt = sess.ExpiresAt
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRecord{
		action:  AuditTokenRefreshed,
		outcome: OutcomeSuccess,
		actorID: acct.ID,
		target:  acct.Email,
		details: map[string]string{"session_id": sid, "rotated": fmt.Sprint(rotate)},
	})
	return pair, nil
}

func (e *Engine) refreshFailed(ctx context.Context, accountID, sessionID, reason string) error {
	e.metricInc(MetricRefreshFailure)
	details := map[string]string{"reason": reason}
	if sessionID != "" {
		details["session_id"] = sessionID
	}
	e.emitAudit(ctx, auditRecord{
		action:  AuditRefreshFailure,
		outcome: OutcomeFailure,
		actorID: accountID,
		details: details,
	})
	return ErrRefreshFailed
}

// Logout revokes the session behind refreshToken when the presented secret
// is current. Malformed, unknown and already revoked tokens are a no-op, so
// Logout is idempotent. A non-nil error only reports a store failure.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	id, secret, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		return nil
	}
	sid := id.String()

	var accountID string
	if sess, err := e.sessions.Get(ctx, sid); err == nil {
		accountID = sess.AccountID
	}

	removed, err := e.sessions.Revoke(ctx, sid, secret.Hash())
	if err != nil {
		e.logger.Warn("logout revoke", zap.String("session_id", sid), zap.Error(err))
		return err
	}
	if !removed {
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditRecord{
		action:  AuditLogout,
		outcome: OutcomeSuccess,
		actorID: accountID,
		details: map[string]string{"session_id": sid},
	})
	return nil
}

// LogoutAll revokes every refresh session of accountID and returns how many
// were removed.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		e.logger.Warn("logout all", zap.String("account_id", accountID), zap.Error(err))
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditRecord{
		action:  AuditLogout,
		outcome: OutcomeSuccess,
		actorID: accountID,
		details: map[string]string{"scope": "all", "sessions": fmt.Sprint(n)},
	})
	return n, nil
}
