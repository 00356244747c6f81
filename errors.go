package hybridAuth

import "errors"

var (
	// ErrInvalidCredentials covers unknown email, wrong password, locked or
	// inactive accounts and accounts without local credentials. Callers
	// cannot tell these apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrFederatedAuthFailed is returned for any rejected provider token.
	ErrFederatedAuthFailed = errors.New("federated authentication failed")
	// ErrLinkingDenied is returned when a verified provider identity cannot
	// be mapped to exactly one account.
	ErrLinkingDenied = errors.New("federated identity could not be linked")
	// ErrRefreshFailed is returned for malformed, unknown, expired, reused or
	// orphaned refresh tokens. Store outages are reported separately.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrUnauthorized is returned for missing, bad or expired access tokens
	// and for tokens whose account no longer exists.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the account is inactive or its role is
	// below the required one.
	ErrForbidden = errors.New("forbidden")
	// ErrAuthModeDisabled is returned when the entry point is turned off by
	// the configured auth mode.
	ErrAuthModeDisabled = errors.New("auth mode disabled")
	// ErrPasswordPolicy wraps the specific password.ErrPolicy* cause.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrResetTokenInvalid is returned for unknown, expired or consumed reset tokens.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrVerificationTokenInvalid is returned for unknown, expired or consumed
	// email verification tokens.
	ErrVerificationTokenInvalid = errors.New("email verification token invalid")
	// ErrEmailNotVerified is returned by login when verification is required.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrRateLimited is returned when a per-account throttle is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionCreationFailed wraps session store failures during issuance.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionStoreUnavailable wraps session store failures outside
	// issuance. The presented credential is left untouched.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	// ErrAccountStoreUnavailable wraps account store failures.
	ErrAccountStoreUnavailable = errors.New("account store unavailable")
	// ErrEngineNotReady is returned when a nil or closed engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)
