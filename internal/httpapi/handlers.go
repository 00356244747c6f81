package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/middleware"
)

const (
	msgResetSent        = "If this email exists, a reset link has been sent"
	msgVerificationSent = "If this email exists, verification email sent"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type federatedLoginRequest struct {
	IdentityToken string `json:"identity_token"`
	IDToken       string `json:"id_token"`
	Token         string `json:"token"`
}

func (r federatedLoginRequest) token() string {
	for _, t := range []string{r.IdentityToken, r.IDToken, r.Token} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

type loginResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	Account      hybridAuth.Profile `json:"account"`
	AuthProvider string             `json:"auth_provider,omitempty"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
			writeError(w, http.StatusForbidden, "Local login disabled")
		case errors.Is(err, hybridAuth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, hybridAuth.ErrEmailNotVerified):
			writeError(w, http.StatusForbidden, "Email verification required")
		default:
			a.internalError(w, "login", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		Account:      res.Profile,
	})
}

func (a *API) federatedLogin(w http.ResponseWriter, r *http.Request) {
	var req federatedLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token := req.token()
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	res, err := a.engine.FederatedLogin(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
			writeError(w, http.StatusForbidden, "Federated login disabled")
		case errors.Is(err, hybridAuth.ErrFederatedAuthFailed),
			errors.Is(err, hybridAuth.ErrLinkingDenied),
			errors.Is(err, hybridAuth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Authentication failed")
		case errors.Is(err, hybridAuth.ErrEmailNotVerified):
			writeError(w, http.StatusForbidden, "Email verification required")
		default:
			a.internalError(w, "federated login", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		Account:      res.Profile,
		AuthProvider: string(res.Profile.Provider),
	})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	pair, err := a.engine.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, hybridAuth.ErrRefreshFailed) {
			writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		a.internalError(w, "refresh", err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// logout always succeeds from the caller's point of view.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.BearerToken(r.Header.Get("Authorization")); ok {
		if err := a.engine.Logout(r.Context(), token); err != nil {
			a.log.Warn("logout", zap.Error(err))
		}
	}
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (a *API) whoami(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := a.engine.WhoAmI(r.Context(), token)
	if err != nil {
		if status, msg, ok := middleware.AuthErrorStatus(err); ok {
			writeError(w, status, msg)
			return
		}
		a.internalError(w, "whoami", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// forgotPassword answers identically whether or not the email exists, and
// also when the per-account throttle is spent.
func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	err := a.engine.RequestPasswordReset(r.Context(), req.Email)
	switch {
	case err == nil, errors.Is(err, hybridAuth.ErrRateLimited):
	case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
		writeError(w, http.StatusForbidden, "Password reset disabled")
		return
	default:
		a.log.Error("password reset request", zap.Error(err))
	}
	writeMessage(w, http.StatusOK, msgResetSent)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Token and new password are required")
		return
	}

	err := a.engine.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
			writeError(w, http.StatusForbidden, "Password reset disabled")
		case errors.Is(err, hybridAuth.ErrPasswordPolicy):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, hybridAuth.ErrResetTokenInvalid):
			writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
		case errors.Is(err, hybridAuth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		default:
			a.internalError(w, "password reset", err)
		}
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successfully")
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Current and new password are required")
		return
	}

	err := a.engine.ChangePassword(r.Context(), p.AccountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, hybridAuth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Current password is incorrect")
		case errors.Is(err, hybridAuth.ErrPasswordPolicy):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, hybridAuth.ErrPasswordReuse):
			writeError(w, http.StatusBadRequest, "New password must differ from current password")
		case errors.Is(err, hybridAuth.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		default:
			a.internalError(w, "password change", err)
		}
		return
	}
	writeMessage(w, http.StatusOK, "Password changed successfully")
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	err := a.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
			writeError(w, http.StatusForbidden, "Email verification disabled")
		case errors.Is(err, hybridAuth.ErrVerificationTokenInvalid):
			writeError(w, http.StatusBadRequest, "Invalid or expired token")
		default:
			a.internalError(w, "email verification", err)
		}
		return
	}
	writeMessage(w, http.StatusOK, "Email verified")
}

func (a *API) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	err := a.engine.RequestEmailVerification(r.Context(), req.Email)
	switch {
	case err == nil, errors.Is(err, hybridAuth.ErrRateLimited):
	case errors.Is(err, hybridAuth.ErrAuthModeDisabled):
		writeError(w, http.StatusForbidden, "Email verification disabled")
		return
	default:
		a.log.Error("email verification request", zap.Error(err))
	}
	writeMessage(w, http.StatusOK, msgVerificationSent)
}

func (a *API) internalError(w http.ResponseWriter, op string, err error) {
	a.log.Error(op, zap.Error(err))
	if errors.Is(err, hybridAuth.ErrAccountStoreUnavailable) ||
		errors.Is(err, hybridAuth.ErrSessionCreationFailed) ||
		errors.Is(err, hybridAuth.ErrSessionStoreUnavailable) ||
		errors.Is(err, hybridAuth.ErrEngineNotReady) {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
