package hybridAuth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	AuditLoginSuccess               AuditAction = "auth.login_success"
	AuditLoginFailure               AuditAction = "auth.login_failure"
	AuditAccountLocked              AuditAction = "auth.account_locked"
	AuditFederatedLoginSuccess      AuditAction = "auth.federated_login_success"
	AuditFederatedLoginFailure      AuditAction = "auth.federated_login_failure"
	AuditIdentityLinkedBySub        AuditAction = "auth.identity_linked_by_sub"
	AuditUserLinkedToFederated      AuditAction = "auth.user_linked_to_federated"
	AuditUserProvisioned            AuditAction = "auth.user_provisioned"
	AuditFederatedSubMismatch       AuditAction = "auth.federated_sub_mismatch_denied"
	AuditFederatedLinkDenied        AuditAction = "auth.federated_link_denied"
	AuditTokenRefreshed             AuditAction = "auth.token_refreshed"
	AuditRefreshFailure             AuditAction = "auth.refresh_failure"
	AuditLogout                     AuditAction = "auth.logout"
	AuditPasswordResetRequested     AuditAction = "auth.password_reset_requested"
	AuditPasswordResetCompleted     AuditAction = "auth.password_reset_completed"
	AuditPasswordChanged            AuditAction = "auth.password_changed"
	AuditPasswordChangeFailure      AuditAction = "auth.password_change_failure"
	AuditEmailVerificationRequested AuditAction = "auth.email_verification_requested"
	AuditEmailVerified              AuditAction = "auth.email_verified"
	AuditAccessDenied               AuditAction = "auth.access_denied"
)

// AuditActions returns the closed taxonomy.
func AuditActions() []AuditAction {
	return []AuditAction{
		AuditLoginSuccess,
		AuditLoginFailure,
		AuditAccountLocked,
		AuditFederatedLoginSuccess,
		AuditFederatedLoginFailure,
		AuditIdentityLinkedBySub,
		AuditUserLinkedToFederated,
		AuditUserProvisioned,
		AuditFederatedSubMismatch,
		AuditFederatedLinkDenied,
		AuditTokenRefreshed,
		AuditRefreshFailure,
		AuditLogout,
		AuditPasswordResetRequested,
		AuditPasswordResetCompleted,
		AuditPasswordChanged,
		AuditPasswordChangeFailure,
		AuditEmailVerificationRequested,
		AuditEmailVerified,
		AuditAccessDenied,
	}
}

// auditRecord is the per-call input to emitAudit.
type auditRecord struct {
	action  AuditAction
	outcome AuditOutcome
	actorID string
	target  string
	details map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		Action:    rec.action,
		Outcome:   rec.outcome,
		ActorID:   rec.actorID,
		Target:    rec.target,
		IP:        clientIPFromContext(ctx),
		UserAgent: truncate(userAgentFromContext(ctx), 255),
		Details:   rec.details,
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) onAuditSinkError(event AuditEvent, err error) {
	e.logger.Warn("audit sink failed",
		zap.String("action", string(event.Action)),
		zap.String("audit_id", event.ID),
		zap.Error(err),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
