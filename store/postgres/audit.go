package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	hybridAuth "github.com/MrEthical07/hybridAuth"
)

// AuditSink appends audit events to the audit_events table.
type AuditSink struct {
	db *sql.DB
}

var _ hybridAuth.AuditSink = (*AuditSink)(nil)

func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Emit(ctx context.Context, event hybridAuth.AuditEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into audit_events (id, occurred_at, action, outcome, actor_id, target, ip, user_agent, details)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Timestamp.UTC(), string(event.Action), string(event.Outcome),
		event.ActorID, event.Target, event.IP, event.UserAgent, raw,
	)
	return err
}
