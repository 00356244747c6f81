package hybridAuth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditAction is one entry of the closed audit taxonomy.
type AuditAction string

// AuditOutcome classifies an audited transition.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is an append-only record of one identity state transition.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    AuditAction       `json:"action"`
	Outcome   AuditOutcome      `json:"outcome"`
	ActorID   string            `json:"actor_id,omitempty"`
	Target    string            `json:"target,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditSink receives events from the engine's dispatcher goroutine. A
// returned error is logged and counted; it never reaches the operation
// that produced the event.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) error { return nil }

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// ZapSink logs each event as a structured info entry.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event AuditEvent) error {
	s.logger.Info(string(event.Action),
		zap.String("audit_id", event.ID),
		zap.Time("ts", event.Timestamp),
		zap.String("outcome", string(event.Outcome)),
		zap.String("actor_id", event.ActorID),
		zap.String("target", event.Target),
		zap.String("ip", event.IP),
		zap.String("user_agent", event.UserAgent),
		zap.Any("details", event.Details),
	)
	return nil
}

// MultiSink fans out to every sink and returns the first error.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
