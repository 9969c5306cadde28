package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink persists the finished records of one call. The pipeline treats
// it as fire-and-forget: errors are logged, never returned to the caller.
type Sink interface {
	AddAudit(ctx context.Context, records []Record, latencyMs int64) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records []Record, latencyMs int64) error

func (f SinkFunc) AddAudit(ctx context.Context, records []Record, latencyMs int64) error {
	return f(ctx, records, latencyMs)
}

// LogSink writes records to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) AddAudit(ctx context.Context, records []Record, latencyMs int64) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, r := range records {
		logger.InfoContext(ctx, "audit record",
			"id", r.ID,
			"audit_type", r.Type,
			"description", r.Description,
			"operation_type", r.OperationType,
			"object_type", r.ObjectType,
			"user_id", r.Actor.UserID,
			"username", r.Actor.Username,
			"object_id", r.ObjectIDString(),
			"object_name", r.ObjectName,
			"latency_ms", latencyMs,
		)
	}
	return nil
}

// AbortReason explains why a call produced no records.
type AbortReason string

const (
	ReasonActorUnresolved AbortReason = "actor_unresolved"
	ReasonCallFailed      AbortReason = "call_failed"
	ReasonUnknownType     AbortReason = "unknown_type"
	ReasonSkipped         AbortReason = "skipped"
)

// Observer is notified of pipeline outcomes.
type Observer interface {
	Aborted(t AuditType, reason AbortReason)
	Persisted(t AuditType, records int, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) Aborted(AuditType, AbortReason)          {}
func (nopObserver) Persisted(AuditType, int, time.Duration) {}
