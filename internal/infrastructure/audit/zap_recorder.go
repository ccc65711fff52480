package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ZapRecorder writes audit events to the structured log. It is always wired,
// so security events are never lost even when the stream sink is down.
type ZapRecorder struct {
	logger *zap.Logger
}

// NewZapRecorder creates a ZapRecorder
func NewZapRecorder(log *zap.Logger) *ZapRecorder {
	return &ZapRecorder{logger: log.Named("audit")}
}

// Record implements Recorder
func (r *ZapRecorder) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", event.TenantID))
	}
	if event.OperatorID != "" {
		fields = append(fields, zap.String("operator_id", event.OperatorID))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	// Isolation violations are never downgraded below warn.
	switch event.Kind {
	case KindIsolationViolation:
		r.logger.Error("Security event", fields...)
	default:
		r.logger.Warn("Security event", fields...)
	}
}

// Flush implements Recorder
func (r *ZapRecorder) Flush(ctx context.Context) error {
	return r.logger.Sync()
}
