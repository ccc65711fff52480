package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamKey is the Redis stream security events are appended to.
const DefaultStreamKey = "ledgerline:audit:security"

// DefaultStreamMaxLen caps the stream; operational tooling consumes and
// archives entries well before this limit.
const DefaultStreamMaxLen = 100_000

// RedisRecorder appends audit events to a Redis stream for consumption by
// operational tooling. Failures are logged, never propagated to the request
// path, because the ZapRecorder sibling already persisted the event.
type RedisRecorder struct {
	client    *redis.Client
	logger    *zap.Logger
	streamKey string
	maxLen    int64
}

// NewRedisRecorder creates a RedisRecorder on the default stream
func NewRedisRecorder(client *redis.Client, log *zap.Logger) *RedisRecorder {
	return &RedisRecorder{
		client:    client,
		logger:    log.Named("audit.redis"),
		streamKey: DefaultStreamKey,
		maxLen:    DefaultStreamMaxLen,
	}
}

// Record implements Recorder
func (r *RedisRecorder) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		r.logger.Error("Failed to encode audit event details", zap.Error(err))
		details = []byte("{}")
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        event.Kind,
			"tenant_id":   event.TenantID,
			"operator_id": event.OperatorID,
			"details":     string(details),
			"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		r.logger.Error("Failed to append audit event to stream",
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}

// Flush implements Recorder. XAdd is synchronous, so there is nothing buffered.
func (r *RedisRecorder) Flush(ctx context.Context) error {
	return nil
}
