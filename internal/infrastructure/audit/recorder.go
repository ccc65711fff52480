// Package audit records security-relevant events: break-glass bypass
// activations and tenant-isolation violations. The core depends only on the
// narrow Recorder capability; adapters decide where events land.
package audit

import (
	"context"
	"time"
)

// Event kinds recorded by the isolation layer.
const (
	KindBypassActivated    = "rls.bypass_activated"
	KindIsolationViolation = "tenant.isolation_violation"
	KindRoleRejected       = "rbac.role_rejected"
)

// Event is a single security-relevant occurrence.
type Event struct {
	Kind       string         `json:"kind"`
	TenantID   string         `json:"tenant_id,omitempty"`
	OperatorID string         `json:"operator_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Recorder is the capability the isolation layer requires from an audit sink.
// Record must not block request handling on sink latency beyond the context
// deadline; Flush drains anything buffered before shutdown.
type Recorder interface {
	Record(ctx context.Context, event Event)
	Flush(ctx context.Context) error
}

// NopRecorder discards all events. Used in tests.
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(context.Context, Event) {}

// Flush implements Recorder
func (NopRecorder) Flush(context.Context) error { return nil }

// MultiRecorder fans events out to several sinks.
type MultiRecorder []Recorder

// Record implements Recorder
func (m MultiRecorder) Record(ctx context.Context, event Event) {
	for _, r := range m {
		r.Record(ctx, event)
	}
}

// Flush implements Recorder
func (m MultiRecorder) Flush(ctx context.Context) error {
	var firstErr error
	for _, r := range m {
		if err := r.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
