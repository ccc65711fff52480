// Package tenantctx carries the resolved tenant scope through a request.
//
// The scope is established exactly once per request by the tenant middleware
// and is immutable afterwards. Downstream components (query guard, RLS
// session, audit) read it from the context; nothing outside the middleware
// re-derives it from credentials.
package tenantctx

import (
	"context"
	"errors"
)

// ErrNoScope is returned when a tenant scope is required but absent from context.
var ErrNoScope = errors.New("tenant scope not found in context")

// Scope identifies the tenant (and optionally the organization) a request
// acts on behalf of. TenantID is an opaque identifier string; OrgID is set
// only for organization-scoped operations.
type Scope struct {
	tenantID string
	orgID    *int64
}

// NewScope creates a tenant-only scope.
func NewScope(tenantID string) Scope {
	return Scope{tenantID: tenantID}
}

// NewOrgScope creates a scope carrying both tenant and organization identifiers.
func NewOrgScope(tenantID string, orgID int64) Scope {
	return Scope{tenantID: tenantID, orgID: &orgID}
}

// TenantID returns the tenant identifier.
func (s Scope) TenantID() string {
	return s.tenantID
}

// OrgID returns the organization identifier and whether one is set.
func (s Scope) OrgID() (int64, bool) {
	if s.orgID == nil {
		return 0, false
	}
	return *s.orgID, true
}

// IsZero reports whether the scope carries no tenant.
func (s Scope) IsZero() bool {
	return s.tenantID == ""
}

type contextKey struct{}

// WithScope attaches a scope to the context. It must be called at most once
// per request; a second call replaces the scope and indicates a wiring bug.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, scope)
}

// FromContext retrieves the scope from context.
func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(contextKey{}).(Scope)
	if !ok || scope.IsZero() {
		return Scope{}, false
	}
	return scope, true
}

// MustFromContext retrieves the scope or returns ErrNoScope.
func MustFromContext(ctx context.Context) (Scope, error) {
	scope, ok := FromContext(ctx)
	if !ok {
		return Scope{}, ErrNoScope
	}
	return scope, nil
}
