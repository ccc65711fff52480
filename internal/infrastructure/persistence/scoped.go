package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/infrastructure/persistence/rls"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/tenantguard"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

// runScoped executes fn inside a transaction whose session settings carry the
// scope found in ctx. Every repository statement goes through here: without
// the settings the row security predicates match nothing, so a statement on a
// bare pooled connection would silently see an empty table.
func runScoped(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return tenantguard.ErrTenantScopeRequired
	}
	return rls.ScopedTransaction(db.WithContext(ctx), scope, fn)
}
