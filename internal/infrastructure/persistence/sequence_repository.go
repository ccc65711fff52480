package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/domain/billing"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/tenantguard"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

// GormSequenceRepository allocates per-organization invoice numbers from the
// org_invoice_sequences table. That table is keyed on the organization
// dimension, so the allocation statement only reaches a row when an
// organization is in scope.
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// NextInvoiceNumber claims the next number for the organization in scope and
// formats it. The upsert holds a row lock until commit, so two concurrent
// allocations for the same organization never return the same number.
func (r *GormSequenceRepository) NextInvoiceNumber(ctx context.Context) (string, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return "", tenantguard.ErrTenantScopeRequired
	}
	orgID, ok := scope.OrgID()
	if !ok {
		return "", billing.ErrOrganizationScopeRequired
	}

	var next int64
	err := runScoped(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Raw(`
			INSERT INTO org_invoice_sequences (org_id, next_number)
			VALUES (?, 2)
			ON CONFLICT (org_id) DO UPDATE
			SET next_number = org_invoice_sequences.next_number + 1,
			    updated_at = now()
			RETURNING next_number - 1
		`, orgID).Scan(&next).Error
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%06d", orgID, next), nil
}
