package billing

import (
	"context"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// ErrOrganizationScopeRequired is returned when a number allocation runs
// without an organization in scope.
var ErrOrganizationScopeRequired = shared.NewDomainError("ORG_SCOPE_REQUIRED", "An organization scope is required for this operation")

// NumberSequence allocates invoice numbers for the organization carried by
// ctx. Allocations are sequential per organization and never reused.
type NumberSequence interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
}
