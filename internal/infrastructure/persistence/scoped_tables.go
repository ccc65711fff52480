package persistence

import "github.com/ledgerline/backend/internal/infrastructure/persistence/rls"

// ScopedTables lists every table guarded by row security policies. Each table
// is scoped on exactly one dimension. New tenant-owned or organization-owned
// tables must be added here so the policy engine covers them.
func ScopedTables() []rls.ScopedTable {
	return []rls.ScopedTable{
		{Name: "invoices"},
		{Name: "organizations"},
		{Name: "org_invoice_sequences", Dimension: rls.DimensionOrg},
	}
}
