package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/domain/billing"
	"github.com/ledgerline/backend/internal/domain/shared"
	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/persistence"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/rls"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/tenantguard"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

type seededTenants struct {
	tenantA string
	tenantB string
}

func seedTwoTenants(t *testing.T, tdb *TestDB) seededTenants {
	t.Helper()

	s := seededTenants{
		tenantA: uuid.NewString(),
		tenantB: uuid.NewString(),
	}
	tdb.CreateTestTenant(s.tenantA, "Tenant A", "tenant-a-"+s.tenantA[:8])
	tdb.CreateTestTenant(s.tenantB, "Tenant B", "tenant-b-"+s.tenantB[:8])

	seedInvoice(t, tdb.Admin, uuid.NewString(), s.tenantA, "A-001")
	seedInvoice(t, tdb.Admin, uuid.NewString(), s.tenantA, "A-002")
	seedInvoice(t, tdb.Admin, uuid.NewString(), s.tenantB, "B-001")
	return s
}

func countInvoices(t *testing.T, tx *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, tx.Raw("SELECT COUNT(*) FROM invoices").Scan(&n).Error)
	return n
}

func TestRowSecurity_CrossTenantDenial(t *testing.T) {
	tdb := NewTestDB(t)
	s := seedTwoTenants(t, tdb)

	err := rls.ScopedTransaction(tdb.DB, tenantctx.NewScope(s.tenantA), func(tx *gorm.DB) error {
		assert.Equal(t, int64(2), countInvoices(t, tx))

		var numbers []string
		require.NoError(t, tx.Raw("SELECT number FROM invoices ORDER BY number").Scan(&numbers).Error)
		assert.Equal(t, []string{"A-001", "A-002"}, numbers)

		// Writes into the other tenant are rejected by the INSERT policy
		insertErr := tx.Exec(`
			INSERT INTO invoices (id, tenant_id, number, customer_name, amount, currency, status)
			VALUES (?, ?, 'X-001', 'Mallory', 1.00, 'USD', 'DRAFT')
		`, uuid.NewString(), s.tenantB).Error
		assert.Error(t, insertErr)

		// Updates against the other tenant match zero rows
		res := tx.Exec("UPDATE invoices SET customer_name = 'Hijacked' WHERE tenant_id = ?", s.tenantB)
		require.NoError(t, res.Error)
		assert.Equal(t, int64(0), res.RowsAffected)
		return nil
	})
	require.NoError(t, err)
}

func TestRowSecurity_NoScopeSeesNoRows(t *testing.T) {
	tdb := NewTestDB(t)
	seedTwoTenants(t, tdb)

	// A session without the tenant setting, like a pooled connection after
	// reset, must fail closed.
	err := tdb.DB.Transaction(func(tx *gorm.DB) error {
		assert.Equal(t, int64(0), countInvoices(t, tx))
		return nil
	})
	require.NoError(t, err)
}

func TestRowSecurity_SuperuserConnectionIsNotTrustworthy(t *testing.T) {
	tdb := NewTestDB(t)
	seedTwoTenants(t, tdb)

	// Superusers skip row security no matter what the session settings say.
	// This is why the application never connects as one.
	err := tdb.Admin.Transaction(func(tx *gorm.DB) error {
		assert.Equal(t, int64(3), countInvoices(t, tx))
		return nil
	})
	require.NoError(t, err)
}

func TestRowSecurity_ReapplyIsIdempotent(t *testing.T) {
	tdb := NewTestDB(t)

	engine, err := rls.NewEngine(tdb.Admin, persistence.ScopedTables(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.Apply(ctx))
	require.NoError(t, engine.Apply(ctx))

	statuses, err := engine.Report(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(persistence.ScopedTables()))
	for _, s := range statuses {
		assert.True(t, s.RLSEnabled, "table %s", s.Table)
		assert.True(t, s.RLSForced, "table %s", s.Table)
		assert.Len(t, s.Policies, rls.PoliciesPerTable, "table %s", s.Table)
	}
}

func TestRowSecurity_PoliciesAreIndependent(t *testing.T) {
	tdb := NewTestDB(t)
	s := seedTwoTenants(t, tdb)

	// Removing one write policy must not widen any other policy. With the
	// update policy gone, updates stop matching rows; reads and the other
	// write paths keep their predicates.
	require.NoError(t, tdb.Admin.Exec("DROP POLICY invoices_update ON invoices").Error)

	err := rls.ScopedTransaction(tdb.DB, tenantctx.NewScope(s.tenantA), func(tx *gorm.DB) error {
		assert.Equal(t, int64(2), countInvoices(t, tx))

		res := tx.Exec("UPDATE invoices SET customer_name = 'Renamed' WHERE number = 'A-001'")
		require.NoError(t, res.Error)
		assert.Equal(t, int64(0), res.RowsAffected)

		insertErr := tx.Exec(`
			INSERT INTO invoices (id, tenant_id, number, customer_name, amount, currency, status)
			VALUES (?, ?, 'X-002', 'Mallory', 1.00, 'USD', 'DRAFT')
		`, uuid.NewString(), s.tenantB).Error
		assert.Error(t, insertErr)

		del := tx.Exec("DELETE FROM invoices WHERE tenant_id = ?", s.tenantB)
		require.NoError(t, del.Error)
		assert.Equal(t, int64(0), del.RowsAffected)
		return nil
	})
	require.NoError(t, err)
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryRecorder) Record(_ context.Context, e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memoryRecorder) Flush(context.Context) error { return nil }

func (m *memoryRecorder) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, string(e.Kind))
	}
	return out
}

func TestRowSecurity_BypassIsScopedToTransaction(t *testing.T) {
	tdb := NewTestDB(t)
	seedTwoTenants(t, tdb)

	recorder := &memoryRecorder{}

	err := tdb.DB.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, rls.ActivateBypass(tx, rls.Bypass{
			OperatorID: "op-7",
			Reason:     "support ticket 4711",
		}, recorder, zap.NewNop()))

		// Bypass sees every tenant's rows
		assert.Equal(t, int64(3), countInvoices(t, tx))
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, recorder.kinds(), string(audit.KindBypassActivated))

	// The setting was transaction-local; a following transaction is closed
	err = tdb.DB.Transaction(func(tx *gorm.DB) error {
		assert.Equal(t, int64(0), countInvoices(t, tx))
		return nil
	})
	require.NoError(t, err)
}

func TestRowSecurity_BypassRequiresOperator(t *testing.T) {
	tdb := NewTestDB(t)

	err := tdb.DB.Transaction(func(tx *gorm.DB) error {
		return rls.ActivateBypass(tx, rls.Bypass{Reason: "no operator"}, nil, zap.NewNop())
	})
	assert.ErrorIs(t, err, rls.ErrOperatorRequired)
}

func TestQueryGuard_EndToEnd(t *testing.T) {
	tdb := NewTestDB(t)
	s := seedTwoTenants(t, tdb)

	recorder := &memoryRecorder{}
	guard := tenantguard.New(tenantguard.DefaultTenantColumn, recorder, zap.NewNop())
	require.NoError(t, guard.Register(tdb.DB))

	repo := persistence.NewGormInvoiceRepository(tdb.DB)

	t.Run("create stamps tenant and scoped read finds it", func(t *testing.T) {
		ctx := tenantctx.WithScope(context.Background(), tenantctx.NewScope(s.tenantA))

		inv, err := billing.NewInvoice("A-100", "Acme Corp", decimal.NewFromInt(250), "USD")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, inv))

		got, err := repo.FindByNumber(ctx, "A-100")
		require.NoError(t, err)
		assert.Equal(t, s.tenantA, got.TenantID)
	})

	t.Run("missing scope fails closed before SQL", func(t *testing.T) {
		_, err := repo.FindByNumber(context.Background(), "A-001")
		assert.ErrorIs(t, err, tenantguard.ErrTenantScopeRequired)
	})

	t.Run("cross tenant read returns not found", func(t *testing.T) {
		ctx := tenantctx.WithScope(context.Background(), tenantctx.NewScope(s.tenantB))
		_, err := repo.FindByNumber(ctx, "A-001")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestQueryGuard_ConcurrentTenants(t *testing.T) {
	tdb := NewTestDB(t)
	s := seedTwoTenants(t, tdb)

	guard := tenantguard.New(tenantguard.DefaultTenantColumn, audit.NopRecorder{}, zap.NewNop())
	require.NoError(t, guard.Register(tdb.DB))

	repo := persistence.NewGormInvoiceRepository(tdb.DB)

	var wg sync.WaitGroup
	run := func(tenantID string, wantNumbers []string) {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			ctx := tenantctx.WithScope(context.Background(), tenantctx.NewScope(tenantID))
			invoices, _, err := repo.List(ctx, billing.InvoiceFilter{Page: 1, PageSize: 10})
			if !assert.NoError(t, err) {
				return
			}
			numbers := make([]string, 0, len(invoices))
			for _, inv := range invoices {
				numbers = append(numbers, inv.Number)
			}
			assert.ElementsMatch(t, wantNumbers, numbers)
		}
	}

	wg.Add(2)
	go run(s.tenantA, []string{"A-001", "A-002"})
	go run(s.tenantB, []string{"B-001"})
	wg.Wait()
}

func TestRowSecurity_OrganizationScope(t *testing.T) {
	tdb := NewTestDB(t)

	tenantID := uuid.NewString()
	tdb.CreateTestTenant(tenantID, "Org Tenant", "org-tenant-"+tenantID[:8])
	tdb.CreateTestOrganization(tenantID, 10, "Northern Branch")
	tdb.CreateTestOrganization(tenantID, 20, "Southern Branch")

	seedErr := tdb.Admin.Exec(`
		INSERT INTO org_invoice_sequences (org_id, next_number) VALUES (10, 5), (20, 9)
	`).Error
	require.NoError(t, seedErr)

	// An organization scope reaches only that organization's sequence row.
	err := rls.ScopedTransaction(tdb.DB, tenantctx.NewOrgScope(tenantID, 10), func(tx *gorm.DB) error {
		var orgIDs []int64
		require.NoError(t, tx.Raw("SELECT org_id FROM org_invoice_sequences ORDER BY org_id").Scan(&orgIDs).Error)
		assert.Equal(t, []int64{10}, orgIDs)

		res := tx.Exec("UPDATE org_invoice_sequences SET next_number = 999 WHERE org_id = 20")
		require.NoError(t, res.Error)
		assert.Equal(t, int64(0), res.RowsAffected)
		return nil
	})
	require.NoError(t, err)

	// A tenant-only scope carries no organization setting and sees nothing.
	err = rls.ScopedTransaction(tdb.DB, tenantctx.NewScope(tenantID), func(tx *gorm.DB) error {
		var n int64
		require.NoError(t, tx.Raw("SELECT COUNT(*) FROM org_invoice_sequences").Scan(&n).Error)
		assert.Equal(t, int64(0), n)
		return nil
	})
	require.NoError(t, err)
}

func TestInvoiceNumberAllocation(t *testing.T) {
	tdb := NewTestDB(t)

	tenantID := uuid.NewString()
	tdb.CreateTestTenant(tenantID, "Seq Tenant", "seq-tenant-"+tenantID[:8])
	tdb.CreateTestOrganization(tenantID, 31, "Billing North")
	tdb.CreateTestOrganization(tenantID, 32, "Billing South")

	repo := persistence.NewGormSequenceRepository(tdb.DB)

	ctxOrg31 := tenantctx.WithScope(context.Background(), tenantctx.NewOrgScope(tenantID, 31))
	ctxOrg32 := tenantctx.WithScope(context.Background(), tenantctx.NewOrgScope(tenantID, 32))

	first, err := repo.NextInvoiceNumber(ctxOrg31)
	require.NoError(t, err)
	assert.Equal(t, "INV-31-000001", first)

	second, err := repo.NextInvoiceNumber(ctxOrg31)
	require.NoError(t, err)
	assert.Equal(t, "INV-31-000002", second)

	// Each organization counts on its own.
	other, err := repo.NextInvoiceNumber(ctxOrg32)
	require.NoError(t, err)
	assert.Equal(t, "INV-32-000001", other)

	// Without an organization in scope there is no sequence to draw from.
	ctxTenant := tenantctx.WithScope(context.Background(), tenantctx.NewScope(tenantID))
	_, err = repo.NextInvoiceNumber(ctxTenant)
	assert.ErrorIs(t, err, billing.ErrOrganizationScopeRequired)
}
