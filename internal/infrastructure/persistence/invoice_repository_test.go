package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/domain/billing"
	"github.com/ledgerline/backend/internal/domain/shared"
	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/rls"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/tenantguard"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

const (
	repoTestTenant = "7f1c2d77-9f70-4a88-8a3e-3f9a0b25c1aa"
	repoTestOrg    = int64(7)
)

func setupRepoDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	guard := tenantguard.New("", audit.NopRecorder{}, zap.NewNop())
	require.NoError(t, guard.Register(db))

	return db, mock
}

func setupInvoiceRepo(t *testing.T) (*GormInvoiceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := setupRepoDB(t)
	return NewGormInvoiceRepository(db), mock
}

func repoCtx() context.Context {
	return tenantctx.WithScope(context.Background(), tenantctx.NewScope(repoTestTenant))
}

func repoOrgCtx() context.Context {
	return tenantctx.WithScope(context.Background(), tenantctx.NewOrgScope(repoTestTenant, repoTestOrg))
}

// expectScopedTx queues the transaction begin and the session setting that
// every repository statement runs under.
func expectScopedTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(rls.SettingTenant, repoTestTenant).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestGormInvoiceRepository_Create_StampsTenant(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	inv, err := billing.NewInvoice("INV-1", "Acme", decimal.NewFromInt(100), "EUR")
	require.NoError(t, err)

	expectScopedTx(mock)
	mock.ExpectExec(`INSERT INTO "invoices"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(repoCtx(), inv))
	assert.Equal(t, repoTestTenant, inv.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_Create_WithoutScopeFails(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	inv, err := billing.NewInvoice("INV-1", "Acme", decimal.NewFromInt(100), "EUR")
	require.NoError(t, err)

	// No BEGIN is expected: a missing scope is refused before any statement.
	err = repo.Create(context.Background(), inv)
	assert.ErrorIs(t, err, tenantguard.ErrTenantScopeRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_FindByID_ScopedToTenant(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE id = \$1 AND "invoices"\."tenant_id" = \$2`).
		WithArgs("inv-1", repoTestTenant, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "number", "customer_name", "amount", "currency", "status"}).
			AddRow("inv-1", repoTestTenant, "INV-1", "Acme", "100", "EUR", "DRAFT"))
	mock.ExpectCommit()

	inv, err := repo.FindByID(repoCtx(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-1", inv.Number)
	assert.Equal(t, billing.InvoiceStatusDraft, inv.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_FindByID_NotFound(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectQuery(`SELECT \* FROM "invoices"`).
		WithArgs("missing", repoTestTenant, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.FindByID(repoCtx(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_List(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices" WHERE status = \$1 AND "invoices"\."tenant_id" = \$2`).
		WithArgs("ISSUED", repoTestTenant).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE status = \$1 AND "invoices"\."tenant_id" = \$2 ORDER BY created_at DESC`).
		WithArgs("ISSUED", repoTestTenant, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "number", "status"}).
			AddRow("inv-1", repoTestTenant, "INV-1", "ISSUED").
			AddRow("inv-2", repoTestTenant, "INV-2", "ISSUED"))
	mock.ExpectCommit()

	invoices, total, err := repo.List(repoCtx(), billing.InvoiceFilter{Status: billing.InvoiceStatusIssued})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, invoices, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_List_SortWhitelist(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// "amount asc" is whitelisted; an unknown field would fall back to created_at.
	mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE "invoices"\."tenant_id" = \$1 ORDER BY amount ASC`).
		WithArgs(repoTestTenant, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "number", "status"}).
			AddRow("inv-1", repoTestTenant, "INV-1", "DRAFT"))
	mock.ExpectCommit()

	_, _, err := repo.List(repoCtx(), billing.InvoiceFilter{SortBy: "amount", SortOrder: "asc"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_List_RejectsUnlistedSortField(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE "invoices"\."tenant_id" = \$1 ORDER BY created_at DESC`).
		WithArgs(repoTestTenant, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	_, _, err := repo.List(repoCtx(), billing.InvoiceFilter{SortBy: "tenant_id; DROP TABLE invoices", SortOrder: "descending"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_Delete_NotFound(t *testing.T) {
	repo, mock := setupInvoiceRepo(t)

	expectScopedTx(mock)
	mock.ExpectExec(`DELETE FROM "invoices" WHERE id = \$1 AND "invoices"\."tenant_id" = \$2`).
		WithArgs("missing", repoTestTenant).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(repoCtx(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
