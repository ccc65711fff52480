package rls

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupRLSMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestNewEngine_RejectsUnsafeIdentifiers(t *testing.T) {
	db, _ := setupRLSMockDB(t)

	_, err := NewEngine(db, []ScopedTable{{Name: `invoices; DROP TABLE users`}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewEngine(db, []ScopedTable{{Name: "invoices", Column: `tenant"id`}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewEngine(db, []ScopedTable{{Name: "sequences", Dimension: DimensionOrg, Column: "org id"}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewEngine(db, []ScopedTable{{Name: "invoices", Dimension: "tenant_and_org"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewEngine_DefaultsByDimension(t *testing.T) {
	db, _ := setupRLSMockDB(t)

	e, err := NewEngine(db, []ScopedTable{
		{Name: "invoices"},
		{Name: "org_invoice_sequences", Dimension: DimensionOrg},
	}, zap.NewNop())
	require.NoError(t, err)

	tables := e.Tables()
	assert.Equal(t, DimensionTenant, tables[0].Dimension)
	assert.Equal(t, "tenant_id", tables[0].Column)
	assert.Equal(t, DimensionOrg, tables[1].Dimension)
	assert.Equal(t, "org_id", tables[1].Column)
}

func TestEngine_Statements(t *testing.T) {
	db, _ := setupRLSMockDB(t)

	e, err := NewEngine(db, []ScopedTable{
		{Name: "invoices"},
		{Name: "org_invoice_sequences", Dimension: DimensionOrg},
	}, zap.NewNop())
	require.NoError(t, err)

	stmts := e.Statements()

	// 3 helper functions, then per table: ENABLE, FORCE, and a DROP+CREATE
	// pair for each of the five policies.
	require.Len(t, stmts, 3+2*(2+2*PoliciesPerTable))

	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, "CREATE OR REPLACE FUNCTION app_current_tenant()")
	assert.Contains(t, joined, "CREATE OR REPLACE FUNCTION app_current_org()")
	assert.Contains(t, joined, "CREATE OR REPLACE FUNCTION app_rls_bypass()")

	assert.Contains(t, joined, "ALTER TABLE invoices ENABLE ROW LEVEL SECURITY")
	assert.Contains(t, joined, "ALTER TABLE invoices FORCE ROW LEVEL SECURITY")
	assert.Contains(t, joined, "DROP POLICY IF EXISTS invoices_select ON invoices")
	assert.Contains(t, joined, "CREATE POLICY invoices_select ON invoices FOR SELECT USING (tenant_id = app_current_tenant())")
	assert.Contains(t, joined, "CREATE POLICY invoices_insert ON invoices FOR INSERT WITH CHECK (tenant_id = app_current_tenant())")
	assert.Contains(t, joined, "CREATE POLICY invoices_update ON invoices FOR UPDATE USING (tenant_id = app_current_tenant()) WITH CHECK (tenant_id = app_current_tenant())")
	assert.Contains(t, joined, "CREATE POLICY invoices_delete ON invoices FOR DELETE USING (tenant_id = app_current_tenant())")
	assert.Contains(t, joined, "CREATE POLICY invoices_bypass ON invoices FOR ALL USING (app_rls_bypass()) WITH CHECK (app_rls_bypass())")

	// The org-scoped table keys on the organization setting alone; the two
	// scoping dimensions never share a predicate.
	assert.Contains(t, joined, "CREATE POLICY org_invoice_sequences_select ON org_invoice_sequences FOR SELECT USING (org_id = app_current_org())")
	assert.Contains(t, joined, "CREATE POLICY org_invoice_sequences_insert ON org_invoice_sequences FOR INSERT WITH CHECK (org_id = app_current_org())")
	assert.NotContains(t, joined, "app_current_tenant() AND")
}

func TestEngine_Apply(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	e, err := NewEngine(db, []ScopedTable{{Name: "invoices"}}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	for _, stmt := range e.Statements() {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, e.Apply(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Apply_RollsBackOnFailure(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	e, err := NewEngine(db, []ScopedTable{{Name: "invoices"}}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE FUNCTION app_current_tenant").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = e.Apply(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStatus_Healthy(t *testing.T) {
	full := TableStatus{
		Table:      "invoices",
		RLSEnabled: true,
		RLSForced:  true,
		Policies:   []string{"invoices_bypass", "invoices_delete", "invoices_insert", "invoices_select", "invoices_update"},
	}
	assert.True(t, full.Healthy())

	assert.False(t, TableStatus{RLSEnabled: true, RLSForced: true, Policies: []string{"invoices_select"}}.Healthy())
	assert.False(t, TableStatus{RLSEnabled: false, RLSForced: true, Policies: full.Policies}.Healthy())
	assert.False(t, TableStatus{RLSEnabled: true, RLSForced: false, Policies: full.Policies}.Healthy())
}

func TestEngine_Report(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	e, err := NewEngine(db, []ScopedTable{{Name: "invoices"}}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT c.relrowsecurity").
		WithArgs("invoices").
		WillReturnRows(sqlmock.NewRows([]string{"rowsecurity", "forcerowsecurity"}).AddRow(true, true))
	mock.ExpectQuery("SELECT policyname FROM pg_policies").
		WithArgs("invoices").
		WillReturnRows(sqlmock.NewRows([]string{"policyname"}).
			AddRow("invoices_bypass").
			AddRow("invoices_delete").
			AddRow("invoices_insert").
			AddRow("invoices_select").
			AddRow("invoices_update"))

	report, err := e.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.True(t, report[0].Healthy())
	assert.Equal(t, "invoices", report[0].Table)
	assert.NoError(t, mock.ExpectationsWereMet())
}
