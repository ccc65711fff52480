package rls

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

const sessionTestTenant = "3d1a9c7e-21f5-47a6-8b0a-6f9d17f5b844"

type sessionCapture struct {
	events []audit.Event
}

func (c *sessionCapture) Record(_ context.Context, e audit.Event) { c.events = append(c.events, e) }
func (c *sessionCapture) Flush(context.Context) error             { return nil }

func TestApplyScope_SetsTenantSetting(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingTenant, sessionTestTenant).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ApplyScope(db, tenantctx.NewScope(sessionTestTenant))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyScope_SetsOrgSettingWhenPresent(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingTenant, sessionTestTenant).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingOrg, "42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ApplyScope(db, tenantctx.NewOrgScope(sessionTestTenant, 42))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyScope_RefusesEmptyScope(t *testing.T) {
	db, _ := setupRLSMockDB(t)

	err := ApplyScope(db, tenantctx.Scope{})
	assert.Error(t, err)
}

func TestActivateBypass_RequiresOperator(t *testing.T) {
	db, mock := setupRLSMockDB(t)
	rec := &sessionCapture{}

	err := ActivateBypass(db, Bypass{Reason: "backfill"}, rec, zap.NewNop())
	assert.ErrorIs(t, err, ErrOperatorRequired)
	assert.Empty(t, rec.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateBypass_SetsSettingsAndRecordsAudit(t *testing.T) {
	db, mock := setupRLSMockDB(t)
	rec := &sessionCapture{}

	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingBypass, "on").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingOperator, "ops-7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ActivateBypass(db, Bypass{OperatorID: "ops-7", Reason: "tenant export"}, rec, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.KindBypassActivated, rec.events[0].Kind)
	assert.Equal(t, "ops-7", rec.events[0].OperatorID)
	assert.Equal(t, "tenant export", rec.events[0].Details["reason"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedTransaction_AppliesScopeInsideTransaction(t *testing.T) {
	db, mock := setupRLSMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, true\)`).
		WithArgs(SettingTenant, sessionTestTenant).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT count`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ScopedTransaction(db, tenantctx.NewScope(sessionTestTenant), func(tx *gorm.DB) error {
		return tx.Exec("SELECT count(*) FROM invoices").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
