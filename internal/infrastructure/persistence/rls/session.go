package rls

import (
	"errors"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

// ErrOperatorRequired is returned when a bypass activation carries no
// operator identity. Anonymous bypass is never permitted.
var ErrOperatorRequired = errors.New("rls: bypass requires a non-empty operator identity")

// ApplyScope establishes the tenant (and organization, when present) session
// settings on tx. tx must be a transaction: the settings are transaction
// local and vanish at COMMIT or ROLLBACK, so a pooled connection handed to
// another request carries no residue.
func ApplyScope(tx *gorm.DB, scope tenantctx.Scope) error {
	if scope.IsZero() {
		return errors.New("rls: refusing to apply empty tenant scope")
	}
	if err := tx.Exec("SELECT set_config(?, ?, true)", SettingTenant, scope.TenantID()).Error; err != nil {
		return err
	}
	if orgID, ok := scope.OrgID(); ok {
		if err := tx.Exec("SELECT set_config(?, ?, true)", SettingOrg, strconv.FormatInt(orgID, 10)).Error; err != nil {
			return err
		}
	}
	return nil
}

// Bypass describes one audited activation of the administrative bypass
// policy.
type Bypass struct {
	OperatorID string
	Reason     string
}

// ActivateBypass turns on the bypass policy for the remainder of the
// transaction. The activation is recorded before any bypassed statement can
// run; a recorder failure does not block the operator, but the zap log line
// is unconditional.
func ActivateBypass(tx *gorm.DB, b Bypass, recorder audit.Recorder, log *zap.Logger) error {
	if b.OperatorID == "" {
		return ErrOperatorRequired
	}
	if err := tx.Exec("SELECT set_config(?, ?, true)", SettingBypass, "on").Error; err != nil {
		return err
	}
	if err := tx.Exec("SELECT set_config(?, ?, true)", SettingOperator, b.OperatorID).Error; err != nil {
		return err
	}

	log.Warn("RLS bypass activated",
		zap.String("operator_id", b.OperatorID),
		zap.String("reason", b.Reason),
	)
	recorder.Record(tx.Statement.Context, audit.Event{
		Kind:       audit.KindBypassActivated,
		OperatorID: b.OperatorID,
		Details:    map[string]any{"reason": b.Reason},
	})
	return nil
}

// ScopedTransaction runs fn inside a transaction whose session settings are
// bound to scope. This is the only sanctioned way to reach tenant-scoped
// tables with raw SQL.
func ScopedTransaction(db *gorm.DB, scope tenantctx.Scope, fn func(tx *gorm.DB) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := ApplyScope(tx, scope); err != nil {
			return err
		}
		return fn(tx)
	})
}
