// Package tenantguard enforces tenant isolation at the ORM layer. It is the
// application-side half of a two-layer defense: the database enforces row
// level security, and this package injects tenant predicates into every
// statement and verifies every result set after the fact. A row from a
// foreign tenant reaching the application is treated as a containment
// failure, not a recoverable query error.
package tenantguard

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgerline/backend/internal/domain/shared"
	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

// Guard errors. A statement that reaches the database without a tenant scope
// is refused before execution.
var (
	ErrTenantScopeRequired = errors.New("tenant scope required: no tenant in statement context")
	ErrInvalidTenantID     = errors.New("tenant scope rejected: tenant id is not a valid UUID")
)

const (
	// DefaultTenantColumn is the column carrying the owning tenant on every
	// scoped table.
	DefaultTenantColumn = "tenant_id"

	exemptKey = "tenantguard:exempt"
)

// Guard registers GORM callbacks that scope every statement to the tenant in
// the statement context and verify returned rows against it.
type Guard struct {
	column   string
	recorder audit.Recorder
	logger   *zap.Logger
}

// New creates a Guard. recorder receives an event for every verification
// failure; pass audit.NopRecorder{} to disable.
func New(column string, recorder audit.Recorder, log *zap.Logger) *Guard {
	if column == "" {
		column = DefaultTenantColumn
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Guard{
		column:   column,
		recorder: recorder,
		logger:   log.Named("tenantguard"),
	}
}

// Register installs the guard callbacks on db. Read paths get a filter before
// execution and a verification pass after; write paths get the filter, and
// creates get the tenant column stamped from the scope.
func (g *Guard) Register(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenantguard:before_query", g.injectFilter); err != nil {
		return fmt.Errorf("register before_query: %w", err)
	}
	if err := cb.Query().After("gorm:query").Register("tenantguard:verify_query", g.verifyResult); err != nil {
		return fmt.Errorf("register verify_query: %w", err)
	}
	if err := cb.Row().Before("gorm:row").Register("tenantguard:before_row", g.injectFilter); err != nil {
		return fmt.Errorf("register before_row: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register("tenantguard:before_update", g.injectFilter); err != nil {
		return fmt.Errorf("register before_update: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register("tenantguard:sanitize_update", g.sanitizeUpdate); err != nil {
		return fmt.Errorf("register sanitize_update: %w", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenantguard:before_delete", g.injectFilter); err != nil {
		return fmt.Errorf("register before_delete: %w", err)
	}
	if err := cb.Create().Before("gorm:create").Register("tenantguard:before_create", g.stampCreate); err != nil {
		return fmt.Errorf("register before_create: %w", err)
	}
	return nil
}

// Exempt marks a session as exempt from guard enforcement. Only the audited
// administrative bypass path may use it; the database still applies its own
// bypass policy independently.
func Exempt(db *gorm.DB) *gorm.DB {
	return db.Set(exemptKey, true)
}

func isExempt(db *gorm.DB) bool {
	v, ok := db.Get(exemptKey)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// scoped reports whether the statement targets a tenant-scoped model and, if
// so, returns the validated tenant id from the statement context.
func (g *Guard) scoped(db *gorm.DB) (string, bool) {
	if isExempt(db) || db.Statement.Unscoped {
		return "", false
	}
	if db.Statement.Schema == nil || db.Statement.Schema.LookUpField(g.column) == nil {
		// Raw SQL and models without the tenant column are outside the
		// guard's reach; row level security still applies below us.
		return "", false
	}

	scope, ok := tenantctx.FromContext(db.Statement.Context)
	if !ok || scope.TenantID() == "" {
		_ = db.AddError(ErrTenantScopeRequired)
		return "", false
	}
	if _, err := uuid.Parse(scope.TenantID()); err != nil {
		_ = db.AddError(ErrInvalidTenantID)
		return "", false
	}
	return scope.TenantID(), true
}

// injectFilter adds the tenant predicate to the statement unless one is
// already present.
func (g *Guard) injectFilter(db *gorm.DB) {
	tenantID, ok := g.scoped(db)
	if !ok {
		return
	}
	if g.hasTenantCondition(db) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: g.column},
				Value:  tenantID,
			},
		},
	})
}

// stampCreate writes the scope's tenant id into the tenant column of every
// row being inserted. A caller-supplied value is overwritten; the scope is
// authoritative, never the payload.
func (g *Guard) stampCreate(db *gorm.DB) {
	tenantID, ok := g.scoped(db)
	if !ok {
		return
	}
	field := db.Statement.Schema.LookUpField(g.column)

	switch db.Statement.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < db.Statement.ReflectValue.Len(); i++ {
			if err := field.Set(db.Statement.Context, db.Statement.ReflectValue.Index(i), tenantID); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	case reflect.Struct:
		if err := field.Set(db.Statement.Context, db.Statement.ReflectValue, tenantID); err != nil {
			_ = db.AddError(err)
		}
	}
}

// sanitizeUpdate overwrites any caller-supplied tenant value in the update
// payload with the scope's tenant before the SET clause is built. An update
// must never relabel a row to another tenant; the scope is authoritative,
// never the payload.
func (g *Guard) sanitizeUpdate(db *gorm.DB) {
	tenantID, ok := g.scoped(db)
	if !ok {
		return
	}

	switch dest := db.Statement.Dest.(type) {
	case map[string]interface{}:
		for key := range dest {
			if f := db.Statement.Schema.LookUpField(key); f != nil && f.DBName == g.column {
				dest[key] = tenantID
			}
		}
	default:
		rv := db.Statement.ReflectValue
		if rv.Kind() != reflect.Struct {
			return
		}
		field := db.Statement.Schema.LookUpField(g.column)
		got, zero := field.ValueOf(db.Statement.Context, rv)
		if zero {
			return
		}
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprint(got)
		}
		if !strings.EqualFold(s, tenantID) {
			_ = db.AddError(shared.NewInvariantViolation(
				shared.TenantIsolationViolation,
				"update payload attempts to change the owning tenant",
				map[string]any{"table": db.Statement.Table, "tenant_id": tenantID},
			))
		}
	}
}

// verifyResult re-checks every fetched row against the scope's tenant. The
// predicate injection should make a mismatch impossible; if one appears
// anyway the result is discarded and the request fails with a containment
// violation.
func (g *Guard) verifyResult(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	tenantID, ok := g.scoped(db)
	if !ok {
		return
	}
	field := db.Statement.Schema.LookUpField(g.column)

	check := func(rv reflect.Value) bool {
		got, zero := field.ValueOf(db.Statement.Context, rv)
		if zero {
			return true
		}
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprint(got)
		}
		return strings.EqualFold(s, tenantID)
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !check(rv.Index(i)) {
				g.raiseViolation(db, tenantID)
				return
			}
		}
	case reflect.Struct:
		if db.RowsAffected > 0 && !check(rv) {
			g.raiseViolation(db, tenantID)
		}
	}
}

// raiseViolation scrubs the destination, records an audit event, and fails
// the statement with a typed isolation violation.
func (g *Guard) raiseViolation(db *gorm.DB, tenantID string) {
	rv := db.Statement.ReflectValue
	if rv.CanSet() {
		rv.Set(reflect.Zero(rv.Type()))
	}
	db.RowsAffected = 0

	table := db.Statement.Table
	g.logger.Error("Cross-tenant row detected in result set",
		zap.String("tenant_id", tenantID),
		zap.String("table", table),
	)
	g.recorder.Record(db.Statement.Context, audit.Event{
		Kind:     audit.KindIsolationViolation,
		TenantID: tenantID,
		Details:  map[string]any{"table": table},
	})

	_ = db.AddError(shared.NewInvariantViolation(
		shared.TenantIsolationViolation,
		"query returned a row owned by a foreign tenant",
		map[string]any{"table": table, "tenant_id": tenantID},
	))
}

// hasTenantCondition reports whether the statement already constrains the
// tenant column, either through a structured clause or hand-written SQL.
func (g *Guard) hasTenantCondition(db *gorm.DB) bool {
	if whereClause, ok := db.Statement.Clauses["WHERE"]; ok {
		if where, ok := whereClause.Expression.(clause.Where); ok {
			for _, expr := range where.Exprs {
				if g.exprMentionsTenant(expr) {
					return true
				}
			}
		}
	}
	if sql := db.Statement.SQL.String(); sql != "" && strings.Contains(sql, g.column) {
		return true
	}
	return false
}

func (g *Guard) exprMentionsTenant(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == g.column
		}
	case clause.IN:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == g.column
		}
	case clause.Expr:
		return strings.Contains(e.SQL, g.column)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if g.exprMentionsTenant(cond) {
				return true
			}
		}
	case clause.OrConditions:
		for _, cond := range e.Exprs {
			if g.exprMentionsTenant(cond) {
				return true
			}
		}
	}
	return false
}
