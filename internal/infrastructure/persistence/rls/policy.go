// Package rls manages Postgres row level security for tenant-scoped tables.
// Each scoped table gets four operation policies plus an administrative
// bypass policy, all predicated on transaction-local session settings. An
// unset setting yields NULL, which satisfies no predicate, so a connection
// without an established scope reads and writes nothing.
package rls

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Session setting names. All three are set with set_config(..., true) so they
// are scoped to the enclosing transaction and can never leak across pooled
// connections.
const (
	SettingTenant   = "app.current_tenant"
	SettingOrg      = "app.current_org"
	SettingBypass   = "app.rls_bypass"
	SettingOperator = "app.bypass_operator"
)

// PoliciesPerTable is the number of policies the engine maintains on every
// scoped table.
const PoliciesPerTable = 5

// Dimension selects the session setting a table's policies key on.
type Dimension string

// The two scoping dimensions. A table is scoped on exactly one of them; the
// dimensions are never mixed into a single predicate.
const (
	DimensionTenant Dimension = "tenant" // uuid column matched against app_current_tenant()
	DimensionOrg    Dimension = "org"    // bigint column matched against app_current_org()
)

// ScopedTable declares one table under row level security. Dimension
// defaults to tenant scoping; Column defaults to tenant_id or org_id
// according to the dimension.
type ScopedTable struct {
	Name      string
	Dimension Dimension
	Column    string
}

// predicate is the USING/WITH CHECK expression for the table's dimension. An
// unset session setting yields NULL, which matches nothing, so the predicate
// fails closed.
func (t ScopedTable) predicate() string {
	if t.Dimension == DimensionOrg {
		return fmt.Sprintf("%s = app_current_org()", t.Column)
	}
	return fmt.Sprintf("%s = app_current_tenant()", t.Column)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Policy DDL cannot take bind parameters, so identifiers are validated
// against a strict pattern instead.
func validIdent(s string) bool {
	return identPattern.MatchString(s)
}

// Engine applies and audits the row level security configuration.
type Engine struct {
	db     *gorm.DB
	tables []ScopedTable
	logger *zap.Logger
}

// NewEngine creates an Engine for the given scoped tables. Table and column
// names must be plain lower-case identifiers.
func NewEngine(db *gorm.DB, tables []ScopedTable, log *zap.Logger) (*Engine, error) {
	for i := range tables {
		t := &tables[i]
		switch t.Dimension {
		case "":
			t.Dimension = DimensionTenant
		case DimensionTenant, DimensionOrg:
		default:
			return nil, fmt.Errorf("rls: unknown scoping dimension %q on table %q", t.Dimension, t.Name)
		}
		if t.Column == "" {
			if t.Dimension == DimensionOrg {
				t.Column = "org_id"
			} else {
				t.Column = "tenant_id"
			}
		}
		if !validIdent(t.Name) || !validIdent(t.Column) {
			return nil, fmt.Errorf("rls: invalid identifier in table %q", t.Name)
		}
	}
	return &Engine{db: db, tables: tables, logger: log.Named("rls")}, nil
}

// Tables returns the scoped table set, sorted by name.
func (e *Engine) Tables() []ScopedTable {
	out := make([]ScopedTable, len(e.tables))
	copy(out, e.tables)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// helperStatements define the session-setting accessors the policies are
// built on. current_setting(..., true) returns NULL when the setting is
// unset instead of raising, which is what makes the predicates fail closed.
func helperStatements() []string {
	return []string{
		`CREATE OR REPLACE FUNCTION app_current_tenant() RETURNS uuid
LANGUAGE sql STABLE AS $$
  SELECT NULLIF(current_setting('app.current_tenant', true), '')::uuid
$$`,
		`CREATE OR REPLACE FUNCTION app_current_org() RETURNS bigint
LANGUAGE sql STABLE AS $$
  SELECT NULLIF(current_setting('app.current_org', true), '')::bigint
$$`,
		`CREATE OR REPLACE FUNCTION app_rls_bypass() RETURNS boolean
LANGUAGE sql STABLE AS $$
  SELECT COALESCE(NULLIF(current_setting('app.rls_bypass', true), ''), 'off') = 'on'
$$`,
	}
}

// tableStatements returns the DDL establishing RLS on one table. Policies are
// dropped before creation so re-applying the engine is idempotent and always
// converges on the current definitions.
func tableStatements(t ScopedTable) []string {
	using := t.predicate()

	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", t.Name),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", t.Name),
	}

	type policy struct {
		suffix string
		ddl    string
	}
	policies := []policy{
		{"select", fmt.Sprintf("CREATE POLICY %s_select ON %s FOR SELECT USING (%s)", t.Name, t.Name, using)},
		{"insert", fmt.Sprintf("CREATE POLICY %s_insert ON %s FOR INSERT WITH CHECK (%s)", t.Name, t.Name, using)},
		{"update", fmt.Sprintf("CREATE POLICY %s_update ON %s FOR UPDATE USING (%s) WITH CHECK (%s)", t.Name, t.Name, using, using)},
		{"delete", fmt.Sprintf("CREATE POLICY %s_delete ON %s FOR DELETE USING (%s)", t.Name, t.Name, using)},
		{"bypass", fmt.Sprintf("CREATE POLICY %s_bypass ON %s FOR ALL USING (app_rls_bypass()) WITH CHECK (app_rls_bypass())", t.Name, t.Name)},
	}
	for _, p := range policies {
		stmts = append(stmts,
			fmt.Sprintf("DROP POLICY IF EXISTS %s_%s ON %s", t.Name, p.suffix, t.Name),
			p.ddl,
		)
	}
	return stmts
}

// Statements returns every DDL statement Apply will execute, in order.
func (e *Engine) Statements() []string {
	stmts := helperStatements()
	for _, t := range e.Tables() {
		stmts = append(stmts, tableStatements(t)...)
	}
	return stmts
}

// Apply installs the helper functions and per-table policies in a single
// transaction. Safe to run on every deploy.
func (e *Engine) Apply(ctx context.Context) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range e.Statements() {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("applying %q: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("Row level security applied",
		zap.Int("tables", len(e.tables)),
		zap.Int("policies_per_table", PoliciesPerTable),
	)
	return nil
}

// TableStatus is the audited RLS state of one scoped table.
type TableStatus struct {
	Table      string   `json:"table"`
	RLSEnabled bool     `json:"rls_enabled"`
	RLSForced  bool     `json:"rls_forced"`
	Policies   []string `json:"policies"`
}

// Healthy reports whether the table carries the full expected configuration.
func (s TableStatus) Healthy() bool {
	return s.RLSEnabled && s.RLSForced && len(s.Policies) == PoliciesPerTable
}

// Report reads the live RLS state of every scoped table from the catalog.
func (e *Engine) Report(ctx context.Context) ([]TableStatus, error) {
	db := e.db.WithContext(ctx)
	out := make([]TableStatus, 0, len(e.tables))

	for _, t := range e.Tables() {
		status := TableStatus{Table: t.Name}

		var row struct {
			Rowsecurity      bool
			Forcerowsecurity bool
		}
		err := db.Raw(
			"SELECT c.relrowsecurity AS rowsecurity, c.relforcerowsecurity AS forcerowsecurity FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = current_schema() AND c.relname = ?",
			t.Name,
		).Scan(&row).Error
		if err != nil {
			return nil, fmt.Errorf("reading rls state for %s: %w", t.Name, err)
		}
		status.RLSEnabled = row.Rowsecurity
		status.RLSForced = row.Forcerowsecurity

		err = db.Raw(
			"SELECT policyname FROM pg_policies WHERE schemaname = current_schema() AND tablename = ? ORDER BY policyname",
			t.Name,
		).Scan(&status.Policies).Error
		if err != nil {
			return nil, fmt.Errorf("reading policies for %s: %w", t.Name, err)
		}
		out = append(out, status)
	}
	return out, nil
}
