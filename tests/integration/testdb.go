// Package integration spins up real PostgreSQL databases with testcontainers
// to exercise the tenant isolation stack end to end: migrations, row security
// policies and the application-layer query guard.
package integration

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ledgerline/backend/internal/domain/identity"
)

const (
	appRole     = "ledgerline_app"
	appPassword = "app123"
)

// TestDB holds two connections into the same container: DB authenticates as
// the application role, which the row security policies bind, and Admin stays
// superuser for fixtures and DDL. Superusers skip row security entirely, so
// every scoped assertion must run through DB.
type TestDB struct {
	DB         *gorm.DB
	SqlDB      *sql.DB
	Admin      *gorm.DB
	AdminSqlDB *sql.DB
	Container  testcontainers.Container
	DSN        string
	t          *testing.T
}

// NewTestDB creates a fresh PostgreSQL container with all migrations applied,
// including the row security policies, and an application role to run the
// scoped sessions under.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledgerline_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	adminDSN, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	admin, adminSQL := connectToDatabase(t, adminDSN)
	runMigrations(t, adminSQL)
	createAppRole(t, admin)

	appDSN := rewriteDSNUser(t, adminDSN)
	db, sqlDB := connectToDatabase(t, appDSN)

	testDB := &TestDB{
		DB:         db,
		SqlDB:      sqlDB,
		Admin:      admin,
		AdminSqlDB: adminSQL,
		Container:  container,
		DSN:        appDSN,
		t:          t,
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// createAppRole provisions the login the application connects as. The role is
// deliberately neither superuser nor BYPASSRLS and owns nothing, so the
// policies apply to every statement it runs.
func createAppRole(t *testing.T, admin *gorm.DB) {
	t.Helper()

	stmts := []string{
		`CREATE ROLE ` + appRole + ` LOGIN NOSUPERUSER NOBYPASSRLS PASSWORD '` + appPassword + `'`,
		`GRANT USAGE ON SCHEMA public TO ` + appRole,
		`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO ` + appRole,
		`GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO ` + appRole,
	}
	for _, stmt := range stmts {
		require.NoError(t, admin.Exec(stmt).Error, "Failed to provision application role")
	}
}

// rewriteDSNUser swaps the superuser credentials in dsn for the application
// role's.
func rewriteDSNUser(t *testing.T, dsn string) string {
	t.Helper()

	u, err := url.Parse(dsn)
	require.NoError(t, err, "Failed to parse container DSN")
	u.User = url.UserPassword(appRole, appPassword)
	return u.String()
}

// Close closes both database connections and terminates the container
func (tdb *TestDB) Close() {
	ctx := context.Background()

	if tdb.SqlDB != nil {
		tdb.SqlDB.Close()
	}
	if tdb.AdminSqlDB != nil {
		tdb.AdminSqlDB.Close()
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(ctx); err != nil {
			tdb.t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}

// CreateTestTenant inserts a tenant root record through the admin connection.
func (tdb *TestDB) CreateTestTenant(tenantID, name, slug string) {
	tdb.t.Helper()

	tenant, err := identity.NewTenant(name, slug)
	require.NoError(tdb.t, err, "Failed to build test tenant")
	tenant.ID = tenantID

	err = tdb.Admin.Exec(`
		INSERT INTO tenants (id, name, slug, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, tenant.ID, tenant.Name, tenant.Slug, tenant.Status).Error
	require.NoError(tdb.t, err, "Failed to create test tenant")
}

// CreateTestOrganization inserts an organization under tenantID through the
// admin connection so fixtures can be seeded for any tenant.
func (tdb *TestDB) CreateTestOrganization(tenantID string, orgID int64, name string) {
	tdb.t.Helper()

	org, err := identity.NewOrganization(orgID, name)
	require.NoError(tdb.t, err, "Failed to build test organization")
	org.TenantID = tenantID

	err = tdb.Admin.Exec(`
		INSERT INTO organizations (tenant_id, org_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, org.TenantID, org.OrgID, org.Name, org.CreatedAt, org.UpdatedAt).Error
	require.NoError(tdb.t, err, "Failed to create test organization")
}

// connectToDatabase establishes a GORM connection to the database
func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")

	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

// runMigrations applies all database migrations
func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	migrationsPath := findMigrationsPath()
	require.NotEmpty(t, migrationsPath, "Could not find migrations directory")

	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	require.NoError(t, err, "Failed to create migration driver")

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsPath,
		"postgres",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to run migrations")
	}
}

// findMigrationsPath locates the migrations directory
func findMigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}

	dir := filepath.Dir(filename)
	for i := 0; i < 5; i++ {
		migrationsPath := filepath.Join(dir, "migrations")
		if _, err := os.Stat(migrationsPath); err == nil {
			return migrationsPath
		}
		dir = filepath.Dir(dir)
	}

	if wd, err := os.Getwd(); err == nil {
		paths := []string{
			filepath.Join(wd, "migrations"),
			filepath.Join(wd, "..", "migrations"),
			filepath.Join(wd, "..", "..", "migrations"),
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	return ""
}

// seedInvoice writes a row for any tenant through the admin connection.
func seedInvoice(t *testing.T, admin *gorm.DB, id, tenantID, number string) {
	t.Helper()

	err := admin.Exec(`
		INSERT INTO invoices (id, tenant_id, number, customer_name, amount, currency, status)
		VALUES (?, ?, ?, 'Seed Customer', 100.00, 'USD', 'DRAFT')
	`, id, tenantID, number).Error
	require.NoError(t, err, "Failed to seed invoice %s", number)
}
