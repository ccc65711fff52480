// Package startup validates runtime invariants before the service accepts
// traffic. Every check failure is a typed shared.InvariantViolation; any
// failure aborts the boot sequence. The checks run once, single-threaded,
// before the HTTP listener binds.
package startup

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/backend/internal/domain/shared"
	"github.com/ledgerline/backend/internal/infrastructure/config"
	"github.com/ledgerline/backend/internal/infrastructure/governance"
)

// State is the validator's position in the startup sequence.
type State string

// Startup states, in transition order. Aborted is terminal.
const (
	StateUnvalidated         State = "unvalidated"
	StateEnvValidated        State = "env_validated"
	StateGovernanceValidated State = "governance_validated"
	StateMigrationsValidated State = "migrations_validated"
	StateReady               State = "ready"
	StateAborted             State = "aborted"
)

// MigrationsTable is the bookkeeping table golang-migrate maintains; its
// existence certifies that schema migrations have been applied.
const MigrationsTable = "schema_migrations"

// Result reports the outcome of a successful validation run.
type Result struct {
	State    State
	Registry *governance.Registry // nil only when governance checks were relaxed
	Relaxed  bool
}

// Validator runs the startup invariant checks.
type Validator struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *zap.Logger
	state  State
}

// New creates a Validator. db may be nil only when the migrations check will
// be relaxed (non-production with the relaxation toggle set).
func New(cfg *config.Config, db *gorm.DB, log *zap.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		db:     db,
		logger: log.Named("startup"),
		state:  StateUnvalidated,
	}
}

// State returns the validator's current state.
func (v *Validator) State() State {
	return v.state
}

// Run executes the startup sequence. On any violation the validator moves to
// Aborted and the caller must not begin serving traffic.
func (v *Validator) Run(ctx context.Context) (*Result, error) {
	relaxed := v.relaxed()

	if err := v.validateEnv(); err != nil {
		return v.abort(err)
	}
	v.state = StateEnvValidated
	v.logger.Info("Environment invariants satisfied")

	if relaxed {
		v.logger.Warn("Relaxed startup enabled: skipping governance and migration checks",
			zap.String("env", v.cfg.App.Env))
		v.state = StateReady
		return &Result{State: v.state, Registry: nil, Relaxed: true}, nil
	}

	if err := v.validateGovernance(); err != nil {
		return v.abort(err)
	}
	v.state = StateGovernanceValidated
	v.logger.Info("Governance lock artifacts present", zap.String("dir", v.cfg.Governance.Dir))

	if err := v.validateMigrations(ctx); err != nil {
		return v.abort(err)
	}
	v.state = StateMigrationsValidated

	registry, err := v.loadRegistry()
	if err != nil {
		return v.abort(err)
	}
	v.state = StateReady
	v.logger.Info("Startup invariants satisfied",
		zap.String("contract_version", registry.ContractVersion()),
		zap.Strings("governed_roles", registry.KnownRoles()),
	)

	return &Result{State: v.state, Registry: registry, Relaxed: false}, nil
}

// relaxed reports whether the governance and migration checks may be skipped.
// The toggle is never honored in production; config validation rejects that
// combination, and this guards against a hand-built config as well.
func (v *Validator) relaxed() bool {
	return v.cfg.Startup.AllowRelaxed && !v.cfg.App.IsProduction()
}

func (v *Validator) abort(err error) (*Result, error) {
	v.state = StateAborted
	if violation, ok := shared.AsInvariantViolation(err); ok {
		v.logger.Error("Startup invariant violated",
			zap.String("code", string(violation.Code)),
			zap.String("message", violation.Message),
			zap.Any("details", violation.Details),
		)
	}
	return nil, err
}

// envShape is the required environment surface, validated as a whole so
// ENV_INVALID reports every violated field rather than the first.
type envShape struct {
	AppEnv       string `validate:"required,oneof=development staging production"`
	AppPort      string `validate:"required,number"`
	DatabaseURL  string `validate:"required,uri"`
	JWTSecret    string `validate:"required"`
	LogLevel     string `validate:"required,oneof=debug info warn error"`
	AllowRelaxed bool
}

// envVarNames maps envShape fields to the environment variables operators set.
var envVarNames = map[string]string{
	"AppEnv":      "LEDGERLINE_APP_ENV",
	"AppPort":     "LEDGERLINE_APP_PORT",
	"DatabaseURL": "DATABASE_URL",
	"JWTSecret":   "LEDGERLINE_JWT_SECRET",
	"LogLevel":    "LEDGERLINE_LOG_LEVEL",
}

func (v *Validator) validateEnv() error {
	shape := envShape{
		AppEnv:       v.cfg.App.Env,
		AppPort:      v.cfg.App.Port,
		DatabaseURL:  v.cfg.Database.URL,
		JWTSecret:    v.cfg.JWT.Secret,
		LogLevel:     v.cfg.Log.Level,
		AllowRelaxed: v.cfg.Startup.AllowRelaxed,
	}

	validate := validator.New()
	err := validate.Struct(shape)
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		for _, fe := range errs {
			name := envVarNames[fe.StructField()]
			if name == "" {
				name = fe.StructField()
			}
			fields[name] = fe.Tag()
		}
	} else {
		fields["_"] = err.Error()
	}

	return shared.NewInvariantViolation(shared.EnvInvalid,
		fmt.Sprintf("%d environment invariant(s) violated", len(fields)),
		map[string]any{"fields": fields})
}

func (v *Validator) validateGovernance() error {
	status := governance.InspectArtifacts(v.cfg.Governance.Dir)
	if status.OK() {
		return nil
	}
	details := map[string]any{"dir": v.cfg.Governance.Dir}
	if len(status.Missing) > 0 {
		details["missing"] = status.Missing
	}
	if len(status.Unreadable) > 0 {
		details["unreadable"] = status.Unreadable
	}
	return shared.NewInvariantViolation(shared.GovernanceLockMissing,
		"governance lock artifacts are missing or unreadable",
		details)
}

func (v *Validator) validateMigrations(ctx context.Context) error {
	// Only production certifies applied migrations by table existence; in
	// development the schema may be mid-evolution.
	if !v.cfg.App.IsProduction() {
		return nil
	}

	var exists bool
	err := v.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)", MigrationsTable).
		Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("checking migrations table: %w", err)
	}
	if !exists {
		return shared.NewInvariantViolation(shared.DBMigrationsMissing,
			"applied-migrations bookkeeping table does not exist",
			map[string]any{"table": MigrationsTable})
	}
	return nil
}

func (v *Validator) loadRegistry() (*governance.Registry, error) {
	lock, deps, err := governance.LoadArtifacts(v.cfg.Governance.Dir)
	if err != nil {
		return nil, shared.NewInvariantViolation(shared.GovernanceLockMissing,
			"governance lock artifacts failed to load",
			map[string]any{"error": err.Error()})
	}

	for _, role := range deps.Roles {
		v.logger.Warn("Governed role is deprecated", zap.String("role", role))
	}

	registry := governance.NewRegistry(lock)
	governance.SetProcessRegistry(registry)
	return registry, nil
}
