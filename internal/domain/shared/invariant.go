package shared

import (
	"errors"
	"fmt"
)

// InvariantCode identifies a runtime invariant violation. The set is closed:
// callers branch on the code, never on the message text.
type InvariantCode string

const (
	// EnvInvalid means required environment configuration is missing or malformed.
	EnvInvalid InvariantCode = "ENV_INVALID"
	// GovernanceLockMissing means one or more governance lock artifacts are absent on disk.
	GovernanceLockMissing InvariantCode = "GOVERNANCE_LOCK_MISSING"
	// DBMigrationsMissing means the applied-migrations bookkeeping table does not exist.
	DBMigrationsMissing InvariantCode = "DB_MIGRATIONS_MISSING"
	// RBACRoleUnknown means a role value is not present in the governed role registry.
	RBACRoleUnknown InvariantCode = "RBAC_ROLE_UNKNOWN"
	// APIVersionHeaderMissing means a request carried no API version header.
	APIVersionHeaderMissing InvariantCode = "API_VERSION_HEADER_MISSING"
	// APIVersionMismatch means the supplied API version differs from the route group's contract.
	APIVersionMismatch InvariantCode = "API_VERSION_MISMATCH"
	// TenantIsolationViolation means a result set contained rows outside the request's tenant scope.
	TenantIsolationViolation InvariantCode = "TENANT_ISOLATION_VIOLATION"
)

// InvariantViolation is the single discriminated error type for runtime
// invariant failures. It is always fatal to the operation that raised it:
// startup violations abort the process, per-request violations reject the
// request. Details are structured for logs and tests; they are never sent
// verbatim to API callers.
type InvariantViolation struct {
	Code    InvariantCode  `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface
func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// NewInvariantViolation creates an InvariantViolation with structured details.
func NewInvariantViolation(code InvariantCode, message string, details map[string]any) *InvariantViolation {
	return &InvariantViolation{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// AsInvariantViolation unwraps err into an *InvariantViolation if it is one.
func AsInvariantViolation(err error) (*InvariantViolation, bool) {
	var v *InvariantViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsInvariantCode reports whether err is an InvariantViolation with the given code.
func IsInvariantCode(err error, code InvariantCode) bool {
	v, ok := AsInvariantViolation(err)
	return ok && v.Code == code
}
