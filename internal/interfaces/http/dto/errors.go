package dto

import "net/http"

// Error codes returned by the API. Invariant codes mirror the typed
// violations raised by the isolation and governance layers.
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"

	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	ErrCodeAPIVersionHeaderMissing = "API_VERSION_HEADER_MISSING"
	ErrCodeAPIVersionMismatch      = "API_VERSION_MISMATCH"
	ErrCodeRBACRoleUnknown         = "RBAC_ROLE_UNKNOWN"
	ErrCodeTenantIsolation         = "TENANT_ISOLATION_VIOLATION"
)

// statusByCode maps API error codes to HTTP status codes.
var statusByCode = map[string]int{
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInternal:     http.StatusInternalServerError,

	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeAPIVersionHeaderMissing: http.StatusBadRequest,
	ErrCodeAPIVersionMismatch:      http.StatusUpgradeRequired,
	ErrCodeRBACRoleUnknown:         http.StatusForbidden,
	// An isolation violation is a server-side containment failure, not a
	// client error.
	ErrCodeTenantIsolation: http.StatusInternalServerError,

	// Domain error codes.
	"ALREADY_EXISTS":       http.StatusConflict,
	"INVALID_INPUT":        http.StatusBadRequest,
	"INVALID_STATE":        http.StatusUnprocessableEntity,
	"CONCURRENCY_CONFLICT": http.StatusConflict,

	"ORG_SCOPE_REQUIRED":       http.StatusBadRequest,
	"INVOICE_NUMBER_REQUIRED":  http.StatusBadRequest,
	"INVOICE_AMOUNT_INVALID":   http.StatusBadRequest,
	"INVOICE_CURRENCY_INVALID": http.StatusBadRequest,
	"INVOICE_NOT_DRAFT":        http.StatusUnprocessableEntity,
	"INVOICE_NOT_ISSUED":       http.StatusUnprocessableEntity,
	"INVOICE_TERMINAL":         http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status for an API error code, defaulting to
// 500 for unknown codes.
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
