package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/backend/internal/domain/shared"
)

// APIVersionConfig declares the contract version the route group serves and
// the header clients must send it in.
type APIVersionConfig struct {
	Header   string
	Expected string
	// Logger receives the violation details that are withheld from the
	// response body. Optional.
	Logger *zap.Logger
}

// DefaultAPIVersionConfig returns the default version guard configuration.
func DefaultAPIVersionConfig() APIVersionConfig {
	return APIVersionConfig{
		Header:   "X-API-Version",
		Expected: "v1",
	}
}

// APIVersionGuard rejects requests that do not declare the expected contract
// version. A missing header is a malformed request; a mismatched one means
// the client was built against a different contract and must upgrade.
func APIVersionGuard(cfg APIVersionConfig) gin.HandlerFunc {
	if cfg.Header == "" {
		cfg.Header = "X-API-Version"
	}
	return func(c *gin.Context) {
		got := c.GetHeader(cfg.Header)
		if got == "" {
			v := shared.NewInvariantViolation(
				shared.APIVersionHeaderMissing,
				"request does not declare an API contract version",
				map[string]any{"header": cfg.Header, "expected": cfg.Expected},
			)
			logViolation(cfg.Logger, v)
			abortWithViolation(c, http.StatusBadRequest, v)
			return
		}
		if got != cfg.Expected {
			v := shared.NewInvariantViolation(
				shared.APIVersionMismatch,
				"request declares an API contract version this server does not serve",
				map[string]any{"header": cfg.Header, "expected": cfg.Expected, "received": got},
			)
			logViolation(cfg.Logger, v)
			abortWithViolation(c, http.StatusUpgradeRequired, v)
			return
		}
		c.Next()
	}
}

func logViolation(log *zap.Logger, v *shared.InvariantViolation) {
	if log == nil {
		return
	}
	log.Warn("Request rejected",
		zap.String("code", string(v.Code)),
		zap.Any("details", v.Details),
	)
}

// abortWithViolation returns the violation's code and message only. The
// details never reach the body; they are logged and audited server-side.
func abortWithViolation(c *gin.Context, status int, v *shared.InvariantViolation) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    string(v.Code),
			"message": v.Message,
		},
	})
}
