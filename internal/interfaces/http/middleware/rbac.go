package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/backend/internal/domain/shared"
	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/governance"
)

// RBACConfig wires the governed role registry into request handling.
type RBACConfig struct {
	// Registry is the governed role set. When nil the process registry is
	// used; a nil process registry (relaxed startup) disables role checks.
	Registry *governance.Registry
	Recorder audit.Recorder
	Logger   *zap.Logger
}

func (cfg RBACConfig) registry() *governance.Registry {
	if cfg.Registry != nil {
		return cfg.Registry
	}
	return governance.ProcessRegistry()
}

// GovernedRoles rejects any request whose token carries a role outside the
// governed set. A token minted against a stale or hand-edited role list is
// refused wholesale rather than partially honored.
//
// Must run after JWTAuthMiddleware.
func GovernedRoles(cfg RBACConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg := cfg.registry()
		if reg == nil {
			c.Next()
			return
		}
		claims := GetJWTClaims(c)
		if claims == nil {
			c.Next()
			return
		}

		if err := reg.AssertRolesGoverned(claims.Roles); err != nil {
			violation, _ := shared.AsInvariantViolation(err)
			if cfg.Logger != nil {
				cfg.Logger.Warn("Request carries ungoverned role",
					zap.String("user_id", claims.UserID),
					zap.Any("details", violation.Details),
				)
			}
			if cfg.Recorder != nil {
				cfg.Recorder.Record(c.Request.Context(), audit.Event{
					Kind:     audit.KindRoleRejected,
					TenantID: claims.TenantID,
					Details:  violation.Details,
				})
			}
			abortWithViolation(c, http.StatusForbidden, violation)
			return
		}
		c.Next()
	}
}

// RequireRole allows only requests whose token carries the given governed
// role. The role itself must be in the governed set; a handler demanding an
// ungoverned role is a programming error surfaced at route registration.
func RequireRole(cfg RBACConfig, role string) gin.HandlerFunc {
	if reg := cfg.registry(); reg != nil {
		if err := reg.AssertRoleGoverned(role); err != nil {
			panic(err)
		}
	}
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil || !claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Insufficient role",
				},
			})
			return
		}
		c.Next()
	}
}
