package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/backend/internal/infrastructure/logger"
	"github.com/ledgerline/backend/internal/infrastructure/tenantctx"
)

// TenantScopeKey is the gin context key holding the resolved tenant scope.
const TenantScopeKey = "tenant_scope"

// TenantResolver derives the tenant scope from the verified JWT claims and
// installs it into the request context. The scope comes from the token and
// nowhere else; headers, query parameters, and body fields naming a tenant
// are ignored. Requests without a resolvable tenant are rejected, never
// served unscoped.
//
// Must run after JWTAuthMiddleware.
func TenantResolver(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil || claims.TenantID == "" || uuid.Validate(claims.TenantID) != nil {
			if log != nil {
				log.Warn("Request without tenant scope rejected",
					zap.String("path", c.Request.URL.Path))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "TENANT_UNRESOLVED",
					"message": "No tenant could be resolved for this request",
				},
			})
			return
		}

		var scope tenantctx.Scope
		if claims.OrgID != nil {
			scope = tenantctx.NewOrgScope(claims.TenantID, *claims.OrgID)
		} else {
			scope = tenantctx.NewScope(claims.TenantID)
		}

		ctx := tenantctx.WithScope(c.Request.Context(), scope)
		reqLog := logger.FromContext(ctx)
		ctx, reqLog = logger.WithTenantID(ctx, reqLog, claims.TenantID)
		ctx, _ = logger.WithUserID(ctx, reqLog, claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(TenantScopeKey, scope)
		c.Next()
	}
}

// GetTenantScope retrieves the resolved tenant scope from gin.Context.
func GetTenantScope(c *gin.Context) (tenantctx.Scope, bool) {
	v, exists := c.Get(TenantScopeKey)
	if !exists {
		return tenantctx.Scope{}, false
	}
	scope, ok := v.(tenantctx.Scope)
	return scope, ok
}
