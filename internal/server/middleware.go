package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/glcore/internal/tenantctx"
)

const (
	// HeaderTenant scopes every request to one tenant.
	HeaderTenant = "X-Tenant-ID"
	// HeaderActor identifies the acting user for workflow steps and audit.
	HeaderActor = "X-Acting-User"
)

// TenantRequired resolves the tenant and actor headers into the request
// context. Requests without a parseable tenant ID are rejected.
func (s *Server) TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			AbortWithError(c, newValidationError("tenant", "missing_tenant", "X-Tenant-ID header is required"))
			return
		}
		tenantID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("tenant", "invalid_tenant", "X-Tenant-ID header is not a valid ID"))
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), int64(tenantID))
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = tenantctx.WithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// actor returns the acting user resolved by TenantRequired.
func (s *Server) actor(c *gin.Context) string {
	actor, _ := tenantctx.ActorFromContext(c.Request.Context())
	return actor
}
