package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
)

// Tenant context key and route parameter
const (
	TenantIDKey   = "tenant_id"
	TenantIDParam = "tenant_id"
)

// TenantScope binds the :tenant_id route parameter to the token's tenant.
// A token can only reach its own tenant's sync data.
func TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(TenantIDParam)
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeBadRequest, "Invalid tenant ID format", GetRequestID(c)))
			return
		}

		claimTenant := GetJWTTenantID(c)
		if claimTenant == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Authentication required", GetRequestID(c)))
			return
		}
		if claimID, err := uuid.Parse(claimTenant); err != nil || claimID != tenantID {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Token is not valid for this tenant", GetRequestID(c)))
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenantID.String()))
		c.Next()
	}
}

// GetTenantID returns the tenant bound by TenantScope
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	if v, ok := c.Get(TenantIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}
