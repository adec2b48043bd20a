package api

import (
	"net/http"
	"strings"

	"whatsapp-platform/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxTenantID = "tenant_id"
	ctxRole     = "role"
)

// Auth validates the caller's bearer token and stashes the tenant id and
// role on the context. Every /api route runs behind this.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token claims"})
			return
		}
		tenantID, ok := claims["tenant_id"].(float64)
		if !ok || tenantID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "token has no tenant"})
			return
		}

		c.Set(ctxTenantID, uint(tenantID))
		if role, ok := claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

// RequireAdmin gates tenant-admin operations such as credential management.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "admin capability required"})
			return
		}
		c.Next()
	}
}

// TenantID returns the authenticated tenant.
func TenantID(c *gin.Context) uint {
	return c.GetUint(ctxTenantID)
}

// Fail writes the error response for a taxonomy error.
func Fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"success": false,
		"error":   apperr.Message(err),
		"code":    string(apperr.KindOf(err)),
	})
}
