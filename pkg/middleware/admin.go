package middleware

import (
	"slices"

	"cloudbot/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const AdminHeader = "X-Admin-ID"

// AdminOnly rejects requests whose X-Admin-ID header is not in the allow-list.
func AdminOnly(adminIDs []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(AdminHeader)
		if id == "" || !slices.Contains(adminIDs, id) {
			_ = c.Error(errutil.Forbidden("admin access required", nil))
			c.Abort()
			return
		}
		c.Set(adminContextKey, id)
		c.Next()
	}
}

const adminContextKey = "admin_id"

// AdminID returns the caller accepted by AdminOnly.
func AdminID(c *gin.Context) string {
	return c.GetString(adminContextKey)
}
