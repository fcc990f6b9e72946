package internal

import (
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
)

// RequireAdmin checks users.is_admin for the authenticated caller.
func RequireAdmin(db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uid(c)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}
		rows, err := db.Select(c.Request.Context(), tableUsers, sq.Eq{"id": id})
		if err != nil {
			respondError(c, persistence("load user", err))
			c.Abort()
			return
		}
		if len(rows) == 0 || !userFromRow(rows[0]).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}
