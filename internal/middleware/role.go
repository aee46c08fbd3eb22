package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/identity"
)

// RequireRole lets the request through only for the listed roles. It must
// run after GinRequireAuth.
func RequireRole(roles ...identity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			abort(c, apperr.New(apperr.KindUnauthorized, "No token provided"))
			return
		}
		if !slices.Contains(roles, p.Identity.Role) {
			abort(c, apperr.New(apperr.KindForbidden, "Access denied"))
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(e.Status(), gin.H{
		"success": false,
		"message": e.Message,
		"code":    e.Kind,
	})
}
