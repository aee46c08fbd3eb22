package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinRequireAuth adapts the net/http AuthMiddleware to Gin. The rest of
// the chain only runs when the wrapped middleware calls through.
func GinRequireAuth(auth *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		})

		auth.RequireAuth(next).ServeHTTP(c.Writer, c.Request)

		if !called {
			c.Abort()
		}
	}
}

// CurrentPrincipal returns the caller set by GinRequireAuth.
func CurrentPrincipal(c *gin.Context) (*Principal, bool) {
	return PrincipalFromContext(c.Request.Context())
}
