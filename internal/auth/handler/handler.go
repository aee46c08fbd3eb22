package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth/engine"
	"github.com/SspStark/adminsphere-server/internal/auth/provider"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/middleware"
	"github.com/SspStark/adminsphere-server/internal/ratelimit"
	"github.com/SspStark/adminsphere-server/internal/session"
)

type Options struct {
	Cookie session.CookieOptions
	// ClientURL is where the OAuth callback sends the browser afterwards.
	// Empty means the callback answers with JSON.
	ClientURL string

	LoginRule  ratelimit.Rule
	ForgotRule ratelimit.Rule
}

type Handler struct {
	engine    *engine.Engine
	providers *provider.Registry
	auth      *middleware.AuthMiddleware
	limiter   *ratelimit.Limiter
	opts      Options
}

// NewHandler wires the auth routes. A nil limiter disables rate limiting.
func NewHandler(
	eng *engine.Engine,
	providers *provider.Registry,
	auth *middleware.AuthMiddleware,
	limiter *ratelimit.Limiter,
	opts Options,
) *Handler {
	return &Handler{
		engine:    eng,
		providers: providers,
		auth:      auth,
		limiter:   limiter,
		opts:      opts,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	requireAuth := middleware.GinRequireAuth(h.auth)

	r.POST("/login", h.limit(h.opts.LoginRule), h.login)
	r.POST("/logout", h.logout)
	r.GET("/me", requireAuth, h.me)
	r.POST("/me/password", requireAuth, h.changePassword)
	r.POST("/forgot-password", h.limit(h.opts.ForgotRule), h.forgotPassword)
	r.POST("/reset-password", h.resetPassword)

	r.GET("/oauth/start", h.oauthStart)
	r.GET("/oauth/callback", h.oauthCallback)

	admins := middleware.RequireRole(identity.RoleAdmin, identity.RoleSuperAdmin)
	r.POST("/admin/sessions/:id/revoke", requireAuth, admins, h.revokeSession)
	r.GET("/admin/users/:id/audit", requireAuth, admins, h.auditTrail)
}

func (h *Handler) limit(rule ratelimit.Rule) gin.HandlerFunc {
	if h.limiter == nil || rule.Limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return h.limiter.Middleware(rule)
}

func requestMeta(c *gin.Context) engine.RequestMeta {
	return engine.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// respondError writes the error envelope. Internal errors are logged in
// full and shown to the client with a generic message.
func respondError(c *gin.Context, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		logger.Error("request failed", map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"error":  err.Error(),
		})
	}

	c.AbortWithStatusJSON(ae.Status(), gin.H{
		"success": false,
		"message": ae.Message,
		"code":    ae.Kind,
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.New(apperr.KindValidation, message))
}

func respondOK(c *gin.Context, body gin.H) {
	body["success"] = true
	c.JSON(http.StatusOK, body)
}
