package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/auth/engine"
	"github.com/SspStark/adminsphere-server/internal/middleware"
	"github.com/SspStark/adminsphere-server/internal/session"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type logoutRequest struct {
	ForceLogout bool `json:"forceLogout"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	res, err := h.engine.Login(c.Request.Context(), req.Identifier, req.Password, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.startSession(c, res)
	respondOK(c, gin.H{
		"message": "Login successful",
		"user":    res.Profile,
	})
}

func (h *Handler) startSession(c *gin.Context, res *engine.LoginResult) {
	session.SetCookie(c.Writer, res.Token, h.opts.Cookie)
}

// logout is idempotent: it clears the cookie whether or not the token is
// still valid. The token only needs a good signature; a replaced session
// must still be able to log out.
func (h *Handler) logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// an empty body, chunked or not, means no options
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "Invalid request body")
			return
		}
	}

	if raw := session.TokenFromRequest(c.Request); raw != "" {
		if claims, err := h.auth.Issuer.Verify(raw); err == nil {
			h.engine.Logout(c.Request.Context(), claims, req.ForceLogout, requestMeta(c))
		}
	}

	session.ClearCookie(c.Writer, h.opts.Cookie)
	respondOK(c, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) me(c *gin.Context) {
	userID, found := middleware.UserIDFromContext(c.Request.Context())
	if !found {
		respondError(c, errNoPrincipal)
		return
	}

	profile, err := h.engine.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"user": profile})
}
