package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

// oauthStart redirects to the provider named by ?provider=, or the default
// one, with fresh state and PKCE cookies.
func (h *Handler) oauthStart(c *gin.Context) {
	p, err := h.providers.Get(c.Query("provider"))
	if err != nil {
		badRequest(c, "Unknown OAuth provider")
		return
	}

	state := h.generateState(c)
	_, challenge := h.generatePKCE(c)
	h.setFlowCookie(c, providerCookieName, p.Name(), stateTTL)

	c.Redirect(http.StatusFound, p.AuthCodeURL(state, challenge))
}

func (h *Handler) oauthCallback(c *gin.Context) {
	h.clearFlowCookies(c)

	if !validateState(c) {
		h.oauthFailed(c, apperr.New(apperr.KindOAuthFailed, "Invalid OAuth state"))
		return
	}

	// the provider reports cancellations and consent errors here
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oidc callback returned error", map[string]any{
			"error": errParam,
			"desc":  c.Query("error_description"),
		})
		h.oauthFailed(c, apperr.New(apperr.KindOAuthFailed, "OAuth authentication failed"))
		return
	}

	code := c.Query("code")
	if code == "" {
		badRequest(c, "Authorization code is required")
		return
	}

	verifier := getPKCEVerifier(c)
	if verifier == "" {
		h.oauthFailed(c, apperr.New(apperr.KindOAuthFailed, "Missing PKCE verifier"))
		return
	}

	res, err := h.engine.OAuthLogin(c.Request.Context(), flowProvider(c), code, verifier, requestMeta(c))
	if err != nil {
		h.oauthFailed(c, err)
		return
	}

	h.startSession(c, res)
	if h.opts.ClientURL != "" {
		c.Redirect(http.StatusFound, h.opts.ClientURL)
		return
	}
	respondOK(c, gin.H{
		"message": "Login successful",
		"user":    res.Profile,
	})
}

// oauthFailed sends the browser back to the frontend login page with the
// error code, or answers with JSON when no frontend is configured.
func (h *Handler) oauthFailed(c *gin.Context, err error) {
	if h.opts.ClientURL == "" {
		respondError(c, err)
		return
	}

	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		logger.Error("oauth callback failed", map[string]any{"error": err.Error()})
	}

	q := url.Values{}
	q.Set("error", strings.ToLower(string(ae.Kind)))
	q.Set("message", ae.Message)
	c.Redirect(http.StatusFound, strings.TrimSuffix(h.opts.ClientURL, "/")+"/login?"+q.Encode())
}
