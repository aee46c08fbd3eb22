package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/middleware"
)

const forgotPasswordMessage = "If this email exists, a password reset link has been sent"

var errNoPrincipal = apperr.New(apperr.KindUnauthorized, "No token provided")

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if err := h.engine.ForgotPassword(c.Request.Context(), req.Email, requestMeta(c)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": forgotPasswordMessage})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if err := h.engine.ResetPassword(c.Request.Context(), req.Token, req.NewPassword, requestMeta(c)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Password reset successful"})
}

func (h *Handler) changePassword(c *gin.Context) {
	p, found := middleware.CurrentPrincipal(c)
	if !found {
		respondError(c, errNoPrincipal)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	err := h.engine.ChangePassword(c.Request.Context(), p.Identity.ID, req.CurrentPassword, req.NewPassword, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Password updated successfully"})
}
