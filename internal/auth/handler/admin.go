package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/SspStark/adminsphere-server/internal/middleware"
)

func (h *Handler) revokeSession(c *gin.Context) {
	p, found := middleware.CurrentPrincipal(c)
	if !found {
		respondError(c, errNoPrincipal)
		return
	}

	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid user id")
		return
	}

	if err := h.engine.RevokeSession(c.Request.Context(), p.Identity, target, requestMeta(c)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Session revoked"})
}

// auditTrail lists the latest auth events of one identity. ?limit= is
// optional.
func (h *Handler) auditTrail(c *gin.Context) {
	p, found := middleware.CurrentPrincipal(c)
	if !found {
		respondError(c, errNoPrincipal)
		return
	}

	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid user id")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "Invalid limit")
			return
		}
	}

	records, err := h.engine.AuditTrail(c.Request.Context(), p.Identity, target, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"logs": records})
}
