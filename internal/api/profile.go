package api

import (
	"net/http"

	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/gin-gonic/gin"
)

func (h *Handler) GetMe(c *gin.Context) {
	p := auth.MustPrincipal(c)
	ctx := c.Request.Context()

	prof, err := h.Recovery.Profile(ctx, p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	_, plan, err := h.Billing.Subscription(ctx, p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	quota, err := h.Reports.Quota(ctx, p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":       prof,
		"email":         p.Email,
		"role":          p.Role,
		"plan":          plan,
		"reports_quota": quota,
	})
}

func (h *Handler) PatchMe(c *gin.Context) {
	p := auth.MustPrincipal(c)
	ctx := c.Request.Context()

	var patch schema.ProfilePatch
	if !bindJSON(c, &patch, false) {
		return
	}
	current, err := h.Recovery.Profile(ctx, p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := patch.Validate(*current); err != nil {
		fail(c, err)
		return
	}
	updated, err := h.Store.UpdateProfile(ctx, p.UserID, patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
