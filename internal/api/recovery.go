package api

import (
	"net/http"
	"strconv"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/trends"
	"github.com/gin-gonic/gin"
)

func (h *Handler) RecoveryStatus(c *gin.Context) {
	p := auth.MustPrincipal(c)
	st, err := h.Recovery.Status(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) StartSession(c *gin.Context) {
	p := auth.MustPrincipal(c)
	s, err := h.Recovery.StartSession(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) ResolveSession(c *gin.Context) {
	p := auth.MustPrincipal(c)
	id, ok := rowID(c, "recovery session")
	if !ok {
		return
	}
	s, err := h.Recovery.Resolve(c.Request.Context(), p.UserID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Sweep is called by the external scheduler.
func (h *Handler) Sweep(c *gin.Context) {
	res, err := h.Recovery.Sweep(c.Request.Context(), h.clock())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Cohorts(c *gin.Context) {
	weeks := 0
	if v := c.Query("weeks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, apperr.BadRequest("weeks must be a positive integer"))
			return
		}
		weeks = n
	}
	weeks = trends.ClampWeeks(weeks)
	cohorts, err := h.Trends.Cohorts(c.Request.Context(), weeks)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weeks": weeks, "cohorts": cohorts})
}
