package api

import (
	"net/http"

	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/gin-gonic/gin"
)

const reportListLimit = 20

func (h *Handler) ListReports(c *gin.Context) {
	p := auth.MustPrincipal(c)
	list, err := h.Store.ListReports(c.Request.Context(), p.UserID, reportListLimit)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []schema.AIReport{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetReport(c *gin.Context) {
	p := auth.MustPrincipal(c)
	id, ok := rowID(c, "report")
	if !ok {
		return
	}
	r, err := h.Store.GetReport(c.Request.Context(), p.UserID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateReport(c *gin.Context) {
	p := auth.MustPrincipal(c)
	var in struct {
		PeriodDays int `json:"period_days"`
	}
	if !bindJSON(c, &in, true) {
		return
	}
	r, err := h.Reports.Generate(c.Request.Context(), p.UserID, in.PeriodDays)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}
