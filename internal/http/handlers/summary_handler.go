package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/http/handlers/common"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/service"
)

const defaultWindowDays = 30

// SummaryHandler отдаёт сводку и дашборд.
type SummaryHandler struct {
	queries *service.QueryService
}

func NewSummaryHandler(queries *service.QueryService) *SummaryHandler {
	return &SummaryHandler{queries: queries}
}

// Summary GET /api/reports/summary?days=30&place=all
func (h *SummaryHandler) Summary(c *gin.Context) {
	days, err := common.ParseIntQuery(c, "days", defaultWindowDays)
	if err != nil {
		common.Fail(c, err)
		return
	}

	result, err := h.queries.Query(c.Request.Context(), days, c.DefaultQuery("place", models.AllPlaces))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Dashboard GET /api/dashboard
func (h *SummaryHandler) Dashboard(c *gin.Context) {
	view, err := h.queries.Dashboard(c.Request.Context())
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
