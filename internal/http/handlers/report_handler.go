package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/geocode"
	"github.com/ignatzorin/ecolog-backend/internal/http/handlers/common"
	"github.com/ignatzorin/ecolog-backend/internal/http/middleware"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/service"
)

const maxImportBatch = 5000

// ReportHandler обслуживает CRUD обращений.
type ReportHandler struct {
	store   *service.ReportStore
	pickers *geocode.PickerRegistry
}

func NewReportHandler(store *service.ReportStore, pickers *geocode.PickerRegistry) *ReportHandler {
	return &ReportHandler{store: store, pickers: pickers}
}

// List GET /api/reports
func (h *ReportHandler) List(c *gin.Context) {
	reports, err := h.store.List(c.Request.Context())
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// Get GET /api/reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.store.Get(c.Request.Context(), middleware.ReportID(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Create POST /api/reports
// Без координат или места берётся текущая точка, выбранная пользователем на карте.
func (h *ReportHandler) Create(c *gin.Context) {
	user, ok := common.RequireUser(c)
	if !ok {
		return
	}

	var candidate models.ReportCandidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeMalformedInput, "corpo da requisição inválido"))
		return
	}

	if h.pickers != nil {
		if pick, ok := h.pickers.For(user.Name).Current(); ok {
			if candidate.Lat == nil && candidate.Lon == nil {
				candidate.Lat, candidate.Lon = &pick.Lat, &pick.Lon
			}
			if strings.TrimSpace(candidate.Place) == "" && samePoint(candidate, pick) {
				candidate.Place = pick.Place
			}
		}
	}

	report, err := h.store.Create(c.Request.Context(), user, candidate)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// Update PATCH /api/reports/:id
func (h *ReportHandler) Update(c *gin.Context) {
	var patch models.ReportPatch
	if !common.BindJSON(c, &patch) {
		return
	}
	if patch.Empty() {
		common.Fail(c, apperror.Malformed("nada para atualizar"))
		return
	}

	report, err := h.store.Update(c.Request.Context(), middleware.ReportID(c), patch)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ToggleResolved POST /api/reports/:id/resolve
func (h *ReportHandler) ToggleResolved(c *gin.Context) {
	report, err := h.store.ToggleResolved(c.Request.Context(), middleware.ReportID(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Delete DELETE /api/reports/:id
// Отвечает 202: запись можно вернуть до expiresAt.
func (h *ReportHandler) Delete(c *gin.Context) {
	pending, err := h.store.SoftDelete(c.Request.Context(), middleware.ReportID(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, pending)
}

// Restore POST /api/reports/:id/restore
func (h *ReportHandler) Restore(c *gin.Context) {
	report, err := h.store.UndoDelete(c.Request.Context(), middleware.ReportID(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Import POST /api/reports/import
// Тело — массив записей старого формата.
func (h *ReportHandler) Import(c *gin.Context) {
	user, ok := common.RequireUser(c)
	if !ok {
		return
	}

	var legacy []models.LegacyReport
	if !common.BindJSON(c, &legacy) {
		return
	}
	if len(legacy) > maxImportBatch {
		common.Fail(c, apperror.Malformed("no máximo %d registros por importação", maxImportBatch))
		return
	}

	result, err := h.store.Import(c.Request.Context(), user, legacy)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func samePoint(c models.ReportCandidate, pick models.Resolution) bool {
	return c.Lat != nil && c.Lon != nil && *c.Lat == pick.Lat && *c.Lon == pick.Lon
}
