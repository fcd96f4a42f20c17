package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/geocode"
	"github.com/ignatzorin/ecolog-backend/internal/http/handlers/common"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/validation"
)

// MissInvalidator забывает отрицательные ответы геокодера (service.CacheService).
type MissInvalidator interface {
	InvalidateGeocodeMisses()
}

// GeocodeHandler обслуживает обратное геокодирование и выбор точки на карте.
type GeocodeHandler struct {
	resolver *geocode.Resolver
	pickers  *geocode.PickerRegistry
	misses   MissInvalidator
}

func NewGeocodeHandler(resolver *geocode.Resolver, pickers *geocode.PickerRegistry, misses MissInvalidator) *GeocodeHandler {
	return &GeocodeHandler{resolver: resolver, pickers: pickers, misses: misses}
}

// Reverse GET /api/geocode/reverse?lat=&lon=[&retry=true]
func (h *GeocodeHandler) Reverse(c *gin.Context) {
	lat, err := common.ParseFloatQuery(c, "lat")
	if err != nil {
		common.Fail(c, err)
		return
	}
	lon, err := common.ParseFloatQuery(c, "lon")
	if err != nil {
		common.Fail(c, err)
		return
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeMalformedInput, err.Error()))
		return
	}

	if c.Query("retry") == "true" {
		c.JSON(http.StatusOK, h.resolver.Retry(c.Request.Context(), lat, lon))
		return
	}
	c.JSON(http.StatusOK, h.resolver.Resolve(c.Request.Context(), lat, lon))
}

// Pick POST /api/location
// Запоминает точку пользователя; устаревший выбор отвечает 409.
func (h *GeocodeHandler) Pick(c *gin.Context) {
	user, ok := common.RequireUser(c)
	if !ok {
		return
	}

	var req struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if !common.BindJSON(c, &req) {
		return
	}
	if req.Lat == nil || req.Lon == nil {
		common.Fail(c, apperror.Malformed("lat e lon são obrigatórios"))
		return
	}

	res, err := h.pickers.For(user.Name).Pick(c.Request.Context(), *req.Lat, *req.Lon)
	if errors.Is(err, geocode.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": "seleção substituída por outra mais recente", "code": "SUPERSEDED"})
		return
	}
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// ClearCache DELETE /api/geocode/cache
func (h *GeocodeHandler) ClearCache(c *gin.Context) {
	if err := h.resolver.ClearCache(c.Request.Context()); err != nil {
		common.Fail(c, apperror.Persistence(err))
		return
	}
	if h.misses != nil {
		h.misses.InvalidateGeocodeMisses()
	}
	h.pickers.ResetAll()

	c.Status(http.StatusNoContent)
}
