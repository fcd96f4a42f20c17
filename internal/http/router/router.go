package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/config"
	"github.com/ignatzorin/ecolog-backend/internal/http/handlers"
	"github.com/ignatzorin/ecolog-backend/internal/http/middleware"
	"github.com/ignatzorin/ecolog-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	sessions *service.SessionManager,
	sessionHandler *handlers.SessionHandler,
	reportHandler *handlers.ReportHandler,
	summaryHandler *handlers.SummaryHandler,
	geocodeHandler *handlers.GeocodeHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	api.Use(middleware.OptionalAuth(sessions))

	api.POST("/session", middleware.RateLimitMiddleware(10, cfg.RateLimitPeriod), sessionHandler.Login)
	api.GET("/session", sessionHandler.Me)
	api.GET("/ws", wsHandler.Handle)

	// Публичные маршруты
	api.GET("/reports", reportHandler.List)
	api.GET("/reports/summary", summaryHandler.Summary)
	api.GET("/reports/:id", middleware.ReportIDValidator("id"), reportHandler.Get)
	api.PATCH("/reports/:id", middleware.ReportIDValidator("id"), reportHandler.Update)
	api.POST("/reports/:id/resolve", middleware.ReportIDValidator("id"), reportHandler.ToggleResolved)
	api.DELETE("/reports/:id", middleware.ReportIDValidator("id"), reportHandler.Delete)
	api.POST("/reports/:id/restore", middleware.ReportIDValidator("id"), reportHandler.Restore)
	api.GET("/dashboard", summaryHandler.Dashboard)
	api.GET("/geocode/reverse", geocodeHandler.Reverse)
	api.DELETE("/geocode/cache", geocodeHandler.ClearCache)

	// Требуют сессию
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(sessions))
	{
		protected.POST("/reports", reportHandler.Create)
		protected.POST("/reports/import", reportHandler.Import)
		protected.POST("/location", geocodeHandler.Pick)
	}

	return r
}
