package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/http/handlers/common"
	"github.com/ignatzorin/ecolog-backend/internal/http/middleware"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/service"
)

// SessionHandler выдаёт сессию по отображаемому имени.
type SessionHandler struct {
	sessions *service.SessionManager
	store    *service.ReportStore
}

func NewSessionHandler(sessions *service.SessionManager, store *service.ReportStore) *SessionHandler {
	return &SessionHandler{sessions: sessions, store: store}
}

// Login POST /api/session
func (h *SessionHandler) Login(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if !common.BindJSON(c, &req) {
		return
	}

	session, err := h.sessions.Issue(req.Name)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// Me GET /api/session
func (h *SessionHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusOK, models.SessionInfo{})
		return
	}

	count, err := h.store.CountByReporter(c.Request.Context(), user.Name)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SessionInfo{User: user, ReportCount: count})
}
