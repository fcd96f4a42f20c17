package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ignatzorin/ecolog-backend/internal/http/middleware"
	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/ws"
)

// WSHandler отвечает за установку WebSocket соединений.
type WSHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт новый хэндлер. Origin проверяется по тому же списку, что и CORS.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Handle обслуживает GET /api/ws?token=... (токен необязателен).
func (h *WSHandler) Handle(c *gin.Context) {
	var name string
	if user := middleware.CurrentUser(c); user != nil {
		name = user.Name
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Component("ws").WithError(err).Debug("upgrade не удался")
		return
	}

	client := ws.NewClient(conn, h.hub, name)
	h.hub.Register(client)

	client.Run(c.Request.Context())
}
