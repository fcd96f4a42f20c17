package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/service"
)

// ContextUserKey — ключ пользователя в gin.Context.
const ContextUserKey = "user"

// AuthMiddleware требует действующий токен сессии.
func AuthMiddleware(sessions *service.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortWithError(c, apperror.ErrUnauthenticated)
			return
		}

		user, err := sessions.Parse(raw)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// OptionalAuth кладёт пользователя в контекст, если токен есть и валиден.
// Без токена запрос проходит как гостевой.
func OptionalAuth(sessions *service.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			if user, err := sessions.Parse(raw); err == nil {
				c.Set(ContextUserKey, user)
			}
		}
		c.Next()
	}
}

// CurrentUser возвращает пользователя из контекста или nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// bearerToken читает токен из заголовка Authorization или из ?token= (для WebSocket).
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}
