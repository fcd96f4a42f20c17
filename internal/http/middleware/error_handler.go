package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно: хэндлеры кладут ошибку
// через c.Error, а ответ {"error", "code"} формируется здесь.
// Внутренние ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := errorResponse(err)

		entry := logger.Log.WithFields(logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("Request error")
		} else {
			entry.Debug("Request rejected")
		}

		c.JSON(status, body)
	}
}

// abortWithError прерывает цепочку и отвечает сразу.
func abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code}
	}
	return http.StatusInternalServerError, gin.H{
		"error": "erro interno do servidor",
		"code":  apperror.ErrCodeInternal,
	}
}
