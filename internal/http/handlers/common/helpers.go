package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/http/middleware"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
)

// Fail передаёт ошибку в middleware.ErrorHandler, который сформирует ответ.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

// RequireUser возвращает пользователя из контекста или отвечает 401.
func RequireUser(c *gin.Context) (*models.User, bool) {
	user := middleware.CurrentUser(c)
	if user == nil {
		Fail(c, apperror.ErrUnauthenticated)
		return nil, false
	}
	return user, true
}

// BindJSON разбирает тело запроса; ошибка превращается в MALFORMED_INPUT.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		Fail(c, apperror.Wrap(err, apperror.ErrCodeMalformedInput, "corpo da requisição inválido"))
		return false
	}
	return true
}

// ParseIntQuery читает целый query-параметр; пустое значение даёт fallback.
func ParseIntQuery(c *gin.Context, key string, fallback int) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperror.Malformed("parâmetro %s deve ser um número inteiro", key)
	}
	return parsed, nil
}

// ParseFloatQuery читает обязательный дробный query-параметр.
func ParseFloatQuery(c *gin.Context, key string) (float64, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, apperror.Malformed("parâmetro %s é obrigatório", key)
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperror.Wrap(fmt.Errorf("common: %s=%q: %w", key, v, err), apperror.ErrCodeMalformedInput, "parâmetro "+key+" deve ser um número")
	}
	return parsed, nil
}
