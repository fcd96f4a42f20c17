package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
)

// ContextReportIDKey — ключ разобранного id в gin.Context.
const ContextReportIDKey = "reportID"

// ReportIDValidator проверяет, что параметр — положительное целое, и кладёт его в контекст.
// Использование: router.GET("/reports/:id", ReportIDValidator("id"), handler.Get)
func ReportIDValidator(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(paramName)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			abortWithError(c, apperror.Malformed("parâmetro %s deve ser um número inteiro positivo", paramName))
			return
		}

		c.Set(ContextReportIDKey, id)
		c.Next()
	}
}

// ReportID возвращает id, сохранённый ReportIDValidator.
func ReportID(c *gin.Context) int64 {
	return c.GetInt64(ContextReportIDKey)
}
