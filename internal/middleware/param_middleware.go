package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ExtractUintParam валидирует числовой URL-параметр и кладет его в контекст
// Gin под ключом contextKey как uint. Нечисловой или отрицательный параметр
// обрывает цепочку с 400 до входа в обработчик, поэтому обработчики могут
// безопасно делать c.MustGet(contextKey).(uint).
func ExtractUintParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(paramName)
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid URL parameter",
				"param": paramName,
			})
			return
		}
		c.Set(contextKey, uint(parsed))
		c.Next()
	}
}
