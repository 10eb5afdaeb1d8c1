package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/shared/server/respond"
	"anamnesis-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a structured 500. Gin's own writer is
// discarded so the panic is logged once, through telemetry.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		telemetry.Error("http.panic", map[string]any{
			"request_id": RequestIDFromContext(c),
			"panic":      rec,
			"stack":      string(debug.Stack()),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error", nil)
	})
}
