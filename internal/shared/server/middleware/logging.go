package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/shared/telemetry"
)

const (
	analysisIDKey = "analysisId"
	transitionKey = "statusTransition"
)

// TagAnalysis records the analysis a request touched for the access log.
func TagAnalysis(c *gin.Context, analysisID string) {
	c.Set(analysisIDKey, analysisID)
}

// TagTransition records the status an analysis moved to, as "->status".
func TagTransition(c *gin.Context, to string) {
	c.Set(transitionKey, "->"+to)
}

// Logging emits one request.complete line per non-preflight request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"bytes":             c.Writer.Size(),
			"duration_ms":       float64(time.Since(start).Microseconds()) / 1000.0,
			"user_id":           c.GetString(userIDKey),
			"analysis_id":       c.GetString(analysisIDKey),
			"status_transition": c.GetString(transitionKey),
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		}
		if guest, ok := c.Get(isGuestKey); ok {
			fields["is_guest"] = guest
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields["errors"] = errs.String()
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status >= http.StatusBadRequest:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
