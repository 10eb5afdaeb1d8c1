package respond

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/shared/telemetry"
)

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Success bool                  `json:"success"`
	Error   apperrors.PublicError `json:"error"`
}

// Error sends an error response built from a bare code and message, for
// failures raised outside the service layer (auth, rate limiting, panics).
func Error(c *gin.Context, status int, code, message string, details map[string]any) {
	category := categoryFor(status)
	severity := apperrors.SeverityLow
	if status >= 500 {
		severity = apperrors.SeverityHigh
	}
	StructuredError(c, status, apperrors.PublicError{
		Code:            code,
		Message:         message,
		Category:        category,
		Severity:        severity,
		Retryable:       status == 429 || status == 503,
		SuggestedAction: apperrors.SuggestedAction(category),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		RequestID:       c.GetString("requestId"),
		Details:         details,
	})
}

func categoryFor(status int) apperrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.CategoryAuthentication
	case status == http.StatusForbidden:
		return apperrors.CategoryAuthorization
	case status == http.StatusTooManyRequests:
		return apperrors.CategoryRateLimit
	case status >= 500:
		return apperrors.CategoryInternal
	default:
		return apperrors.CategoryValidation
	}
}

// StructuredError sends a client-safe structured error.
func StructuredError(c *gin.Context, status int, body apperrors.PublicError) {
	fields := map[string]any{
		"status":     status,
		"code":       body.Code,
		"message":    body.Message,
		"category":   string(body.Category),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if isGuest, ok := c.Get("isGuest"); ok {
		fields["is_guest"] = isGuest
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	if body.RequestID == "" {
		body.RequestID = c.GetString("requestId")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: body})
}
