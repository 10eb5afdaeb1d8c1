package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/apperrors"
)

func TestErrorCategoryFollowsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		status    int
		category  apperrors.Category
		retryable bool
	}{
		{http.StatusBadRequest, apperrors.CategoryValidation, false},
		{http.StatusUnauthorized, apperrors.CategoryAuthentication, false},
		{http.StatusForbidden, apperrors.CategoryAuthorization, false},
		{http.StatusTooManyRequests, apperrors.CategoryRateLimit, true},
		{http.StatusInternalServerError, apperrors.CategoryInternal, false},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(resp)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/anamnesis", nil)
		c.Set("requestId", "req-1")

		Error(c, tc.status, "SOME_CODE", "message", nil)

		if resp.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, resp.Code)
		}
		var body ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Success || body.Error.Category != tc.category || body.Error.Retryable != tc.retryable {
			t.Fatalf("status %d: unexpected body %+v", tc.status, body.Error)
		}
		if body.Error.SuggestedAction != apperrors.SuggestedAction(tc.category) || body.Error.RequestID != "req-1" {
			t.Fatalf("status %d: unexpected body %+v", tc.status, body.Error)
		}
	}
}
