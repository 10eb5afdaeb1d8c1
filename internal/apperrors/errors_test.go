package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecializationsCarryKindAndDefaults(t *testing.T) {
	v := Validation("primaryUrl is required", map[string]any{"field": "primaryUrl"})
	assert.Equal(t, KindValidation, v.Kind)
	assert.Equal(t, SeverityLow, v.Severity)
	assert.False(t, v.Retryable)

	to := Timeout("analysis", 2*time.Minute)
	assert.Equal(t, KindTimeout, to.Kind)
	assert.Equal(t, SeverityMedium, to.Severity)
	assert.True(t, to.Retryable)

	an := Analysis("worker failed", errors.New("boom"))
	assert.Equal(t, KindAnalysis, an.Kind)
	assert.Equal(t, SeverityHigh, an.Severity)
	assert.True(t, an.Retryable)

	reset := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := RateLimit("slow down", reset)
	assert.Equal(t, KindRateLimit, rl.Kind)
	assert.True(t, rl.Retryable)
	require.NotNil(t, rl.ResetAt)
	assert.Equal(t, "2026-03-01T12:00:00Z", rl.Public().ResetAt)
}

func TestPublicHidesCause(t *testing.T) {
	e := Analysis("worker failed", errors.New("pq: password authentication failed")).
		WithContext(Context{RequestID: "req-1", UserID: "user-1"})

	data, err := json.Marshal(e.Public())
	require.NoError(t, err)
	body := string(data)
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "user-1")
	assert.Contains(t, body, `"requestId":"req-1"`)
	assert.Contains(t, body, `"suggestedAction"`)
}

func TestAsFindsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", Validation("bad", nil))
	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, e.Code)
	assert.True(t, HasCode(wrapped, CodeValidation))
	assert.False(t, HasCode(errors.New("plain"), CodeValidation))
}

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		err      error
		category Category
		retry    bool
	}{
		{errors.New("upstream Timeout while fetching"), CategoryTimeout, true},
		{context.DeadlineExceeded, CategoryTimeout, true},
		{errors.New("network unreachable"), CategoryNetwork, true},
		{errors.New("connection reset by peer"), CategoryNetwork, true},
		{errors.New("rate limit hit"), CategoryRateLimit, true},
		{errors.New("nil map write"), CategoryInternal, false},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		assert.Equal(t, tc.category, got.Category, tc.err.Error())
		assert.Equal(t, tc.retry, got.Retryable, tc.err.Error())
	}
}

func TestHandlerCountsResetHourly(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	h := NewHandler(func() time.Time { return now })

	h.Handle(errors.New("connection refused"), Context{})
	h.Handle(errors.New("connection refused"), Context{})
	out := h.Handle(Validation("bad", nil), Context{RequestID: "req-9"})
	assert.Equal(t, "req-9", out.RequestID)

	stats := h.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByCode[CodeNetwork])
	assert.Equal(t, 1, stats.ByCategory[string(CategoryValidation)])

	now = now.Add(time.Hour)
	stats = h.Stats()
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.ByCode)
}

func TestHandleNil(t *testing.T) {
	assert.Nil(t, NewHandler(nil).Handle(nil, Context{}))
}

func TestAuthCategoriesHaveOwnActions(t *testing.T) {
	assert.NotEqual(t, SuggestedAction(CategoryValidation), SuggestedAction(CategoryAuthentication))
	assert.NotEqual(t, SuggestedAction(CategoryInternal), SuggestedAction(CategoryAuthorization))
	assert.NotEqual(t, SuggestedAction(CategoryAuthentication), SuggestedAction(CategoryAuthorization))
}

func TestHandleLeavesCallerErrorUntouched(t *testing.T) {
	shared := Validation("bad url", map[string]any{"field": "primaryUrl"})
	h := NewHandler(nil)

	first := h.Handle(shared, Context{RequestID: "req-1", UserID: "user-1"})
	second := h.Handle(shared, Context{RequestID: "req-2"})

	assert.Empty(t, shared.RequestID)
	assert.Empty(t, shared.UserID)
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, "user-1", first.UserID)
	assert.Equal(t, "req-2", second.RequestID)
	assert.Empty(t, second.UserID)

	first.Details["extra"] = true
	assert.NotContains(t, shared.Details, "extra")
}
