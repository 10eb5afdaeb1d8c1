package apperrors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingRecovery(delays *[]time.Duration) *Recovery {
	return &Recovery{
		Backoff: DefaultBackoff,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
}

func TestWithRetryStopsAtMaxAttempts(t *testing.T) {
	var delays []time.Duration
	r := recordingRecovery(&delays)
	calls := 0
	err := r.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset")
	}, 3)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestWithRetryNonRecoverableRunsOnce(t *testing.T) {
	var delays []time.Duration
	r := recordingRecovery(&delays)
	calls := 0
	err := r.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return Validation("bad input", nil)
	}, 3)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestWithRetryReusesLastDelay(t *testing.T) {
	var delays []time.Duration
	r := recordingRecovery(&delays)
	_ = r.WithRetry(context.Background(), func(ctx context.Context) error {
		return Timeout("fetch", time.Second)
	}, 5)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 5 * time.Second}, delays)
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	var delays []time.Duration
	r := recordingRecovery(&delays)
	calls := 0
	got, err := Retry(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("service temporarily unavailable")
		}
		return "ok", nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestWithRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Recovery{Backoff: []time.Duration{time.Hour}}
	calls := 0
	err := r.WithRetry(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("network down")
	}, 3)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithFallbackReturnsPrimaryErrorOnDoubleFailure(t *testing.T) {
	primaryErr := errors.New("primary failed")
	_, err := WithFallback(context.Background(),
		func(ctx context.Context) (int, error) { return 0, primaryErr },
		func(ctx context.Context) (int, error) { return 0, errors.New("fallback failed") },
	)
	assert.ErrorIs(t, err, primaryErr)

	got, err := WithFallback(context.Background(),
		func(ctx context.Context) (int, error) { return 0, primaryErr },
		func(ctx context.Context) (int, error) { return 7, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestWithPartialSuccess(t *testing.T) {
	ok := func(v int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return v, nil }
	}
	fail := func(context.Context) (int, error) { return 0, errors.New("nope") }

	res, err := WithPartialSuccess(context.Background(), []func(context.Context) (int, error){ok(1), fail, ok(3)}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, res.Results)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)

	_, err = WithPartialSuccess(context.Background(), []func(context.Context) (int, error){fail, fail}, 1)
	require.Error(t, err)
	structured, isStructured := As(err)
	require.True(t, isStructured)
	assert.Equal(t, CodeInsufficientSuccess, structured.Code)
	assert.Equal(t, 0, structured.Details["successCount"])
	assert.Equal(t, 2, structured.Details["failureCount"])
}

func TestWithPartialSuccessDoesNotCancelSiblings(t *testing.T) {
	var finished atomic.Int32
	slow := func(ctx context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		finished.Add(1)
		return 1, nil
	}
	fail := func(context.Context) (int, error) { return 0, errors.New("fast failure") }

	res, err := WithPartialSuccess(context.Background(), []func(context.Context) (int, error){fail, slow, slow}, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), finished.Load())
	assert.Equal(t, 2, res.SuccessCount)
}
