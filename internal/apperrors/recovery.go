package apperrors

import (
	"context"
	"strings"
	"time"

	"anamnesis-backend/internal/shared/telemetry"
)

// DefaultMaxAttempts is used when WithRetry is given a non-positive limit.
const DefaultMaxAttempts = 3

// DefaultBackoff is the fixed delay schedule between attempts. The last
// entry is reused once the schedule is exhausted.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

var recoverableKeywords = []string{
	"timeout",
	"network",
	"connection",
	"rate limit",
	"temporar",
	"unavailable",
	"econnreset",
}

// Recovery retries recoverable operations. Sleep is injectable so tests do
// not wait on the real schedule.
type Recovery struct {
	Backoff []time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
}

// NewRecovery returns a Recovery on the default schedule.
func NewRecovery() *Recovery {
	return &Recovery{Backoff: DefaultBackoff, Sleep: sleepContext}
}

// WithRetry runs op until it succeeds, returns a non-recoverable error, or
// maxAttempts calls have been made. The last error is returned unchanged.
func (r *Recovery) WithRetry(ctx context.Context, op func(ctx context.Context) error, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt == maxAttempts || !IsRecoverable(err) {
			return err
		}
		delay := r.delay(attempt)
		telemetry.Warn("retry.attempt", map[string]any{
			"attempt":       attempt,
			"max_attempts":  maxAttempts,
			"next_delay_ms": delay.Milliseconds(),
			"error":         err.Error(),
		})
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

// Retry is WithRetry for operations that produce a value.
func Retry[T any](ctx context.Context, r *Recovery, op func(ctx context.Context) (T, error), maxAttempts int) (T, error) {
	var out T
	err := r.WithRetry(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, maxAttempts)
	return out, err
}

// IsRecoverable reports whether err is worth retrying: a structured error
// marked retryable, or an unstructured one whose message names a transient
// condition.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok {
		return e.Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range recoverableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (r *Recovery) delay(attempt int) time.Duration {
	schedule := r.Backoff
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func (r *Recovery) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep == nil {
		return sleepContext(ctx, d)
	}
	return r.Sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
