package apperrors

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"anamnesis-backend/internal/shared/telemetry"
)

// WithFallback runs primary and, if it fails, fallback. When both fail the
// primary error is returned and the fallback error is only logged.
func WithFallback[T any](ctx context.Context, primary, fallback func(ctx context.Context) (T, error)) (T, error) {
	out, primaryErr := primary(ctx)
	if primaryErr == nil {
		return out, nil
	}
	telemetry.Warn("fallback.primary_failed", map[string]any{"error": primaryErr.Error()})
	out, fallbackErr := fallback(ctx)
	if fallbackErr == nil {
		return out, nil
	}
	telemetry.Warn("fallback.failed", map[string]any{
		"error":         fallbackErr.Error(),
		"primary_error": primaryErr.Error(),
	})
	var zero T
	return zero, primaryErr
}

// OperationError is the failure of one operation in a partial-success run.
type OperationError struct {
	Index int
	Err   error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("operation %d: %v", e.Index, e.Err)
}

func (e OperationError) Unwrap() error { return e.Err }

// PartialResult holds the settled outcomes of WithPartialSuccess, in
// operation order.
type PartialResult[T any] struct {
	Results      []T
	Errors       []OperationError
	SuccessCount int
	FailureCount int
}

// WithPartialSuccess runs every operation concurrently. No failure cancels
// its siblings. It fails with INSUFFICIENT_SUCCESS when fewer than
// minimumSuccessCount operations succeeded.
func WithPartialSuccess[T any](ctx context.Context, ops []func(ctx context.Context) (T, error), minimumSuccessCount int) (PartialResult[T], error) {
	type settled struct {
		value T
		err   error
	}
	outcomes := make([]settled, len(ops))

	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].err = fmt.Errorf("panic: %v", r)
				}
			}()
			v, opErr := op(ctx)
			outcomes[i] = settled{value: v, err: opErr}
			return nil
		})
	}
	_ = g.Wait()

	var res PartialResult[T]
	for i, o := range outcomes {
		if o.err != nil {
			res.Errors = append(res.Errors, OperationError{Index: i, Err: o.err})
			res.FailureCount++
			continue
		}
		res.Results = append(res.Results, o.value)
		res.SuccessCount++
	}
	if res.SuccessCount < minimumSuccessCount {
		return res, New(
			CodeInsufficientSuccess,
			fmt.Sprintf("only %d of %d operations succeeded, %d required", res.SuccessCount, len(ops), minimumSuccessCount),
			CategoryInternal,
			SeverityHigh,
			true,
		).WithDetails(map[string]any{
			"successCount":        res.SuccessCount,
			"failureCount":        res.FailureCount,
			"minimumSuccessCount": minimumSuccessCount,
		})
	}
	return res, nil
}
