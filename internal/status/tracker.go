package status

import (
	"fmt"
	"time"

	"anamnesis-backend/internal/apperrors"
)

const CodeInvalidTransition = "INVALID_STATUS_TRANSITION"

// Tracker applies the timeout rule against an injectable clock.
type Tracker struct {
	Now     func() time.Time
	Timeout time.Duration
}

// NewTracker returns a Tracker on the wall clock with the default budget.
func NewTracker() *Tracker {
	return &Tracker{Now: time.Now, Timeout: DefaultTimeout}
}

func (t *Tracker) now() time.Time {
	if t == nil || t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Budget is the processing budget in effect.
func (t *Tracker) Budget() time.Duration {
	return t.budget()
}

func (t *Tracker) budget() time.Duration {
	if t == nil || t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// HasTimedOut reports whether the budget measured from start has elapsed.
func (t *Tracker) HasTimedOut(start time.Time) bool {
	return t.now().Sub(start) >= t.budget()
}

// Deadline returns the absolute cutoff for work started at start.
func (t *Tracker) Deadline(start time.Time) time.Time {
	return start.Add(t.budget())
}

// EstimatedCompletion is the deadline for work starting now.
func (t *Tracker) EstimatedCompletion() time.Time {
	return t.Deadline(t.now().UTC())
}

// Transition validates from -> to.
func (t *Tracker) Transition(from, to Status) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return apperrors.New(
		CodeInvalidTransition,
		fmt.Sprintf("cannot change status from %s to %s", from, to),
		apperrors.CategoryValidation,
		apperrors.SeverityMedium,
		false,
	).WithDetails(map[string]any{"from": string(from), "to": string(to)})
}
