package anamnesis

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStatusConflict   = errors.New("status conflict")
	ErrActiveDuplicate  = errors.New("active analysis exists for url")
	ErrAlreadyScheduled = errors.New("analysis already scheduled")
	ErrSchedulerClosed  = errors.New("scheduler closed")
	ErrQueueFull        = errors.New("scheduler queue full")
)

const (
	ErrorCodeDuplicateActive = "DUPLICATE_ACTIVE_ANALYSIS"
	ErrorCodeNotRetryable    = "ANALYSIS_NOT_RETRYABLE"
	ErrorCodeNotCancellable  = "ANALYSIS_NOT_CANCELLABLE"
	ErrorCodeSchedule        = "SCHEDULE_FAILED"
)
