package anamnesis

import (
	"context"
	"time"

	"anamnesis-backend/internal/status"
	"anamnesis-backend/internal/worker"
)

// DecideFunc inspects a user's deduplication candidates and returns the id of
// the analysis a new submission duplicates, or "" to create it.
type DecideFunc func(candidates []Analysis) string

// Repo defines persistence operations for analyses and their sources.
type Repo interface {
	// CreateUnlessDuplicate runs decide and the insert in one critical
	// section so that concurrent submissions of the same URL cannot both
	// create a record. The bool is true when analysis was inserted.
	CreateUnlessDuplicate(ctx context.Context, analysis Analysis, sources []Source, decide DecideFunc) (Analysis, bool, error)
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	ListSources(ctx context.Context, analysisID string) ([]Source, error)
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Analysis, int, error)
	// UpdateStatus moves the record from -> to and applies upd. It fails
	// with ErrStatusConflict when the stored status is not from.
	UpdateStatus(ctx context.Context, analysisID string, from, to status.Status, upd StatusUpdate) (Analysis, error)
	UpdateSources(ctx context.Context, analysisID string, outcomes []worker.SourceOutcome) error
	ListStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]Analysis, error)
}

// isDedupCandidate reports whether a stored analysis takes part in
// duplicate detection: not deleted, and not in a failed state.
func isDedupCandidate(a Analysis) bool {
	if a.Deleted() {
		return false
	}
	return status.IsActive(a.Status) || a.Status == status.Done
}

func applyUpdate(a *Analysis, to status.Status, upd StatusUpdate) {
	a.Status = to
	if upd.ScoreCompleteness != nil {
		a.ScoreCompleteness = *upd.ScoreCompleteness
	}
	if upd.Findings != nil {
		a.Findings = upd.Findings
	}
	if upd.ClearError {
		a.ErrorCode = nil
		a.ErrorMessage = nil
		a.ErrorRetryable = false
	}
	if upd.ErrorCode != nil {
		a.ErrorCode = upd.ErrorCode
	}
	if upd.ErrorMessage != nil {
		a.ErrorMessage = upd.ErrorMessage
	}
	if upd.ErrorRetryable != nil {
		a.ErrorRetryable = *upd.ErrorRetryable
	}
	if upd.ClearTimes {
		a.StartedAt = nil
		a.CompletedAt = nil
	}
	if upd.StartedAt != nil {
		a.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		a.CompletedAt = upd.CompletedAt
	}
	if upd.DeletedAt != nil {
		a.DeletedAt = upd.DeletedAt
	}
}
