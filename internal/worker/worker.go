// Package worker defines the analysis worker contract and its
// implementations. Workers fetch and review the sources of one analysis;
// they report findings and a completeness figure, never a score.
package worker

import (
	"context"
	"math"
	"time"
)

// Worker runs one analysis. Implementations must be safe to re-invoke for the
// same request and must return once ctx is done.
type Worker interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Result statuses.
const (
	StatusDone  = "done"
	StatusError = "error"
)

// Source outcome statuses.
const (
	SourceFetched = "fetched"
	SourceError   = "error"
)

// SourceInput is one canonicalized URL of the analysis.
type SourceInput struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Provider      string `json:"provider,omitempty"`
	URL           string `json:"url"`
	NormalizedURL string `json:"normalizedUrl"`
}

// Request is the normalized input handed to a worker.
type Request struct {
	AnalysisID string        `json:"analysisId"`
	UserID     string        `json:"userId"`
	PrimaryURL string        `json:"primaryUrl"`
	Sources    []SourceInput `json:"sources"`
}

type Finding struct {
	SourceID string `json:"sourceId,omitempty"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// SourceOutcome reports what happened to one source.
type SourceOutcome struct {
	SourceID    string    `json:"sourceId"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
	SnapshotKey string    `json:"snapshotKey,omitempty"`
}

type Result struct {
	Status            string          `json:"status"`
	ScoreCompleteness int             `json:"scoreCompleteness"`
	Findings          []Finding       `json:"findings"`
	Sources           []SourceOutcome `json:"sources"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// Completeness is the share of sources fetched, as a 0-100 integer.
func Completeness(outcomes []SourceOutcome) int {
	if len(outcomes) == 0 {
		return 0
	}
	fetched := 0
	for _, o := range outcomes {
		if o.Status == SourceFetched {
			fetched++
		}
	}
	return int(math.Round(100 * float64(fetched) / float64(len(outcomes))))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
