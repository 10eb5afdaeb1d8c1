package worker

import (
	"context"
	"fmt"
	"time"
)

// MockWorker returns a deterministic result after Delay. It is used in local
// development and tests.
type MockWorker struct {
	Delay time.Duration
	// Err, when set, is returned instead of a result.
	Err error
	// FailURLs lists source URLs reported as unreachable.
	FailURLs map[string]bool
	Now      func() time.Time
}

func (m *MockWorker) Analyze(ctx context.Context, req Request) (Result, error) {
	if err := sleepContext(ctx, m.Delay); err != nil {
		return Result{}, err
	}
	if m.Err != nil {
		return Result{}, m.Err
	}
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}

	res := Result{
		Status:   StatusDone,
		Findings: []Finding{},
		Sources:  make([]SourceOutcome, 0, len(req.Sources)),
		Metadata: map[string]any{"worker": "mock"},
	}
	for _, src := range req.Sources {
		outcome := SourceOutcome{SourceID: src.ID, Status: SourceFetched, FetchedAt: now}
		if m.FailURLs[src.URL] || m.FailURLs[src.NormalizedURL] {
			outcome.Status = SourceError
			outcome.Error = "unreachable"
			res.Findings = append(res.Findings, Finding{
				SourceID: src.ID,
				Category: "availability",
				Title:    "Source unreachable",
				Detail:   fmt.Sprintf("%s could not be fetched.", src.URL),
				Severity: "warning",
			})
		}
		res.Sources = append(res.Sources, outcome)
	}
	res.ScoreCompleteness = Completeness(res.Sources)
	return res, nil
}

var _ Worker = (*MockWorker)(nil)
