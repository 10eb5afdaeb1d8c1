package anamnesis

import (
	"context"
	"sort"
	"sync"
	"time"

	"anamnesis-backend/internal/status"
	"anamnesis-backend/internal/worker"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Analysis
	byUser  map[string][]string
	sources map[string][]Source
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]Analysis),
		byUser:  make(map[string][]string),
		sources: make(map[string][]Source),
	}
}

// CreateUnlessDuplicate holds the write lock across decide and the insert.
func (r *MemoryRepo) CreateUnlessDuplicate(ctx context.Context, analysis Analysis, sources []Source, decide DecideFunc) (Analysis, bool, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []Analysis
	for _, id := range r.byUser[analysis.UserID] {
		if a := r.byID[id]; isDedupCandidate(a) {
			candidates = append(candidates, a)
		}
	}
	if decide != nil {
		if dupID := decide(candidates); dupID != "" {
			existing, ok := r.byID[dupID]
			if !ok {
				return Analysis{}, false, ErrNotFound
			}
			return existing, false, nil
		}
	}
	if r.activeDuplicateLocked(analysis.UserID, analysis.PrimaryHash, "") {
		return Analysis{}, false, ErrActiveDuplicate
	}

	r.byID[analysis.ID] = analysis
	r.byUser[analysis.UserID] = append(r.byUser[analysis.UserID], analysis.ID)
	r.sources[analysis.ID] = append([]Source(nil), sources...)
	return analysis, true, nil
}

// GetByID returns an analysis by its ID, including soft-deleted ones.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// ListSources returns the sources of an analysis ordered by position.
func (r *MemoryRepo) ListSources(ctx context.Context, analysisID string) ([]Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Source{}, r.sources[analysisID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ListByUser returns a page of analyses newest first, and the total count.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Analysis, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	matched := make([]Analysis, 0, len(r.byUser[userID]))
	for _, id := range r.byUser[userID] {
		a := r.byID[id]
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		matched = append(matched, a)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	offset := max(filter.Offset, 0)
	if offset >= total {
		return []Analysis{}, total, nil
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return matched[offset:end], total, nil
}

// UpdateStatus applies a compare-and-set status change.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, analysisID string, from, to status.Status, upd StatusUpdate) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	if analysis.Status != from {
		return analysis, ErrStatusConflict
	}
	if status.IsActive(to) && !status.IsActive(from) && r.activeDuplicateLocked(analysis.UserID, analysis.PrimaryHash, analysis.ID) {
		return analysis, ErrActiveDuplicate
	}
	applyUpdate(&analysis, to, upd)
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return analysis, nil
}

// UpdateSources records per-source fetch outcomes.
func (r *MemoryRepo) UpdateSources(ctx context.Context, analysisID string, outcomes []worker.SourceOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sources, ok := r.sources[analysisID]
	if !ok {
		return ErrNotFound
	}
	for _, o := range outcomes {
		for i := range sources {
			if sources[i].ID != o.SourceID {
				continue
			}
			sources[i].Status = o.Status
			sources[i].Error = o.Error
			sources[i].SnapshotKey = o.SnapshotKey
			if !o.FetchedAt.IsZero() {
				fetchedAt := o.FetchedAt
				sources[i].LastFetchedAt = &fetchedAt
			}
		}
	}
	return nil
}

// ListStaleRunning returns running analyses started before startedBefore.
func (r *MemoryRepo) ListStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Analysis
	for _, a := range r.byID {
		if a.Status != status.Running || a.StartedAt == nil || !a.StartedAt.Before(startedBefore) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) activeDuplicateLocked(userID, hash, exceptID string) bool {
	for _, id := range r.byUser[userID] {
		if id == exceptID {
			continue
		}
		a := r.byID[id]
		if a.PrimaryHash == hash && !a.Deleted() && status.IsActive(a.Status) {
			return true
		}
	}
	return false
}

var _ Repo = (*MemoryRepo)(nil)
