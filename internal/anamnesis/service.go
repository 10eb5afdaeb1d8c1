package anamnesis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/canonical"
	"anamnesis-backend/internal/dedup"
	"anamnesis-backend/internal/shared/metrics"
	"anamnesis-backend/internal/shared/telemetry"
	"anamnesis-backend/internal/status"
	"anamnesis-backend/internal/worker"
)

const (
	MaxSocialURLs    = 10
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	deletedErrorCode = "DELETED_BY_USER"
	maxDeleteRetries = 3
	staleBatchSize   = 100
)

var defaultValidate = validator.New()

// Dispatcher hands queued analyses to whatever executes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, analysisID string) error
	// Cancel stops in-flight work for analysisID. It reports false when
	// nothing was running locally.
	Cancel(analysisID string) bool
}

// CreateRequest is the client input of CreateAnalysis.
type CreateRequest struct {
	PrimaryURL string   `json:"primaryUrl" validate:"required,max=2048"`
	SocialURLs []string `json:"socialUrls" validate:"max=10,dive,required,max=2048"`
}

type CreateResult struct {
	Analysis            Analysis     `json:"analysis"`
	Sources             []Source     `json:"sources"`
	Deduplication       dedup.Result `json:"deduplication"`
	EstimatedCompletion *time.Time   `json:"estimatedCompletion,omitempty"`
	Created             bool         `json:"created"`
}

// ViewMetadata is derived from the stored record on read.
type ViewMetadata struct {
	DurationMs  *int64     `json:"durationMs,omitempty"`
	SourceCount int        `json:"sourceCount"`
	Confidence  string     `json:"confidence"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// AnalysisView is the full result returned to the owner.
type AnalysisView struct {
	Analysis
	Sources  []Source     `json:"sources"`
	Metadata ViewMetadata `json:"metadata"`
}

type StatusView struct {
	ID                string        `json:"id"`
	Status            status.Status `json:"status"`
	ScoreCompleteness int           `json:"scoreCompleteness"`
	ErrorMessage      *string       `json:"errorMessage,omitempty"`
	Deadline          *time.Time    `json:"deadline,omitempty"`
}

// ListQuery selects a page of analyses. Zero Page and Limit take defaults.
type ListQuery struct {
	Page   int
	Limit  int
	Status string
}

type ListResult struct {
	Items      []Analysis `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
	HasNext    bool       `json:"hasNext"`
}

// Service contains business logic for analyses.
type Service struct {
	Repo       Repo
	Worker     worker.Worker
	Dedup      *dedup.Engine
	Tracker    *status.Tracker
	Errors     *apperrors.Handler
	Dispatcher Dispatcher
	Validate   *validator.Validate
	Now        func() time.Time
	NewID      func() string
}

// NewService wires a Service with instance-scoped dedup metrics and error
// counters. The Dispatcher is set by the caller once it exists.
func NewService(repo Repo, w worker.Worker) *Service {
	return &Service{
		Repo:     repo,
		Worker:   w,
		Dedup:    dedup.NewEngine(nil),
		Tracker:  status.NewTracker(),
		Errors:   apperrors.NewHandler(nil),
		Validate: validator.New(),
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// CreateAnalysis validates and canonicalizes the request, returns the
// existing analysis when the primary URL duplicates one, and otherwise
// persists and schedules a new analysis.
func (s *Service) CreateAnalysis(ctx context.Context, userID string, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CreateResult{}, apperrors.Validation("user is required", nil)
	}
	if err := s.validator().Struct(req); err != nil {
		return CreateResult{}, validationError(err)
	}

	urls := append([]string{req.PrimaryURL}, req.SocialURLs...)
	batch := canonical.CanonicalizeBatch(urls)
	if len(batch.Invalid) > 0 {
		return CreateResult{}, apperrors.Validation("one or more URLs are invalid", map[string]any{
			"invalidUrls": batch.Invalid,
		})
	}

	now := s.now()
	analysis := Analysis{
		ID:          s.newID(),
		UserID:      userID,
		PrimaryURL:  strings.TrimSpace(req.PrimaryURL),
		PrimaryHash: batch.Processed[0].Hash,
		Status:      status.Queued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sources := s.buildSources(analysis.ID, batch.Processed)

	var check dedup.Result
	decide := func(candidates []Analysis) string {
		check = s.dedupEngine().Check(analysis.PrimaryURL, userID, toCandidates(candidates))
		if check.IsDuplicate {
			return check.OriginalAnalysisID
		}
		return ""
	}

	stored, created, err := s.Repo.CreateUnlessDuplicate(ctx, analysis, sources, decide)
	if err != nil {
		if errors.Is(err, ErrActiveDuplicate) {
			return CreateResult{}, duplicateActiveError(analysis.PrimaryURL)
		}
		return CreateResult{}, fmt.Errorf("create analysis: %w", err)
	}

	if !created {
		metrics.IncAnalysisDeduplicated()
		existingSources, err := s.Repo.ListSources(ctx, stored.ID)
		if err != nil {
			return CreateResult{}, fmt.Errorf("list sources: %w", err)
		}
		telemetry.Info("analysis.deduplicated", map[string]any{
			"request_id":  RequestIDFromContext(ctx),
			"user_id":     userID,
			"analysis_id": stored.ID,
			"match_type":  string(check.MatchType),
		})
		return CreateResult{
			Analysis:            stored,
			Sources:             existingSources,
			Deduplication:       check,
			EstimatedCompletion: s.estimatedCompletion(stored),
			Created:             false,
		}, nil
	}

	metrics.IncAnalysisCreated()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           userID,
		"analysis_id":       stored.ID,
		"status":            string(status.Queued),
		"status_transition": "->queued",
		"source_count":      len(sources),
	})

	if err := s.dispatch(ctx, stored.ID); err != nil {
		stored = s.failSchedule(ctx, stored, err)
	}

	return CreateResult{
		Analysis:            stored,
		Sources:             sources,
		Deduplication:       check,
		EstimatedCompletion: s.estimatedCompletion(stored),
		Created:             true,
	}, nil
}

// ProcessAnalysis runs the worker for a queued analysis and records the
// outcome. Records that are no longer queued are skipped.
func (s *Service) ProcessAnalysis(ctx context.Context, analysisID string) error {
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("analysis lookup: %w", err)
	}
	if analysis.Deleted() || analysis.Status != status.Queued {
		telemetry.Info("analysis.skip", map[string]any{
			"request_id":  RequestIDFromContext(ctx),
			"analysis_id": analysisID,
			"status":      string(analysis.Status),
		})
		return nil
	}

	startedAt := s.now()
	running, err := s.Repo.UpdateStatus(ctx, analysisID, status.Queued, status.Running, StatusUpdate{StartedAt: &startedAt})
	if errors.Is(err, ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	metrics.IncAnalysisStarted()
	s.logTransition(ctx, running, status.Queued, status.Running, nil)

	defer func() {
		if r := recover(); r != nil {
			s.finishWithError(ctx, running, apperrors.Analysis("analysis worker crashed", fmt.Errorf("panic: %v", r)))
		}
	}()

	if s.Worker == nil {
		s.finishWithError(ctx, running, apperrors.Analysis("analysis worker not configured", nil))
		return nil
	}

	sources, err := s.Repo.ListSources(ctx, analysisID)
	if err != nil {
		s.finishWithError(ctx, running, apperrors.New(apperrors.CodeDatabase, "could not load analysis sources", apperrors.CategoryDatabase, apperrors.SeverityHigh, true).WithCause(err))
		return nil
	}

	workCtx, cancel := context.WithDeadline(ctx, s.tracker().Deadline(startedAt))
	defer cancel()

	result, werr := s.Worker.Analyze(workCtx, buildWorkerRequest(running, sources))
	if werr == nil && result.Status == worker.StatusError {
		werr = apperrors.Analysis("analysis worker reported failure", nil)
	}

	persistCtx := context.WithoutCancel(ctx)
	if len(result.Sources) > 0 {
		if err := s.Repo.UpdateSources(persistCtx, analysisID, result.Sources); err != nil {
			telemetry.Warn("analysis.sources_update_failed", map[string]any{
				"analysis_id": analysisID,
				"error":       err.Error(),
			})
		}
		metrics.AddSourceFetchErrors(countSourceErrors(result.Sources))
	}

	switch {
	case errors.Is(workCtx.Err(), context.DeadlineExceeded) || s.tracker().HasTimedOut(startedAt):
		s.expire(persistCtx, running)
	case werr != nil:
		s.finishWithError(persistCtx, running, werr)
	default:
		s.complete(persistCtx, running, result)
	}
	return nil
}

// GetAnalysisByID returns the owner's analysis with sources and metadata.
// Foreign and missing ids are indistinguishable.
func (s *Service) GetAnalysisByID(ctx context.Context, userID, analysisID string) (AnalysisView, error) {
	analysis, err := s.loadOwned(ctx, userID, analysisID)
	if err != nil {
		return AnalysisView{}, err
	}
	analysis = s.promoteIfStale(ctx, analysis)

	sources, err := s.Repo.ListSources(ctx, analysis.ID)
	if err != nil {
		return AnalysisView{}, fmt.Errorf("list sources: %w", err)
	}
	return AnalysisView{
		Analysis: analysis,
		Sources:  sources,
		Metadata: s.metadata(analysis, len(sources)),
	}, nil
}

// GetStatus is the polling view of an analysis.
func (s *Service) GetStatus(ctx context.Context, userID, analysisID string) (StatusView, error) {
	analysis, err := s.loadOwned(ctx, userID, analysisID)
	if err != nil {
		return StatusView{}, err
	}
	analysis = s.promoteIfStale(ctx, analysis)
	view := StatusView{
		ID:                analysis.ID,
		Status:            analysis.Status,
		ScoreCompleteness: analysis.ScoreCompleteness,
		ErrorMessage:      analysis.ErrorMessage,
	}
	if analysis.Status == status.Running && analysis.StartedAt != nil {
		deadline := s.tracker().Deadline(*analysis.StartedAt)
		view.Deadline = &deadline
	}
	return view, nil
}

// ListAnalyses returns the user's analyses newest-first.
func (s *Service) ListAnalyses(ctx context.Context, userID string, q ListQuery) (ListResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ListResult{}, apperrors.Validation("user is required", nil)
	}
	page, limit := q.Page, q.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 {
		return ListResult{}, apperrors.Validation("page must be at least 1", map[string]any{"page": q.Page})
	}
	if limit < 1 || limit > MaxPageLimit {
		return ListResult{}, apperrors.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit), map[string]any{"limit": q.Limit})
	}
	filter := ListFilter{Limit: limit, Offset: (page - 1) * limit}
	if q.Status != "" {
		st, ok := status.Parse(q.Status)
		if !ok {
			return ListResult{}, apperrors.Validation("unknown status filter", map[string]any{"status": q.Status})
		}
		filter.Status = st
	}

	items, total, err := s.Repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return ListResult{}, fmt.Errorf("list analyses: %w", err)
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return ListResult{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}, nil
}

// DeleteAnalysis soft-deletes an analysis: the record stays queryable with
// status error and the deleted message, and in-flight work is cancelled.
func (s *Service) DeleteAnalysis(ctx context.Context, userID, analysisID string) error {
	analysis, err := s.loadOwned(ctx, userID, analysisID)
	if err != nil {
		return err
	}
	if analysis.Deleted() {
		return nil
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Cancel(analysisID)
	}

	code := deletedErrorCode
	msg := DeletedMessage
	retryable := false
	zero := 0
	for attempt := 0; attempt < maxDeleteRetries; attempt++ {
		now := s.now()
		upd := StatusUpdate{
			ScoreCompleteness: &zero,
			ErrorCode:         &code,
			ErrorMessage:      &msg,
			ErrorRetryable:    &retryable,
			DeletedAt:         &now,
		}
		if analysis.CompletedAt == nil {
			upd.CompletedAt = &now
		}
		// Tombstone write; done -> error is not a lifecycle edge.
		updated, err := s.Repo.UpdateStatus(ctx, analysisID, analysis.Status, status.Error, upd)
		if err == nil {
			s.logTransition(ctx, updated, analysis.Status, status.Error, map[string]any{"deleted": true})
			return nil
		}
		if !errors.Is(err, ErrStatusConflict) {
			return fmt.Errorf("delete analysis: %w", err)
		}
		analysis = updated
		if analysis.Deleted() {
			return nil
		}
	}
	return fmt.Errorf("delete analysis: %w", ErrStatusConflict)
}

// RetryAnalysis re-queues a failed, timed out or cancelled analysis.
func (s *Service) RetryAnalysis(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.loadOwned(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	analysis = s.promoteIfStale(ctx, analysis)
	if analysis.Deleted() || !status.IsRetryable(analysis.Status) {
		return Analysis{}, notRetryableError(analysis)
	}
	if err := s.tracker().Transition(analysis.Status, status.Queued); err != nil {
		return Analysis{}, err
	}

	zero := 0
	updated, err := s.Repo.UpdateStatus(ctx, analysisID, analysis.Status, status.Queued, StatusUpdate{
		ScoreCompleteness: &zero,
		ClearError:        true,
		ClearTimes:        true,
	})
	switch {
	case errors.Is(err, ErrActiveDuplicate):
		return Analysis{}, duplicateActiveError(analysis.PrimaryURL)
	case errors.Is(err, ErrStatusConflict):
		return Analysis{}, notRetryableError(updated)
	case err != nil:
		return Analysis{}, fmt.Errorf("retry analysis: %w", err)
	}
	s.logTransition(ctx, updated, analysis.Status, status.Queued, nil)

	if err := s.resetSources(ctx, analysisID); err != nil {
		telemetry.Warn("analysis.sources_reset_failed", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
	}
	if err := s.dispatch(ctx, analysisID); err != nil {
		updated = s.failSchedule(ctx, updated, err)
	}
	return updated, nil
}

// CancelAnalysis stops a queued or running analysis.
func (s *Service) CancelAnalysis(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.loadOwned(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.Deleted() || !status.IsValidTransition(analysis.Status, status.Cancelled) {
		return Analysis{}, notCancellableError(analysis)
	}

	now := s.now()
	updated, err := s.Repo.UpdateStatus(ctx, analysisID, analysis.Status, status.Cancelled, StatusUpdate{CompletedAt: &now})
	if errors.Is(err, ErrStatusConflict) {
		return Analysis{}, notCancellableError(updated)
	}
	if err != nil {
		return Analysis{}, fmt.Errorf("cancel analysis: %w", err)
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Cancel(analysisID)
	}
	metrics.IncAnalysisCancelled()
	s.logTransition(ctx, updated, analysis.Status, status.Cancelled, nil)
	return updated, nil
}

// ExpireStale promotes running analyses past their deadline to timeout and
// returns how many were promoted.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.tracker().Budget())
	stale, err := s.Repo.ListStaleRunning(ctx, cutoff.Add(time.Microsecond), staleBatchSize)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, a := range stale {
		if a.StartedAt == nil || !s.tracker().HasTimedOut(*a.StartedAt) {
			continue
		}
		if s.expire(ctx, a) {
			promoted++
		}
	}
	return promoted, nil
}

// DedupReport exposes the engine metrics and recommendations.
func (s *Service) DedupReport() dedup.Report {
	return s.dedupEngine().Report()
}

// ErrorStats exposes the error handler counters.
func (s *Service) ErrorStats() apperrors.Stats {
	return s.errorHandler().Stats()
}

func (s *Service) complete(ctx context.Context, running Analysis, result worker.Result) {
	score := clampCompleteness(result.ScoreCompleteness)
	completedAt := s.now()
	findings := result.Findings
	if findings == nil {
		findings = []worker.Finding{}
	}
	updated, err := s.Repo.UpdateStatus(ctx, running.ID, status.Running, status.Done, StatusUpdate{
		ScoreCompleteness: &score,
		Findings:          findings,
		ClearError:        true,
		CompletedAt:       &completedAt,
	})
	if err != nil {
		s.logDropped(running, status.Done, err)
		return
	}
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(running.StartedAt, &completedAt))
	s.logTransition(ctx, updated, status.Running, status.Done, map[string]any{
		"duration_ms":        durationMs(running.StartedAt, &completedAt),
		"score_completeness": score,
	})
}

func (s *Service) finishWithError(ctx context.Context, running Analysis, cause error) {
	structured := s.errorHandler().Handle(cause, apperrors.Context{
		RequestID: RequestIDFromContext(ctx),
		UserID:    running.UserID,
	})
	s.fail(ctx, running, status.Error, structured)
}

// expire reports whether the record was moved to timeout.
func (s *Service) expire(ctx context.Context, running Analysis) bool {
	timeoutErr := apperrors.Timeout("analysis", s.tracker().Budget()).WithContext(apperrors.Context{
		RequestID: RequestIDFromContext(ctx),
		UserID:    running.UserID,
	})
	s.errorHandler().Handle(timeoutErr, apperrors.Context{})
	if s.Dispatcher != nil {
		s.Dispatcher.Cancel(running.ID)
	}
	return s.fail(ctx, running, status.Timeout, timeoutErr)
}

func (s *Service) fail(ctx context.Context, running Analysis, to status.Status, structured *apperrors.Error) bool {
	code := structured.Code
	msg := sanitizeError(structured.Message)
	retryable := structured.Retryable
	zero := 0
	completedAt := s.now()
	updated, err := s.Repo.UpdateStatus(context.WithoutCancel(ctx), running.ID, status.Running, to, StatusUpdate{
		ScoreCompleteness: &zero,
		ErrorCode:         &code,
		ErrorMessage:      &msg,
		ErrorRetryable:    &retryable,
		CompletedAt:       &completedAt,
	})
	if err != nil {
		s.logDropped(running, to, err)
		return false
	}
	if to == status.Timeout {
		metrics.IncAnalysisTimedOut()
	} else {
		metrics.IncAnalysisFailed()
	}
	metrics.ObserveAnalysisDurationMs(durationMs(running.StartedAt, &completedAt))
	s.logTransition(ctx, updated, status.Running, to, map[string]any{
		"error_code":  code,
		"retryable":   retryable,
		"duration_ms": durationMs(running.StartedAt, &completedAt),
	})
	return true
}

func (s *Service) failSchedule(ctx context.Context, queued Analysis, cause error) Analysis {
	code := ErrorCodeSchedule
	msg := sanitizeError("could not schedule analysis: " + cause.Error())
	retryable := true
	now := s.now()
	updated, err := s.Repo.UpdateStatus(context.WithoutCancel(ctx), queued.ID, status.Queued, status.Error, StatusUpdate{
		ErrorCode:      &code,
		ErrorMessage:   &msg,
		ErrorRetryable: &retryable,
		CompletedAt:    &now,
	})
	if err != nil {
		s.logDropped(queued, status.Error, err)
		return queued
	}
	metrics.IncAnalysisFailed()
	s.logTransition(ctx, updated, status.Queued, status.Error, map[string]any{"error_code": code})
	return updated
}

func (s *Service) promoteIfStale(ctx context.Context, a Analysis) Analysis {
	if a.Status != status.Running || a.StartedAt == nil || !s.tracker().HasTimedOut(*a.StartedAt) {
		return a
	}
	s.expire(ctx, a)
	if fresh, err := s.Repo.GetByID(ctx, a.ID); err == nil {
		return fresh
	}
	return a
}

func (s *Service) loadOwned(ctx context.Context, userID, analysisID string) (Analysis, error) {
	if _, err := uuid.Parse(analysisID); err != nil {
		return Analysis{}, apperrors.Validation("invalid analysis id", map[string]any{"id": analysisID})
	}
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if errors.Is(err, ErrNotFound) || (err == nil && analysis.UserID != userID) {
		return Analysis{}, apperrors.NotFound("analysis")
	}
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis lookup: %w", err)
	}
	return analysis, nil
}

func (s *Service) resetSources(ctx context.Context, analysisID string) error {
	sources, err := s.Repo.ListSources(ctx, analysisID)
	if err != nil {
		return err
	}
	outcomes := make([]worker.SourceOutcome, 0, len(sources))
	for _, src := range sources {
		outcomes = append(outcomes, worker.SourceOutcome{SourceID: src.ID, Status: SourcePending})
	}
	return s.Repo.UpdateSources(ctx, analysisID, outcomes)
}

func (s *Service) dispatch(ctx context.Context, analysisID string) error {
	if s.Dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	return s.Dispatcher.Dispatch(ctx, analysisID)
}

func (s *Service) buildSources(analysisID string, processed []canonical.Result) []Source {
	sources := make([]Source, 0, len(processed))
	seen := make(map[string]struct{}, len(processed))
	for _, res := range processed {
		if _, dup := seen[res.Hash]; dup {
			continue
		}
		seen[res.Hash] = struct{}{}
		raw := strings.TrimSpace(res.Original)
		// The primary URL is the business's own presence whatever its host.
		kind, provider := canonical.TypeSite, ""
		if len(sources) > 0 {
			kind, provider = canonical.DetectURLType(raw), canonical.ExtractSocialProvider(raw)
		}
		sources = append(sources, Source{
			ID:            s.newID(),
			AnalysisID:    analysisID,
			Type:          kind,
			URL:           raw,
			NormalizedURL: res.Normalized,
			Provider:      provider,
			Hash:          res.Hash,
			Status:        SourcePending,
			Position:      len(sources),
		})
	}
	return sources
}

func (s *Service) metadata(a Analysis, sourceCount int) ViewMetadata {
	meta := ViewMetadata{
		SourceCount: sourceCount,
		Confidence:  confidenceFor(a.ScoreCompleteness),
	}
	if a.StartedAt != nil && a.CompletedAt != nil {
		ms := a.CompletedAt.Sub(*a.StartedAt).Milliseconds()
		meta.DurationMs = &ms
	}
	if status.IsActive(a.Status) {
		meta.Deadline = s.estimatedCompletion(a)
	}
	return meta
}

func (s *Service) estimatedCompletion(a Analysis) *time.Time {
	if !status.IsActive(a.Status) {
		return nil
	}
	var t time.Time
	if a.StartedAt != nil {
		t = s.tracker().Deadline(*a.StartedAt)
	} else {
		t = s.tracker().Deadline(s.now())
	}
	return &t
}

func (s *Service) logTransition(ctx context.Context, a Analysis, from, to status.Status, extra map[string]any) {
	fields := map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           a.UserID,
		"analysis_id":       a.ID,
		"status":            string(to),
		"status_transition": string(from) + "->" + string(to),
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("analysis.status", fields)
}

func (s *Service) logDropped(a Analysis, to status.Status, err error) {
	if errors.Is(err, ErrStatusConflict) {
		telemetry.Info("analysis.status_superseded", map[string]any{
			"analysis_id": a.ID,
			"target":      string(to),
		})
		return
	}
	telemetry.Warn("analysis.status_update_dropped", map[string]any{
		"analysis_id": a.ID,
		"target":      string(to),
		"error":       err.Error(),
	})
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *Service) tracker() *status.Tracker {
	if s.Tracker == nil {
		return status.NewTracker()
	}
	return s.Tracker
}

// dedupEngine and errorHandler fall back to throwaway instances; counters
// only accumulate on a Service built by NewService.
func (s *Service) dedupEngine() *dedup.Engine {
	if s.Dedup == nil {
		return dedup.NewEngine(nil)
	}
	return s.Dedup
}

func (s *Service) errorHandler() *apperrors.Handler {
	if s.Errors == nil {
		return apperrors.NewHandler(nil)
	}
	return s.Errors
}

func (s *Service) validator() *validator.Validate {
	if s.Validate == nil {
		return defaultValidate
	}
	return s.Validate
}

func buildWorkerRequest(a Analysis, sources []Source) worker.Request {
	inputs := make([]worker.SourceInput, 0, len(sources))
	for _, src := range sources {
		inputs = append(inputs, worker.SourceInput{
			ID:            src.ID,
			Type:          src.Type,
			Provider:      src.Provider,
			URL:           src.URL,
			NormalizedURL: src.NormalizedURL,
		})
	}
	return worker.Request{
		AnalysisID: a.ID,
		UserID:     a.UserID,
		PrimaryURL: a.PrimaryURL,
		Sources:    inputs,
	}
}

func toCandidates(analyses []Analysis) []dedup.Candidate {
	out := make([]dedup.Candidate, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, dedup.Candidate{AnalysisID: a.ID, UserID: a.UserID, URL: a.PrimaryURL, Hash: a.PrimaryHash})
	}
	return out
}

func confidenceFor(completeness int) string {
	switch {
	case completeness >= 80:
		return "high"
	case completeness >= 50:
		return "medium"
	default:
		return "low"
	}
}

func clampCompleteness(v int) int {
	return min(max(v, 0), 100)
}

func countSourceErrors(outcomes []worker.SourceOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == worker.SourceError {
			n++
		}
	}
	return n
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func sanitizeError(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func validationError(err error) *apperrors.Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validation("invalid request", nil)
	}
	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	msg := "invalid request"
	if _, ok := fields["SocialURLs"]; ok && len(fieldErrs) == 1 && fieldErrs[0].Tag() == "max" {
		msg = fmt.Sprintf("at most %d social URLs are allowed", MaxSocialURLs)
	}
	return apperrors.Validation(msg, map[string]any{"fields": fields})
}

func duplicateActiveError(url string) *apperrors.Error {
	return apperrors.New(
		ErrorCodeDuplicateActive,
		"an analysis for this URL is already in progress",
		apperrors.CategoryValidation,
		apperrors.SeverityLow,
		false,
	).WithDetails(map[string]any{"url": url})
}

func notRetryableError(a Analysis) *apperrors.Error {
	return apperrors.New(
		ErrorCodeNotRetryable,
		fmt.Sprintf("analysis in status %s cannot be retried", a.Status),
		apperrors.CategoryValidation,
		apperrors.SeverityLow,
		false,
	).WithDetails(map[string]any{"status": string(a.Status), "deleted": a.Deleted()})
}

func notCancellableError(a Analysis) *apperrors.Error {
	return apperrors.New(
		ErrorCodeNotCancellable,
		fmt.Sprintf("analysis in status %s cannot be cancelled", a.Status),
		apperrors.CategoryValidation,
		apperrors.SeverityLow,
		false,
	).WithDetails(map[string]any{"status": string(a.Status)})
}
