package anamnesis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anamnesis-backend/internal/shared/telemetry"
)

// JobFunc executes one analysis.
type JobFunc func(ctx context.Context, analysisID string) error

// JobResult reports the end of a scheduled job.
type JobResult struct {
	AnalysisID string
	Err        error
	Duration   time.Duration
	Cancelled  bool
}

type job struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	// next runs on the same pool goroutine once a cancelled running job
	// returns.
	next *job
}

// ticket is what travels through the queue. A ticket whose gen no longer
// matches the in-flight entry was superseded and is skipped.
type ticket struct {
	id  string
	gen uint64
}

// Scheduler is a bounded in-process worker pool. An analysis id is queued or
// running at most once at a time.
type Scheduler struct {
	run     JobFunc
	jobs    chan ticket
	results chan JobResult

	baseCtx context.Context
	stopAll context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]job
	gen      uint64
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler starts workers goroutines draining a queue of queueSize ids.
func NewScheduler(run JobFunc, workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	baseCtx, stopAll := context.WithCancel(context.Background())
	s := &Scheduler{
		run:      run,
		jobs:     make(chan ticket, queueSize),
		results:  make(chan JobResult, queueSize),
		baseCtx:  baseCtx,
		stopAll:  stopAll,
		inFlight: make(map[string]job),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.loop()
	}
	return s
}

// Dispatch queues analysisID. The job context is detached from ctx but keeps
// its request id. A job that was cancelled but has not finished yet is
// replaced: a queued one is dropped, a running one is followed by the new run.
func (s *Scheduler) Dispatch(ctx context.Context, analysisID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	current, exists := s.inFlight[analysisID]
	if exists && (current.ctx.Err() == nil || current.next != nil) {
		return ErrAlreadyScheduled
	}

	fresh := s.newJobLocked(ctx)
	if exists && current.started {
		current.next = &fresh
		s.inFlight[analysisID] = current
		return nil
	}
	select {
	case s.jobs <- ticket{id: analysisID, gen: fresh.gen}:
		s.inFlight[analysisID] = fresh
		return nil
	default:
		fresh.cancel()
		return ErrQueueFull
	}
}

func (s *Scheduler) newJobLocked(ctx context.Context) job {
	s.gen++
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	jobCtx = WithRequestID(jobCtx, RequestIDFromContext(ctx))
	return job{gen: s.gen, ctx: jobCtx, cancel: cancel}
}

// Cancel cancels the context of a queued or running job, and of the run
// queued behind it.
func (s *Scheduler) Cancel(analysisID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.inFlight[analysisID]
	if !ok {
		return false
	}
	j.cancel()
	if j.next != nil {
		j.next.cancel()
		j.next = nil
		s.inFlight[analysisID] = j
	}
	return true
}

// InFlight returns the number of queued and running jobs.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Results delivers one JobResult per finished job. Results are dropped when
// nobody drains the channel. It is closed by Close.
func (s *Scheduler) Results() <-chan JobResult {
	return s.results
}

// Close stops accepting jobs and waits for queued work to drain. When ctx
// ends first, running jobs are cancelled.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.stopAll()
		<-done
	}
	s.stopAll()
	close(s.results)
	return ctx.Err()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for t := range s.jobs {
		s.execute(t)
	}
}

func (s *Scheduler) execute(t ticket) {
	for {
		j, ok := s.start(t)
		if !ok {
			return
		}
		res := JobResult{AnalysisID: t.id}
		start := time.Now()
		if err := j.ctx.Err(); err != nil {
			res.Err = err
			res.Cancelled = true
		} else {
			res.Err = s.safeRun(j.ctx, t.id)
			res.Cancelled = j.ctx.Err() != nil
		}
		res.Duration = time.Since(start)
		next := s.finish(t)
		j.cancel()
		s.report(res)

		if next == nil {
			return
		}
		t.gen = next.gen
	}
}

// start marks the ticket's job as running, or reports false when the ticket
// was superseded.
func (s *Scheduler) start(t ticket) (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.inFlight[t.id]
	if !ok || j.gen != t.gen {
		return job{}, false
	}
	j.started = true
	s.inFlight[t.id] = j
	return j, true
}

// finish releases the id, or hands it to the run waiting behind it.
func (s *Scheduler) finish(t ticket) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.inFlight[t.id]
	if !ok || j.gen != t.gen {
		return nil
	}
	if j.next == nil {
		delete(s.inFlight, t.id)
		return nil
	}
	next := j.next
	s.inFlight[t.id] = *next
	return next
}

func (s *Scheduler) report(res JobResult) {
	select {
	case s.results <- res:
	default:
		telemetry.Warn("scheduler.result_dropped", map[string]any{"analysis_id": res.AnalysisID})
	}
}

func (s *Scheduler) safeRun(ctx context.Context, analysisID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return s.run(ctx, analysisID)
}

var _ Dispatcher = (*Scheduler)(nil)
