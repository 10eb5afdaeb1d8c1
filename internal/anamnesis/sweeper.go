package anamnesis

import (
	"context"

	"github.com/robfig/cron/v3"

	"anamnesis-backend/internal/shared/telemetry"
)

// DefaultSweepSchedule is how often stale running analyses are expired.
const DefaultSweepSchedule = "@every 30s"

// Sweeper periodically promotes running analyses past their deadline to
// timeout, so that records whose worker died still terminate.
type Sweeper struct {
	cron *cron.Cron
}

// NewSweeper registers svc.ExpireStale on schedule. Runs never overlap.
func NewSweeper(svc *Service, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { sweepOnce(context.Background(), svc) }); err != nil {
		return nil, err
	}
	return &Sweeper{cron: c}, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func sweepOnce(ctx context.Context, svc *Service) {
	n, err := svc.ExpireStale(ctx)
	if err != nil {
		telemetry.Warn("sweeper.failed", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		telemetry.Info("sweeper.expired", map[string]any{"count": n})
	}
}
