package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gaole-2025/rizzify-sub000/internal/repository"
)

// Sweeper periodically fails running tasks whose heartbeat has gone
// stale. A worker crash leaves its claimed task running forever; the
// queue will eventually redeliver the job, but the claim guard discards
// the redelivery, so without the sweeper the task would never terminate.
type Sweeper struct {
	tasks        repository.TaskRepository
	interval     time.Duration
	stalledAfter time.Duration
	log          *slog.Logger
}

func NewSweeper(tasks repository.TaskRepository, interval, stalledAfter time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if stalledAfter <= 0 {
		stalledAfter = 15 * time.Minute
	}
	return &Sweeper{
		tasks:        tasks,
		interval:     interval,
		stalledAfter: stalledAfter,
		log:          log,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started",
		"interval", s.interval.String(), "stalled_after", s.stalledAfter.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.stalledAfter)
	swept, err := s.tasks.FailStalled(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.log.Warn("swept stalled tasks", "count", swept)
	}
}
