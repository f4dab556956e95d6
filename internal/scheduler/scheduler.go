package scheduler

import (
	"context"
	"log/slog"
	"time"

	"book_finder/internal/domain"
)

const defaultRunTimeout = 9 * time.Minute

// Batcher is the work executed on every tick.
type Batcher interface {
	Run(ctx context.Context) (*domain.BatchStats, error)
	Cleanup(ctx context.Context) error
}

type Scheduler struct {
	batcher    Batcher
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(batcher Batcher, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Scheduler{
		batcher:    batcher,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start runs a batch immediately and then once per interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.runBatch(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runBatch(ctx)
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.batcher.Run(runCtx); err != nil {
		s.logger.Error("batch failed", "error", err)
	}

	if err := s.batcher.Cleanup(runCtx); err != nil {
		s.logger.Error("cleanup failed", "error", err)
	}
}
