package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// CycleRunner runs one scan cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.ScanReport, error)
}

// Scheduler runs cycles back to back: the first immediately, then one per
// interval. After a failed cycle it waits backoff instead, when set.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner CycleRunner, interval, backoff time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		backoff:  backoff,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scan scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("error_backoff", s.backoff),
	)
	defer s.logger.Info("scan scheduler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(s.runOnce(ctx))
	}
}

// runOnce runs a cycle and returns how long to wait before the next one.
func (s *Scheduler) runOnce(ctx context.Context) time.Duration {
	report, err := s.runner.RunCycle(ctx)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "scan cycle complete",
			slog.String("cycle_id", report.CycleID),
			slog.String("profile", report.Profile),
			slog.Int("evaluated", report.Evaluated),
			slog.Int("skipped", report.Skipped),
			slog.Int("opportunities", len(report.Opportunities)),
			slog.Duration("duration", report.Duration),
		)
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.DebugContext(ctx, "scan cycle held by another replica")
	case ctx.Err() != nil:
		// shutting down
	default:
		s.logger.ErrorContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
		if s.backoff > 0 {
			return s.backoff
		}
	}
	return s.interval
}
