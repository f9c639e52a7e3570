// Package scheduler runs the daily reset sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/services/blocking"
)

// Resetter is the sweep entry point; the blocking service satisfies it.
type Resetter interface {
	ScheduledReset(ctx context.Context) (blocking.ResetResult, error)
}

// Scheduler triggers the scheduled reset at the configured time of day.
// A run that is still in flight when the next trigger fires makes the new
// trigger a no-op.
type Scheduler struct {
	resetter Resetter
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	inFlight atomic.Bool
}

func New(resetter Resetter, cfg config.ResetConfig, loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		resetter: resetter,
		cron:     cron.New(cron.WithLocation(loc)),
		schedule: cfg.Schedule,
		timeout:  cfg.RunTimeout,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start validates the schedule and begins firing. It stops itself when ctx
// is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("reset schedule not configured, scheduler idle")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid reset schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runReset(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reset: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("reset scheduler started", slog.String("schedule", s.schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runReset(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous reset still running, skipping this trigger")
		return
	}
	defer s.inFlight.Store(false)

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.resetter.ScheduledReset(runCtx)
	if err != nil {
		s.logger.Error("scheduled reset failed", slog.Any("error", err))
		return
	}
	s.logger.Info("scheduled reset run finished",
		slog.Int("unblocked", result.UnblockedCount),
		slog.Int("protections_cleared", result.ProtectionsCleared),
		slog.Int("notified", result.Notified),
		slog.Int("errors", len(result.Errors)))
}

// Stop halts the cron loop and drains any running job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("reset scheduler stopped")
	}
}
