package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/trestle/internal/types"
)

// Scheduler runs a pull sync for every entity type on a fixed interval.
// Entity types are processed sequentially within a cycle; a type whose run
// is already in flight is skipped quietly.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	opts         Options
	logger       *slog.Logger
}

// NewScheduler creates a scheduler driving the orchestrator.
func NewScheduler(o *Orchestrator, interval time.Duration, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: o,
		interval:     interval,
		opts:         opts,
		logger:       logger.With("component", "scheduler"),
	}
}

// Start blocks, running one sync cycle per interval tick until the context
// is cancelled. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		"action", "start",
		"interval", s.interval.String())

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "action", "stop")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle syncs every entity type once, sequentially.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	var synced, skipped, failed int

	for _, entity := range types.AllEntityTypes() {
		if ctx.Err() != nil {
			return
		}
		result, err := s.orchestrator.Run(ctx, entity, s.opts)
		if err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				s.logger.Debug("entity sync already running",
					"action", "cycle",
					"entity_type", string(entity))
				continue
			}
			failed++
			continue
		}
		synced += result.Synced
		skipped += result.Skipped
	}

	s.logger.Info("sync cycle finished",
		"action", "cycle",
		"synced", synced,
		"skipped", skipped,
		"failed_entities", failed,
		"duration_ms", time.Since(start).Milliseconds())
}
