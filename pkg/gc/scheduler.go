package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/stategc/internal/logger"
)

// Scheduler runs the collection cycle and the incremental sweep on
// timers. Both run on a single goroutine, so they never overlap.
type Scheduler struct {
	gc  *GarbageCollector
	cfg PruneConfig

	cycleEvery       time.Duration
	incrementalEvery time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a scheduler for gc driven by cfg.
func NewScheduler(gc *GarbageCollector, cfg PruneConfig) *Scheduler {
	return &Scheduler{
		gc:               gc,
		cfg:              cfg,
		cycleEvery:       cfg.Interval(),
		incrementalEvery: cfg.IncrementalInterval(),
	}
}

// Start launches the scheduler loop and returns immediately. When pruning
// is disabled it does nothing.
//
// Unless boot cleanup is marked done in cfg or in the persisted meta, one
// cycle runs first and is recorded on success.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enable {
		logger.Info("GC: scheduler disabled")
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("gc: scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	logger.Info("GC: scheduler started",
		"interval", s.cycleEvery.String(),
		"incremental_interval", s.incrementalEvery.String())

	go s.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for the running sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("GC: scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.bootCleanup(ctx)

	cycle := time.NewTicker(s.cycleEvery)
	defer cycle.Stop()
	incremental := time.NewTicker(s.incrementalEvery)
	defer incremental.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycle.C:
			s.runCycle(ctx)
		case <-incremental.C:
			s.runIncremental(ctx)
		}
	}
}

func (s *Scheduler) bootCleanup(ctx context.Context) {
	if s.cfg.BootCleanupDone {
		return
	}
	done, err := s.gc.BootCleanupDone(ctx)
	if err != nil {
		logger.Error("GC: failed to read boot cleanup state", logger.Err(err))
		return
	}
	if done {
		return
	}

	logger.Info("GC: running boot cleanup")
	if !s.runCycle(ctx) {
		return
	}
	if err := s.gc.MarkBootCleanupDone(ctx); err != nil {
		logger.Error("GC: failed to record boot cleanup", logger.Err(err))
	}
}

// runCycle runs one collection cycle and reports whether it succeeded.
func (s *Scheduler) runCycle(ctx context.Context) bool {
	report, err := s.gc.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("GC: scheduled run interrupted", logger.Err(err))
			return false
		}
		logger.Error("GC: scheduled run failed", logger.Err(err))
		return false
	}
	if report.Skipped {
		logger.Debug("GC: scheduled run skipped")
	}
	return true
}

func (s *Scheduler) runIncremental(ctx context.Context) {
	if _, err := s.gc.RunIncremental(ctx); err != nil && ctx.Err() == nil {
		logger.Error("GC: scheduled incremental sweep failed", logger.Err(err))
	}
}
