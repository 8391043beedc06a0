package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/hedged/internal/domain"
)

const lockKey = "rebalance-run"

// Status is the scheduler state exposed to the API layer.
type Status struct {
	Running    bool `json:"running"`
	ActiveJobs int  `json:"active_jobs"`
}

// Scheduler drives the engine on a fixed interval, starting with an
// immediate run. Exactly one run is in flight at a time: an in-process
// guard stops a manual trigger from racing the ticker, and an optional
// distributed lock stops two processes from racing each other.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	locks    domain.LockManager // nil disables cross-process locking
	logger   *slog.Logger

	running  atomic.Bool
	inFlight atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler. locks may be nil for single-process
// deployments.
func NewScheduler(engine *Engine, interval time.Duration, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		locks:    locks,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start launches the background loop. Calling Start on a running scheduler
// is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("rebalance: scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.loop(runCtx)
	return nil
}

// Stop halts the loop and waits for an in-flight run to finish.
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
	s.running.Store(false)
}

// Status reports whether the loop is running and how many runs are in
// flight (0 or 1).
func (s *Scheduler) Status() Status {
	return Status{
		Running:    s.running.Load(),
		ActiveJobs: int(s.inFlight.Load()),
	}
}

// TriggerNow runs one pass out-of-band through the same codepath as the
// ticker. Returns ErrLockHeld when a run is already in flight.
func (s *Scheduler) TriggerNow(ctx context.Context) (Summary, error) {
	return s.runOnce(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	// Run immediately on start.
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rebalance loop stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// runLogged wraps a scheduled run so its errors never stop future runs.
func (s *Scheduler) runLogged(ctx context.Context) {
	summary, err := s.runOnce(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.Info("rebalance run skipped, another run in flight")
	case err != nil:
		s.logger.Error("rebalance run failed", slog.String("error", err.Error()))
	default:
		s.logger.Info("rebalance run complete",
			slog.Int("evaluated", summary.Evaluated),
			slog.Int("queued", summary.Queued),
			slog.Int("closed", summary.Closed),
			slog.Int("failed", summary.Failed),
		)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (summary Summary, err error) {
	if !s.inFlight.CompareAndSwap(0, 1) {
		return Summary{}, domain.ErrLockHeld
	}
	defer s.inFlight.Store(0)

	if s.locks != nil {
		unlock, lockErr := s.locks.Acquire(ctx, lockKey, 2*s.interval)
		if lockErr != nil {
			if errors.Is(lockErr, domain.ErrLockHeld) {
				return Summary{}, lockErr
			}
			// Lock backend trouble must not stop rebalancing; a
			// double-close attempt no-ops on the status read anyway.
			s.logger.Warn("rebalance lock unavailable, proceeding unlocked",
				slog.String("error", lockErr.Error()))
		} else {
			defer unlock()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rebalance: run panicked: %v", r)
			s.logger.Error("rebalance run panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	return s.engine.Run(ctx)
}
