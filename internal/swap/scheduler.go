// Package swap - TimeoutScheduler: the single loop that enforces deadlines.
package swap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/pkg/logging"
)

// Scheduler runs one background loop with a fixed tick. Each tick samples
// the clock once, scans the registry for swaps in locking or locked whose
// deadline has passed, and drives expiry. Auto-rollback swaps proceed
// straight into the rollback path; the rest park in expired for an
// operator. The scan is read-then-compare-and-swap so a swap that completes
// inside the tick window is never double-processed.
type Scheduler struct {
	registry    *Registry
	coordinator *Coordinator
	interval    time.Duration

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a timeout scheduler. interval defaults to 10s.
func NewScheduler(registry *Registry, coordinator *Coordinator, interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry:    registry,
		coordinator: coordinator,
		interval:    interval,
		log:         logger.Component("scheduler"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("Timeout scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick samples the clock once and processes every due swap against that
// single reading. A swap that reached locked or completing before the tick
// observed it wins; there is no retroactive rollback.
func (s *Scheduler) tick() {
	now := time.Now()

	for _, rec := range s.registry.PastDeadline(now) {
		if !rec.AutoRollback {
			// Parks in expired awaiting an explicit operator rollback.
			observed, ok, err := s.registry.CompareAndSwapState(rec.SwapID,
				storage.SwapStateExpired, storage.SwapStateLocking, storage.SwapStateLocked)
			if err != nil {
				s.log.Error("Failed to expire swap", "swap_id", rec.SwapID, "error", err)
				continue
			}
			if ok {
				// rec is a scan snapshot; name the state the CAS saw.
				s.coordinator.emitEvent(rec.SwapID, "state_changed",
					string(observed)+" -> expired")
				s.log.Warn("Swap expired; auto-rollback disabled, awaiting operator",
					"swap_id", rec.SwapID)
			}
			continue
		}

		s.log.Warn("Swap deadline passed; rolling back", "swap_id", rec.SwapID)
		s.wg.Add(1)
		go func(swapID string) {
			defer s.wg.Done()
			err := s.coordinator.RollbackSwap(s.ctx, swapID, "deadline exceeded")
			if err != nil && !errors.Is(err, ErrAlreadyFinalized) {
				s.log.Error("Rollback failed", "swap_id", swapID, "error", err)
			}
		}(rec.SwapID)
	}
}
