package retry

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs at most one delayed function at a time. Scheduling a new
// call cancels the pending one, so stale retries from an earlier cycle never
// fire.
type Scheduler struct {
	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	pending uint64
}

// Schedule runs fn after d unless ctx ends, Cancel is called, or another
// Schedule replaces it first.
func (s *Scheduler) Schedule(ctx context.Context, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.pending++
	id := s.pending

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.timer = time.AfterFunc(d, func() {
		if !s.claim(id) || ctx.Err() != nil {
			cancel()
			return
		}
		cancel()
		fn()
	})

	// Drop the timer early if the caller's context ends.
	context.AfterFunc(ctx, func() { s.claim(id) })
}

// Cancel drops the pending call, if any. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Pending reports whether a call is waiting to run.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// claim marks call id as no longer pending. It reports false if a later
// Schedule or Cancel already superseded it.
func (s *Scheduler) claim(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil || s.pending != id {
		return false
	}
	s.timer = nil
	s.cancel = nil
	return true
}

func (s *Scheduler) stopLocked() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.cancel()
	s.timer = nil
	s.cancel = nil
	return true
}
