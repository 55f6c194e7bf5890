package movement

import (
	"context"
	"sync"
	"time"
)

// Scheduler calls a tick function at a fixed interval while running.
// Ticks run on a single goroutine and never overlap.
type Scheduler struct {
	parent   context.Context
	interval time.Duration
	tick     func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	gen     uint64
}

// NewScheduler creates a stopped scheduler. Every run stops when parent is cancelled.
func NewScheduler(parent context.Context, interval time.Duration, tick func(ctx context.Context)) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		parent:   parent,
		interval: interval,
		tick:     tick,
	}
}

// Interval returns the time between ticks
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins ticking. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.running = true
	s.gen++

	go s.loop(ctx, s.gen)
}

// Stop halts ticking without waiting for an in-flight tick, so it may be
// called from inside the tick function. It is a no-op when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.cancel = nil
	s.running = false
}

// Running reports whether the scheduler is ticking
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// parent cancellation ends the run without a call to Stop
		if s.gen == gen && s.running {
			s.cancel()
			s.cancel = nil
			s.running = false
		}
	}()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}
