// Package scheduler runs the periodic stale-position eviction sweep.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Evictor is the slice of the position store the sweep needs.
type Evictor interface {
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Metrics receives sweep outcomes. Satisfied by metrics.Collector.
type Metrics interface {
	SweepRan(removed int, d time.Duration)
	SweepFailed()
}

// Scheduler evicts positions whose fix age exceeds MaxAge, every
// Interval. Sweep period and stale age are configured independently.
type Scheduler struct {
	interval time.Duration
	maxAge   time.Duration
	store    Evictor
	metrics  Metrics
	now      func() time.Time

	mu       sync.Mutex
	sweeping bool
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches a sweep metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler sweeping store every interval, evicting
// records older than maxAge.
func New(store Evictor, interval, maxAge time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: interval,
		maxAge:   maxAge,
		store:    store,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the sweep loop in a goroutine until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Sweep runs one eviction pass. Overlapping invocations are refused:
// if a sweep is already in flight the call returns immediately, so no
// two sweeps ever run concurrently. A failing sweep is logged and
// counted; it never terminates the schedule.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	start := s.now()
	cutoff := start.Add(-s.maxAge)
	removed, err := s.store.EvictOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("scheduler: eviction sweep: %v", err)
		if s.metrics != nil {
			s.metrics.SweepFailed()
		}
		return
	}
	if removed > 0 {
		log.Printf("scheduler: dropped %d stale positions", removed)
	}
	if s.metrics != nil {
		s.metrics.SweepRan(removed, s.now().Sub(start))
	}
}
