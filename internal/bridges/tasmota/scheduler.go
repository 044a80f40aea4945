package tasmota

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/metrics"
)

// Pollable is anything the scheduler can poll.
type Pollable interface {
	ID() string
	Poll(ctx context.Context)
}

// Scheduler runs one ticker per device.
//
// Each tick starts a poll cycle in its own goroutine. There is no
// skip-if-busy guard: a cycle that outlasts the interval overlaps the next.
// Tasks are cancelled individually with Unschedule or all at once with Stop.
type Scheduler struct {
	interval time.Duration
	logger   Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler polling every interval.
func NewScheduler(interval time.Duration, logger Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		logger:   orNoop(logger),
		tasks:    make(map[string]context.CancelFunc),
	}
}

// Schedule starts polling d immediately and then every interval until ctx
// is cancelled or the device is unscheduled. Scheduling an ID that is
// already scheduled replaces the previous task.
func (s *Scheduler) Schedule(ctx context.Context, d Pollable) {
	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if prev, ok := s.tasks[d.ID()]; ok {
		prev()
	}
	s.tasks[d.ID()] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(taskCtx, d)

	s.logger.Debug("device polling scheduled", "device_id", d.ID(), "interval", s.interval)
}

// Unschedule stops polling a device. In-flight cycles see their context
// cancelled. Returns false if the device was not scheduled.
func (s *Scheduler) Unschedule(id string) bool {
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Scheduled returns the number of devices being polled.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every task and waits for loops and in-flight cycles to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.tasks {
		cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, d Pollable) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.launch(ctx, d)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.launch(ctx, d)
		}
	}
}

// launch starts one poll cycle without waiting for the previous one.
func (s *Scheduler) launch(ctx context.Context, d Pollable) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		d.Poll(ctx)
		metrics.ObservePollCycle(time.Since(start))
	}()
}
