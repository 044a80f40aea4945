package tasmota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingPollable counts Poll calls and optionally blocks inside them.
type countingPollable struct {
	id      string
	polls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	hold    time.Duration
	started chan struct{}
	once    sync.Once
}

func (c *countingPollable) ID() string { return c.id }

func (c *countingPollable) Poll(ctx context.Context) {
	c.polls.Add(1)
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if c.started != nil {
		c.once.Do(func() { close(c.started) })
	}
	if c.hold > 0 {
		select {
		case <-time.After(c.hold):
		case <-ctx.Done():
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_PollsImmediatelyAndRepeatedly(t *testing.T) {
	s := NewScheduler(time.Hour, nil)
	defer s.Stop()

	p := &countingPollable{id: "dev-1", started: make(chan struct{})}
	s.Schedule(context.Background(), p)

	select {
	case <-p.started:
	case <-time.After(time.Second):
		t.Fatal("first poll should run before the first tick")
	}

	fast := NewScheduler(10*time.Millisecond, nil)
	defer fast.Stop()
	q := &countingPollable{id: "dev-2"}
	fast.Schedule(context.Background(), q)
	waitFor(t, time.Second, func() bool { return q.polls.Load() >= 3 })
}

func TestScheduler_CyclesOverlap(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)
	defer s.Stop()

	p := &countingPollable{id: "slow", hold: 100 * time.Millisecond}
	s.Schedule(context.Background(), p)

	waitFor(t, time.Second, func() bool { return p.maxSeen.Load() >= 2 })
}

func TestScheduler_Unschedule(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)
	defer s.Stop()

	p := &countingPollable{id: "dev-1"}
	s.Schedule(context.Background(), p)
	waitFor(t, time.Second, func() bool { return p.polls.Load() >= 1 })

	if !s.Unschedule("dev-1") {
		t.Fatal("Unschedule() = false, want true")
	}
	if s.Unschedule("dev-1") {
		t.Error("second Unschedule() = true, want false")
	}
	if s.Scheduled() != 0 {
		t.Errorf("Scheduled() = %d, want 0", s.Scheduled())
	}

	time.Sleep(30 * time.Millisecond)
	after := p.polls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := p.polls.Load(); got != after {
		t.Errorf("polls after Unschedule went %d -> %d", after, got)
	}
}

func TestScheduler_RescheduleReplacesTask(t *testing.T) {
	s := NewScheduler(time.Hour, nil)
	defer s.Stop()

	p := &countingPollable{id: "dev-1"}
	s.Schedule(context.Background(), p)
	s.Schedule(context.Background(), p)

	if s.Scheduled() != 1 {
		t.Errorf("Scheduled() = %d, want 1", s.Scheduled())
	}
	waitFor(t, time.Second, func() bool { return p.polls.Load() == 2 })
}

func TestScheduler_StopCancelsInFlight(t *testing.T) {
	s := NewScheduler(time.Hour, nil)

	p := &countingPollable{id: "dev-1", hold: time.Minute, started: make(chan struct{})}
	s.Schedule(context.Background(), p)
	<-p.started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}
	if p.active.Load() != 0 {
		t.Errorf("active polls after Stop = %d, want 0", p.active.Load())
	}
}

func TestScheduler_ParentContextCancel(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPollable{id: "dev-1"}
	s.Schedule(ctx, p)
	waitFor(t, time.Second, func() bool { return p.polls.Load() >= 1 })

	cancel()
	time.Sleep(30 * time.Millisecond)
	after := p.polls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := p.polls.Load(); got != after {
		t.Errorf("polls after cancel went %d -> %d", after, got)
	}
}
