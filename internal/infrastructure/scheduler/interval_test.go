package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewIntervalScheduler(10 * time.Millisecond)
	if err := s.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A second Start must not spawn another loop.
	_ = s.Start(context.Background(), func(time.Time) { runs.Add(100) })

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := runs.Load()
	if got < 3 || got >= 100 {
		t.Fatalf("unexpected run count %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if runs.Load() != got {
		t.Fatal("job ran after Stop")
	}
}

func TestIntervalSchedulerStopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	s := NewIntervalScheduler(time.Hour)
	if err := s.Start(ctx, func(time.Time) { started <- struct{}{} }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewIntervalSchedulerDefault(t *testing.T) {
	t.Parallel()

	if s := NewIntervalScheduler(0); s.interval != 24*time.Hour {
		t.Fatalf("unexpected default interval %v", s.interval)
	}
}
