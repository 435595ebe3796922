package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()
	s := NewIntervalScheduler(10*time.Millisecond, time.UTC)

	var runs atomic.Int32
	if err := s.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got < 3 {
		t.Fatalf("expected at least 3 runs, got %d", got)
	}

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("job ran after stop")
	}
}

func TestIntervalSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()
	if err := NewIntervalScheduler(time.Second, nil).Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestIntervalSchedulerStopWaitsForJob(t *testing.T) {
	t.Parallel()
	s := NewIntervalScheduler(time.Hour, time.UTC)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	_ = s.Start(context.Background(), func(time.Time) {
		close(started)
		<-release
		finished.Store(true)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatal("expected stop to time out while job runs")
	}
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for !finished.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !finished.Load() {
		t.Fatal("job did not finish")
	}
}
