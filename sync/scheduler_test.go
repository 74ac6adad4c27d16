package sync

import (
	"context"
	"testing"
	"time"
)

func TestScheduler_RunTicksUntilCancelled(t *testing.T) {
	ticks := make(chan struct{}, 10)
	s := NewScheduler(10*time.Millisecond, func(ctx context.Context) (SyncSummary, error) {
		ticks <- struct{}{}
		return SyncSummary{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("Expected scheduled sync to run")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after cancellation")
	}
}

func TestScheduler_TickSurvivesErrors(t *testing.T) {
	calls := 0
	s := NewScheduler(time.Minute, func(ctx context.Context) (SyncSummary, error) {
		calls++
		if calls == 1 {
			return SyncSummary{}, ErrSyncRunInProgress
		}
		return SyncSummary{}, context.DeadlineExceeded
	})

	// neither a busy run nor a sync error may escape the tick
	s.tick(context.Background())
	s.tick(context.Background())
	if calls != 2 {
		t.Errorf("Expected 2 sync calls but have: %d", calls)
	}
}

func TestScheduler_TickBoundsRunDuration(t *testing.T) {
	var sawDeadline bool
	s := NewScheduler(time.Minute, func(ctx context.Context) (SyncSummary, error) {
		_, sawDeadline = ctx.Deadline()
		return SyncSummary{}, nil
	})

	s.tick(context.Background())
	if !sawDeadline {
		t.Error("Expected tick to bound the run with a deadline")
	}
}
