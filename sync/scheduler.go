package sync

import (
	"context"
	"errors"
	"log"
	"time"
)

// Scheduler runs polling scans on a fixed interval. It is constructed
// explicitly and does nothing until Run is called; cancelling the context
// stops it.
type Scheduler struct {
	Interval   time.Duration
	RunTimeout time.Duration
	Sync       func(ctx context.Context) (SyncSummary, error)
}

func NewScheduler(interval time.Duration, syncfn func(ctx context.Context) (SyncSummary, error)) *Scheduler {
	return &Scheduler{
		Interval: interval,
		// bound each run so a hang never blocks the next tick
		RunTimeout: interval * 2,
		Sync:       syncfn,
	}
}

// Run blocks until ctx is cancelled. Every error is caught and logged at the
// top of the loop so the loop itself never terminates.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Printf("Scheduler started (interval %s)", s.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.RunTimeout)
	defer cancel()

	summary, err := s.Sync(runCtx)
	if errors.Is(err, ErrSyncRunInProgress) {
		log.Printf("Skipping scheduled sync, previous run still in progress")
		return
	}
	if err != nil {
		log.Printf("Scheduled sync error: %v", err)
	}
	log.Printf("Scheduled sync complete: created=%d updated=%d skipped_duplicate=%d skipped_no_email=%d failed=%d",
		summary.Created, summary.Updated, summary.SkippedDuplicate, summary.SkippedNoEmail, summary.Failed)
}
