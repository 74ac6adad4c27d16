package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"
)

// ErrSyncRunInProgress is returned when a polling run is requested while a
// previous run is still active. At most one polling run executes at a time.
var ErrSyncRunInProgress = errors.New("a sync run is already in progress")

// EventOrdersFetcher is the polling side of the Sympla API used by the
// orchestrator.
type EventOrdersFetcher interface {
	FetchEventDetails(eventID string, ctx context.Context) EventContext
	FetchOrdersPage(eventID string, page int, ctx context.Context) (OrdersPage, error)
}

// SyncSummary aggregates per-record outcomes for one batch.
type SyncSummary struct {
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	SkippedNoEmail   int       `json:"skipped_no_email"`
	Failed           int       `json:"failed"`
	Timestamp        time.Time `json:"timestamp"`
}

// Processed is the number of records that reached HubSpot successfully.
func (s SyncSummary) Processed() int {
	return s.Created + s.Updated
}

func (s *SyncSummary) count(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkippedDuplicate:
		s.SkippedDuplicate++
	case OutcomeSkippedNoEmail:
		s.SkippedNoEmail++
	case OutcomeFailed:
		s.Failed++
	}
}

// Orchestrator drives sync batches. It owns the ledger and serializes
// polling runs; webhook batches may run concurrently with a polling run
// because they never touch the ledger (the CRM's find-by-email is the
// safety net on that path).
type Orchestrator struct {
	*SyncContext
	Sympla   EventOrdersFetcher
	Mapper   *ContactMapper
	Strategy UpsertStrategy
	Ledger   Ledger

	// runMu lives alongside the ledger, not the orchestrator: a config
	// reload swaps in a fresh orchestrator sharing both, and runs on the
	// old and new instance must still exclude each other.
	runMu *gosync.Mutex
}

func NewOrchestrator(sc *SyncContext, ledger Ledger, runLock *gosync.Mutex) *Orchestrator {
	if runLock == nil {
		runLock = &gosync.Mutex{}
	}
	return &Orchestrator{
		SyncContext: sc,
		Sympla:      &SymplaFetcherAndUpdater{SyncContext: sc},
		Mapper:      NewContactMapper(sc.Config),
		Strategy:    NewUpsertStrategy(sc),
		Ledger:      ledger,
		runMu:       runLock,
	}
}

// SyncWebhook processes one validated webhook body. The caller has already
// checked the request signature.
func (o *Orchestrator) SyncWebhook(ctx context.Context, body []byte) (SyncSummary, error) {
	summary := SyncSummary{Timestamp: time.Now().UTC()}

	event, err := ParseWebhookPayload(body)
	if err != nil {
		return summary, err
	}

	eventContext := o.Sympla.FetchEventDetails(event.EventID, ctx)

	for _, rec := range event.Records {
		outcome := o.syncRecord(ctx, rec, eventContext, ModeWebhook, false)
		summary.count(outcome)
		if outcome.TouchedCRM() {
			o.throttle(ctx)
		}
	}
	return summary, nil
}

// SyncEvent runs one polling scan over the configured event's orders,
// skipping ledgered orders and ledgering each success. The ledger is
// persisted once after the scan.
func (o *Orchestrator) SyncEvent(ctx context.Context) (SyncSummary, error) {
	if !o.runMu.TryLock() {
		return SyncSummary{Timestamp: time.Now().UTC()}, ErrSyncRunInProgress
	}
	defer o.runMu.Unlock()
	return o.scanEvent(ctx)
}

// FullResync clears the ledger and then runs a polling scan, resubmitting
// every order.
func (o *Orchestrator) FullResync(ctx context.Context) (SyncSummary, error) {
	if !o.runMu.TryLock() {
		return SyncSummary{Timestamp: time.Now().UTC()}, ErrSyncRunInProgress
	}
	defer o.runMu.Unlock()

	if err := o.Ledger.Reset(); err != nil {
		return SyncSummary{Timestamp: time.Now().UTC()}, fmt.Errorf("failed to reset ledger %w", err)
	}
	log.Printf("Ledger reset for full resync")
	return o.scanEvent(ctx)
}

func (o *Orchestrator) scanEvent(ctx context.Context) (SyncSummary, error) {
	summary := SyncSummary{Timestamp: time.Now().UTC()}

	eventID := o.Config.Scheduler.EventID
	if eventID == "" {
		return summary, errors.New("no event id configured for polling")
	}

	eventContext := o.Sympla.FetchEventDetails(eventID, ctx)

	var scanErr error
	for page := 1; ; page++ {
		ordersPage, err := o.Sympla.FetchOrdersPage(eventID, page, ctx)
		if err != nil {
			// keep what was already processed, the next scheduled run
			// retries the full scan
			scanErr = err
			break
		}
		for _, rec := range ordersPage.Records {
			outcome := o.syncRecord(ctx, rec, eventContext, ModePolling, true)
			summary.count(outcome)
			if outcome.TouchedCRM() {
				o.throttle(ctx)
			}
		}
		if ordersPage.LastPage() {
			break
		}
	}

	if err := o.Ledger.Persist(); err != nil {
		scanErr = errors.Join(scanErr, fmt.Errorf("failed to persist ledger %w", err))
	}
	return summary, scanErr
}

// syncRecord processes one record and returns its outcome. Failures are
// contained here: they are logged and counted, never propagated, so one bad
// record cannot abort the batch.
func (o *Orchestrator) syncRecord(ctx context.Context, rec SourceRecord, event EventContext, mode SyncMode, useLedger bool) Outcome {
	email := rec.NormalizedEmail()
	if email == "" {
		log.Printf("Skipping record without email (order %q)", rec.OrderID)
		return OutcomeSkippedNoEmail
	}
	if useLedger && o.Ledger.Contains(rec.OrderID) {
		return OutcomeSkippedDuplicate
	}

	properties := o.Mapper.MapContact(rec, event, mode)

	outcome, err := o.Strategy.Upsert(properties, ctx)
	if err != nil {
		// the order stays unledgered so a later run retries it
		log.Printf("Failed to sync contact %s (order %q): %v", email, rec.OrderID, err)
		return OutcomeFailed
	}

	if useLedger && rec.OrderID != "" {
		o.Ledger.Add(rec.OrderID)
	}
	log.Printf("Synced contact %s (%s)", email, outcome)
	return outcome
}

// throttle sleeps the configured delay between CRM calls to respect
// HubSpot rate limits, returning early on context cancellation.
func (o *Orchestrator) throttle(ctx context.Context) {
	delay := o.Config.Scheduler.ThrottleDelay()
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
