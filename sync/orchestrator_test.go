package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"
)

// stubOrdersFetcher serves canned pages and records which pages were fetched.
type stubOrdersFetcher struct {
	event    EventContext
	pages    map[int]OrdersPage
	failPage int
	fetched  []int
}

func (s *stubOrdersFetcher) FetchEventDetails(eventID string, ctx context.Context) EventContext {
	return s.event
}

func (s *stubOrdersFetcher) FetchOrdersPage(eventID string, page int, ctx context.Context) (OrdersPage, error) {
	s.fetched = append(s.fetched, page)
	if s.failPage != 0 && page == s.failPage {
		return OrdersPage{}, errors.New("sympla page fetch failed")
	}
	return s.pages[page], nil
}

// stubUpsertStrategy tracks contacts by email like the CRM would.
type stubUpsertStrategy struct {
	contacts   map[string]ContactProperties
	failEmails map[string]bool
	calls      int
}

func newStubUpsertStrategy() *stubUpsertStrategy {
	return &stubUpsertStrategy{
		contacts:   make(map[string]ContactProperties),
		failEmails: make(map[string]bool),
	}
}

func (s *stubUpsertStrategy) Upsert(properties ContactProperties, ctx context.Context) (Outcome, error) {
	s.calls++
	email := properties[PropEmail]
	if s.failEmails[email] {
		return OutcomeFailed, &CRMCallError{Status: 500, Err: errors.New("server error")}
	}
	if _, exists := s.contacts[email]; exists {
		s.contacts[email] = properties
		return OutcomeUpdated, nil
	}
	s.contacts[email] = properties
	return OutcomeCreated, nil
}

func orderRecord(email, orderID string) SourceRecord {
	return SourceRecord{
		Email:        email,
		OrderID:      orderID,
		EventID:      "999",
		CustomFields: map[string]string{},
	}
}

func ordersPage(page, totalPages int, records ...SourceRecord) OrdersPage {
	return OrdersPage{
		Records:    records,
		Pagination: Pagination{Page: page, TotalPages: totalPages},
	}
}

func testOrchestrator(t *testing.T, fetcher *stubOrdersFetcher, strategy *stubUpsertStrategy) *Orchestrator {
	t.Helper()
	ledger, err := NewFileLedger(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	sc := &SyncContext{
		Config: Config{
			Scheduler: SchedulerSettings{EventID: "999"},
		},
	}
	return &Orchestrator{
		SyncContext: sc,
		Sympla:      fetcher,
		Mapper:      &ContactMapper{},
		Strategy:    strategy,
		Ledger:      ledger,
		runMu:       &gosync.Mutex{},
	}
}

func TestSyncWebhook_CreateThenUpdate(t *testing.T) {
	fetcher := &stubOrdersFetcher{event: EventContext{ID: "999", Name: "Prolog Day"}}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	body := []byte(`{
		"type": "order.approved",
		"data": {
			"id": "ord-1",
			"event_id": "999",
			"participants": [{"email": "a@b.com", "first_name": "Ana", "order_id": "ord-1"}]
		}
	}`)

	summary, err := o.SyncWebhook(context.Background(), body)
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.Created != 1 || summary.Updated != 0 {
		t.Errorf("Expected 1 created but have: %+v", summary)
	}
	if strategy.contacts["a@b.com"]["ultima_fonte_conversao"] != "Prolog Day" {
		t.Errorf("Expected conversion source from event name but have: %v", strategy.contacts["a@b.com"])
	}

	// identical redelivery converges on the same contact
	summary, err = o.SyncWebhook(context.Background(), body)
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.Updated != 1 || summary.Created != 0 {
		t.Errorf("Expected redelivery to update but have: %+v", summary)
	}
	if len(strategy.contacts) != 1 {
		t.Errorf("Expected a single contact but have: %d", len(strategy.contacts))
	}
	if o.Ledger.Len() != 0 {
		t.Errorf("Expected webhook path to leave the ledger untouched but have: %d ids", o.Ledger.Len())
	}
}

func TestSyncEvent_LedgerSkipsDuplicates(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		event: EventContext{ID: "999", Name: "Prolog Day"},
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1, orderRecord("a@b.com", "ord-1"), orderRecord("b@b.com", "ord-2")),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	summary, err := o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.Created != 2 {
		t.Errorf("Expected 2 created but have: %+v", summary)
	}
	if !o.Ledger.Contains("ord-1") || !o.Ledger.Contains("ord-2") {
		t.Error("Expected successful orders to be ledgered")
	}

	summary, err = o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.SkippedDuplicate != 2 || summary.Created != 0 {
		t.Errorf("Expected 2 skipped duplicates but have: %+v", summary)
	}
	if strategy.calls != 2 {
		t.Errorf("Expected no further CRM calls on the second run but have: %d", strategy.calls)
	}
}

func TestSyncEvent_FailedOrderStaysUnledgered(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1, orderRecord("a@b.com", "ord-1"), orderRecord("bad@b.com", "ord-2")),
		},
	}
	strategy := newStubUpsertStrategy()
	strategy.failEmails["bad@b.com"] = true
	o := testOrchestrator(t, fetcher, strategy)

	summary, err := o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no batch error for a record failure but have: %v", err)
	}
	if summary.Created != 1 || summary.Failed != 1 {
		t.Errorf("Expected 1 created and 1 failed but have: %+v", summary)
	}
	if !o.Ledger.Contains("ord-1") {
		t.Error("Expected successful order to be ledgered")
	}
	if o.Ledger.Contains("ord-2") {
		t.Error("Expected failed order to stay unledgered for retry")
	}

	// next run retries the failed order only
	strategy.failEmails["bad@b.com"] = false
	summary, err = o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.Created != 1 || summary.SkippedDuplicate != 1 {
		t.Errorf("Expected retry of failed order only but have: %+v", summary)
	}
	if !o.Ledger.Contains("ord-2") {
		t.Error("Expected retried order to be ledgered after success")
	}
}

func TestSyncEvent_PageErrorKeepsPartialResults(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 3, orderRecord("a@b.com", "ord-1")),
		},
		failPage: 2,
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	summary, err := o.SyncEvent(context.Background())
	if err == nil {
		t.Fatal("Expected scan error from failed page fetch")
	}
	if summary.Created != 1 {
		t.Errorf("Expected page 1 results to be kept but have: %+v", summary)
	}
	if !o.Ledger.Contains("ord-1") {
		t.Error("Expected page 1 orders to be ledgered despite the later page error")
	}
	expected := []int{1, 2}
	if len(fetcher.fetched) != len(expected) || fetcher.fetched[0] != 1 || fetcher.fetched[1] != 2 {
		t.Errorf("Expected pages %v fetched but have: %v", expected, fetcher.fetched)
	}
}

func TestSyncEvent_PaginationTermination(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 2, orderRecord("a@b.com", "ord-1")),
			2: ordersPage(2, 2, orderRecord("b@b.com", "ord-2")),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	summary, err := o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.Created != 2 {
		t.Errorf("Expected 2 created across pages but have: %+v", summary)
	}
	if len(fetcher.fetched) != 2 {
		t.Errorf("Expected exactly 2 page fetches but have: %v", fetcher.fetched)
	}
}

func TestSyncEvent_EmptyPageStopsScan(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 5),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	if _, err := o.SyncEvent(context.Background()); err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if len(fetcher.fetched) != 1 {
		t.Errorf("Expected scan to stop on empty page but have fetches: %v", fetcher.fetched)
	}
}

func TestSyncEvent_SkipsRecordsWithoutEmail(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1, orderRecord("", "ord-1"), orderRecord("a@b.com", "ord-2")),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	summary, err := o.SyncEvent(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.SkippedNoEmail != 1 || summary.Created != 1 {
		t.Errorf("Expected 1 skipped-no-email and 1 created but have: %+v", summary)
	}
	if o.Ledger.Contains("ord-1") {
		t.Error("Expected emailless order to stay unledgered")
	}
}

func TestFullResync_ResetsLedger(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1, orderRecord("a@b.com", "ord-1")),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	if _, err := o.SyncEvent(context.Background()); err != nil {
		t.Fatal(err)
	}

	summary, err := o.FullResync(context.Background())
	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.SkippedDuplicate != 0 {
		t.Errorf("Expected resync to reprocess ledgered orders but have: %+v", summary)
	}
	if summary.Updated != 1 {
		t.Errorf("Expected 1 updated on resync but have: %+v", summary)
	}
	if !o.Ledger.Contains("ord-1") {
		t.Error("Expected resynced order to be re-ledgered")
	}
}

func TestSyncEvent_SingleRunAtATime(t *testing.T) {
	fetcher := &stubOrdersFetcher{}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)

	o.runMu.Lock()
	defer o.runMu.Unlock()

	if _, err := o.SyncEvent(context.Background()); !errors.Is(err, ErrSyncRunInProgress) {
		t.Errorf("Expected ErrSyncRunInProgress but have: %v", err)
	}
	if _, err := o.FullResync(context.Background()); !errors.Is(err, ErrSyncRunInProgress) {
		t.Errorf("Expected ErrSyncRunInProgress but have: %v", err)
	}
}

func TestOutcome_TouchedCRM(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected bool
	}{
		{OutcomeCreated, true},
		{OutcomeUpdated, true},
		{OutcomeFailed, true},
		{OutcomeSkippedDuplicate, false},
		{OutcomeSkippedNoEmail, false},
	}
	for _, tt := range tests {
		if tt.outcome.TouchedCRM() != tt.expected {
			t.Errorf("Expected TouchedCRM %v for %s", tt.expected, tt.outcome)
		}
	}
}

func TestSyncEvent_SkippedRecordsAreNotThrottled(t *testing.T) {
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1,
				orderRecord("a@b.com", "ord-1"),
				orderRecord("b@b.com", "ord-2"),
				orderRecord("c@b.com", "ord-3")),
		},
	}
	strategy := newStubUpsertStrategy()
	o := testOrchestrator(t, fetcher, strategy)
	o.Config.Scheduler.ThrottleDelayMillis = 200
	for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
		o.Ledger.Add(id)
	}

	start := time.Now()
	summary, err := o.SyncEvent(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Expected no error but have: %v", err)
	}
	if summary.SkippedDuplicate != 3 || strategy.calls != 0 {
		t.Fatalf("Expected 3 ledger skips without CRM calls but have: %+v (%d calls)", summary, strategy.calls)
	}
	if elapsed >= 200*time.Millisecond {
		t.Errorf("Expected no throttle delay for skipped records but scan took %v", elapsed)
	}
}

func TestSyncEvent_RunLockSharedAcrossInstances(t *testing.T) {
	ledger, err := NewFileLedger(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &stubOrdersFetcher{
		pages: map[int]OrdersPage{
			1: ordersPage(1, 1, orderRecord("a@b.com", "ord-1")),
		},
	}
	sc := &SyncContext{Config: Config{Scheduler: SchedulerSettings{EventID: "999"}}}
	runLock := &gosync.Mutex{}

	// the second orchestrator stands in for the post-reload instance
	before := &Orchestrator{SyncContext: sc, Sympla: fetcher, Mapper: &ContactMapper{},
		Strategy: newStubUpsertStrategy(), Ledger: ledger, runMu: runLock}
	after := &Orchestrator{SyncContext: sc, Sympla: fetcher, Mapper: &ContactMapper{},
		Strategy: newStubUpsertStrategy(), Ledger: ledger, runMu: runLock}

	before.runMu.Lock()
	defer before.runMu.Unlock()

	if _, err := after.SyncEvent(context.Background()); !errors.Is(err, ErrSyncRunInProgress) {
		t.Errorf("Expected ErrSyncRunInProgress across instances but have: %v", err)
	}
	if _, err := after.FullResync(context.Background()); !errors.Is(err, ErrSyncRunInProgress) {
		t.Errorf("Expected ErrSyncRunInProgress for resync across instances but have: %v", err)
	}
}

func TestSyncEvent_RequiresEventID(t *testing.T) {
	o := testOrchestrator(t, &stubOrdersFetcher{}, newStubUpsertStrategy())
	o.Config.Scheduler.EventID = ""

	if _, err := o.SyncEvent(context.Background()); err == nil {
		t.Error("Expected error when no event id is configured")
	}
}
