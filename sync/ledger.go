package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	gosync "sync"
)

// Ledger is the durable set of order ids that have already been submitted to
// HubSpot. Ids are added only after a confirmed non-error CRM response and
// survive restarts. Implementations must be safe for concurrent use.
type Ledger interface {
	Contains(orderID string) bool
	Add(orderID string)
	Len() int
	// Persist flushes pending additions, called once per batch.
	Persist() error
	// Reset atomically clears the whole set, only for explicit full resyncs.
	Reset() error
}

// NewLedger selects the ledger backend: Postgres when a DSN is configured,
// otherwise a JSON file.
func NewLedger(settings LedgerSettings) (Ledger, error) {
	if settings.PostgresDSN != "" {
		return NewPostgresLedger(settings.PostgresDSN)
	}
	if settings.Path == "" {
		return nil, errors.New("ledger requires a file path or a postgres dsn")
	}
	return NewFileLedger(settings.Path)
}

// FileLedger keeps the set in memory and persists it as a sorted JSON array,
// replacing the file atomically via a tmp write and rename.
type FileLedger struct {
	mu   gosync.Mutex
	path string
	ids  map[string]struct{}
}

func NewFileLedger(path string) (*FileLedger, error) {
	result := &FileLedger{
		path: path,
		ids:  make(map[string]struct{}),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file %s %w", path, err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file %s %w", path, err)
	}
	for _, id := range ids {
		result.ids[id] = struct{}{}
	}
	return result, nil
}

func (l *FileLedger) Contains(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.ids[orderID]
	return exists
}

func (l *FileLedger) Add(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[orderID] = struct{}{}
}

func (l *FileLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *FileLedger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

func (l *FileLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = make(map[string]struct{})
	return l.save()
}

func (l *FileLedger) save() error {
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
