package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresLedgerTableName   = "symphub_ledger"
	postgresOperationTimeout  = 5 * time.Second
	postgresLedgerInsertBatch = 500
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresLedger keeps the set in memory for fast Contains checks and
// flushes pending additions to a single-column table on Persist. The table
// is created lazily on first use.
type PostgresLedger struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce gosync.Once
	initErr  error
	db       *sql.DB

	mu      gosync.Mutex
	ids     map[string]struct{}
	pending []string
}

func NewPostgresLedger(dsn string) (*PostgresLedger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres ledger requires a dsn")
	}
	result := &PostgresLedger{
		dsn:       dsn,
		tableName: postgresLedgerTableName,
		openDB:    sql.Open,
		ids:       make(map[string]struct{}),
	}
	if err := result.load(); err != nil {
		return nil, err
	}
	return result, nil
}

func (l *PostgresLedger) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				order_id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(l.tableName))
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func (l *PostgresLedger) load() error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT order_id FROM %s", postgresQuoteIdentifier(l.tableName))
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		l.ids[id] = struct{}{}
	}
	return rows.Err()
}

func (l *PostgresLedger) Contains(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.ids[orderID]
	return exists
}

func (l *PostgresLedger) Add(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.ids[orderID]; exists {
		return
	}
	l.ids[orderID] = struct{}{}
	l.pending = append(l.pending, orderID)
}

func (l *PostgresLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *PostgresLedger) Persist() error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	for start := 0; start < len(pending); start += postgresLedgerInsertBatch {
		end := start + postgresLedgerInsertBatch
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("($%d)", i+1)
			args[i] = id
		}
		query := fmt.Sprintf(
			"INSERT INTO %s (order_id) VALUES %s ON CONFLICT (order_id) DO NOTHING",
			postgresQuoteIdentifier(l.tableName), strings.Join(placeholders, ","))
		if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
			// put the chunk back so the next Persist retries it
			l.mu.Lock()
			l.pending = append(pending[start:], l.pending...)
			l.mu.Unlock()
			return err
		}
	}
	return nil
}

func (l *PostgresLedger) Reset() error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s", postgresQuoteIdentifier(l.tableName))
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return err
	}
	l.mu.Lock()
	l.ids = make(map[string]struct{})
	l.pending = nil
	l.mu.Unlock()
	return nil
}

func (l *PostgresLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
