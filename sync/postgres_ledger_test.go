package sync

import (
	"testing"
)

func TestNewPostgresLedger_RequiresDSN(t *testing.T) {
	if _, err := NewPostgresLedger("  "); err == nil {
		t.Error("Expected error for blank dsn")
	}
}

func TestPostgresLedger_PendingDeduplication(t *testing.T) {
	ledger := &PostgresLedger{ids: make(map[string]struct{})}

	ledger.Add("ord-1")
	ledger.Add("ord-1")
	ledger.Add("ord-2")

	if !ledger.Contains("ord-1") || !ledger.Contains("ord-2") {
		t.Error("Expected added ids to be visible immediately")
	}
	if ledger.Len() != 2 {
		t.Errorf("Expected 2 ids but have: %d", ledger.Len())
	}
	if len(ledger.pending) != 2 {
		t.Errorf("Expected 2 pending inserts but have: %d", len(ledger.pending))
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"symphub_ledger", `"symphub_ledger"`},
		{`weird"name`, `"weird""name"`},
	}
	for _, tt := range tests {
		if result := postgresQuoteIdentifier(tt.name); result != tt.expected {
			t.Errorf("Expected %s but have: %s", tt.expected, result)
		}
	}
}
