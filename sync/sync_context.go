package sync

// SyncContext holds shared sync configuration and trigger metadata.
// It is immutable after construction.
type SyncContext struct {
	Config         Config
	RecordRequests bool

	// Trigger metadata for the current run, set once when the run starts.
	Source           string
	TriggerType      string
	TriggerID        string
	TriggerCreatedAt string
}
