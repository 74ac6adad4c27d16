package sync

import (
	"context"
)

// Outcome classifies what happened to a single record during a sync run.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeUpdated          Outcome = "updated"
	OutcomeSkippedDuplicate Outcome = "skipped-duplicate"
	OutcomeSkippedNoEmail   Outcome = "skipped-no-email"
	OutcomeFailed           Outcome = "failed"
)

// TouchedCRM reports whether the outcome involved a HubSpot call.
// Skipped records never reach the CRM.
func (o Outcome) TouchedCRM() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeFailed:
		return true
	}
	return false
}

// UpsertStrategy performs an idempotent create-or-update for one contact
// keyed by email. Re-submitting identical properties for the same email must
// never create a duplicate contact.
type UpsertStrategy interface {
	Upsert(properties ContactProperties, ctx context.Context) (Outcome, error)
}

// NewUpsertStrategy creates an UpsertStrategy based on the strategy named in
// the config. "native-upsert" uses HubSpot's batch upsert endpoint (one call
// per record); anything else defaults to find-then-write (two calls worst
// case, needed when the portal restricts the batch upsert scope).
func NewUpsertStrategy(sc *SyncContext) UpsertStrategy {
	hubspot := HubSpotFetcherAndUpdater{SyncContext: sc}

	switch sc.Config.CRM.Strategy {
	case "native-upsert":
		return &NativeUpsertStrategy{HubSpotFetcherAndUpdater: hubspot}
	default: // "", "find-then-write"
		return &FindThenWriteStrategy{HubSpotFetcherAndUpdater: hubspot}
	}
}

// FindThenWriteStrategy looks the contact up by email, then issues either a
// partial update to the found id or a create.
type FindThenWriteStrategy struct {
	HubSpotFetcherAndUpdater
}

func (s *FindThenWriteStrategy) Upsert(properties ContactProperties, ctx context.Context) (Outcome, error) {
	email := properties[PropEmail]

	contactID, err := s.FindContactByEmail(email, ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if contactID != "" {
		if err := s.UpdateContact(contactID, properties, ctx); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeUpdated, nil
	}
	if _, err := s.CreateContact(properties, ctx); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeCreated, nil
}

// NativeUpsertStrategy delegates the create-vs-update decision to HubSpot's
// batch upsert endpoint.
type NativeUpsertStrategy struct {
	HubSpotFetcherAndUpdater
}

func (s *NativeUpsertStrategy) Upsert(properties ContactProperties, ctx context.Context) (Outcome, error) {
	created, err := s.BatchUpsertContact(properties, ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if created {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}
