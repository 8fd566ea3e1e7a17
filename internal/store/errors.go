package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or asset does not exist locally.
	ErrNotFound = errors.New("record not found")

	// ErrSyncRunning is returned by TryStartSync when the entity type already
	// has a run in the running state.
	ErrSyncRunning = errors.New("sync already running")

	// ErrUnknownEntity is returned for entity types without a local table.
	ErrUnknownEntity = errors.New("unknown entity type")
)

// UpsertError reports a single rejected row inside a page upsert. The rest of
// the page still commits.
type UpsertError struct {
	ExternalID string
	Err        error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert %s: %v", e.ExternalID, e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}
