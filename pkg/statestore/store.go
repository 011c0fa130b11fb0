// Package statestore persists versioned records under optimistic
// concurrency. Every record carries a monotonically increasing version;
// writers name the version they read and the store rejects the write if
// another writer got there first.
package statestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// Record is a versioned document.
type Record struct {
	Key       string          `json:"key"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the versioned key-value contract. WriteIfVersion with
// expectedVersion 0 creates the record; any other value must match the
// current stored version exactly.
type Store interface {
	// Get returns the current record or a RES_NOT_FOUND fault.
	Get(ctx context.Context, key string) (*Record, error)

	// WriteIfVersion applies data only when the stored version equals
	// expectedVersion, returning the new record on success. A mismatch
	// yields a STATE_CONFLICT fault and leaves the record untouched.
	WriteIfVersion(ctx context.Context, key string, expectedVersion int64, data json.RawMessage) (*Record, error)

	// Delete removes a record. Deleting a missing key is a RES_NOT_FOUND
	// fault.
	Delete(ctx context.Context, key string) error

	// Keys lists keys with the given prefix, unordered.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

func notFound(key string) error {
	return faults.Newf("RES_NOT_FOUND", "record %q not found", key).WithField("key")
}

func conflict(key string, expected, actual int64) error {
	return faults.Newf("STATE_CONFLICT", "record %q at version %d, expected %d", key, actual, expected).WithField("version")
}
