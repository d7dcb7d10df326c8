// Package credstore persists the portal session across process restarts.
//
// A Store holds exactly one credential record: the serialized principal and
// the raw bearer token. The two always travel together: a record is saved
// and cleared as a unit, never partially. No freshness validation happens
// here; the stored token is trusted until the server rejects it.
//
// Drivers: MemStore (ephemeral), FileStore (JSON on disk, optionally
// encrypted at rest) and the sqlite subpackage (database-backed cache).
package credstore

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Load when no credentials are stored.
var ErrNotFound = errors.New("credstore: not found")

// Credentials is the persisted session record. User is kept as raw JSON so
// the store stays agnostic of the principal's shape.
type Credentials struct {
	User  json.RawMessage `json:"user"`
	Token string          `json:"token"`
}

// Store is the persistence contract. Implementations are synchronous by
// design: when Save returns, the write is durable, so callers never observe
// a half-persisted session.
type Store interface {
	// Save replaces the stored credentials.
	Save(creds Credentials) error

	// Load returns the stored credentials or ErrNotFound.
	Load() (Credentials, error)

	// Clear removes any stored credentials. Clearing an empty store is not
	// an error.
	Clear() error
}
