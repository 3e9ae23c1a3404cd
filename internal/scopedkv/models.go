package scopedkv

import (
	"encoding/json"
	"errors"
	"time"
)

// ReservedKey is the sentinel key under which a store's existence marker is
// recorded. It is never a valid user key and never appears in key listings.
const ReservedKey = "__store__"

// ErrReservedKey is returned by key operations given the sentinel key.
var ErrReservedKey = errors.New("key is reserved for store markers")

// StoreMarker records the existence of a named store within a scope.
// Exactly one marker exists per (store, scope).
type StoreMarker struct {
	StoreName string
	Scope     Scope
	CreatedAt time.Time
}

// KeyEntry is a value stored under a key within a store.
//
// CreatedAt is set once when the entry first appears and never changes;
// UpdatedAt advances on every write. A nil ExpiresAt means the entry never
// expires.
type KeyEntry struct {
	StoreName string
	Key       string
	Value     json.RawMessage
	Scope     Scope
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Decode unmarshals the entry's value into v.
func (e *KeyEntry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}
