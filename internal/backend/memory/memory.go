// Package memory implements the backing collection contract in process
// memory. It backs unit tests and embedded callers that don't need
// durability; semantics match the SQL engines, including the uniqueness
// constraint and expiration filtering.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scopekv/scopekv/internal/backend"
)

// Collection is a mutex-guarded map of records keyed by the scoped key.
// Safe for concurrent use.
type Collection struct {
	mu      sync.RWMutex
	records map[scopedKey]*backend.Record
}

var _ backend.Collection = (*Collection)(nil)

// scopedKey is the uniqueness domain: one record per (store, key, context).
type scopedKey struct {
	storeName string
	key       string
	contextID string // "" = global context
}

// Open creates an empty in-memory collection.
func Open() *Collection {
	return &Collection{records: make(map[scopedKey]*backend.Record)}
}

// Close releases the collection's records.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[scopedKey]*backend.Record)
	return nil
}

// InsertOne inserts a new record. Returns backend.ErrDuplicate when the
// scoped key is already taken.
func (c *Collection) InsertOne(_ context.Context, rec backend.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyOf(&rec)
	if _, ok := c.records[k]; ok {
		return fmt.Errorf("insert record: %w", backend.ErrDuplicate)
	}

	stored := rec
	c.records[k] = &stored
	return nil
}

// FindOne returns the single record matching f, or nil if none does.
func (c *Collection) FindOne(_ context.Context, f backend.Filter) (*backend.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, rec := range c.records {
		if f.Matches(rec) {
			out := *rec
			return &out, nil
		}
	}
	return nil, nil
}

// FindAll returns every record matching f.
// Returns an empty slice, never nil, when nothing matches.
func (c *Collection) FindAll(_ context.Context, f backend.Filter) ([]backend.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := []backend.Record{}
	for _, rec := range c.records {
		if f.Matches(rec) {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

// Count returns the number of records matching f.
func (c *Collection) Count(_ context.Context, f backend.Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	for _, rec := range c.records {
		if f.Matches(rec) {
			n++
		}
	}
	return n, nil
}

// DeleteOne deletes the single record matching f.
func (c *Collection) DeleteOne(_ context.Context, f backend.Filter) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, rec := range c.records {
		if f.Matches(rec) {
			delete(c.records, k)
			return true, nil
		}
	}
	return false, nil
}

// DeleteMany deletes every record matching f and returns the count.
func (c *Collection) DeleteMany(_ context.Context, f backend.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, rec := range c.records {
		if f.Matches(rec) {
			delete(c.records, k)
			n++
		}
	}
	return n, nil
}

// Upsert atomically updates the record matching f or inserts rec when none
// matches. The single write lock makes the whole branch decision atomic.
func (c *Collection) Upsert(_ context.Context, f backend.Filter, rec backend.Record) (backend.Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.records {
		if f.Matches(existing) {
			existing.Value = rec.Value
			existing.UpdatedAt = rec.UpdatedAt
			existing.ExpiresAt = rec.ExpiresAt
			out := *existing
			return out, false, nil
		}
	}

	// Insert branch. The map assignment also claims the slot from an expired
	// record f excluded, replacing it.
	stored := rec
	c.records[keyOf(&stored)] = &stored
	return rec, true, nil
}

// SetExpiry updates the expiration of the single record matching f.
// Reports true only when a record matched and its expiration changed.
func (c *Collection) SetExpiry(_ context.Context, f backend.Filter, expiresAt *time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.records {
		if f.Matches(rec) {
			if expiryEqual(rec.ExpiresAt, expiresAt) {
				return false, nil
			}
			rec.ExpiresAt = copyTime(expiresAt)
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpired deletes every record whose expiration is at or before cutoff.
func (c *Collection) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, rec := range c.records {
		if rec.ExpiresAt != nil && !rec.ExpiresAt.After(cutoff) {
			delete(c.records, k)
			n++
		}
	}
	return n, nil
}

func keyOf(rec *backend.Record) scopedKey {
	k := scopedKey{storeName: rec.StoreName, key: rec.Key}
	if rec.ContextID != nil {
		k.contextID = *rec.ContextID
	}
	return k
}

func expiryEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
