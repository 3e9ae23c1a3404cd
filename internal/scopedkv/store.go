// Package scopedkv implements a scoped key-value store: key-value data
// partitioned into independent contexts, one per owning entity plus a global
// context, with per-context CRUD, enumeration, and TTL-based expiration.
//
// A Store is bound to one Scope at construction; every operation implicitly
// filters by it. The Global* methods ignore the binding and span all
// contexts.
//
// Expiration is logical at access time and physical via the Sweeper: an
// entry whose expiration has passed is absent to reads and writes alike
// (updates never revive it, a new write replaces it), and the sweeper
// eventually deletes such entries from the backing collection.
package scopedkv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scopekv/scopekv/internal/backend"
)

// Store provides the operations of one context over a backing collection.
// Safe for concurrent use; the scope and collection handle never change
// after construction.
type Store struct {
	coll  backend.Collection
	scope Scope
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the store's time source. Tests use it for deterministic
// timestamps and expirations.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store bound to the given scope.
func New(coll backend.Collection, scope Scope, opts ...Option) *Store {
	s := &Store{
		coll:  coll,
		scope: scope,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scope returns the scope the store is bound to.
func (s *Store) Scope() Scope {
	return s.scope
}

// CreateStore inserts the existence marker for the named store in this
// scope. It does not check for a pre-existing marker; creating the same
// store twice in one scope surfaces the engine's uniqueness violation as an
// error wrapping backend.ErrDuplicate.
func (s *Store) CreateStore(ctx context.Context, name string) (*StoreMarker, error) {
	now := s.now()
	err := s.coll.InsertOne(ctx, backend.Record{
		StoreName: name,
		Key:       ReservedKey,
		ContextID: s.scope.contextID(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create store %q: %w", name, err)
	}

	return &StoreMarker{StoreName: name, Scope: s.scope, CreatedAt: now}, nil
}

// HasStore reports whether the named store exists in this scope.
func (s *Store) HasStore(ctx context.Context, name string) (bool, error) {
	rec, err := s.coll.FindOne(ctx, s.markerFilter(&name))
	if err != nil {
		return false, fmt.Errorf("check store %q: %w", name, err)
	}
	return rec != nil, nil
}

// ListStores returns the names of all stores in this scope.
// Order is not guaranteed.
func (s *Store) ListStores(ctx context.Context) ([]string, error) {
	recs, err := s.coll.FindAll(ctx, s.markerFilter(nil))
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}

	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.StoreName)
	}
	return names, nil
}

// CountStores returns the number of stores in this scope.
func (s *Store) CountStores(ctx context.Context) (int64, error) {
	n, err := s.coll.Count(ctx, s.markerFilter(nil))
	if err != nil {
		return 0, fmt.Errorf("count stores: %w", err)
	}
	return n, nil
}

// DeleteStore deletes the named store in this scope: the marker and every
// key entry. Returns the number of records deleted; zero matches is not an
// error. Re-running the delete is a safe no-op.
func (s *Store) DeleteStore(ctx context.Context, name string) (int64, error) {
	n, err := s.coll.DeleteMany(ctx, backend.Filter{
		StoreName:    &name,
		MatchContext: true,
		ContextID:    s.scope.contextID(),
	})
	if err != nil {
		return 0, fmt.Errorf("delete store %q: %w", name, err)
	}
	return n, nil
}

// SetKey creates or updates the entry for key in the given store, as one
// atomic upsert. On create, CreatedAt is set to now; on update, CreatedAt is
// preserved and UpdatedAt advances. The expiration policy is rewritten on
// both branches: a positive ttl sets ExpiresAt = now + ttl, anything else
// clears it.
//
// An expired entry counts as absent: writing over one creates a fresh entry
// with CreatedAt = now rather than updating the dead record.
//
// The value may be any JSON-marshalable payload.
func (s *Store) SetKey(ctx context.Context, store, key string, value any, ttl time.Duration) (*KeyEntry, error) {
	if key == ReservedKey {
		return nil, fmt.Errorf("set key: %w", ErrReservedKey)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("set key %q: marshal value: %w", key, err)
	}

	now := s.now()
	rec, _, err := s.coll.Upsert(ctx, s.keyFilter(store, key), backend.Record{
		StoreName: store,
		Key:       key,
		ContextID: s.scope.contextID(),
		Value:     payload,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: s.expiration(ttl, now),
	})
	if err != nil {
		return nil, fmt.Errorf("set key %q in store %q: %w", key, store, err)
	}

	return s.entryFromRecord(&rec), nil
}

// GetKey returns the entry for key in the given store, or nil if it does not
// exist or has expired. A miss is not an error.
func (s *Store) GetKey(ctx context.Context, store, key string) (*KeyEntry, error) {
	if key == ReservedKey {
		return nil, fmt.Errorf("get key: %w", ErrReservedKey)
	}

	rec, err := s.coll.FindOne(ctx, s.keyFilter(store, key))
	if err != nil {
		return nil, fmt.Errorf("get key %q in store %q: %w", key, store, err)
	}
	if rec == nil {
		return nil, nil
	}
	return s.entryFromRecord(rec), nil
}

// UpdateTTL recomputes the expiration for an existing entry without touching
// its value or timestamps. A positive ttl sets ExpiresAt = now + ttl,
// anything else clears it. Reports true iff an entry was matched and its
// expiration changed. An expired entry counts as absent and is never
// revived.
func (s *Store) UpdateTTL(ctx context.Context, store, key string, ttl time.Duration) (bool, error) {
	if key == ReservedKey {
		return false, fmt.Errorf("update ttl: %w", ErrReservedKey)
	}

	changed, err := s.coll.SetExpiry(ctx, s.keyFilter(store, key), s.expiration(ttl, s.now()))
	if err != nil {
		return false, fmt.Errorf("update ttl for key %q in store %q: %w", key, store, err)
	}
	return changed, nil
}

// DeleteKey deletes the entry for key in the given store. Reports whether a
// live entry existed; deleting an absent or expired key is not an error and
// reports false.
func (s *Store) DeleteKey(ctx context.Context, store, key string) (bool, error) {
	if key == ReservedKey {
		return false, fmt.Errorf("delete key: %w", ErrReservedKey)
	}

	deleted, err := s.coll.DeleteOne(ctx, s.keyFilter(store, key))
	if err != nil {
		return false, fmt.Errorf("delete key %q in store %q: %w", key, store, err)
	}
	return deleted, nil
}

// ListKeys returns all keys in the given store in this scope. The store's
// own marker never appears. Order is not guaranteed.
func (s *Store) ListKeys(ctx context.Context, store string) ([]string, error) {
	recs, err := s.coll.FindAll(ctx, s.entriesFilter(store))
	if err != nil {
		return nil, fmt.Errorf("list keys in store %q: %w", store, err)
	}

	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

// CountKeys returns the number of keys in the given store in this scope.
func (s *Store) CountKeys(ctx context.Context, store string) (int64, error) {
	n, err := s.coll.Count(ctx, s.entriesFilter(store))
	if err != nil {
		return 0, fmt.Errorf("count keys in store %q: %w", store, err)
	}
	return n, nil
}

// Cleanup deletes every record in this scope: all stores and all keys.
// Returns the number of records deleted. Records in other scopes are
// untouched.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.coll.DeleteMany(ctx, backend.Filter{
		MatchContext: true,
		ContextID:    s.scope.contextID(),
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup scope %s: %w", s.scope, err)
	}
	return n, nil
}

// markerFilter selects store markers in this scope, optionally for one
// store name.
func (s *Store) markerFilter(name *string) backend.Filter {
	key := ReservedKey
	return backend.Filter{
		StoreName:    name,
		Key:          &key,
		MatchContext: true,
		ContextID:    s.scope.contextID(),
	}
}

// keyFilter selects the live entry for (store, key) in this scope. Writes
// build on it too: an expired entry is logically absent, so updates and
// deletes never match one and an upsert replaces it.
func (s *Store) keyFilter(store, key string) backend.Filter {
	now := s.now()
	return backend.Filter{
		StoreName:    &store,
		Key:          &key,
		MatchContext: true,
		ContextID:    s.scope.contextID(),
		AliveAt:      &now,
	}
}

// entriesFilter selects the live, non-marker entries of a store in this
// scope.
func (s *Store) entriesFilter(store string) backend.Filter {
	sentinel := ReservedKey
	now := s.now()
	return backend.Filter{
		StoreName:    &store,
		KeyNot:       &sentinel,
		MatchContext: true,
		ContextID:    s.scope.contextID(),
		AliveAt:      &now,
	}
}

// expiration computes the expiration timestamp for a ttl: now + ttl when
// positive, nil (never expires) otherwise.
func (s *Store) expiration(ttl time.Duration, now time.Time) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

func (s *Store) entryFromRecord(rec *backend.Record) *KeyEntry {
	scope := Global()
	if rec.ContextID != nil {
		scope = Owned(*rec.ContextID)
	}
	return &KeyEntry{
		StoreName: rec.StoreName,
		Key:       rec.Key,
		Value:     json.RawMessage(rec.Value),
		Scope:     scope,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
