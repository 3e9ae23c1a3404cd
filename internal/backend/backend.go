// Package backend defines the ordered-document collection contract that the
// scoped key-value store is built on.
//
// A Collection holds flat records identified by (store_name, key, context_id).
// Engines must enforce:
//
//  1. Uniqueness of (store_name, key, context_id) across all records. This is
//     the sole correctness-critical constraint; without it concurrent upserts
//     could produce duplicate keys within one store/context.
//  2. Efficient equality lookup on store_name, key, and context_id
//     independently.
//  3. Eventual removal of records whose expiration has passed, via
//     DeleteExpired driven by a periodic sweep.
//
// Constraint setup happens when an engine is opened; an engine that cannot
// establish its indexes must fail to open rather than hand out a collection
// whose guarantees don't hold.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned (possibly wrapped) by InsertOne when the record
// would violate the (store_name, key, context_id) uniqueness constraint.
var ErrDuplicate = errors.New("record already exists")

// Record is a single document in a collection.
//
// A nil ContextID places the record in the global (unscoped) context.
// A nil ExpiresAt means the record never expires.
type Record struct {
	ID        string
	StoreName string
	Key       string
	ContextID *string
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Filter selects records by equality on its non-nil fields.
//
// Context filtering is tri-state: when MatchContext is false the filter spans
// all contexts; when true, it matches only records whose ContextID equals the
// given one, with nil meaning the global context.
//
// AliveAt, when set, additionally excludes records whose expiration has
// passed as of that instant. Readers use it to hide expired-but-unswept
// records.
type Filter struct {
	StoreName    *string
	Key          *string
	KeyNot       *string
	MatchContext bool
	ContextID    *string
	AliveAt      *time.Time
}

// Collection is the backing store contract.
//
// All operations are atomic at single-record granularity. DeleteMany and
// DeleteExpired are per-record atomic, not all-or-nothing: a crash mid-delete
// may leave a partial result, and re-running the same delete is a safe no-op
// once complete.
type Collection interface {
	// InsertOne inserts a new record. Returns ErrDuplicate (wrapped) if a
	// record with the same (store_name, key, context_id) already exists.
	InsertOne(ctx context.Context, rec Record) error

	// FindOne returns the single record matching f, or nil if none does.
	FindOne(ctx context.Context, f Filter) (*Record, error)

	// FindAll returns every record matching f. Order is not guaranteed.
	// Returns an empty slice, never nil, when nothing matches.
	FindAll(ctx context.Context, f Filter) ([]Record, error)

	// Count returns the number of records matching f.
	Count(ctx context.Context, f Filter) (int64, error)

	// DeleteOne deletes the single record matching f. Reports whether a
	// record was deleted; zero matches is not an error.
	DeleteOne(ctx context.Context, f Filter) (bool, error)

	// DeleteMany deletes every record matching f and returns the count.
	DeleteMany(ctx context.Context, f Filter) (int64, error)

	// Upsert atomically updates the record matching f, or inserts rec when
	// none matches. The two branches touch different field groups:
	//
	//   - insert: the whole of rec is stored as given
	//   - update: only Value, UpdatedAt and ExpiresAt are applied; ID,
	//     CreatedAt and the identifying fields are preserved
	//
	// Returns the resulting record and whether the insert branch was taken.
	// Concurrent upserts against the same (store_name, key, context_id) must
	// not produce two records.
	//
	// When f carries AliveAt and the unique slot is held by a record f
	// excludes as expired, the insert branch must still win, replacing the
	// expired record.
	Upsert(ctx context.Context, f Filter, rec Record) (Record, bool, error)

	// SetExpiry updates the expiration of the single record matching f
	// without touching any other field. Reports true only when a record
	// matched and its expiration actually changed. A nil expiresAt clears
	// the expiration.
	SetExpiry(ctx context.Context, f Filter, expiresAt *time.Time) (bool, error)

	// DeleteExpired deletes every record whose expiration is at or before
	// cutoff and returns the count. Backing for the periodic TTL sweep.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the engine's resources.
	Close() error
}

// Matches reports whether rec satisfies f. It is the reference semantics for
// Filter, shared by the in-memory engine and engine tests.
func (f Filter) Matches(rec *Record) bool {
	if f.StoreName != nil && rec.StoreName != *f.StoreName {
		return false
	}
	if f.Key != nil && rec.Key != *f.Key {
		return false
	}
	if f.KeyNot != nil && rec.Key == *f.KeyNot {
		return false
	}
	if f.MatchContext && !contextEqual(rec.ContextID, f.ContextID) {
		return false
	}
	if f.AliveAt != nil && rec.ExpiresAt != nil && !rec.ExpiresAt.After(*f.AliveAt) {
		return false
	}
	return true
}

func contextEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
