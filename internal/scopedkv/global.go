package scopedkv

import (
	"context"
	"fmt"

	"github.com/scopekv/scopekv/internal/backend"
)

// Global query operations. These ignore the store's scope binding entirely
// and span every context, including the global one. Administrative tooling
// uses them to answer "does any context have a store named X" without
// knowing which scope to bind to.

// HasStoreGlobal reports whether a store with the given name exists in any
// scope.
func (s *Store) HasStoreGlobal(ctx context.Context, name string) (bool, error) {
	key := ReservedKey
	rec, err := s.coll.FindOne(ctx, backend.Filter{StoreName: &name, Key: &key})
	if err != nil {
		return false, fmt.Errorf("check store %q globally: %w", name, err)
	}
	return rec != nil, nil
}

// ListStoresGlobal returns the store names across every scope. A name used
// in several scopes appears once per scope. Order is not guaranteed.
func (s *Store) ListStoresGlobal(ctx context.Context) ([]string, error) {
	key := ReservedKey
	recs, err := s.coll.FindAll(ctx, backend.Filter{Key: &key})
	if err != nil {
		return nil, fmt.Errorf("list stores globally: %w", err)
	}

	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.StoreName)
	}
	return names, nil
}

// CountStoresGlobal returns the number of store markers across every scope.
func (s *Store) CountStoresGlobal(ctx context.Context) (int64, error) {
	key := ReservedKey
	n, err := s.coll.Count(ctx, backend.Filter{Key: &key})
	if err != nil {
		return 0, fmt.Errorf("count stores globally: %w", err)
	}
	return n, nil
}
