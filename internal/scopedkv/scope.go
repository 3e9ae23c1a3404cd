package scopedkv

// Scope identifies the context a store operates in: either bound to an
// owner's identifier or global (unscoped). The zero value is the global
// scope.
//
// Scope is an immutable value, so a Store bound to one is safe to share
// across concurrent callers.
type Scope struct {
	owner string
}

// Global returns the unscoped context shared by records with no owner.
func Global() Scope {
	return Scope{}
}

// Owned returns the context owned by the given identifier. An empty
// identifier is the global scope.
func Owned(ownerID string) Scope {
	return Scope{owner: ownerID}
}

// IsGlobal reports whether the scope is the global context.
func (s Scope) IsGlobal() bool {
	return s.owner == ""
}

// OwnerID returns the owning identifier and whether one is set.
func (s Scope) OwnerID() (string, bool) {
	return s.owner, s.owner != ""
}

func (s Scope) String() string {
	if s.owner == "" {
		return "global"
	}
	return s.owner
}

// contextID maps the scope to the backing collection's context identifier:
// nil for the global context.
func (s Scope) contextID() *string {
	if s.owner == "" {
		return nil
	}
	id := s.owner
	return &id
}
