package session

import "sync"

// Registry stores per-document user permission grants. It is plain storage;
// the admin check for mutating it lives in Manager.SetDocumentPermissions so
// the registry itself stays free of session lookups.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[string][]Permission // docID -> userID -> permissions
}

// NewRegistry creates an empty permission registry.
func NewRegistry() *Registry {
	return &Registry{grants: make(map[string]map[string][]Permission)}
}

// Set replaces the grants for the given users on a document. Entries are
// filtered to the valid permission set.
func (r *Registry) Set(docID string, entries map[string][]Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.grants[docID]
	if m == nil {
		m = make(map[string][]Permission)
		r.grants[docID] = m
	}
	for userID, perms := range entries {
		m[userID] = FilterPermissions(perms)
	}
}

// Grants returns the permissions granted to a user on a document, or nil.
func (r *Registry) Grants(docID, userID string) []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.grants[docID]
	if m == nil {
		return nil
	}
	out := make([]Permission, len(m[userID]))
	copy(out, m[userID])
	return out
}

// Has reports whether the registry grants the user the given level on the
// document. Admin satisfies any level; write satisfies read.
func (r *Registry) Has(docID, userID string, level Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.grants[docID][userID] {
		if p == level || p == PermAdmin {
			return true
		}
		if level == PermRead && p == PermWrite {
			return true
		}
	}
	return false
}
