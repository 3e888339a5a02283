// Package session owns the session lifecycle, per-document collaborator
// sets, and the permission and metadata registry consulted by the operation
// engine.
package session

import (
	"sort"
	"sync"
	"time"
)

// Permission is a capability granted to a session or user on a document.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

// FilterPermissions drops unknown values and deduplicates. An empty result
// defaults to read-only.
func FilterPermissions(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	var out []Permission
	for _, p := range perms {
		switch p {
		case PermRead, PermWrite, PermAdmin:
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return []Permission{PermRead}
	}
	return out
}

// ParsePermissions converts raw strings from the wire, dropping anything
// outside the valid set.
func ParsePermissions(raw []string) []Permission {
	perms := make([]Permission, 0, len(raw))
	for _, s := range raw {
		perms = append(perms, Permission(s))
	}
	return FilterPermissions(perms)
}

// Metadata is the per-session user profile shown to collaborators. It is
// fixed at session creation and immutable for the session's lifetime.
type Metadata struct {
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Color       string `json:"color,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Session binds a user, a document, and a permission set under a unique ID.
// Sessions are owned exclusively by the Manager; other components hold
// references only.
type Session struct {
	ID         string
	UserID     string
	DocumentID string
	StartedAt  time.Time

	perms map[Permission]struct{}
	meta  Metadata

	mu         sync.Mutex
	lastActive time.Time
	closed     bool
	events     chan Event
}

// eventBuffer sizes each session's outbound channel. Sends to a full buffer
// are dropped rather than blocking the document critical section.
const eventBuffer = 256

func newSession(id, userID, docID string, perms []Permission, meta Metadata, now time.Time) *Session {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return &Session{
		ID:         id,
		UserID:     userID,
		DocumentID: docID,
		StartedAt:  now,
		perms:      set,
		meta:       meta,
		lastActive: now,
		events:     make(chan Event, eventBuffer),
	}
}

// Has reports whether the session itself was granted the permission. The
// permission set is immutable after creation.
func (s *Session) Has(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

// CanWrite reports whether the session may mutate document content.
func (s *Session) CanWrite() bool {
	return s.Has(PermWrite) || s.Has(PermAdmin)
}

// CanRead reports whether the session may read document state. Write and
// admin grants imply read.
func (s *Session) CanRead() bool {
	return s.Has(PermRead) || s.CanWrite()
}

// Permissions returns the granted set in stable order.
func (s *Session) Permissions() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Meta returns the immutable session metadata.
func (s *Session) Meta() Metadata { return s.meta }

// Touch records activity, deferring the inactivity timeout.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns the most recent activity time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Events returns the session's outbound event channel. The transport layer
// consumes it; producers never block on it.
func (s *Session) Events() <-chan Event { return s.events }

// send enqueues an event, dropping it if the consumer is slow or the session
// has ended.
func (s *Session) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Consumer too slow; drop rather than block the producer.
	}
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
