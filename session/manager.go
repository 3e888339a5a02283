package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawjaws/cosync/fault"
)

// Stats is the aggregate view exposed to monitoring consumers.
type Stats struct {
	ActiveSessions  int `json:"activeSessions"`
	ActiveDocuments int `json:"activeDocuments"`
	ActiveUsers     int `json:"activeUsers"`
}

// Manager creates and ends sessions and owns every live Session. All calls
// are non-blocking map operations under one lock.
type Manager struct {
	registry    *Registry
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	byDoc    map[string]map[string]*Session
	byUser   map[string]map[string]*Session
}

// NewManager creates a session manager backed by the given permission
// registry. Sessions idle longer than idleTimeout are ended by SweepIdle.
func NewManager(registry *Registry, idleTimeout time.Duration) *Manager {
	return &Manager{
		registry:    registry,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		byDoc:       make(map[string]map[string]*Session),
		byUser:      make(map[string]map[string]*Session),
	}
}

// Create registers a new session for a user on a document. Permissions are
// filtered to the valid set and default to read-only. Remaining collaborators
// are notified of the join.
func (m *Manager) Create(userID, docID string, perms []Permission, meta Metadata) (*Session, error) {
	if userID == "" {
		return nil, fault.Validation("user id is required")
	}
	if docID == "" {
		return nil, fault.Validation("document id is required")
	}
	sess := newSession(uuid.NewString(), userID, docID, FilterPermissions(perms), meta, m.now())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	if m.byDoc[docID] == nil {
		m.byDoc[docID] = make(map[string]*Session)
	}
	m.byDoc[docID][sess.ID] = sess
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][sess.ID] = sess
	m.mu.Unlock()

	metaCopy := meta
	m.Broadcast(docID, sess.ID, Event{
		Type:       EventUserJoined,
		DocumentID: docID,
		SessionID:  sess.ID,
		UserID:     userID,
		Meta:       &metaCopy,
	})
	return sess, nil
}

// End removes a session and notifies the remaining collaborators. It returns
// false when the ID is unknown.
func (m *Manager) End(sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	m.removeIndexed(sess)
	m.mu.Unlock()

	sess.close()
	m.Broadcast(sess.DocumentID, sessionID, Event{
		Type:       EventUserLeft,
		DocumentID: sess.DocumentID,
		SessionID:  sessionID,
		UserID:     sess.UserID,
	})
	return true
}

// removeIndexed deletes a session from both secondary indexes. Caller holds
// the write lock.
func (m *Manager) removeIndexed(sess *Session) {
	if docSet := m.byDoc[sess.DocumentID]; docSet != nil {
		delete(docSet, sess.ID)
		if len(docSet) == 0 {
			delete(m.byDoc, sess.DocumentID)
		}
	}
	if userSet := m.byUser[sess.UserID]; userSet != nil {
		delete(userSet, sess.ID)
		if len(userSet) == 0 {
			delete(m.byUser, sess.UserID)
		}
	}
}

// Get returns a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fault.NotFound("session %s", sessionID)
	}
	return sess, nil
}

// Touch records activity on a session, deferring its inactivity timeout.
func (m *Manager) Touch(sessionID string) {
	if sess, err := m.Get(sessionID); err == nil {
		sess.Touch(m.now())
	}
}

// HasPermission checks a user's grant on a document against the registry and
// against any active session grants. Admin satisfies any level.
func (m *Manager) HasPermission(userID, docID string, level Permission) bool {
	if m.registry.Has(docID, userID, level) {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.byUser[userID] {
		if sess.DocumentID != docID {
			continue
		}
		if sess.Has(level) || sess.Has(PermAdmin) {
			return true
		}
	}
	return false
}

// SetDocumentPermissions stores per-user grants for a document. The acting
// session must hold admin on that document.
func (m *Manager) SetDocumentPermissions(actorSessionID, docID string, entries map[string][]Permission) error {
	sess, err := m.Get(actorSessionID)
	if err != nil {
		return err
	}
	if sess.DocumentID != docID || !sess.Has(PermAdmin) {
		if !m.registry.Has(docID, sess.UserID, PermAdmin) {
			return fault.Forbidden("session %s lacks admin on document %s", actorSessionID, docID)
		}
	}
	m.registry.Set(docID, entries)
	log.Printf("session: permissions updated doc_id=%s actor=%s entries=%d", docID, sess.UserID, len(entries))
	return nil
}

// Collaborators returns the active sessions on a document.
func (m *Manager) Collaborators(docID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byDoc[docID]))
	for _, sess := range m.byDoc[docID] {
		out = append(out, sess)
	}
	return out
}

// UserSessions returns every active session belonging to a user.
func (m *Manager) UserSessions(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byUser[userID]))
	for _, sess := range m.byUser[userID] {
		out = append(out, sess)
	}
	return out
}

// Stats returns the active session, document, and user counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		ActiveSessions:  len(m.sessions),
		ActiveDocuments: len(m.byDoc),
		ActiveUsers:     len(m.byUser),
	}
}

// Broadcast delivers an event to every collaborator on a document except the
// originating session. Delivery is non-blocking per recipient.
func (m *Manager) Broadcast(docID, exceptSessionID string, ev Event) {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.byDoc[docID]))
	for id, sess := range m.byDoc[docID] {
		if id != exceptSessionID {
			targets = append(targets, sess)
		}
	}
	m.mu.RUnlock()
	for _, sess := range targets {
		sess.send(ev)
	}
}

// SweepIdle ends sessions idle beyond the configured timeout and returns how
// many were ended.
func (m *Manager) SweepIdle() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	ended := 0
	for _, id := range stale {
		if m.End(id) {
			ended++
		}
	}
	if ended > 0 {
		log.Printf("session: idle sweep ended=%d", ended)
	}
	return ended
}
