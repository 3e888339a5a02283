// Package presence tracks ephemeral per-session awareness state: cursor,
// selection, and typing indicators. Presence never touches document content;
// it is broadcast to collaborators and expires on inactivity.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/rawjaws/cosync/fault"
	"github.com/rawjaws/cosync/session"
)

// Entry is the awareness state of one session.
type Entry struct {
	SessionID string            `json:"sessionId"`
	Cursor    session.CursorPos `json:"cursor"`
	Selection session.Range     `json:"selection"`
	Typing    bool              `json:"typing"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// pendingBroadcast holds the most recent throttled event for a session.
// Excess updates within the throttle window overwrite it instead of queuing.
type pendingBroadcast struct {
	ev    session.Event
	timer *time.Timer
}

// Tracker owns every presence entry and throttles per-session broadcast
// volume regardless of client update rate.
type Tracker struct {
	sessions *session.Manager
	throttle time.Duration
	expiry   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	lastSent map[string]time.Time
	pending  map[string]*pendingBroadcast

	stop chan struct{}
	done chan struct{}
}

// New creates a tracker and starts its expiry sweep. throttle bounds the
// broadcast rate per session; expiry removes entries after inactivity.
func New(sessions *session.Manager, throttle, expiry time.Duration) *Tracker {
	t := &Tracker{
		sessions: sessions,
		throttle: throttle,
		expiry:   expiry,
		now:      time.Now,
		entries:  make(map[string]*Entry),
		lastSent: make(map[string]time.Time),
		pending:  make(map[string]*pendingBroadcast),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// UpdateCursor records a session's caret position and broadcasts it to the
// other collaborators, subject to throttling.
func (t *Tracker) UpdateCursor(sessionID string, cur session.CursorPos) error {
	sess, err := t.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	c := cur
	ev := session.Event{
		Type:       session.EventCursor,
		DocumentID: sess.DocumentID,
		SessionID:  sessionID,
		UserID:     sess.UserID,
		Cursor:     &c,
	}
	t.record(sess, func(e *Entry) { e.Cursor = cur }, ev)
	return nil
}

// UpdateSelection records a session's selection span and broadcasts it.
func (t *Tracker) UpdateSelection(sessionID string, sel session.Range) error {
	sess, err := t.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	s := sel
	ev := session.Event{
		Type:       session.EventSelection,
		DocumentID: sess.DocumentID,
		SessionID:  sessionID,
		UserID:     sess.UserID,
		Selection:  &s,
	}
	t.record(sess, func(e *Entry) { e.Selection = sel }, ev)
	return nil
}

// UpdateTyping records whether a session's user is typing and broadcasts it.
func (t *Tracker) UpdateTyping(sessionID string, typing bool) error {
	sess, err := t.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	v := typing
	ev := session.Event{
		Type:       session.EventTyping,
		DocumentID: sess.DocumentID,
		SessionID:  sessionID,
		UserID:     sess.UserID,
		Typing:     &v,
	}
	t.record(sess, func(e *Entry) { e.Typing = typing }, ev)
	return nil
}

// Get returns a session's presence entry.
func (t *Tracker) Get(sessionID string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	if !ok {
		return Entry{}, fault.NotFound("presence for session %s", sessionID)
	}
	return *e, nil
}

// DocumentPresence returns the presence entries of every collaborator on a
// document.
func (t *Tracker) DocumentPresence(docID string) []Entry {
	collabs := t.sessions.Collaborators(docID)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(collabs))
	for _, sess := range collabs {
		if e, ok := t.entries[sess.ID]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Remove drops a session's presence state without broadcasting. Used when
// the session itself ends, which already broadcasts a departure.
func (t *Tracker) Remove(sessionID string) {
	t.mu.Lock()
	t.dropLocked(sessionID)
	t.mu.Unlock()
}

// Close stops the expiry sweep.
func (t *Tracker) Close() {
	close(t.stop)
	<-t.done
}

// record mutates the session's entry and emits the event through the
// throttle gate.
func (t *Tracker) record(sess *session.Session, mutate func(*Entry), ev session.Event) {
	now := t.now()

	t.mu.Lock()
	e, ok := t.entries[sess.ID]
	if !ok {
		e = &Entry{SessionID: sess.ID}
		t.entries[sess.ID] = e
	}
	mutate(e)
	e.UpdatedAt = now

	last := t.lastSent[sess.ID]
	if now.Sub(last) >= t.throttle {
		t.lastSent[sess.ID] = now
		t.mu.Unlock()
		t.sessions.Broadcast(sess.DocumentID, sess.ID, ev)
		return
	}
	if p := t.pending[sess.ID]; p != nil {
		p.ev = ev // overwrite, never queue
		t.mu.Unlock()
		return
	}
	p := &pendingBroadcast{ev: ev}
	delay := t.throttle - now.Sub(last)
	p.timer = time.AfterFunc(delay, func() { t.flush(sess) })
	t.pending[sess.ID] = p
	t.mu.Unlock()
}

// flush sends the pending throttled event for a session, if still present.
func (t *Tracker) flush(sess *session.Session) {
	t.mu.Lock()
	p := t.pending[sess.ID]
	delete(t.pending, sess.ID)
	if p == nil {
		t.mu.Unlock()
		return
	}
	t.lastSent[sess.ID] = t.now()
	ev := p.ev
	t.mu.Unlock()
	t.sessions.Broadcast(sess.DocumentID, sess.ID, ev)
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)
	interval := t.expiry / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

// sweep expires entries past the inactivity window, broadcasting a departure
// for each.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.expiry)

	t.mu.Lock()
	type gone struct {
		sessionID string
		docID     string
		userID    string
	}
	var expired []gone
	for id, e := range t.entries {
		if e.UpdatedAt.Before(cutoff) {
			g := gone{sessionID: id}
			if sess, err := t.sessions.Get(id); err == nil {
				g.docID = sess.DocumentID
				g.userID = sess.UserID
			}
			t.dropLocked(id)
			expired = append(expired, g)
		}
	}
	t.mu.Unlock()

	for _, g := range expired {
		if g.docID == "" {
			continue // session already gone; departure was broadcast on end
		}
		t.sessions.Broadcast(g.docID, g.sessionID, session.Event{
			Type:       session.EventUserLeft,
			DocumentID: g.docID,
			SessionID:  g.sessionID,
			UserID:     g.userID,
		})
	}
	if len(expired) > 0 {
		log.Printf("presence: expired entries=%d", len(expired))
	}
}

// dropLocked removes all state for a session. Caller holds the lock.
func (t *Tracker) dropLocked(sessionID string) {
	if p := t.pending[sessionID]; p != nil && p.timer != nil {
		p.timer.Stop()
	}
	delete(t.pending, sessionID)
	delete(t.lastSent, sessionID)
	delete(t.entries, sessionID)
}
