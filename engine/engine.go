// Package engine owns document state and the operational-transform pipeline.
// Every document is served by a single actor goroutine, so operations on one
// document are totally ordered while documents stay fully independent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rawjaws/cosync/fault"
	"github.com/rawjaws/cosync/ot"
	"github.com/rawjaws/cosync/session"
	"github.com/rawjaws/cosync/store"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// HistoryLimit bounds each document's retained operation history.
	HistoryLimit int

	// DependencyTimeout bounds how long an operation waits on an unresolved
	// dependency before it is rejected.
	DependencyTimeout time.Duration

	// EvictionGrace is how long a document with zero collaborators stays in
	// memory before it is checkpointed and evicted.
	EvictionGrace time.Duration

	// SweepInterval drives each actor's periodic work: dependency expiry,
	// history compaction, and idle eviction.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = ot.DefaultHistoryLimit
	}
	if c.DependencyTimeout <= 0 {
		c.DependencyTimeout = 5 * time.Second
	}
	if c.EvictionGrace <= 0 {
		c.EvictionGrace = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 500 * time.Millisecond
	}
	return c
}

// Collaborator describes an active session on a document.
type Collaborator struct {
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId"`
	Meta      session.Metadata `json:"meta"`
}

// DocumentState is a read snapshot of a document.
type DocumentState struct {
	DocumentID    string         `json:"docId"`
	Content       string         `json:"content"`
	Version       int            `json:"version"`
	Frozen        bool           `json:"frozen,omitempty"`
	Collaborators []Collaborator `json:"collaborators"`
}

// ApplyResult reports a successfully applied operation.
type ApplyResult struct {
	// Ops holds the transformed primitives in application order.
	Ops      []ot.Operation `json:"ops"`
	Version  int            `json:"version"`
	Content  string         `json:"content"`
	Warnings []string       `json:"warnings,omitempty"`
}

// RejectedOperation is a batch item that was not applied.
type RejectedOperation struct {
	Op     ot.Operation `json:"op"`
	Code   fault.Code   `json:"code"`
	Reason string       `json:"reason"`
}

// BatchResult partitions a submitted batch into applied and rejected items.
// Rejected items never abort the rest of the batch.
type BatchResult struct {
	Valid   []ApplyResult       `json:"valid"`
	Invalid []RejectedOperation `json:"invalid"`
}

// Engine routes operations to per-document actors, creating and loading
// documents lazily on first use.
type Engine struct {
	cfg      Config
	sessions *session.Manager
	store    store.DocumentStore

	mu     sync.Mutex
	actors map[string]*docActor
}

// New creates an engine backed by the given session manager and store.
func New(sessions *session.Manager, st store.DocumentStore, cfg Config) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		store:    st,
		actors:   make(map[string]*docActor),
	}
	return e
}

// Open ensures the document exists in the store and its actor is running.
// Documents are created lazily on first join.
func (e *Engine) Open(ctx context.Context, docID string) error {
	_, err := e.actorFor(ctx, docID)
	return err
}

// DocumentState returns the content, version, and collaborator list visible
// to the given session. The session must hold read permission.
func (e *Engine) DocumentState(ctx context.Context, sessionID string) (*DocumentState, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	a, err := e.actorFor(ctx, sess.DocumentID)
	if err != nil {
		return nil, err
	}
	reply := make(chan stateResp, 1)
	if err := a.post(ctx, func() { a.handleState(stateReq{sessionID: sessionID, reply: reply}) }); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.state, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply validates, transforms, and applies one operation under the
// document's critical section, broadcasting the transformed result to the
// other collaborators.
func (e *Engine) Apply(ctx context.Context, sessionID string, op ot.Operation) (*ApplyResult, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	a, err := e.actorFor(ctx, sess.DocumentID)
	if err != nil {
		return nil, err
	}
	reply := make(chan submitResp, 1)
	req := submitReq{sessionID: sessionID, op: op, reply: reply}
	if err := a.post(ctx, func() { a.handleSubmit(req, true) }); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ApplyBatch submits operations in order and partitions the results per
// item; a malformed operation is skipped and reported, never failing the
// batch wholesale.
func (e *Engine) ApplyBatch(ctx context.Context, sessionID string, ops []ot.Operation) (*BatchResult, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	a, err := e.actorFor(ctx, sess.DocumentID)
	if err != nil {
		return nil, err
	}

	replies := make([]chan submitResp, len(ops))
	for i, op := range ops {
		reply := make(chan submitResp, 1)
		replies[i] = reply
		req := submitReq{sessionID: sessionID, op: op, reply: reply}
		if err := a.post(ctx, func() { a.handleSubmit(req, true) }); err != nil {
			reply <- submitResp{err: err}
		}
	}

	result := &BatchResult{}
	for i, reply := range replies {
		select {
		case r := <-reply:
			if r.err != nil {
				result.Invalid = append(result.Invalid, RejectedOperation{
					Op:     ops[i],
					Code:   fault.CodeOf(r.err),
					Reason: r.err.Error(),
				})
				continue
			}
			result.Valid = append(result.Valid, *r.res)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, nil
}

// Close stops every actor after a final checkpoint.
func (e *Engine) Close() {
	e.mu.Lock()
	actors := make([]*docActor, 0, len(e.actors))
	for id, a := range e.actors {
		actors = append(actors, a)
		delete(e.actors, id)
	}
	e.mu.Unlock()
	for _, a := range actors {
		a.shutdown()
	}
}

// actorFor returns the running actor for a document, loading or creating the
// document in the store on first use.
func (e *Engine) actorFor(ctx context.Context, docID string) (*docActor, error) {
	e.mu.Lock()
	if a, ok := e.actors[docID]; ok {
		e.mu.Unlock()
		return a, nil
	}
	e.mu.Unlock()

	info, err := e.loadOrCreate(ctx, docID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[docID]; ok {
		return a, nil
	}
	doc := ot.NewDocument(docID, info.Content, info.Version)
	doc.SetHistoryLimit(e.cfg.HistoryLimit)
	a := newDocActor(e, doc)
	e.actors[docID] = a
	go a.run()
	return a, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, docID string) (*store.DocumentInfo, error) {
	info, err := e.store.Get(ctx, docID)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load document %q: %w", docID, err)
	}
	if err := e.store.Create(ctx, docID, ""); err != nil && !errors.Is(err, store.ErrExists) {
		return nil, fmt.Errorf("create document %q: %w", docID, err)
	}
	info, err = e.store.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %q: %w", docID, err)
	}
	return info, nil
}

// dropActor removes the actor from the routing table if the document still
// has no collaborators. It returns false when a join raced the eviction.
func (e *Engine) dropActor(a *docActor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions.Collaborators(a.doc.ID())) > 0 {
		return false
	}
	if e.actors[a.doc.ID()] == a {
		delete(e.actors, a.doc.ID())
	}
	return true
}
