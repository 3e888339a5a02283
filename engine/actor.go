package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rawjaws/cosync/fault"
	"github.com/rawjaws/cosync/ot"
	"github.com/rawjaws/cosync/session"
)

type submitReq struct {
	sessionID string
	op        ot.Operation
	reply     chan submitResp
}

type submitResp struct {
	res *ApplyResult
	err error
}

type stateReq struct {
	sessionID string
	reply     chan stateResp
}

type stateResp struct {
	state *DocumentState
	err   error
}

// waitingSubmit is an operation parked until its dependency resolves or the
// wait window elapses.
type waitingSubmit struct {
	req      submitReq
	deadline time.Time
}

// docActor serializes all access to one document. Everything that touches
// the ot.Document runs on the actor goroutine; callers interact through
// posted tasks and reply channels.
type docActor struct {
	e   *Engine
	doc *ot.Document

	tasks chan func()
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	waiting    []waitingSubmit
	lastSeen   map[string]int // sessionID -> last version observed
	idleSince  time.Time
	frozenTold bool
	closing    bool // set on the actor goroutine before the exit drain

	postMu sync.Mutex
	closed bool // guarded by postMu; no new posts once set
}

func newDocActor(e *Engine, doc *ot.Document) *docActor {
	return &docActor{
		e:        e,
		doc:      doc,
		tasks:    make(chan func(), 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		lastSeen: make(map[string]int),
	}
}

// post schedules a task on the actor goroutine. Sends are serialized so
// that finish can fence them off: once it marks the actor closed, every
// task already accepted is in the queue and gets drained.
func (a *docActor) post(ctx context.Context, task func()) error {
	a.postMu.Lock()
	defer a.postMu.Unlock()
	if a.closed {
		return fault.NotFound("document %s is closed", a.doc.ID())
	}
	select {
	case a.tasks <- task:
		return nil
	case <-a.done:
		return fault.NotFound("document %s is closed", a.doc.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor's main loop.
func (a *docActor) run() {
	ticker := time.NewTicker(a.e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case task := <-a.tasks:
			task()
		case <-ticker.C:
			a.expireWaiting(time.Now())
			a.compact()
			if a.checkIdle(time.Now()) {
				a.finish()
				return
			}
		case <-a.stop:
			a.finish()
			return
		}
	}
}

// finish checkpoints, rejects everything parked, then drains the task
// queue so no queued caller is left blocked on its reply channel. Closing
// done first unblocks posters waiting on a full queue; taking postMu after
// that guarantees any task a racing post managed to enqueue is in the
// buffer before the drain starts.
func (a *docActor) finish() {
	a.drainWaiting()
	a.checkpoint()
	a.closing = true
	close(a.done)
	a.postMu.Lock()
	a.closed = true
	a.postMu.Unlock()
	for {
		select {
		case task := <-a.tasks:
			task()
		default:
			return
		}
	}
}

// shutdown stops the actor after a final checkpoint.
func (a *docActor) shutdown() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

// handleSubmit runs one operation through the pipeline, then re-admits any
// parked operations its application unblocked.
func (a *docActor) handleSubmit(req submitReq, canPark bool) {
	if a.applyOne(req, canPark) {
		a.admitWaiting()
	}
}

// applyOne validates, authorizes, transforms, and applies a single
// operation. It returns true when the document was mutated.
func (a *docActor) applyOne(req submitReq, canPark bool) bool {
	if a.closing {
		req.reply <- submitResp{err: fault.NotFound("document %s is closed", a.doc.ID())}
		return false
	}
	// The session is re-checked inside the critical section: a session ended
	// while the operation was queued rejects with NotFound.
	sess, err := a.e.sessions.Get(req.sessionID)
	if err != nil {
		req.reply <- submitResp{err: err}
		return false
	}
	if err := req.op.Validate(); err != nil {
		req.reply <- submitResp{err: err}
		return false
	}
	if !sess.CanWrite() && !a.e.sessions.HasPermission(sess.UserID, a.doc.ID(), session.PermWrite) {
		req.reply <- submitResp{err: fault.Forbidden("session %s may not write document %s", req.sessionID, a.doc.ID())}
		return false
	}
	if a.doc.Frozen() {
		req.reply <- submitResp{err: fault.ConsistencyFault("document %s is frozen pending reconciliation", a.doc.ID())}
		return false
	}
	if req.op.DependsOn != "" && !a.doc.IsApplied(req.op.DependsOn) {
		if canPark {
			a.waiting = append(a.waiting, waitingSubmit{
				req:      req,
				deadline: time.Now().Add(a.e.cfg.DependencyTimeout),
			})
			return false
		}
		req.reply <- submitResp{err: fault.DependencyTimeout("operation %s depends on unresolved %s", req.op.ID, req.op.DependsOn)}
		return false
	}

	res, err := a.doc.Integrate(req.op)
	if err != nil {
		if fault.Is(err, fault.CodeConsistencyFault) {
			a.announceFrozen()
		}
		req.reply <- submitResp{err: err}
		return false
	}

	sess.Touch(time.Now())
	a.lastSeen[req.sessionID] = res.Version
	a.checkpointApply(res)

	a.e.sessions.Broadcast(a.doc.ID(), req.sessionID, session.Event{
		Type:       session.EventOperation,
		DocumentID: a.doc.ID(),
		SessionID:  req.sessionID,
		UserID:     sess.UserID,
		Version:    res.Version,
		Ops:        res.Ops,
		Warnings:   res.Warnings,
	})
	req.reply <- submitResp{res: &ApplyResult{
		Ops:      res.Ops,
		Version:  res.Version,
		Content:  a.doc.Content(),
		Warnings: res.Warnings,
	}}
	return true
}

// handleState serves a read snapshot.
func (a *docActor) handleState(req stateReq) {
	if a.closing {
		req.reply <- stateResp{err: fault.NotFound("document %s is closed", a.doc.ID())}
		return
	}
	sess, err := a.e.sessions.Get(req.sessionID)
	if err != nil {
		req.reply <- stateResp{err: err}
		return
	}
	if !sess.CanRead() && !a.e.sessions.HasPermission(sess.UserID, a.doc.ID(), session.PermRead) {
		req.reply <- stateResp{err: fault.Forbidden("session %s may not read document %s", req.sessionID, a.doc.ID())}
		return
	}
	sess.Touch(time.Now())
	a.lastSeen[req.sessionID] = a.doc.Version()

	collabs := a.e.sessions.Collaborators(a.doc.ID())
	out := make([]Collaborator, 0, len(collabs))
	for _, c := range collabs {
		out = append(out, Collaborator{SessionID: c.ID, UserID: c.UserID, Meta: c.Meta()})
	}
	req.reply <- stateResp{state: &DocumentState{
		DocumentID:    a.doc.ID(),
		Content:       a.doc.Content(),
		Version:       a.doc.Version(),
		Frozen:        a.doc.Frozen(),
		Collaborators: out,
	}}
}

// admitWaiting re-submits parked operations whose dependency has resolved.
// Each admission may in turn resolve further dependencies, so loop until a
// pass makes no progress.
func (a *docActor) admitWaiting() {
	for {
		admitted := false
		var remaining []waitingSubmit
		for _, w := range a.waiting {
			if a.doc.IsApplied(w.req.op.DependsOn) {
				admitted = true
				a.applyOne(w.req, false)
				continue
			}
			remaining = append(remaining, w)
		}
		a.waiting = remaining
		if !admitted {
			return
		}
	}
}

// expireWaiting rejects parked operations whose wait window has elapsed.
func (a *docActor) expireWaiting(now time.Time) {
	remaining := a.waiting[:0]
	for _, w := range a.waiting {
		if now.After(w.deadline) {
			w.req.reply <- submitResp{err: fault.DependencyTimeout(
				"operation %s timed out waiting for %s", w.req.op.ID, w.req.op.DependsOn)}
			continue
		}
		remaining = append(remaining, w)
	}
	a.waiting = remaining
}

// drainWaiting rejects everything parked when the actor shuts down.
func (a *docActor) drainWaiting() {
	for _, w := range a.waiting {
		w.req.reply <- submitResp{err: fault.NotFound("document %s is closed", a.doc.ID())}
	}
	a.waiting = nil
}

// compact trims history entries no live session can still submit against.
func (a *docActor) compact() {
	collabs := a.e.sessions.Collaborators(a.doc.ID())
	if len(collabs) == 0 {
		return
	}
	alive := make(map[string]struct{}, len(collabs))
	minBase := a.doc.Version()
	for _, c := range collabs {
		alive[c.ID] = struct{}{}
		v, ok := a.lastSeen[c.ID]
		if !ok {
			// First sighting: the session cannot have based work on anything
			// older than the current version.
			v = a.doc.Version()
			a.lastSeen[c.ID] = v
		}
		if v < minBase {
			minBase = v
		}
	}
	for id := range a.lastSeen {
		if _, ok := alive[id]; !ok {
			delete(a.lastSeen, id)
		}
	}
	// In-flight parked operations hold their base until resolved.
	for _, w := range a.waiting {
		if w.req.op.BaseVersion < minBase {
			minBase = w.req.op.BaseVersion
		}
	}
	if n := a.doc.CompactHistory(minBase); n > 0 {
		log.Printf("engine: compacted doc_id=%s dropped=%d retained=%d", a.doc.ID(), n, a.doc.HistoryLen())
	}
}

// checkIdle evicts the document after the grace period with no
// collaborators. Returns true when the actor should exit.
func (a *docActor) checkIdle(now time.Time) bool {
	if len(a.e.sessions.Collaborators(a.doc.ID())) > 0 {
		a.idleSince = time.Time{}
		return false
	}
	if a.idleSince.IsZero() {
		a.idleSince = now
		return false
	}
	if now.Sub(a.idleSince) < a.e.cfg.EvictionGrace {
		return false
	}
	if !a.e.dropActor(a) {
		a.idleSince = time.Time{}
		return false
	}
	log.Printf("engine: evicted idle doc_id=%s version=%d", a.doc.ID(), a.doc.Version())
	return true
}

// announceFrozen broadcasts the fatal fault to every collaborator, once.
func (a *docActor) announceFrozen() {
	if a.frozenTold {
		return
	}
	a.frozenTold = true
	a.e.sessions.Broadcast(a.doc.ID(), "", session.Event{
		Type:       session.EventDocumentFrozen,
		DocumentID: a.doc.ID(),
		Version:    a.doc.Version(),
		Message:    "content checksum mismatch; document is read-only pending reconciliation",
	})
	log.Printf("engine: consistency fault doc_id=%s version=%d", a.doc.ID(), a.doc.Version())
}

// checkpointApply persists the new content and the applied primitives. Store
// failures are logged, not fatal: the durable copy is the external store's
// concern and the flush retries on the wrapper's next cycle.
func (a *docActor) checkpointApply(res *ot.Result) {
	ctx := context.Background()
	if err := a.e.store.UpdateContent(ctx, a.doc.ID(), a.doc.Content(), res.Version, a.doc.Checksum()); err != nil {
		log.Printf("engine: checkpoint content doc_id=%s: %v", a.doc.ID(), err)
	}
	base := res.Version - len(res.Ops)
	for i, op := range res.Ops {
		if err := a.e.store.AppendOperation(ctx, a.doc.ID(), op, base+i+1); err != nil {
			log.Printf("engine: checkpoint op doc_id=%s v%d: %v", a.doc.ID(), base+i+1, err)
		}
	}
}

// checkpoint persists the current content on shutdown or eviction.
func (a *docActor) checkpoint() {
	ctx := context.Background()
	if err := a.e.store.UpdateContent(ctx, a.doc.ID(), a.doc.Content(), a.doc.Version(), a.doc.Checksum()); err != nil {
		log.Printf("engine: final checkpoint doc_id=%s: %v", a.doc.ID(), err)
	}
}
