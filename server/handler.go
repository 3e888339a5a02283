package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rawjaws/cosync/engine"
	"github.com/rawjaws/cosync/fault"
	"github.com/rawjaws/cosync/presence"
	"github.com/rawjaws/cosync/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks happen at the proxy layer.
		return true
	},
}

// Router dispatches client requests to the session manager, the operation
// engine, and the presence tracker.
type Router struct {
	sessions *session.Manager
	engine   *engine.Engine
	presence *presence.Tracker
}

// NewRouter wires the request dispatcher.
func NewRouter(sessions *session.Manager, eng *engine.Engine, tracker *presence.Tracker) *Router {
	return &Router{sessions: sessions, engine: eng, presence: tracker}
}

// NewHandler builds the HTTP mux: WebSocket endpoint, stats, health.
func NewHandler(router *Router) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", router.serveWs)
	mux.HandleFunc("/stats", router.serveStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (rt *Router) serveWs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: upgrade failed: %v", err)
		return
	}

	client := newClient(rt, conn, userID)
	log.Printf("server: client connected id=%s user=%s", client.ID, userID)

	go client.WritePump()
	go client.ReadPump()
}

func (rt *Router) serveStats(w http.ResponseWriter, r *http.Request) {
	stats := rt.sessions.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handle executes one request and returns the reply. Push traffic (remote
// operations, presence, membership) flows separately through session events.
func (rt *Router) handle(ctx context.Context, c *Client, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case MsgCreateSession:
		return rt.createSession(ctx, c, msg)
	case MsgEndSession:
		return rt.endSession(c, msg)
	case MsgGetState:
		return rt.getState(ctx, msg)
	case MsgApplyOperation:
		return rt.applyOperation(ctx, msg)
	case MsgApplyBatch:
		return rt.applyBatch(ctx, msg)
	case MsgUpdateCursor:
		return rt.updateCursor(msg)
	case MsgUpdateSelection:
		return rt.updateSelection(msg)
	case MsgUpdateTyping:
		return rt.updateTyping(msg)
	case MsgSetPermissions:
		return rt.setPermissions(msg)
	case MsgGetStats:
		stats := rt.sessions.Stats()
		return ServerMessage{Type: MsgResult, OK: true, Stats: &stats}
	default:
		return errorMsg(fault.Validation("unknown request type %q", msg.Type))
	}
}

func (rt *Router) createSession(ctx context.Context, c *Client, msg ClientMessage) ServerMessage {
	if msg.DocumentID == "" {
		return errorMsg(fault.Validation("docId is required"))
	}
	if err := rt.engine.Open(ctx, msg.DocumentID); err != nil {
		return errorMsg(err)
	}

	var meta session.Metadata
	if msg.Meta != nil {
		meta = *msg.Meta
	}
	perms := session.ParsePermissions(msg.Permissions)
	sess, err := rt.sessions.Create(c.UserID, msg.DocumentID, perms, meta)
	if err != nil {
		return errorMsg(err)
	}
	c.bind(sess)

	granted := make([]string, 0, len(perms))
	for _, p := range sess.Permissions() {
		granted = append(granted, string(p))
	}
	start := sess.StartedAt
	return ServerMessage{
		Type:        MsgResult,
		OK:          true,
		SessionID:   sess.ID,
		Permissions: granted,
		StartTime:   &start,
	}
}

func (rt *Router) endSession(c *Client, msg ClientMessage) ServerMessage {
	sess, err := rt.sessions.Get(msg.SessionID)
	if err != nil {
		return errorMsg(err)
	}
	rt.presence.Remove(sess.ID)
	rt.sessions.End(sess.ID)
	c.unbind(sess.ID)
	return ServerMessage{Type: MsgResult, OK: true, SessionID: sess.ID}
}

func (rt *Router) getState(ctx context.Context, msg ClientMessage) ServerMessage {
	state, err := rt.engine.DocumentState(ctx, msg.SessionID)
	if err != nil {
		return errorMsg(err)
	}
	return ServerMessage{
		Type:          MsgResult,
		OK:            true,
		Content:       state.Content,
		Version:       state.Version,
		Frozen:        state.Frozen,
		Collaborators: state.Collaborators,
	}
}

func (rt *Router) applyOperation(ctx context.Context, msg ClientMessage) ServerMessage {
	if msg.Op == nil {
		return errorMsg(fault.Validation("op is required"))
	}
	res, err := rt.engine.Apply(ctx, msg.SessionID, *msg.Op)
	if err != nil {
		return errorMsg(err)
	}
	return ServerMessage{
		Type:     MsgResult,
		OK:       true,
		Ops:      res.Ops,
		Version:  res.Version,
		Content:  res.Content,
		Warnings: res.Warnings,
	}
}

func (rt *Router) applyBatch(ctx context.Context, msg ClientMessage) ServerMessage {
	if len(msg.Ops) == 0 {
		return errorMsg(fault.Validation("ops is required"))
	}
	res, err := rt.engine.ApplyBatch(ctx, msg.SessionID, msg.Ops)
	if err != nil {
		return errorMsg(err)
	}
	return ServerMessage{Type: MsgResult, OK: true, Batch: res}
}

func (rt *Router) updateCursor(msg ClientMessage) ServerMessage {
	if msg.Cursor == nil {
		return errorMsg(fault.Validation("cursor is required"))
	}
	if err := rt.presence.UpdateCursor(msg.SessionID, *msg.Cursor); err != nil {
		return errorMsg(err)
	}
	return ServerMessage{Type: MsgResult, OK: true}
}

func (rt *Router) updateSelection(msg ClientMessage) ServerMessage {
	if msg.Selection == nil {
		return errorMsg(fault.Validation("selection is required"))
	}
	if err := rt.presence.UpdateSelection(msg.SessionID, *msg.Selection); err != nil {
		return errorMsg(err)
	}
	return ServerMessage{Type: MsgResult, OK: true}
}

func (rt *Router) updateTyping(msg ClientMessage) ServerMessage {
	if msg.Typing == nil {
		return errorMsg(fault.Validation("typing is required"))
	}
	if err := rt.presence.UpdateTyping(msg.SessionID, *msg.Typing); err != nil {
		return errorMsg(err)
	}
	return ServerMessage{Type: MsgResult, OK: true}
}

func (rt *Router) setPermissions(msg ClientMessage) ServerMessage {
	if msg.DocumentID == "" {
		return errorMsg(fault.Validation("docId is required"))
	}
	entries := make(map[string][]session.Permission, len(msg.Entries))
	for userID, raw := range msg.Entries {
		entries[userID] = session.ParsePermissions(raw)
	}
	if err := rt.sessions.SetDocumentPermissions(msg.SessionID, msg.DocumentID, entries); err != nil {
		return errorMsg(err)
	}
	return ServerMessage{Type: MsgResult, OK: true}
}

// disconnect tears down a session whose connection dropped.
func (rt *Router) disconnect(sess *session.Session) {
	rt.presence.Remove(sess.ID)
	rt.sessions.End(sess.ID)
	log.Printf("server: session %s ended on disconnect user=%s doc=%s", sess.ID, sess.UserID, sess.DocumentID)
}

func errorMsg(err error) ServerMessage {
	return ServerMessage{
		Type:      MsgError,
		ErrorCode: string(fault.CodeOf(err)),
		Message:   err.Error(),
	}
}
