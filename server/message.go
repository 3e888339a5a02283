package server

import (
	"encoding/json"
	"time"

	"github.com/rawjaws/cosync/engine"
	"github.com/rawjaws/cosync/ot"
	"github.com/rawjaws/cosync/session"
)

// Request types accepted over the WebSocket.
const (
	MsgCreateSession   = "create_session"
	MsgEndSession      = "end_session"
	MsgGetState        = "get_document_state"
	MsgApplyOperation  = "apply_operation"
	MsgApplyBatch      = "apply_batch"
	MsgUpdateCursor    = "update_cursor"
	MsgUpdateSelection = "update_selection"
	MsgUpdateTyping    = "update_typing"
	MsgSetPermissions  = "set_permissions"
	MsgGetStats        = "get_stats"
)

// Response types.
const (
	MsgResult = "result"
	MsgError  = "error"
)

// ClientMessage is a request from client to server. One flat struct covers
// every request type; unused fields stay empty.
type ClientMessage struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	DocumentID string `json:"docId,omitempty"`

	// create_session
	Permissions []string          `json:"permissions,omitempty"`
	Meta        *session.Metadata `json:"meta,omitempty"`

	// apply_operation / apply_batch
	Op  *ot.Operation  `json:"op,omitempty"`
	Ops []ot.Operation `json:"ops,omitempty"`

	// presence updates
	Cursor    *session.CursorPos `json:"cursor,omitempty"`
	Selection *session.Range     `json:"selection,omitempty"`
	Typing    *bool              `json:"typing,omitempty"`

	// set_permissions: userID -> permission names
	Entries map[string][]string `json:"entries,omitempty"`
}

// ServerMessage is a request/response reply. Push events are encoded from
// session.Event directly and share the "type" discriminator.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	For       string `json:"for,omitempty"` // request type this answers
	OK        bool   `json:"ok"`

	SessionID   string     `json:"sessionId,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`

	Content       string                `json:"content,omitempty"`
	Version       int                   `json:"version,omitempty"`
	Frozen        bool                  `json:"frozen,omitempty"`
	Collaborators []engine.Collaborator `json:"collaborators,omitempty"`

	Ops      []ot.Operation      `json:"ops,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Batch    *engine.BatchResult `json:"batch,omitempty"`

	Stats *session.Stats `json:"stats,omitempty"`

	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
