package session

import "github.com/rawjaws/cosync/ot"

// Push event types delivered to collaborators.
const (
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventOperation      = "operation"
	EventCursor         = "cursor_position"
	EventSelection      = "selection_update"
	EventTyping         = "user_typing"
	EventDocumentFrozen = "document_frozen"
	EventError          = "error"
)

// CursorPos is a caret location in line/column form.
type CursorPos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a selection span in code-point offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Event is a push message broadcast to the other collaborators on a
// document. One flat struct covers every event type; unused fields are
// omitted on the wire.
type Event struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"docId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Meta       *Metadata      `json:"meta,omitempty"`
	Version    int            `json:"version,omitempty"`
	Ops        []ot.Operation `json:"ops,omitempty"`
	Cursor     *CursorPos     `json:"cursor,omitempty"`
	Selection  *Range         `json:"selection,omitempty"`
	Typing     *bool          `json:"typing,omitempty"`
	Message    string         `json:"message,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}
