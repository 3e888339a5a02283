package ot

import (
	"github.com/rawjaws/cosync/fault"
)

// Kind discriminates the closed set of operation variants.
type Kind string

const (
	Insert  Kind = "insert"
	Delete  Kind = "delete"
	Replace Kind = "replace"
)

// Operation is a single edit against a document. Positions and lengths are
// measured in code points, not bytes. An operation is immutable once created;
// the transform pipeline returns rewritten copies.
type Operation struct {
	// ID identifies the operation for dependency references. Optional.
	ID string `json:"id,omitempty"`

	Kind     Kind `json:"kind"`
	Position int  `json:"position"`

	// Text is the inserted text (Insert) or the new text (Replace).
	Text string `json:"text,omitempty"`

	// Length is the number of code points removed (Delete).
	Length int `json:"length,omitempty"`

	// OldText is the text being replaced (Replace).
	OldText string `json:"oldText,omitempty"`

	UserID string `json:"userId,omitempty"`

	// Timestamp is the client clock in unix milliseconds. It is the first
	// component of the tie-break for same-position concurrent inserts.
	Timestamp int64 `json:"timestamp,omitempty"`

	// BaseVersion is the document version the client authored against.
	BaseVersion int `json:"baseVersion"`

	// DependsOn names a prior operation ID that must be applied first.
	DependsOn string `json:"dependsOn,omitempty"`
}

// Validate checks the operation's shape at the boundary, before it enters the
// transform pipeline.
func (op Operation) Validate() error {
	switch op.Kind {
	case Insert, Delete, Replace:
	default:
		return fault.Validation("unknown operation kind %q", op.Kind)
	}
	if op.Position < 0 {
		return fault.Validation("negative position %d", op.Position)
	}
	switch op.Kind {
	case Insert:
		if op.Text == "" {
			return fault.Validation("insert requires text")
		}
	case Delete:
		if op.Length <= 0 {
			return fault.Validation("delete requires a positive length")
		}
	case Replace:
		if op.OldText == "" || op.Text == "" {
			return fault.Validation("replace requires old and new text")
		}
	}
	if op.BaseVersion < 0 {
		return fault.Validation("negative base version %d", op.BaseVersion)
	}
	return nil
}

// primitives decomposes the operation into insert/delete primitives. A
// Replace becomes a delete followed by an insert at the same position; the
// pair is applied in sequence under the same critical section.
func (op Operation) primitives() []Operation {
	if op.Kind != Replace {
		return []Operation{op}
	}
	del := op
	del.Kind = Delete
	del.Length = runeLen(op.OldText)
	del.Text = ""
	del.OldText = ""
	ins := op
	ins.Kind = Insert
	ins.Length = 0
	ins.OldText = ""
	return []Operation{del, ins}
}

// end returns the exclusive end of a delete range.
func (op Operation) end() int {
	return op.Position + op.Length
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
