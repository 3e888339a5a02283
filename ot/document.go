package ot

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/rawjaws/cosync/fault"
)

// DefaultHistoryLimit bounds the retained operation history when no explicit
// limit is configured.
const DefaultHistoryLimit = 1024

// HistoryEntry records an applied primitive and the version the document
// reached by applying it.
type HistoryEntry struct {
	Op      Operation
	Version int
}

// Result reports what Integrate actually applied.
type Result struct {
	// Ops holds the transformed primitives in application order. Usually one;
	// more when a replace was decomposed or a delete was split by a
	// concurrent insert.
	Ops []Operation

	// Version is the document version after the last primitive.
	Version int

	// Warnings carries non-fatal adjustments, such as boundary clamping.
	Warnings []string
}

// Document owns the content, version counter, and bounded operation history
// of a single collaborative document. It is not safe for concurrent use; the
// engine serializes access through one actor goroutine per document.
type Document struct {
	id      string
	content []rune
	version int
	history []HistoryEntry
	applied map[string]int // operation ID -> version it landed at

	// Integrity tracking maintained independently of content mutation:
	// expected length and additive code-point sum derived from op deltas.
	// A mismatch against recomputed values freezes the document.
	wantLen int
	wantSum uint64
	sum     uint64 // xxhash64 of content after the last apply
	frozen  bool

	limit int
}

// NewDocument creates a document at the given content and version, as loaded
// from the external store.
func NewDocument(id, content string, version int) *Document {
	d := &Document{
		id:      id,
		content: []rune(content),
		version: version,
		applied: make(map[string]int),
		limit:   DefaultHistoryLimit,
	}
	d.wantLen = len(d.content)
	d.wantSum = runeSum(d.content)
	d.sum = xxhash.Sum64String(content)
	return d
}

// SetHistoryLimit bounds the retained history. Entries beyond the limit are
// dropped oldest-first; operations based before the retained window are
// rejected.
func (d *Document) SetHistoryLimit(n int) {
	if n > 0 {
		d.limit = n
	}
}

func (d *Document) ID() string       { return d.id }
func (d *Document) Content() string  { return string(d.content) }
func (d *Document) Version() int     { return d.version }
func (d *Document) Frozen() bool     { return d.frozen }
func (d *Document) Checksum() uint64 { return d.sum }
func (d *Document) HistoryLen() int  { return len(d.history) }

// IsApplied reports whether an operation with the given ID has been applied.
func (d *Document) IsApplied(opID string) bool {
	_, ok := d.applied[opID]
	return ok
}

// Integrate validates, transforms, and applies op, returning the primitives
// that actually mutated the document. The caller must already have
// authorized the write.
func (d *Document) Integrate(op Operation) (*Result, error) {
	if d.frozen {
		return nil, fault.ConsistencyFault("document %s is frozen pending reconciliation", d.id)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if op.BaseVersion > d.version {
		return nil, fault.Validation("base version %d is ahead of document version %d", op.BaseVersion, d.version)
	}

	res := &Result{}
	for _, part := range op.primitives() {
		// For the insert half of a replace, the history read below also
		// covers the delete half just applied, keeping the pair sequential.
		entries, err := d.historySince(part.BaseVersion)
		if err != nil {
			return nil, err
		}
		set := []Operation{part}
		for _, h := range entries {
			set = transformSet(set, h.Op)
		}
		// Set members are disjoint ranges against the current state. Applying
		// high positions first keeps the lower positions valid.
		sort.SliceStable(set, func(i, j int) bool {
			return set[i].Position > set[j].Position
		})
		for _, p := range set {
			ap, warns, err := d.applyPrimitive(p)
			res.Warnings = append(res.Warnings, warns...)
			if err != nil {
				return nil, err
			}
			res.Ops = append(res.Ops, ap)
		}
	}
	res.Version = d.version
	return res, nil
}

// historySince returns the entries a client at the given base version has not
// seen. Bases older than the retained window cannot be transformed safely.
func (d *Document) historySince(base int) ([]HistoryEntry, error) {
	if base > d.version {
		return nil, fault.Validation("base version %d is ahead of document version %d", base, d.version)
	}
	if len(d.history) == 0 {
		if base < d.version {
			return nil, fault.Validation("base version %d predates retained history", base)
		}
		return nil, nil
	}
	oldest := d.history[0].Version
	if base < oldest-1 {
		return nil, fault.Validation("base version %d predates retained history (oldest %d)", base, oldest)
	}
	i := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Version > base
	})
	return d.history[i:], nil
}

// applyPrimitive mutates the content with a single transformed insert/delete,
// advances the version, and records the history entry. It returns the
// primitive as actually applied, after any boundary clamping.
func (d *Document) applyPrimitive(p Operation) (Operation, []string, error) {
	var warns []string

	switch p.Kind {
	case Insert:
		pos := p.Position
		if pos > len(d.content) {
			pos = len(d.content)
			warns = append(warns, "insert position clamped to end of document")
		}
		if c := clampClusterBoundary(d.content, pos); c != pos {
			pos = c
			warns = append(warns, "insert position clamped to grapheme boundary")
		}
		ins := []rune(p.Text)
		next := make([]rune, 0, len(d.content)+len(ins))
		next = append(next, d.content[:pos]...)
		next = append(next, ins...)
		next = append(next, d.content[pos:]...)
		d.content = next
		d.wantLen += len(ins)
		d.wantSum += runeSum(ins)
		p.Position = pos

	case Delete:
		s, e := p.Position, p.end()
		if s > len(d.content) {
			s = len(d.content)
		}
		if e > len(d.content) {
			e = len(d.content)
			warns = append(warns, "delete range clamped to end of document")
		}
		if c := clampClusterBoundary(d.content, s); c != s {
			s = c
			warns = append(warns, "delete start clamped to grapheme boundary")
		}
		if c := clampClusterBoundary(d.content, e); c != e {
			e = c
			warns = append(warns, "delete end clamped to grapheme boundary")
		}
		if e < s {
			e = s
		}
		removed := d.content[s:e]
		d.wantLen -= len(removed)
		d.wantSum -= runeSum(removed)
		next := make([]rune, 0, len(d.content)-len(removed))
		next = append(next, d.content[:s]...)
		next = append(next, d.content[e:]...)
		d.content = next
		p.Position, p.Length = s, e-s

	default:
		return p, warns, fault.Validation("primitive with kind %q", p.Kind)
	}

	d.version++
	d.history = append(d.history, HistoryEntry{Op: p, Version: d.version})
	if len(d.history) > d.limit {
		d.history = d.history[len(d.history)-d.limit:]
	}
	if p.ID != "" {
		d.applied[p.ID] = d.version
	}

	if err := d.verify(); err != nil {
		return p, warns, err
	}
	return p, warns, nil
}

// verify recomputes the content checksum and compares it with the
// independently maintained expectations. A mismatch freezes the document;
// only external reconciliation through Reset may unfreeze it.
func (d *Document) verify() error {
	d.sum = xxhash.Sum64String(string(d.content))
	if len(d.content) != d.wantLen || runeSum(d.content) != d.wantSum {
		d.frozen = true
		return fault.ConsistencyFault(
			"document %s diverged at v%d: len %d (want %d)",
			d.id, d.version, len(d.content), d.wantLen)
	}
	return nil
}

// CompactHistory drops entries at or below minBase, the oldest base version
// any live session may still submit against. It returns how many entries
// were dropped.
//
// The applied-ID index is pruned on its own, wider horizon: a dependency
// may name an operation whose history entry was compacted long ago, and it
// must still resolve instead of parking until timeout.
func (d *Document) CompactHistory(minBase int) int {
	horizon := d.version - 4*d.limit
	for id, v := range d.applied {
		if v <= horizon {
			delete(d.applied, id)
		}
	}
	i := sort.Search(len(d.history), func(i int) bool {
		return d.history[i].Version > minBase
	})
	if i == 0 {
		return 0
	}
	d.history = append(d.history[:0:0], d.history[i:]...)
	return i
}

// Reset replaces content and version wholesale, clearing the history and the
// frozen flag. It is the external reconciliation hook for a consistency
// fault.
func (d *Document) Reset(content string, version int) {
	d.content = []rune(content)
	d.version = version
	d.history = nil
	d.applied = make(map[string]int)
	d.wantLen = len(d.content)
	d.wantSum = runeSum(d.content)
	d.sum = xxhash.Sum64String(content)
	d.frozen = false
}

func runeSum(rs []rune) uint64 {
	var sum uint64
	for _, r := range rs {
		sum += uint64(r)
	}
	return sum
}
