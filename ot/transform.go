package ot

// This file implements pairwise transformation of insert/delete primitives.
// Transform rewrites op so that it has the same effect after applied has
// already mutated the document. Replace never reaches here: it is decomposed
// into a delete and an insert before transformation.
//
// A transform may split a delete into two primitives when a concurrent insert
// lands strictly inside its range. The returned set is expressed against the
// same document state, with non-overlapping ranges; applying the set in
// descending position order keeps every position valid.

// transform rewrites op against a single already-applied primitive.
// An empty result means op became a no-op (its target was already removed).
func transform(op, applied Operation) []Operation {
	switch {
	case op.Kind == Insert && applied.Kind == Insert:
		return []Operation{transformInsertInsert(op, applied)}
	case op.Kind == Insert && applied.Kind == Delete:
		return []Operation{transformInsertDelete(op, applied)}
	case op.Kind == Delete && applied.Kind == Insert:
		return transformDeleteInsert(op, applied)
	case op.Kind == Delete && applied.Kind == Delete:
		return transformDeleteDelete(op, applied)
	}
	return []Operation{op}
}

// transformSet rewrites every primitive in set against applied.
func transformSet(set []Operation, applied Operation) []Operation {
	out := make([]Operation, 0, len(set))
	for _, p := range set {
		out = append(out, transform(p, applied)...)
	}
	return out
}

// orderedBefore reports whether a wins the deterministic tie-break against b
// for same-position concurrent inserts: lower timestamp first, then lower
// user ID.
func orderedBefore(a, b Operation) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.UserID < b.UserID
}

func transformInsertInsert(op, applied Operation) Operation {
	if applied.Position < op.Position ||
		(applied.Position == op.Position && orderedBefore(applied, op)) {
		op.Position += runeLen(applied.Text)
	}
	return op
}

func transformInsertDelete(op, applied Operation) Operation {
	// Positions inside the deleted range clamp to the range start; positions
	// past it shift left by the deleted length.
	if op.Position > applied.Position {
		op.Position -= applied.Length
		if op.Position < applied.Position {
			op.Position = applied.Position
		}
	}
	return op
}

func transformDeleteInsert(op, applied Operation) []Operation {
	at := applied.Position
	n := runeLen(applied.Text)
	switch {
	case at <= op.Position:
		op.Position += n
		return []Operation{op}
	case at >= op.end():
		return []Operation{op}
	}
	// The insert landed strictly inside the deleted range. Splitting around
	// the inserted text preserves it, which is what makes this rule converge
	// with the clamp-to-start rule above.
	left := op
	left.Length = at - op.Position
	right := op
	right.Position = at + n
	right.Length = op.end() - at
	return []Operation{left, right}
}

func transformDeleteDelete(op, applied Operation) []Operation {
	// Drop the overlap with the applied delete and shift left by however much
	// of it fell before this range. Overlapping concurrent deletes thereby
	// remove exactly the union of both ranges.
	shift := 0
	if applied.Position < op.Position {
		shift = min(op.Position, applied.end()) - applied.Position
	}
	overlap := min(op.end(), applied.end()) - max(op.Position, applied.Position)
	if overlap < 0 {
		overlap = 0
	}
	op.Length -= overlap
	if op.Length <= 0 {
		return nil // fully removed by the concurrent delete
	}
	op.Position -= shift
	return []Operation{op}
}
