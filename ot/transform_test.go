package ot

import (
	"reflect"
	"testing"
)

// integrateAll applies ops to a fresh document in the given order and
// returns the final content.
func integrateAll(t *testing.T, content string, ops ...Operation) string {
	t.Helper()
	doc := NewDocument("d1", content, 0)
	for _, op := range ops {
		if _, err := doc.Integrate(op); err != nil {
			t.Fatalf("Integrate(%+v): %v", op, err)
		}
	}
	return doc.Content()
}

// requireConverges applies two concurrent ops (both authored at version 0)
// in both receipt orders and checks both replicas land on want.
func requireConverges(t *testing.T, content string, a, b Operation, want string) {
	t.Helper()
	if got := integrateAll(t, content, a, b); got != want {
		t.Errorf("order a,b: got %q, want %q", got, want)
	}
	if got := integrateAll(t, content, b, a); got != want {
		t.Errorf("order b,a: got %q, want %q", got, want)
	}
}

func TestNoConcurrentHistoryIsIdentity(t *testing.T) {
	// An operation based on the current version has nothing to transform
	// against and must apply exactly as submitted, field for field.
	tests := []struct {
		name string
		seed string
		op   Operation
	}{
		{"insert middle", "Hello World", Operation{ID: "i1", Kind: Insert, Position: 5, Text: " dear", UserID: "alice", Timestamp: 10}},
		{"insert start", "abc", Operation{ID: "i2", Kind: Insert, Position: 0, Text: "x", UserID: "bob", Timestamp: 20}},
		{"insert end", "abc", Operation{ID: "i3", Kind: Insert, Position: 3, Text: "yz", UserID: "bob", Timestamp: 30}},
		{"delete middle", "Hello World", Operation{ID: "d1", Kind: Delete, Position: 5, Length: 6, UserID: "alice", Timestamp: 40}},
		{"delete all", "abc", Operation{ID: "d2", Kind: Delete, Position: 0, Length: 3, UserID: "bob", Timestamp: 50}},
		{"delete multibyte", "héllo wörld", Operation{ID: "d3", Kind: Delete, Position: 1, Length: 4, UserID: "carol", Timestamp: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument("d1", tt.seed, 0)
			res, err := doc.Integrate(tt.op)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Warnings) != 0 {
				t.Errorf("warnings = %v, want none", res.Warnings)
			}
			if len(res.Ops) != 1 {
				t.Fatalf("applied %d primitives, want 1", len(res.Ops))
			}
			if !reflect.DeepEqual(res.Ops[0], tt.op) {
				t.Errorf("applied op = %+v, want unchanged %+v", res.Ops[0], tt.op)
			}
		})
	}
}

func TestConcurrentInsertsSamePosition(t *testing.T) {
	// Two users insert at position 5 of "Hello World" concurrently. The
	// earlier timestamp orders first regardless of receipt order.
	a := Operation{ID: "a", Kind: Insert, Position: 5, Text: " Beautiful", UserID: "alice", Timestamp: 100}
	b := Operation{ID: "b", Kind: Insert, Position: 5, Text: " Amazing", UserID: "bob", Timestamp: 200}
	requireConverges(t, "Hello World", a, b, "Hello Beautiful Amazing World")
}

func TestConcurrentInsertsTimestampTie(t *testing.T) {
	// Equal timestamps fall back to user ID ordering.
	a := Operation{ID: "a", Kind: Insert, Position: 2, Text: "XX", UserID: "alice", Timestamp: 100}
	b := Operation{ID: "b", Kind: Insert, Position: 2, Text: "YY", UserID: "bob", Timestamp: 100}
	requireConverges(t, "abcd", a, b, "abXXYYcd")
}

func TestConcurrentOverlappingDeletes(t *testing.T) {
	// 43 code points. One user deletes [4,15), another [10,19); the merged
	// effect removes the union [4,19), leaving 28 code points.
	const doc = "The quick brown fox jumps over the lazy dog"
	a := Operation{ID: "a", Kind: Delete, Position: 4, Length: 11, UserID: "alice", Timestamp: 100}
	b := Operation{ID: "b", Kind: Delete, Position: 10, Length: 9, UserID: "bob", Timestamp: 200}
	const want = "The  jumps over the lazy dog"
	requireConverges(t, doc, a, b, want)
	if runeLen(want) != 28 {
		t.Fatalf("result length = %d, want 28", runeLen(want))
	}
}

func TestConcurrentIdenticalDeletes(t *testing.T) {
	// Both users delete the same range; the text is removed once.
	a := Operation{ID: "a", Kind: Delete, Position: 1, Length: 3, UserID: "alice", Timestamp: 100}
	b := Operation{ID: "b", Kind: Delete, Position: 1, Length: 3, UserID: "bob", Timestamp: 200}
	requireConverges(t, "abcdef", a, b, "aef")
}

func TestInsertInsideConcurrentDelete(t *testing.T) {
	// The insert lands strictly inside the deleted range. The delete splits
	// around it, so the inserted text survives on both replicas.
	del := Operation{ID: "a", Kind: Delete, Position: 1, Length: 4, UserID: "alice", Timestamp: 100}
	ins := Operation{ID: "b", Kind: Insert, Position: 3, Text: "X", UserID: "bob", Timestamp: 200}
	requireConverges(t, "abcdef", del, ins, "aXf")
}

func TestInsertAtDeleteStart(t *testing.T) {
	// An insert at the delete's start position is not inside the range; it
	// survives without splitting the delete.
	del := Operation{ID: "a", Kind: Delete, Position: 2, Length: 3, UserID: "alice", Timestamp: 100}
	ins := Operation{ID: "b", Kind: Insert, Position: 2, Text: "Z", UserID: "bob", Timestamp: 200}
	requireConverges(t, "abcdef", del, ins, "abZf")
}

func TestConcurrentReplaceAndInsert(t *testing.T) {
	rep := Operation{ID: "a", Kind: Replace, Position: 0, OldText: "abc", Text: "Q", UserID: "alice", Timestamp: 100}
	ins := Operation{ID: "b", Kind: Insert, Position: 5, Text: "!", UserID: "bob", Timestamp: 200}
	requireConverges(t, "abcde", rep, ins, "Qde!")
}

func TestTransformInsertDelete(t *testing.T) {
	tests := []struct {
		name    string
		pos     int
		wantPos int
	}{
		{"before the range", 1, 1},
		{"at range start", 3, 3},
		{"inside the range clamps to start", 5, 3},
		{"at range end clamps to start", 7, 3},
		{"past the range shifts left", 9, 5},
	}
	applied := Operation{Kind: Delete, Position: 3, Length: 4}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Operation{Kind: Insert, Position: tt.pos, Text: "x"}
			got := transformInsertDelete(op, applied)
			if got.Position != tt.wantPos {
				t.Errorf("position = %d, want %d", got.Position, tt.wantPos)
			}
		})
	}
}

func TestTransformDeleteDelete(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		applied Operation
		want    []Operation // nil means fully removed
	}{
		{
			"disjoint before",
			Operation{Kind: Delete, Position: 0, Length: 2},
			Operation{Kind: Delete, Position: 5, Length: 2},
			[]Operation{{Kind: Delete, Position: 0, Length: 2}},
		},
		{
			"disjoint after shifts left",
			Operation{Kind: Delete, Position: 5, Length: 2},
			Operation{Kind: Delete, Position: 0, Length: 2},
			[]Operation{{Kind: Delete, Position: 3, Length: 2}},
		},
		{
			"partial overlap",
			Operation{Kind: Delete, Position: 10, Length: 9},
			Operation{Kind: Delete, Position: 4, Length: 11},
			[]Operation{{Kind: Delete, Position: 4, Length: 4}},
		},
		{
			"fully contained becomes no-op",
			Operation{Kind: Delete, Position: 3, Length: 2},
			Operation{Kind: Delete, Position: 1, Length: 6},
			nil,
		},
		{
			"identical range becomes no-op",
			Operation{Kind: Delete, Position: 2, Length: 3},
			Operation{Kind: Delete, Position: 2, Length: 3},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformDeleteDelete(tt.op, tt.applied)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i].Position != tt.want[i].Position || got[i].Length != tt.want[i].Length {
					t.Errorf("got %+v, want %+v", got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTransformDeleteInsertSplit(t *testing.T) {
	op := Operation{Kind: Delete, Position: 1, Length: 4}
	applied := Operation{Kind: Insert, Position: 3, Text: "XY"}
	got := transformDeleteInsert(op, applied)
	if len(got) != 2 {
		t.Fatalf("got %d primitives, want 2", len(got))
	}
	left, right := got[0], got[1]
	if left.Position != 1 || left.Length != 2 {
		t.Errorf("left = %+v, want delete [1,3)", left)
	}
	if right.Position != 5 || right.Length != 2 {
		t.Errorf("right = %+v, want delete [5,7)", right)
	}
}

func TestOrderedBefore(t *testing.T) {
	a := Operation{UserID: "alice", Timestamp: 100}
	b := Operation{UserID: "bob", Timestamp: 200}
	if !orderedBefore(a, b) {
		t.Error("earlier timestamp must order first")
	}
	if orderedBefore(b, a) {
		t.Error("later timestamp must not order first")
	}
	b.Timestamp = 100
	if !orderedBefore(a, b) || orderedBefore(b, a) {
		t.Error("equal timestamps must fall back to user ID")
	}
}
