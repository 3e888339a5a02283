package ot

import (
	"testing"

	"github.com/rawjaws/cosync/fault"
)

func TestOperationValidate(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{"valid insert", Operation{Kind: Insert, Position: 0, Text: "x"}, true},
		{"valid delete", Operation{Kind: Delete, Position: 2, Length: 3}, true},
		{"valid replace", Operation{Kind: Replace, Position: 1, OldText: "ab", Text: "cd"}, true},
		{"unknown kind", Operation{Kind: "move", Position: 0}, false},
		{"empty kind", Operation{Position: 0, Text: "x"}, false},
		{"negative position", Operation{Kind: Insert, Position: -1, Text: "x"}, false},
		{"insert without text", Operation{Kind: Insert, Position: 0}, false},
		{"delete with zero length", Operation{Kind: Delete, Position: 0}, false},
		{"delete with negative length", Operation{Kind: Delete, Position: 0, Length: -2}, false},
		{"replace without old text", Operation{Kind: Replace, Position: 0, Text: "x"}, false},
		{"replace without new text", Operation{Kind: Replace, Position: 0, OldText: "x"}, false},
		{"negative base version", Operation{Kind: Insert, Position: 0, Text: "x", BaseVersion: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !fault.Is(err, fault.CodeValidation) {
					t.Errorf("code = %q, want %q", fault.CodeOf(err), fault.CodeValidation)
				}
			}
		})
	}
}

func TestReplacePrimitives(t *testing.T) {
	op := Operation{Kind: Replace, Position: 4, OldText: "héllo", Text: "hi", UserID: "u1"}
	parts := op.primitives()
	if len(parts) != 2 {
		t.Fatalf("got %d primitives, want 2", len(parts))
	}
	del, ins := parts[0], parts[1]
	if del.Kind != Delete || del.Position != 4 || del.Length != 5 {
		t.Errorf("delete half = %+v, want delete of 5 code points at 4", del)
	}
	if ins.Kind != Insert || ins.Position != 4 || ins.Text != "hi" {
		t.Errorf("insert half = %+v, want insert %q at 4", ins, "hi")
	}
	if del.UserID != "u1" || ins.UserID != "u1" {
		t.Error("primitives must keep the author")
	}
}

func TestPrimitivesPassThrough(t *testing.T) {
	ins := Operation{Kind: Insert, Position: 1, Text: "a"}
	if got := ins.primitives(); len(got) != 1 || got[0] != ins {
		t.Errorf("insert primitives = %+v, want the operation itself", got)
	}
	del := Operation{Kind: Delete, Position: 1, Length: 2}
	if got := del.primitives(); len(got) != 1 || got[0] != del {
		t.Errorf("delete primitives = %+v, want the operation itself", got)
	}
}

func TestRuneLen(t *testing.T) {
	if n := runeLen("héllo"); n != 5 {
		t.Errorf("runeLen(héllo) = %d, want 5", n)
	}
	if n := runeLen(""); n != 0 {
		t.Errorf("runeLen(empty) = %d, want 0", n)
	}
}
