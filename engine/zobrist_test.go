package engine

import "testing"

func TestPositionKeyCoversSearchState(t *testing.T) {
	z := GetZobrist()
	b := ParseBoard("##..#.....")
	base := z.Position(&b, Counters{}, KindNone, 0)
	if base != z.Position(&b, Counters{}, KindNone, 0) {
		t.Fatalf("expected stable keys")
	}

	moved := b
	moved.Set(9, 0)
	if z.Position(&moved, Counters{}, KindNone, 0) == base {
		t.Fatalf("expected key to change with the board")
	}
	if z.Position(&b, Counters{B2B: 1}, KindNone, 0) == base {
		t.Fatalf("expected key to change with b2b")
	}
	if z.Position(&b, Counters{Ren: 1}, KindNone, 0) == base {
		t.Fatalf("expected key to change with ren")
	}
	if z.Position(&b, Counters{}, KindT, 0) == base {
		t.Fatalf("expected key to change with hold")
	}
	if z.Position(&b, Counters{}, KindNone, 1) == base {
		t.Fatalf("expected key to change with stream index")
	}
}

func TestEvalKeyIgnoresHoldAndStream(t *testing.T) {
	z := GetZobrist()
	a := ParseBoard("#.........")
	b := ParseBoard("#.........")
	if z.EvalKey(&a, Counters{}) != z.EvalKey(&b, Counters{}) {
		t.Fatalf("expected equal boards to share an eval key")
	}
}
