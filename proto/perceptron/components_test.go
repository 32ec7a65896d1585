package perceptron

import (
	"math/rand"
	"testing"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COMPONENT TESTS
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Leaf units in isolation: saturating weights, path queue, history register, ledger roll.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestWeight_SaturatesAtRails(t *testing.T) {
	// WHAT: Repeated Inc stops at Max, repeated Dec stops at Min
	// HARDWARE: Clamp logic, no wraparound

	for bits := uint(1); bits <= 8; bits++ {
		r := WeightRangeForBits(bits)

		w := Weight(0)
		for i := 0; i < 1000; i++ {
			w = r.Inc(w)
		}
		if w != r.Max {
			t.Errorf("B=%d: after 1000 Inc w = %d, expected %d", bits, w, r.Max)
		}

		for i := 0; i < 1000; i++ {
			w = r.Dec(w)
		}
		if w != r.Min {
			t.Errorf("B=%d: after 1000 Dec w = %d, expected %d", bits, w, r.Min)
		}
	}
}

func TestWeight_StepDirection(t *testing.T) {
	r := WeightRangeForBits(3) // [-4, 3]

	if got := r.Step(0, true); got != 1 {
		t.Errorf("Step(0, up) = %d, expected 1", got)
	}
	if got := r.Step(0, false); got != -1 {
		t.Errorf("Step(0, down) = %d, expected -1", got)
	}
	if got := r.Step(3, true); got != 3 {
		t.Errorf("Step(3, up) = %d, expected 3", got)
	}
	if got := r.Step(-4, false); got != -4 {
		t.Errorf("Step(-4, down) = %d, expected -4", got)
	}
	if r.Contains(4) || r.Contains(-5) || !r.Contains(0) {
		t.Error("Contains disagrees with rails [-4, 3]")
	}
}

func TestPath_NewestFirstAndBounded(t *testing.T) {
	p := NewPathHistory(3)

	for addr := uint64(1); addr <= 6; addr++ {
		p.Push(addr)
	}

	got := p.Snapshot()
	want := []uint64{6, 5, 4}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, expected %v", got, want)
		}
	}
	if p.Len() != 3 || p.Cap() != 3 {
		t.Errorf("len/cap = %d/%d, expected 3/3", p.Len(), p.Cap())
	}
}

func TestPath_WrapsDuringWarmup(t *testing.T) {
	// WHAT: With fewer entries than capacity, At(j) wraps on the live length
	// WHY: Short history is reused circularly, never padded

	p := NewPathHistory(9)
	p.Push(0xA)
	p.Push(0xB) // path = [B, A]

	want := []uint64{0xB, 0xA, 0xB, 0xA, 0xB}
	for j, w := range want {
		if got := p.At(j); got != w {
			t.Errorf("At(%d) = %#x, expected %#x", j, got, w)
		}
	}
}

func TestPath_EmptyPanics(t *testing.T) {
	expectPanic(t, ErrEmptyPath, func() { NewPathHistory(4).At(0) })
}

func TestPath_ResetEmpties(t *testing.T) {
	p := NewPathHistory(4)
	p.Push(1)
	p.Push(2)
	p.Reset()
	if p.Len() != 0 {
		t.Errorf("Len after Reset = %d", p.Len())
	}
	p.Push(7)
	if p.At(3) != 7 {
		t.Errorf("At(3) = %d, expected 7", p.At(3))
	}
}

func TestHistory_MaskHoldsForAllWidths(t *testing.T) {
	// WHAT: history == history & mask after any sequence of shifts
	// HARDWARE: Bits shifted past the top fall off

	rng := rand.New(rand.NewSource(3))

	for _, width := range []uint{2, 4, 8, 16, 32, 64} {
		h := NewHistoryRegister(width)
		for i := 0; i < 500; i++ {
			switch rng.Intn(4) {
			case 0:
				h.Set(rng.Uint64())
			case 1:
				h.ClearLSB()
			default:
				h.Shift(rng.Intn(2) == 1)
			}
			if h.Value()&h.Mask() != h.Value() {
				t.Fatalf("width %d: value %#x escapes mask %#x", width, h.Value(), h.Mask())
			}
		}
	}
}

func TestHistory_ShiftOrder(t *testing.T) {
	h := NewHistoryRegister(4)
	for _, b := range []bool{true, false, true, true, false, true} {
		h.Shift(b)
	}
	// Last four outcomes, newest in bit 0: 1,1,0,1 → 0b1101.
	if h.Value() != 0b1101 {
		t.Errorf("value = %#b, expected 0b1101", h.Value())
	}
	h.ClearLSB()
	if h.Value() != 0b1100 {
		t.Errorf("after ClearLSB value = %#b, expected 0b1100", h.Value())
	}
}

func TestLedger_Roll(t *testing.T) {
	// WHAT: R'[H-j+1] = R[H-j] ± w[j], R'[0] = 0

	row := []Weight{9, 1, 2, 3, 4} // bias never enters the ledger
	l := NewLedger(4)
	dst := NewLedger(4)

	l.RollInto(dst, row, true)
	if want := (Ledger{0, 4, 3, 2, 1}); !dst.Equal(want) {
		t.Fatalf("first roll = %v, expected %v", dst, want)
	}

	next := NewLedger(4)
	dst.RollInto(next, row, true)
	if want := (Ledger{0, 4, 7, 5, 3}); !next.Equal(want) {
		t.Fatalf("second roll = %v, expected %v", next, want)
	}
	if next.Output() != 3 {
		t.Errorf("Output = %d, expected 3", next.Output())
	}

	l.RollInto(dst, row, false)
	if want := (Ledger{0, -4, -3, -2, -1}); !dst.Equal(want) {
		t.Errorf("not-taken roll = %v, expected %v", dst, want)
	}
}

func TestLedger_CloneIsIndependent(t *testing.T) {
	l := Ledger{0, 1, 2}
	c := l.Clone()
	c[1] = 99
	if l[1] != 1 {
		t.Error("Clone aliases the original")
	}
	if l.Equal(c) || l.Equal(Ledger{0, 1}) {
		t.Error("Equal reported a match for different ledgers")
	}
}

func TestTable_LearnUsesPathRows(t *testing.T) {
	// WHAT: Position j trains the row of the branch j steps back, not the current row

	tbl := NewWeightTable(10, 4, WeightRangeForBits(2))
	path := NewPathHistory(5)
	for _, a := range []uint64{5, 4, 3, 2, 1} { // path = [1, 2, 3, 4, 5]
		path.Push(a)
	}

	// history bits 1..4 = 1,0,1,0 ; outcome taken
	tbl.Learn(7, true, 0b01010, path)

	if tbl.At(7, 0) != 1 {
		t.Errorf("bias[7] = %d, expected 1", tbl.At(7, 0))
	}
	want := map[[2]int]Weight{
		{2, 1}: 1,  // path[1] = 2, bit1 = 1 agrees
		{3, 2}: -1, // path[2] = 3, bit2 = 0 disagrees
		{4, 3}: 1,  // path[3] = 4, bit3 = 1 agrees
		{5, 4}: -1, // path[4] = 5, bit4 = 0 disagrees
	}
	for k, w := range want {
		if got := tbl.At(k[0], k[1]); got != w {
			t.Errorf("weights[%d][%d] = %d, expected %d", k[0], k[1], got, w)
		}
	}
	if tbl.At(7, 1) != 0 {
		t.Errorf("weights[7][1] = %d, expected untouched", tbl.At(7, 1))
	}
}
