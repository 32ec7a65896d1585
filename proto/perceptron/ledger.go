package perceptron

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PARTIAL-SUM LEDGER
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// The path-based perceptron never computes a dot product at prediction time. Instead a
// ledger R[0..H] carries running sums forward: R[k] is the part of the output of the
// branch k steps in the future that is already known. When a branch resolves (or is
// guessed) with perceptron row w and direction d = ±1:
//
//   R'[H-j+1] = R[H-j] + d·w[j]      for j in [1, H]
//   R'[0]     = 0
//
// After H steps the sum has collected one weight from each of the H preceding
// branches, so the next branch's output is just bias + R[H].
//
// Two ledgers exist, engine-wide rather than per thread:
//
//   SR  speculative, rolled by Lookup() with the predicted direction
//   R   committed,   rolled by Update() with the real direction
//
// A squash reloads SR from R.
//
// Hardware: H+1 adders feeding a register bank, shifted one slot per branch.
//
// SystemVerilog:
//   generate for (genvar j = 1; j <= H; j++) begin
//     assign r_next[H-j+1] = taken ? r[H-j] + w[j] : r[H-j] - w[j];
//   end endgenerate
//   assign r_next[0] = '0;
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Ledger is a rolling partial-sum array of length H+1.
type Ledger []int64

// NewLedger returns a zeroed ledger for history length h.
func NewLedger(h int) Ledger { return make(Ledger, h+1) }

// Output returns the fully accumulated sum R[H].
func (l Ledger) Output() int64 { return l[len(l)-1] }

// RollInto writes into dst the ledger advanced by one branch that used weight row
// row and resolved (or was guessed) in direction taken. dst must not alias l.
func (l Ledger) RollInto(dst Ledger, row []Weight, taken bool) {
	h := len(l) - 1
	for j := 1; j <= h; j++ {
		k := h - j
		if taken {
			dst[k+1] = l[k] + int64(row[j])
		} else {
			dst[k+1] = l[k] - int64(row[j])
		}
	}
	dst[0] = 0
}

// CopyFrom overwrites l with src.
func (l Ledger) CopyFrom(src Ledger) { copy(l, src) }

// Clone returns an independent copy.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	copy(out, l)
	return out
}

// Equal reports whether both ledgers hold the same sums.
func (l Ledger) Equal(o Ledger) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

// Reset zeroes every slot.
func (l Ledger) Reset() { clear(l) }
