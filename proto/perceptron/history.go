package perceptron

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// GLOBAL HISTORY REGISTER
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// One shift register per hardware thread records recent outcomes, 1 = taken, newest in
// bit 0. Each thread owns two of them:
//
//   committed    G[tid]   shifted by Update() with the real outcome
//   speculative  SG[tid]  shifted by Lookup()/UncondBranch() with the guess,
//                         reloaded from G[tid] on squash
//
// SG[tid] is always G[tid] advanced by the bits of the thread's in-flight branches.
//
// Width is H bits (H <= 64). Bits shifted past the top are dropped by the mask.
//
// SystemVerilog:
//   always_ff @(posedge clk) if (shift_en) ghr <= {ghr[H-2:0], bit_in};
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// HistoryRegister is a width-limited outcome shift register.
type HistoryRegister struct {
	bits uint64
	mask uint64
}

// historyMask returns a mask of the low width bits.
func historyMask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// NewHistoryRegister returns a cleared register of the given width.
func NewHistoryRegister(width uint) HistoryRegister {
	return HistoryRegister{mask: historyMask(width)}
}

// Shift pushes one outcome into bit 0.
func (h *HistoryRegister) Shift(taken bool) {
	var bit uint64
	if taken {
		bit = 1
	}
	h.bits = ((h.bits << 1) | bit) & h.mask
}

// Set loads v, masked to the register width.
func (h *HistoryRegister) Set(v uint64) { h.bits = v & h.mask }

// ClearLSB forces the newest outcome to not-taken.
func (h *HistoryRegister) ClearLSB() { h.bits &= h.mask &^ 1 }

// Value returns the register contents.
func (h HistoryRegister) Value() uint64 { return h.bits }

// Mask returns the width mask.
func (h HistoryRegister) Mask() uint64 { return h.mask }
