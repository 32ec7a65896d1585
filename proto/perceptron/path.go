package perceptron

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PATH HISTORY
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// PathHistory remembers the addresses of the last H+1 branches, newest first. Training
// uses it to pick which perceptron row owns the weight for history position j: the
// branch j steps back along the path, hashed with the same modulo as the predictor.
//
// Warm-up: while fewer than H+1 addresses have been seen, At(j) wraps with j mod Len().
// Short history is reused circularly, never padded.
//
// Hardware: (H+1)-entry circular buffer of PC registers with a head pointer.
//   Push   → head <= head - 1; buf[head - 1] <= pc
//   At(j)  → buf[(head + j mod len) mod cap]
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PathHistory is a bounded newest-first queue of branch addresses.
type PathHistory struct {
	addrs []uint64 // Ring storage (capacity H+1)
	head  int      // Slot holding the newest address
	n     int      // Live entries
}

// NewPathHistory returns an empty path holding at most capacity addresses.
func NewPathHistory(capacity int) *PathHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &PathHistory{addrs: make([]uint64, capacity)}
}

// Push records addr as the newest entry, evicting the oldest once full.
func (p *PathHistory) Push(addr uint64) {
	p.head--
	if p.head < 0 {
		p.head = len(p.addrs) - 1
	}
	p.addrs[p.head] = addr
	if p.n < len(p.addrs) {
		p.n++
	}
}

// At returns the address j steps back, wrapping on the live length.
// Calling At on an empty path is a caller bug and panics.
func (p *PathHistory) At(j int) uint64 {
	if p.n == 0 {
		panic(ErrEmptyPath)
	}
	i := j % p.n
	return p.addrs[(p.head+i)%len(p.addrs)]
}

// Len returns the number of live entries.
func (p *PathHistory) Len() int { return p.n }

// Cap returns the maximum number of entries.
func (p *PathHistory) Cap() int { return len(p.addrs) }

// Snapshot copies the live entries, newest first.
func (p *PathHistory) Snapshot() []uint64 {
	out := make([]uint64, p.n)
	for i := range out {
		out[i] = p.addrs[(p.head+i)%len(p.addrs)]
	}
	return out
}

// Reset empties the path.
func (p *PathHistory) Reset() {
	clear(p.addrs)
	p.head = 0
	p.n = 0
}
