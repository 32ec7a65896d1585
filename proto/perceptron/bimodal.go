package perceptron

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BIMODAL BASELINE
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// A table of 2-bit saturating counters indexed by PC, four counters packed per byte:
//
//   0 = strongly not-taken   1 = weakly not-taken
//   2 = weakly taken         3 = strongly taken
//
// Predict taken when the counter is 2 or 3. Update steps the counter toward the outcome.
// No history, no speculation: Squash only retires the record.
//
// It satisfies Engine so the same pipeline and trace can be replayed against it as a
// floor for the perceptron's accuracy.
//
// Hardware: 2 bits per entry, one read and one read-modify-write per branch
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// DefaultBimodalEntries is the default number of 2-bit counters.
const DefaultBimodalEntries = 4096

// ErrBimodalEntries is returned by NewBimodal for a size that is not a power of two.
var ErrBimodalEntries = errors.New("perceptron: bimodal entries must be a power of two >= 4")

// Bimodal is a 2-bit counter predictor.
type Bimodal struct {
	counters []uint8 // 4 counters per byte
	mask     uint64
	threads  int

	records *RecordBook
	stats   Stats
}

var _ Engine = (*Bimodal)(nil)

// NewBimodal builds a table of entries counters for threads threads. Every
// counter starts weakly not-taken.
func NewBimodal(entries, threads int) (*Bimodal, error) {
	if entries < 4 || entries&(entries-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBimodalEntries, entries)
	}
	if threads < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadThreadCount, threads)
	}
	b := &Bimodal{
		counters: make([]uint8, entries/4),
		mask:     uint64(entries - 1),
		threads:  threads,
		records:  NewRecordBook(),
	}
	b.Reset()
	return b, nil
}

// Reset returns every counter to weakly not-taken and drops outstanding records.
func (b *Bimodal) Reset() {
	for i := range b.counters {
		b.counters[i] = 0x55 // 0b01 in each 2-bit slot
	}
	b.records.Reset()
	b.stats = Stats{}
}

// slot returns the byte index and bit shift of addr's counter.
func (b *Bimodal) slot(addr uint64) (int, uint) {
	idx := (addr >> 1) & b.mask
	return int(idx >> 2), uint(idx&3) << 1
}

// Counter returns the 2-bit counter for addr.
func (b *Bimodal) Counter(addr uint64) uint8 {
	byteIdx, shift := b.slot(addr)
	return (b.counters[byteIdx] >> shift) & 0x3
}

// Lookup predicts taken when addr's counter is 2 or 3.
func (b *Bimodal) Lookup(tid int, addr uint64) (bool, Record) {
	b.checkThread("lookup", tid)
	taken := b.Counter(addr) >= 2
	b.stats.Lookups++
	return taken, b.issue(taken, false)
}

// UncondBranch issues an always-taken record.
func (b *Bimodal) UncondBranch(tid int, addr uint64) Record {
	b.checkThread("uncond", tid)
	b.stats.Unconditional++
	return b.issue(true, true)
}

// Update steps the counter toward taken. Unconditional records train nothing.
func (b *Bimodal) Update(tid int, addr uint64, taken bool, rec Record, squashed bool) {
	b.checkThread("update", tid)
	b.consume("update", rec)

	b.stats.Updates++
	if squashed {
		b.stats.SquashedUpdates++
	}
	if rec.taken != taken {
		b.stats.Mispredictions++
	}
	if rec.uncond {
		return
	}

	byteIdx, shift := b.slot(addr)
	counter := (b.counters[byteIdx] >> shift) & 0x3
	next := counter
	if taken && next < 3 {
		next++
	}
	if !taken && next > 0 {
		next--
	}
	b.counters[byteIdx] = b.counters[byteIdx]&^(0x3<<shift) | next<<shift
	b.stats.Learns++
}

// Squash retires rec. There is no speculative state to restore.
func (b *Bimodal) Squash(tid int, rec Record) {
	b.checkThread("squash", tid)
	b.consume("squash", rec)
	b.stats.Squashes++
}

// GHR is always zero: the table keeps no history.
func (b *Bimodal) GHR(tid int, rec Record) uint64 {
	b.checkThread("ghr", tid)
	b.records.Check("ghr", rec)
	return 0
}

// BTBUpdate only counts the call. There is no history bit to clear.
func (b *Bimodal) BTBUpdate(tid int, addr uint64, rec Record) {
	b.checkThread("btb update", tid)
	b.records.Check("btb update", rec)
	b.stats.BTBUpdates++
}

// Stats returns event counters.
func (b *Bimodal) Stats() Stats {
	s := b.stats
	s.InFlight = b.records.Len()
	return s
}

func (b *Bimodal) issue(taken, uncond bool) Record {
	return b.records.Issue(0, taken, uncond, 0)
}

func (b *Bimodal) consume(op string, rec Record) { b.records.Consume(op, rec) }

func (b *Bimodal) checkThread(op string, tid int) {
	if tid < 0 || tid >= b.threads {
		panic(fmt.Errorf("perceptron: %s: thread %d of %d: %w", op, tid, b.threads, ErrBadThread))
	}
}
