// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TAGE Branch Predictor - Baseline Engine
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// OVERVIEW:
// ─────────
// A TAgged GEometric history predictor kept next to the perceptron as a second point of
// comparison. It drives through the same record contract as every other engine, so the
// pipeline and the trace replay it unchanged.
//
//   1. Table 0 is a PC-indexed base predictor that always answers
//   2. Tables 1-7 are tagged and indexed by PC mixed with 4..64 bits of history
//   3. The longest-history table whose tag and context match provides the prediction
//   4. A correct resolve strengthens the provider; a wrong one weakens it and allocates
//      entries in longer tables
//
// SPECULATION:
//   Each thread owns a committed history G[tid] and a speculative one SG[tid]. Lookup
//   predicts from SG and shifts the guess in. The record carries the history the lookup
//   saw, and Update trains against exactly that history. Squash and squashed updates
//   reload SG from G.
//
// CONTEXT ISOLATION:
//   Every tagged entry stores the thread id as a 3-bit context. A lookup only hits entries
//   of its own thread, so at most NumContexts threads are supported.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package tage

import (
	"errors"
	"fmt"
	"math/bits"

	"neuropath/proto/perceptron"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// GEOMETRY
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// SystemVerilog equivalent:
//   parameter TAG_WIDTH         = 13;
//   parameter COUNTER_WIDTH     = 3;
//   parameter CONTEXT_WIDTH     = 3;
//   parameter INDEX_WIDTH       = 10;
//   parameter NUM_TABLES        = 8;
//   parameter ENTRIES_PER_TABLE = 1024;
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

const (
	TagWidth        = 13
	CounterWidth    = 3
	ContextWidth    = 3
	AgeWidth        = 3
	IndexWidth      = 10
	TableIndexWidth = 3

	NumTables       = 1 << TableIndexWidth // 8
	EntriesPerTable = 1 << IndexWidth      // 1024
	NumContexts     = 1 << ContextWidth    // 8

	MaxAge         = (1 << AgeWidth) - 1     // 7
	MaxCounter     = (1 << CounterWidth) - 1 // 7
	NeutralCounter = 1 << (CounterWidth - 1) // 4
	TakenThreshold = NeutralCounter          // counter >= 4 predicts taken
	IndexMask      = (1 << IndexWidth) - 1   // 0x3FF
	TagMask        = (1 << TagWidth) - 1     // 0x1FFF

	ValidBitmapWords = EntriesPerTable / 64 // 16

	// AgingInterval is the number of resolved conditional branches between sweeps.
	AgingInterval = EntriesPerTable

	// HashPrime is φ·2^64, used to spread history bits before folding.
	HashPrime = 0x9E3779B97F4A7C15

	// AllocOnWeakThreshold and AllocOnStrongMax bound the provider counters that
	// trigger allocation in longer tables. Saturated providers were confidently
	// wrong, most likely through aliasing, and allocate nothing.
	AllocOnWeakThreshold = 2
	AllocOnStrongMax     = 5

	// pcAlign drops the instruction alignment bits before hashing.
	pcAlign = 2
)

// HistoryLengths is the geometric series of history bits per table.
//
// SystemVerilog:
//
//	parameter int HISTORY_LENGTHS [0:7] = '{0, 4, 8, 12, 16, 24, 32, 64};
var HistoryLengths = [NumTables]int{0, 4, 8, 12, 16, 24, 32, 64}

// ErrTooManyThreads is returned by New when the thread count does not fit the
// context tag.
var ErrTooManyThreads = errors.New("tage: thread count exceeds hardware contexts")

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TABLES
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Entry layout, 23 bits:
//   Tag      13  PC hash folded with the table's history
//   Counter   3  saturating, >= 4 predicts taken
//   Context   3  owning thread
//   Useful    1  provided a correct prediction since the last mispredict
//   Age       3  sweeps since the entry last mispredicted
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Entry is one tagged prediction slot.
type Entry struct {
	Tag     uint16
	Counter uint8
	Context uint8
	Useful  bool
	Age     uint8
}

// Table is one TAGE bank with its valid bitmap.
type Table struct {
	Entries    [EntriesPerTable]Entry
	ValidBits  [ValidBitmapWords]uint64
	HistoryLen int
}

// Valid reports whether slot idx holds an entry.
func (t *Table) Valid(idx uint32) bool {
	return (t.ValidBits[idx>>6]>>(idx&63))&1 != 0
}

func (t *Table) setValid(idx uint32) {
	t.ValidBits[idx>>6] |= 1 << (idx & 63)
}

// Occupancy counts valid entries.
func (t *Table) Occupancy() int {
	n := 0
	for _, w := range t.ValidBits {
		n += bits.OnesCount64(w)
	}
	return n
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PREDICTOR
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Predictor is a TAGE engine satisfying perceptron.Engine.
type Predictor struct {
	Tables [NumTables]Table

	// AgingEnabled runs AgeAllEntries every AgingInterval resolved branches.
	AgingEnabled bool

	committed   []uint64 // G[tid]
	speculative []uint64 // SG[tid]
	records     *perceptron.RecordBook
	resolved    uint64 // Conditional branches resolved since Reset

	stats Stats
}

var _ perceptron.Engine = (*Predictor)(nil)

// New builds a predictor in reset state for threads hardware threads.
//
// Reset state:
//   - table 0 fully valid with neutral counters, so every branch has a prediction
//   - tables 1-7 empty, filled on mispredicts
//   - all histories zero
func New(threads int) (*Predictor, error) {
	if threads < 1 {
		return nil, fmt.Errorf("%w: %d", perceptron.ErrBadThreadCount, threads)
	}
	if threads > NumContexts {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyThreads, threads, NumContexts)
	}
	p := &Predictor{
		AgingEnabled: true,
		committed:    make([]uint64, threads),
		speculative:  make([]uint64, threads),
		records:      perceptron.NewRecordBook(),
	}
	for i := range p.Tables {
		p.Tables[i].HistoryLen = HistoryLengths[i]
	}
	p.Reset()
	return p, nil
}

// Reset clears learned and speculative state. The base table returns to
// neutral counters and outstanding records become stale.
func (p *Predictor) Reset() {
	base := &p.Tables[0]
	for i := range base.Entries {
		base.Entries[i] = Entry{Counter: NeutralCounter}
	}
	for w := range base.ValidBits {
		base.ValidBits[w] = ^uint64(0)
	}
	for t := 1; t < NumTables; t++ {
		p.Tables[t].ValidBits = [ValidBitmapWords]uint64{}
	}
	clear(p.committed)
	clear(p.speculative)
	p.records.Reset()
	p.resolved = 0
	p.stats = Stats{}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HASHING
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// hashIndex:
//   a     = pc >> 2
//   pcIdx = (a ^ a >> (10 + table)) & 0x3FF       table-specific fold decorrelates banks
//   h     = (history & mask(len)) * φ
//   index = pcIdx ^ (h ^ h>>10 ^ h>>20) & 0x3FF    table 0 skips the history term
//
// hashTag folds the PC and the table's history slice into 13 bits. Folding history
// into the tag keeps two histories that collide on the index from sharing an entry.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// historyMask returns the low n bits set, n in [0, 64].
func historyMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(n) - 1
}

func hashIndex(pc, history uint64, historyLen, tableNum int) uint32 {
	a := pc >> pcAlign
	pcIdx := uint32((a ^ a>>(IndexWidth+uint(tableNum))) & IndexMask)
	if historyLen == 0 {
		return pcIdx
	}
	h := (history & historyMask(historyLen)) * HashPrime
	histIdx := uint32((h ^ h>>IndexWidth ^ h>>(2*IndexWidth)) & IndexMask)
	return pcIdx ^ histIdx
}

func hashTag(pc, history uint64, historyLen int) uint16 {
	a := pc >> pcAlign
	tag := a ^ a>>TagWidth ^ a>>(2*TagWidth)
	if historyLen > 0 {
		h := (history & historyMask(historyLen)) * HashPrime
		tag ^= h >> (64 - TagWidth)
	}
	return uint16(tag & TagMask)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PREDICTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// All seven tagged banks are probed in parallel; the hit bitmap's highest set bit picks
// the provider (CLZ). No hit falls back to the base table.
//
// CONFIDENCE:
//   0  base table
//   1  tagged hit, counter in [2, 5]
//   2  tagged hit, counter saturated at 0-1 or 6-7
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// lookup finds the provider for pc under history. table is 0 for the base table.
func (p *Predictor) lookup(pc uint64, ctx uint8, history uint64) (table int, idx uint32) {
	var hitBitmap uint8
	var indices [NumTables]uint32

	for i := 1; i < NumTables; i++ {
		t := &p.Tables[i]
		ix := hashIndex(pc, history, t.HistoryLen, i)
		indices[i] = ix
		if !t.Valid(ix) {
			continue
		}
		e := &t.Entries[ix]
		if e.Tag == hashTag(pc, history, t.HistoryLen) && e.Context == ctx {
			hitBitmap |= 1 << uint(i)
		}
	}

	if hitBitmap != 0 {
		winner := 7 - bits.LeadingZeros8(hitBitmap)
		return winner, indices[winner]
	}
	return 0, hashIndex(pc, 0, 0, 0)
}

// predict returns the direction and confidence for pc under history.
func (p *Predictor) predict(pc uint64, ctx uint8, history uint64) (bool, uint8) {
	table, idx := p.lookup(pc, ctx, history)
	counter := p.Tables[table].Entries[idx].Counter
	taken := counter >= TakenThreshold
	switch {
	case table == 0:
		return taken, 0
	case counter <= 1 || counter >= MaxCounter-1:
		return taken, 2
	default:
		return taken, 1
	}
}

// Lookup predicts a conditional branch from SG[tid] and shifts the guess in.
// The record's Output is the confidence level.
func (p *Predictor) Lookup(tid int, addr uint64) (bool, perceptron.Record) {
	p.checkThread("lookup", tid)
	hist := p.speculative[tid]
	taken, confidence := p.predict(addr, uint8(tid), hist)
	rec := p.records.Issue(hist, taken, false, int64(confidence))
	p.speculative[tid] = shift(hist, taken)
	p.stats.Lookups++
	return taken, rec
}

// UncondBranch shifts a taken bit into SG[tid]. No table is read.
func (p *Predictor) UncondBranch(tid int, addr uint64) perceptron.Record {
	p.checkThread("uncond", tid)
	hist := p.speculative[tid]
	rec := p.records.Issue(hist, true, true, 0)
	p.speculative[tid] = shift(hist, true)
	p.stats.Unconditional++
	return rec
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// UPDATE
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Update trains against the history stored in the record, then shifts the real outcome
// into G[tid]. Unconditional records only shift.
//
//   correct → base and provider step toward the outcome, provider marked useful
//   wrong   → base and provider step toward the outcome, provider loses useful and age;
//             a weak provider allocates in up to three longer tables, a base-only miss
//             allocates in table 1
//
// squashed reloads SG[tid] from G[tid] after the shift.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Update resolves rec with the real outcome.
func (p *Predictor) Update(tid int, addr uint64, taken bool, rec perceptron.Record, squashed bool) {
	p.checkThread("update", tid)
	p.records.Consume("update", rec)

	if !rec.Unconditional() {
		ctx := uint8(tid)
		if rec.Taken() == taken {
			p.reinforce(addr, ctx, rec.GHR(), taken)
		} else {
			p.mispredict(addr, ctx, rec.GHR(), taken)
			p.stats.Mispredictions++
		}
		p.resolved++
		if p.AgingEnabled && p.resolved%AgingInterval == 0 {
			p.AgeAllEntries()
		}
	}

	p.committed[tid] = shift(p.committed[tid], taken)
	if squashed {
		p.speculative[tid] = p.committed[tid]
		p.stats.SquashedUpdates++
	}
	p.stats.Updates++
}

func (p *Predictor) reinforce(pc uint64, ctx uint8, history uint64, taken bool) {
	base := &p.Tables[0].Entries[hashIndex(pc, 0, 0, 0)]
	updateCounterWithHysteresis(base, taken)

	table, idx := p.lookup(pc, ctx, history)
	if table == 0 {
		return
	}
	e := &p.Tables[table].Entries[idx]
	updateCounterWithHysteresis(e, taken)
	e.Useful = true
}

func (p *Predictor) mispredict(pc uint64, ctx uint8, history uint64, taken bool) {
	base := &p.Tables[0].Entries[hashIndex(pc, 0, 0, 0)]
	updateCounterWithHysteresis(base, taken)

	table, idx := p.lookup(pc, ctx, history)
	if table == 0 {
		p.allocate(1, pc, ctx, history, taken)
		return
	}
	e := &p.Tables[table].Entries[idx]
	updateCounterWithHysteresis(e, taken)
	e.Useful = false
	e.Age = 0
	if shouldAllocate(e.Counter) {
		p.allocateLonger(table, pc, ctx, history, taken)
	}
}

// Squash discards rec and reloads SG[tid] from G[tid].
func (p *Predictor) Squash(tid int, rec perceptron.Record) {
	p.checkThread("squash", tid)
	p.records.Consume("squash", rec)
	p.speculative[tid] = p.committed[tid]
	p.stats.Squashes++
}

// GHR returns the speculative history rec was predicted under.
func (p *Predictor) GHR(tid int, rec perceptron.Record) uint64 {
	p.checkThread("ghr", tid)
	p.records.Check("ghr", rec)
	return rec.GHR()
}

// BTBUpdate clears the bit the last Lookup of tid shifted into SG. The record
// is not consumed.
func (p *Predictor) BTBUpdate(tid int, addr uint64, rec perceptron.Record) {
	p.checkThread("btb update", tid)
	p.records.Check("btb update", rec)
	p.speculative[tid] &^= 1
	p.stats.BTBUpdates++
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ALLOCATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// A new entry lands at the slot its hash names; the lookup never reads anywhere else.
// The slot is taken when it is free, not useful, or fully aged. Otherwise allocation
// is skipped and the resident entry keeps its place until aging releases it.
//
// Longer tables are tried at distances 1, 2 and 3 from the provider with probability
// 1, 1/2 and 1/3, drawn from PC bits so runs are deterministic.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func shouldAllocate(counter uint8) bool {
	return counter >= AllocOnWeakThreshold && counter <= AllocOnStrongMax
}

func (p *Predictor) allocateLonger(provider int, pc uint64, ctx uint8, history uint64, taken bool) {
	for offset := 1; offset <= 3; offset++ {
		target := provider + offset
		if target >= NumTables {
			break
		}
		prob := uint64(256) / uint64(offset)
		if (pc>>uint(offset))&0xFF < prob {
			p.allocate(target, pc, ctx, history, taken)
		}
	}
}

func (p *Predictor) allocate(tableNum int, pc uint64, ctx uint8, history uint64, taken bool) {
	t := &p.Tables[tableNum]
	idx := hashIndex(pc, history, t.HistoryLen, tableNum)
	if !replaceable(t, idx) {
		return
	}

	// Weak toward the outcome: 5 taken, 3 not-taken.
	counter := uint8(NeutralCounter - 1)
	if taken {
		counter = NeutralCounter + 1
	}
	t.Entries[idx] = Entry{
		Tag:     hashTag(pc, history, t.HistoryLen),
		Counter: counter,
		Context: ctx,
	}
	t.setValid(idx)
	p.stats.Allocations++
}

func replaceable(t *Table, idx uint32) bool {
	if !t.Valid(idx) {
		return true
	}
	e := &t.Entries[idx]
	return !e.Useful || e.Age >= MaxAge
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COUNTERS AND AGING
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Hysteresis: a counter already at a rail in the direction of the outcome moves by 2
// (and clamps), otherwise by 1.
//
// AgeAllEntries bumps the age of every valid tagged entry and clears Useful once an entry
// reaches half of MaxAge, so protected entries eventually become replaceable.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func updateCounterWithHysteresis(e *Entry, taken bool) {
	c := int(e.Counter)
	delta := 1
	if (taken && c >= MaxCounter-1) || (!taken && c <= 1) {
		delta = 2
	}
	if !taken {
		delta = -delta
	}
	e.Counter = uint8(min(max(c+delta, 0), MaxCounter))
}

// AgeAllEntries runs one aging sweep over tables 1-7.
func (p *Predictor) AgeAllEntries() {
	for t := 1; t < NumTables; t++ {
		table := &p.Tables[t]
		for w, mask := range table.ValidBits {
			for mask != 0 {
				b := bits.TrailingZeros64(mask)
				e := &table.Entries[w*64+b]
				if e.Age < MaxAge {
					e.Age++
				}
				if e.Age >= MaxAge/2 {
					e.Useful = false
				}
				mask &^= 1 << uint(b)
			}
		}
	}
	p.stats.AgingSweeps++
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STATISTICS AND PROBES (Debug Only)
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Stats counts engine events and summarizes table occupancy.
type Stats struct {
	Lookups         uint64
	Unconditional   uint64
	Updates         uint64
	Mispredictions  uint64 // Conditional updates against their record
	SquashedUpdates uint64
	Squashes        uint64
	BTBUpdates      uint64
	Allocations     uint64
	AgingSweeps     uint64
	InFlight        int

	EntriesUsed   [NumTables]int
	UsefulEntries [NumTables]int
}

// Stats returns a snapshot of the counters and per-table occupancy.
func (p *Predictor) Stats() Stats {
	s := p.stats
	s.InFlight = p.records.Len()
	for t := range p.Tables {
		table := &p.Tables[t]
		s.EntriesUsed[t] = table.Occupancy()
		for w, mask := range table.ValidBits {
			for mask != 0 {
				b := bits.TrailingZeros64(mask)
				if table.Entries[w*64+b].Useful {
					s.UsefulEntries[t]++
				}
				mask &^= 1 << uint(b)
			}
		}
	}
	return s
}

// CommittedHistory returns G[tid].
func (p *Predictor) CommittedHistory(tid int) uint64 {
	p.checkThread("committed history", tid)
	return p.committed[tid]
}

// SpeculativeHistory returns SG[tid].
func (p *Predictor) SpeculativeHistory(tid int) uint64 {
	p.checkThread("speculative history", tid)
	return p.speculative[tid]
}

func shift(history uint64, taken bool) uint64 {
	history <<= 1
	if taken {
		history |= 1
	}
	return history
}

func (p *Predictor) checkThread(op string, tid int) {
	if tid < 0 || tid >= len(p.committed) {
		panic(fmt.Errorf("tage: %s: thread %d of %d: %w", op, tid, len(p.committed), perceptron.ErrBadThread))
	}
}
