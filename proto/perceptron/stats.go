package perceptron

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STATISTICS AND PROBES (Debug Only)
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Stats and the read-only probes below are for simulation, tests and tooling. None of
// them change engine state.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Stats counts engine events since New or Reset.
type Stats struct {
	Lookups         uint64 // Conditional predictions
	Unconditional   uint64 // UncondBranch calls
	Updates         uint64 // Update calls
	Mispredictions  uint64 // Updates whose outcome differed from the record
	Learns          uint64 // Training steps taken
	SquashedUpdates uint64 // Updates with squashed set
	Squashes        uint64 // Squash calls
	BTBUpdates      uint64 // BTBUpdate calls
	InFlight        int    // Records issued and not yet consumed
	SaturatedHigh   int    // Weights at Max
	SaturatedLow    int    // Weights at Min
}

// Accuracy returns the fraction of updates that matched their prediction.
func (s Stats) Accuracy() float64 {
	if s.Updates == 0 {
		return 0
	}
	return float64(s.Updates-s.Mispredictions) / float64(s.Updates)
}

// Stats returns a snapshot of the event counters.
func (p *Predictor) Stats() Stats {
	s := p.stats
	s.InFlight = p.records.Len()
	s.SaturatedHigh, s.SaturatedLow = p.table.Saturation()
	return s
}

// Config returns the effective configuration.
func (p *Predictor) Config() Config { return p.cfg }

// Theta returns the training threshold.
func (p *Predictor) Theta() int64 { return p.theta }

// WeightRange returns the weight clamp rails.
func (p *Predictor) WeightRange() WeightRange { return p.rng }

// HistoryMask returns the history register mask.
func (p *Predictor) HistoryMask() uint64 { return historyMask(uint(p.h)) }

// CommittedHistory returns G[tid].
func (p *Predictor) CommittedHistory(tid int) uint64 {
	p.checkThread("committed history", tid)
	return p.committed[tid].Value()
}

// SpeculativeHistory returns SG[tid].
func (p *Predictor) SpeculativeHistory(tid int) uint64 {
	p.checkThread("speculative history", tid)
	return p.speculative[tid].Value()
}

// CommittedLedger returns a copy of R.
func (p *Predictor) CommittedLedger() Ledger { return p.r.Clone() }

// SpeculativeLedger returns a copy of SR.
func (p *Predictor) SpeculativeLedger() Ledger { return p.sr.Clone() }

// Weight returns weights[perceptron][j].
func (p *Predictor) Weight(perceptron, j int) Weight { return p.table.At(perceptron, j) }

// Perceptron returns the row index addr hashes to.
func (p *Predictor) Perceptron(addr uint64) int { return p.table.Index(addr) }

// Path returns the path history, newest first.
func (p *Predictor) Path() []uint64 { return p.path.Snapshot() }

// Fingerprint hashes weights, ledgers, histories and the path. Two engines with the same
// fingerprint will make the same predictions from here on.
func (p *Predictor) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	for _, w := range p.table.w {
		put(uint64(int64(w)))
	}
	for _, v := range p.r {
		put(uint64(v))
	}
	for _, v := range p.sr {
		put(uint64(v))
	}
	for tid := range p.committed {
		put(p.committed[tid].Value())
		put(p.speculative[tid].Value())
	}
	put(uint64(p.path.Len()))
	for _, addr := range p.path.Snapshot() {
		put(addr)
	}
	return d.Sum64()
}
