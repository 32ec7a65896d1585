// ═══════════════════════════════════════════════════════════════════════════════════════════════
// Path-Based Perceptron Branch Predictor - Go Reference Model
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// OVERVIEW:
// ─────────
// This package implements a path-based neural branch predictor. For every conditional
// branch the fetch pipeline asks for a taken/not-taken guess, runs ahead on that guess,
// and later reports the real outcome or throws the speculation away.
//
// A plain perceptron predictor computes y = bias + Σ w[j]·x[j] at prediction time, an H-term
// dot product on the critical path. The path-based variant pipelines the sum: each branch,
// as it is predicted, adds its own weights into partial sums that belong to the next H
// branches. When a branch arrives its sum is already waiting and only the bias remains.
//
// The predictor's job:
//   1. Keep a path of recent branch addresses (which perceptron rows fed the sums)
//   2. Keep per-thread history registers, speculative and committed
//   3. Keep engine-wide partial-sum ledgers, speculative and committed
//   4. Predict with bias + SR[H]
//   5. On update, roll the committed state and train when the output was weak or the
//      pipeline squashed
//   6. On squash, reload speculative state from committed state
//
// KEY CONCEPTS:
// ─────────────
//
// SPECULATIVE VS COMMITTED:
//   Lookup() advances SG[tid] and SR with the guess. Update() advances G[tid] and R with
//   the truth. Squash() copies G[tid] → SG[tid] and R → SR.
//
// ENGINE-WIDE LEDGERS:
//   SR and R are shared by all threads while history registers are per thread. A squash
//   on one thread reloads SR from R and so also drops the in-flight contributions of
//   other threads. This mirrors a single shared perceptron pipeline and is kept as is:
//   changing it changes learning dynamics under SMT interleaving.
//
// LEARNING GATE:
//   Training runs when squashed || |y| <= theta. Confident outputs are not reinforced.
//   y is read from the speculative ledger at update time, not the one the prediction
//   saw.
//
// CONCURRENCY:
//   Predictor is not synchronized. Drive it from one goroutine, or wrap it in Locked.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package perceptron

import (
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PREDICTOR
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Predictor holds all engine state.
//
// COMPONENTS:
//   committed   G[tid]  per-thread committed history registers
//   speculative SG[tid] per-thread speculative history registers
//   r / sr              committed / speculative ledgers (engine-wide)
//   scratch             third ledger buffer, swapped in on every roll
//   table               P × (H+1) weights
//   path                last H+1 branch addresses
//   records             ids of records handed out and not yet consumed
//
// SystemVerilog equivalent:
//   module perceptron_predictor #(parameter H = 32, P = 10, T = 1) (
//     input  logic        clk,
//     input  logic [63:0] pc,
//     input  logic [$clog2(T)-1:0] tid,
//     input  logic        lookup_en, update_en, squash_en,
//     input  logic        taken, squashed,
//     output logic        prediction
//   );
//     logic signed [B-1:0] weights [0:P-1][0:H];
//     logic signed [31:0]  r [0:H], sr [0:H];
//     logic [H-1:0]        g [0:T-1], sg [0:T-1];
//     logic [63:0]         path [0:H];
//   endmodule
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Predictor is the path-based perceptron engine.
type Predictor struct {
	cfg   Config
	h     int
	theta int64
	rng   WeightRange

	committed   []HistoryRegister
	speculative []HistoryRegister

	r       Ledger
	sr      Ledger
	scratch Ledger

	table *WeightTable
	path  *PathHistory

	records *RecordBook

	stats Stats
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// New validates cfg and builds a predictor in reset state:
//   - all weights 0 (first prediction of any branch is taken: 0 >= 0)
//   - all histories 0
//   - both ledgers 0
//   - empty path
//
// Configuration errors are returned, never repaired.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// New builds a predictor for cfg.
func New(cfg Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	h := cfg.GlobalPredictorSize

	p := &Predictor{
		cfg:         cfg,
		h:           h,
		theta:       Theta(h),
		rng:         WeightRangeForBits(cfg.WeightBits()),
		committed:   make([]HistoryRegister, cfg.NumThreads),
		speculative: make([]HistoryRegister, cfg.NumThreads),
		r:           NewLedger(h),
		sr:          NewLedger(h),
		scratch:     NewLedger(h),
		path:        NewPathHistory(h + 1),
		records:     NewRecordBook(),
	}
	p.table = NewWeightTable(cfg.PerceptronCount, h, p.rng)
	for tid := range p.committed {
		p.committed[tid] = NewHistoryRegister(uint(h))
		p.speculative[tid] = NewHistoryRegister(uint(h))
	}
	return p, nil
}

// MustNew is New for callers that treat configuration errors as fatal.
func MustNew(cfg Config) *Predictor {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// LOOKUP
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Lookup predicts a conditional branch and commits the guess to speculative state.
//
// ALGORITHM:
//   1. path.Push(addr)
//   2. p = addr mod P
//   3. y = weights[p][0] + SR[H];  prediction = y >= 0
//   4. record = {SG[tid], prediction}
//   5. SR = roll(SR, weights[p], prediction)
//   6. SG[tid] = (SG[tid] << 1 | prediction) & mask
//
// Every call is a new speculative commitment. Looking up the same branch twice shifts
// history twice.
//
// Timing: one SRAM row read + H parallel adds, no dot product on the critical path
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Lookup predicts the branch at addr for thread tid.
func (p *Predictor) Lookup(tid int, addr uint64) (bool, Record) {
	p.checkThread("lookup", tid)

	p.path.Push(addr)

	cur := p.table.Index(addr)
	y := p.table.Evaluate(cur, p.sr)
	taken := y >= 0

	rec := p.issue(p.speculative[tid].Value(), taken, false, y)

	p.sr.RollInto(p.scratch, p.table.Row(cur), taken)
	p.sr, p.scratch = p.scratch, p.sr

	p.speculative[tid].Shift(taken)

	p.stats.Lookups++
	return taken, rec
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// UNCONDITIONAL BRANCH
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Unconditional control flow is always taken. It enters the path and the speculative
// history but no perceptron is evaluated, so the ledgers are untouched.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// UncondBranch records an unconditional branch at addr for thread tid.
func (p *Predictor) UncondBranch(tid int, addr uint64) Record {
	p.checkThread("uncond", tid)

	rec := p.issue(p.speculative[tid].Value(), true, true, 0)

	p.path.Push(addr)
	p.speculative[tid].Shift(true)

	p.stats.Unconditional++
	return rec
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// UPDATE
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Update retires a branch with its real outcome.
//
// ALGORITHM:
//   1. p = addr mod P;  y = weights[p][0] + SR[H]     (current speculative ledger)
//   2. hist = SG[tid]                                  (read before any resync)
//   3. R = roll(R, weights[p], taken)
//   4. G[tid] = (G[tid] << 1 | taken) & mask
//   5. if squashed || |y| <= theta:
//        if squashed: SG[tid] = G[tid]; SR = R
//        learn(p, taken, hist, path)
//
// POSTCONDITION:
//   R and G reflect exactly the outcomes passed to Update(), in call order.
//
// The record is consumed. Passing it again, or passing the zero Record, panics.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Update trains the predictor with the resolved outcome of a branch.
func (p *Predictor) Update(tid int, addr uint64, taken bool, rec Record, squashed bool) {
	p.checkThread("update", tid)
	p.consume("update", rec)

	cur := p.table.Index(addr)
	y := p.table.Evaluate(cur, p.sr)
	hist := p.speculative[tid].Value()

	p.r.RollInto(p.scratch, p.table.Row(cur), taken)
	p.r, p.scratch = p.scratch, p.r

	p.committed[tid].Shift(taken)

	if squashed || abs64(y) <= p.theta {
		if squashed {
			p.resync(tid)
			p.stats.SquashedUpdates++
		}
		p.table.Learn(cur, taken, hist, p.path)
		p.stats.Learns++
	}

	p.stats.Updates++
	if rec.taken != taken {
		p.stats.Mispredictions++
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SQUASH
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Squash discards a wrong-path branch. SG[tid] is reloaded from G[tid] and SR from R.
// The record is consumed.
//
// SystemVerilog:
//   always_ff @(posedge clk) if (squash_en) begin
//     sg[tid] <= g[tid];
//     sr      <= r;
//   end
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Squash rolls speculative state back to committed state.
func (p *Predictor) Squash(tid int, rec Record) {
	p.checkThread("squash", tid)
	p.consume("squash", rec)

	p.resync(tid)
	p.stats.Squashes++
}

// GHR returns the global history captured in rec at prediction time.
func (p *Predictor) GHR(tid int, rec Record) uint64 {
	p.checkThread("ghr", tid)
	if !rec.Valid() {
		panic(fmt.Errorf("perceptron: ghr: %w", ErrNilRecord))
	}
	return rec.ghr
}

// BTBUpdate marks the newest speculative outcome of thread tid as not-taken. The
// pipeline calls it right after Lookup when the BTB has no entry for the branch, so
// the bit cleared is the one rec just pushed. Committed history only ever holds
// outcomes reported through Update. SR keeps the taken roll; the pipeline resolves
// the record with squashed set, which reloads it. The record is not consumed.
func (p *Predictor) BTBUpdate(tid int, addr uint64, rec Record) {
	p.checkThread("btb update", tid)
	if !rec.Valid() {
		panic(fmt.Errorf("perceptron: btb update: %w", ErrNilRecord))
	}
	p.speculative[tid].ClearLSB()
	p.stats.BTBUpdates++
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RESET
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Reset returns the engine to its post-New state. Outstanding records become stale.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Reset clears all learned and speculative state.
func (p *Predictor) Reset() {
	for tid := range p.committed {
		p.committed[tid].Set(0)
		p.speculative[tid].Set(0)
	}
	p.r.Reset()
	p.sr.Reset()
	p.scratch.Reset()
	p.table.Reset()
	p.path.Reset()
	p.records.Reset()
	p.stats = Stats{}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INTERNAL HELPERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (p *Predictor) resync(tid int) {
	p.speculative[tid].Set(p.committed[tid].Value())
	p.sr.CopyFrom(p.r)
}

func (p *Predictor) issue(ghr uint64, taken, uncond bool, y int64) Record {
	return p.records.Issue(ghr, taken, uncond, y)
}

func (p *Predictor) consume(op string, rec Record) { p.records.Consume(op, rec) }

func (p *Predictor) checkThread(op string, tid int) {
	if tid < 0 || tid >= len(p.committed) {
		panic(fmt.Errorf("perceptron: %s: thread %d of %d: %w", op, tid, len(p.committed), ErrBadThread))
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
