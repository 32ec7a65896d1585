// ═══════════════════════════════════════════════════════════════════════════════════════════════
// Fetch Pipeline Driver - Go Reference Model
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// OVERVIEW:
// ─────────
// The predictor never decides when it is called. This package plays the fetch unit just
// far enough to drive it the way a real branch unit does:
//
//   FETCH    pull the next branch, Lookup() or UncondBranch(), push onto the in-flight
//            window with its record
//   RESOLVE  when the window is full, the oldest branch resolves
//              correct    → Update(squashed=false)
//              mispredict → Squash() every younger in-flight branch of that thread,
//                           youngest first, then Update(squashed=true), then re-fetch
//                           the squashed branches (the trace is the true path)
//   DRAIN    at end of trace, resolve everything left
//
// Every record handed out is consumed exactly once, by Update or by Squash.
//
// DEPTH:
//   Depth 1 retires each branch before the next fetch. Deeper windows are legal and keep
//   every invariant, but Update reads the thread's speculative history as it stands at
//   resolve time, so learning lags the predicted branch by the window occupancy.
//
// BTB MODEL (optional):
//   A direct-mapped table of PCs seen taken. A conditional branch predicted taken that
//   misses the BTB cannot redirect fetch: the pipeline calls BTBUpdate() and treats the
//   prediction as not-taken. The engine rolled its speculative ledger on the taken
//   guess, so a demoted branch always resolves with Update(squashed=true) and its
//   younger same-thread branches are squashed and re-fetched.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"neuropath/proto/perceptron"
	"neuropath/proto/trace"
)

const (
	// DefaultDepth resolves each branch before the next is fetched. The engine
	// learns from the speculative history it holds at Update time, which only
	// lines up with the resolving branch when nothing younger is in flight.
	DefaultDepth = 1

	// cancelCheckInterval is how many resolutions pass between context checks.
	cancelCheckInterval = 1024
)

var (
	// ErrBadDepth is returned by New for a non-positive window depth.
	ErrBadDepth = errors.New("pipeline: depth must be at least 1")
	// ErrUnknownThread is returned by Run for a branch outside [0, Threads).
	ErrUnknownThread = errors.New("pipeline: trace thread out of range")
)

// Config holds pipeline geometry and ambient hooks.
type Config struct {
	// Depth is the number of branches in flight before the oldest resolves.
	Depth int `json:"depth"`
	// BTBEntries sizes the direct-mapped BTB model. Zero disables it.
	BTBEntries int `json:"btb_entries"`
	// Threads bounds the thread ids accepted from the trace. Zero skips the check.
	Threads int `json:"-"`

	Logger  *slog.Logger     `json:"-"`
	Metrics *Metrics         `json:"-"`
	Tracer  oteltrace.Tracer `json:"-"`
}

// DefaultConfig returns a single-entry window without a BTB model.
func DefaultConfig() Config {
	return Config{Depth: DefaultDepth}
}

// ThreadResult holds per-thread conditional branch counts.
type ThreadResult struct {
	Conditional    uint64
	Mispredictions uint64
}

// Result summarizes one run.
type Result struct {
	Retired        uint64 // Branches retired through Update
	Conditional    uint64 // Retired conditional branches
	Unconditional  uint64 // Retired unconditional branches
	Mispredictions uint64 // Conditional branches resolved against their prediction
	Squashed       uint64 // Records discarded through Squash
	Fetched        uint64 // Lookups + UncondBranch calls, re-fetches included
	BTBMisses      uint64 // Taken predictions dropped for a BTB miss
	PerThread      map[int]ThreadResult
}

// Accuracy returns the fraction of conditional branches predicted correctly.
func (r Result) Accuracy() float64 {
	if r.Conditional == 0 {
		return 0
	}
	return float64(r.Conditional-r.Mispredictions) / float64(r.Conditional)
}

// MispredictionsPerKilo returns mispredictions per thousand retired branches.
func (r Result) MispredictionsPerKilo() float64 {
	if r.Retired == 0 {
		return 0
	}
	return float64(r.Mispredictions) * 1000 / float64(r.Retired)
}

// inflight is one fetched, unresolved branch.
type inflight struct {
	b    trace.Branch
	rec  perceptron.Record
	pred bool
}

// Pipeline drives one engine.
type Pipeline struct {
	eng     perceptron.Engine
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  oteltrace.Tracer

	window  []inflight
	pending []trace.Branch
	btb     []uint64
	res     Result
}

// New returns a pipeline driving eng.
func New(eng perceptron.Engine, cfg Config) (*Pipeline, error) {
	if cfg.Depth < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadDepth, cfg.Depth)
	}
	p := &Pipeline{
		eng:     eng,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		window:  make([]inflight, 0, cfg.Depth),
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("neuropath/pipeline")
	}
	if cfg.BTBEntries > 0 {
		p.btb = make([]uint64, cfg.BTBEntries)
	}
	return p, nil
}

// Run feeds src through the engine until it is exhausted, ctx is cancelled or
// src fails. On early exit every in-flight record is squashed so the engine is
// left consistent. The result covers everything retired before the exit.
func (p *Pipeline) Run(ctx context.Context, src trace.Source) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		oteltrace.WithAttributes(
			attribute.Int("pipeline.depth", p.cfg.Depth),
			attribute.Int("pipeline.btb_entries", p.cfg.BTBEntries),
		))
	defer span.End()

	p.res = Result{PerThread: make(map[int]ThreadResult)}
	p.window = p.window[:0]
	p.pending = p.pending[:0]
	p.logger.Info("pipeline run started", "depth", p.cfg.Depth, "btb_entries", p.cfg.BTBEntries)

	err := p.run(ctx, src)
	if err != nil {
		p.flush()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("pipeline run aborted", "err", err, "retired", p.res.Retired)
	}

	span.SetAttributes(
		attribute.Int64("pipeline.retired", int64(p.res.Retired)),
		attribute.Int64("pipeline.mispredictions", int64(p.res.Mispredictions)),
		attribute.Int64("pipeline.squashed", int64(p.res.Squashed)),
	)
	if err == nil {
		p.logger.Info("pipeline run finished",
			"retired", p.res.Retired,
			"mispredictions", p.res.Mispredictions,
			"accuracy", p.res.Accuracy(),
		)
	}
	return p.res, err
}

func (p *Pipeline) run(ctx context.Context, src trace.Source) error {
	exhausted := false
	for n := 0; ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
		}

		for len(p.window) < p.cfg.Depth {
			if exhausted && len(p.pending) == 0 {
				break
			}
			b, ok, err := p.next(src)
			if err != nil {
				return fmt.Errorf("pipeline: source: %w", err)
			}
			if !ok {
				exhausted = true
				break
			}
			if b.Thread < 0 || (p.cfg.Threads > 0 && b.Thread >= p.cfg.Threads) {
				return fmt.Errorf("%w: %d", ErrUnknownThread, b.Thread)
			}
			p.fetch(b)
		}

		if len(p.window) == 0 {
			return nil
		}
		p.resolve()
	}
}

// next returns a pending re-fetch first, then the next branch from src.
func (p *Pipeline) next(src trace.Source) (trace.Branch, bool, error) {
	if len(p.pending) > 0 {
		b := p.pending[0]
		p.pending = p.pending[1:]
		return b, true, nil
	}
	b, err := src.Next()
	if errors.Is(err, io.EOF) {
		return trace.Branch{}, false, nil
	}
	if err != nil {
		return trace.Branch{}, false, err
	}
	return b, true, nil
}

func (p *Pipeline) fetch(b trace.Branch) {
	var e inflight
	e.b = b
	if b.Kind == trace.Unconditional {
		e.rec = p.eng.UncondBranch(b.Thread, b.PC)
		e.pred = true
	} else {
		e.pred, e.rec = p.eng.Lookup(b.Thread, b.PC)
		if e.pred && p.btb != nil && !p.btbHit(b.PC) {
			p.eng.BTBUpdate(b.Thread, b.PC, e.rec)
			e.pred = false
			p.res.BTBMisses++
			p.metrics.BTBMisses.Inc()
		}
	}
	p.window = append(p.window, e)
	p.res.Fetched++
	p.metrics.Window.Set(float64(len(p.window)))
}

func (p *Pipeline) resolve() {
	head := p.window[0]
	p.window = p.window[1:]
	b := head.b

	// A BTB-demoted record disagrees with the path fetch followed. Its
	// speculative roll is stale even when the demotion guessed right.
	if head.pred == b.Taken && head.rec.Taken() == b.Taken {
		p.eng.Update(b.Thread, b.PC, b.Taken, head.rec, false)
	} else {
		refetch := p.squashYounger(b.Thread)
		p.eng.Update(b.Thread, b.PC, b.Taken, head.rec, true)
		p.pending = append(refetch, p.pending...)
		if head.pred != b.Taken {
			p.logger.Debug("mispredict", "thread", b.Thread, "pc", b.PC, "taken", b.Taken, "squashed", len(refetch))
		} else {
			p.logger.Debug("btb resync", "thread", b.Thread, "pc", b.PC, "squashed", len(refetch))
		}
	}

	if b.Taken && p.btb != nil {
		p.btb[b.PC%uint64(len(p.btb))] = b.PC + 1
	}
	p.retire(head)
}

// squashYounger squashes every in-flight branch of tid, youngest first, removes
// them from the window and returns them in program order.
func (p *Pipeline) squashYounger(tid int) []trace.Branch {
	var squashed []trace.Branch
	for i := len(p.window) - 1; i >= 0; i-- {
		e := p.window[i]
		if e.b.Thread != tid {
			continue
		}
		p.eng.Squash(tid, e.rec)
		squashed = append(squashed, e.b)
	}

	kept := p.window[:0]
	for _, e := range p.window {
		if e.b.Thread != tid {
			kept = append(kept, e)
		}
	}
	p.window = kept

	for i, j := 0, len(squashed)-1; i < j; i, j = i+1, j-1 {
		squashed[i], squashed[j] = squashed[j], squashed[i]
	}
	p.res.Squashed += uint64(len(squashed))
	p.metrics.Squashes.Add(float64(len(squashed)))
	return squashed
}

func (p *Pipeline) retire(e inflight) {
	p.res.Retired++
	kind := e.b.Kind.String()
	p.metrics.Branches.WithLabelValues(kind).Inc()

	if e.b.Kind == trace.Unconditional {
		p.res.Unconditional++
		return
	}

	tr := p.res.PerThread[e.b.Thread]
	tr.Conditional++
	p.res.Conditional++
	if e.pred != e.b.Taken {
		tr.Mispredictions++
		p.res.Mispredictions++
		p.metrics.Mispredictions.Inc()
	}
	p.res.PerThread[e.b.Thread] = tr
}

// flush squashes everything in flight, youngest first.
func (p *Pipeline) flush() {
	for i := len(p.window) - 1; i >= 0; i-- {
		e := p.window[i]
		p.eng.Squash(e.b.Thread, e.rec)
		p.res.Squashed++
	}
	p.window = p.window[:0]
	p.pending = p.pending[:0]
	p.metrics.Window.Set(0)
}

func (p *Pipeline) btbHit(pc uint64) bool {
	return p.btb[pc%uint64(len(p.btb))] == pc+1
}
