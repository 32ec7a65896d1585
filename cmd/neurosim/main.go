// Command neurosim replays a branch trace through the perceptron predictor and
// reports prediction accuracy.
//
//	neurosim -synthetic loop -n 200000 -history 32
//	neurosim -trace run.trace -threads 2 -depth 4 -db runs.db
//	neurosim -synthetic corr -baseline tage
//	neurosim -db runs.db -list 10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neuropath/proto/perceptron"
	"neuropath/proto/pipeline"
	"neuropath/proto/results"
	"neuropath/proto/simconfig"
	"neuropath/proto/tage"
	"neuropath/proto/trace"
)

func main() {
	var (
		configPath  = flag.String("config", "", "JSON run configuration")
		tracePath   = flag.String("trace", "", "Branch trace file (.trace text or .jsonl)")
		synthetic   = flag.String("synthetic", "", "Synthetic generator: loop, alt, corr, random")
		length      = flag.Int("n", 0, "Synthetic branches per thread")
		seed        = flag.Int64("seed", 0, "Synthetic generator seed")
		history     = flag.Int("history", 0, "Global history length H (power of two, 2..64)")
		threads     = flag.Int("threads", 0, "Hardware threads")
		depth       = flag.Int("depth", 0, "In-flight branches before the oldest resolves")
		btb         = flag.Int("btb", -1, "BTB entries (0 disables the BTB model)")
		dbPath      = flag.String("db", "", "SQLite database for run summaries")
		list        = flag.Int("list", 0, "List the newest N stored runs and exit")
		writeTrace  = flag.String("write-trace", "", "Write the branch stream to this file in text format")
		baseline    = flag.String("baseline", "", "Also replay the trace through a baseline engine: bimodal, tage")
		metricsAddr = flag.String("metrics-addr", "", "Serve prometheus metrics on this address")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["trace"] {
		cfg.Trace, cfg.Synthetic = *tracePath, ""
	}
	if set["synthetic"] {
		cfg.Synthetic, cfg.Trace = *synthetic, ""
	}
	if set["n"] {
		cfg.Length = *length
	}
	if set["seed"] {
		cfg.Seed = *seed
	}
	if set["history"] {
		cfg.Predictor.GlobalPredictorSize = *history
	}
	if set["threads"] {
		cfg.Predictor.NumThreads = *threads
	}
	if set["depth"] {
		cfg.Pipeline.Depth = *depth
	}
	if set["btb"] {
		cfg.Pipeline.BTBEntries = *btb
	}
	if set["db"] {
		cfg.Results = *dbPath
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(2)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *list > 0 {
		if err := listRuns(ctx, cfg.Results, *list, logger); err != nil {
			fatal(logger, "list runs", err)
		}
		return
	}

	opts := runOptions{writeTrace: *writeTrace, metricsAddr: *metricsAddr, baseline: *baseline}
	if err := run(ctx, cfg, opts, logger); err != nil {
		fatal(logger, "run", err)
	}
}

func loadConfig(path string) (simconfig.Config, error) {
	if path == "" {
		cfg := simconfig.Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return simconfig.Load(path)
}

type runOptions struct {
	writeTrace  string
	metricsAddr string
	baseline    string
}

var errUnknownBaseline = errors.New("unknown baseline engine")

func run(ctx context.Context, cfg simconfig.Config, opts runOptions, logger *slog.Logger) error {
	runID := uuid.New()
	logger = logger.With("run", runID.String())

	pred, err := perceptron.New(cfg.Predictor)
	if err != nil {
		return fmt.Errorf("predictor: %w", err)
	}
	eng := perceptron.NewLocked(pred)

	var base perceptron.Engine
	if opts.baseline != "" {
		if base, err = newBaseline(opts.baseline, cfg.Predictor.NumThreads); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
	}

	branches, err := loadBranches(cfg)
	if err != nil {
		return err
	}
	digest := trace.Digest(branches)
	logger.Info("branches loaded", "source", cfg.SourceName(), "count", len(branches), "digest", fmt.Sprintf("%016x", digest))

	if opts.writeTrace != "" {
		if err := dumpTrace(opts.writeTrace, branches); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), engineCollector(eng))
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	plc := cfg.Pipeline
	plc.Threads = cfg.Predictor.NumThreads
	plc.Logger = logger
	plc.Metrics = pipeline.NewMetrics(reg)
	pl, err := pipeline.New(eng, plc)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	started := time.Now()
	res, err := pl.Run(ctx, trace.NewSliceSource(branches))
	if err != nil {
		return err
	}
	elapsed := time.Since(started)

	st := eng.Stats()
	fmt.Printf(
		"run=%s source=%s history=%d threads=%d depth=%d branches=%d conditional=%d mispredictions=%d accuracy=%.4f mpki=%.2f squashed=%d btb_misses=%d learns=%d saturated=%d/%d elapsed=%s\n",
		runID,
		cfg.SourceName(),
		cfg.Predictor.GlobalPredictorSize,
		cfg.Predictor.NumThreads,
		plc.Depth,
		res.Retired,
		res.Conditional,
		res.Mispredictions,
		res.Accuracy(),
		res.MispredictionsPerKilo(),
		res.Squashed,
		res.BTBMisses,
		st.Learns,
		st.SaturatedHigh,
		st.SaturatedLow,
		elapsed.Round(time.Millisecond),
	)

	if base != nil {
		bres, err := runBaseline(ctx, cfg, opts.baseline, base, branches, logger)
		if err != nil {
			return err
		}
		fmt.Printf("baseline=%s accuracy=%.4f mpki=%.2f delta=%+.4f\n",
			opts.baseline, bres.Accuracy(), bres.MispredictionsPerKilo(),
			res.Accuracy()-bres.Accuracy())
	}

	if cfg.Results == "" {
		return nil
	}
	store, err := results.Open(ctx, cfg.Results, results.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	sum := results.FromRun(runID, started, cfg.SourceName(), digest, cfg.Predictor, plc, res, eng.Fingerprint())
	_, err = store.Record(ctx, sum)
	return err
}

// newBaseline builds the comparison engine named by -baseline.
func newBaseline(name string, threads int) (perceptron.Engine, error) {
	switch name {
	case "bimodal":
		return perceptron.NewBimodal(perceptron.DefaultBimodalEntries, threads)
	case "tage":
		return tage.New(threads)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBaseline, name)
	}
}

// runBaseline replays branches through eng with the same pipeline geometry.
// Its metrics are not registered.
func runBaseline(ctx context.Context, cfg simconfig.Config, name string, eng perceptron.Engine, branches []trace.Branch, logger *slog.Logger) (pipeline.Result, error) {
	plc := cfg.Pipeline
	plc.Threads = cfg.Predictor.NumThreads
	plc.Logger = logger.With("engine", name)
	pl, err := pipeline.New(eng, plc)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pl.Run(ctx, trace.NewSliceSource(branches))
}

func loadBranches(cfg simconfig.Config) ([]trace.Branch, error) {
	if cfg.Trace == "" {
		return cfg.Branches()
	}
	f, err := trace.Open(cfg.Trace)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	branches, err := trace.Collect(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Trace, err)
	}
	return branches, nil
}

func dumpTrace(path string, branches []trace.Branch) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if err := trace.Write(f, branches); err != nil {
		_ = f.Close()
		return fmt.Errorf("write trace: %w", err)
	}
	return f.Close()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	return srv
}

// engineCollector exposes engine counters read under the engine lock.
func engineCollector(eng *perceptron.Locked) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "neuropath_engine_inflight_records",
		Help: "Prediction records issued and not yet consumed",
	}, func() float64 { return float64(eng.Stats().InFlight) })
}

func listRuns(ctx context.Context, dsn string, n int, logger *slog.Logger) error {
	if dsn == "" {
		return errors.New("-list needs -db")
	}
	store, err := results.Open(ctx, dsn, results.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, n)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  H=%-2d T=%d depth=%d  accuracy=%.4f  branches=%d  %s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.History, r.Threads, r.Depth,
			r.Accuracy, r.Retired, r.Source)
	}
	return nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
