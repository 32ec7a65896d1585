package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"neuropath/proto/results"
	"neuropath/proto/simconfig"
	"neuropath/proto/trace"
)

func TestRun_SyntheticRecordsSummary(t *testing.T) {
	dir := t.TempDir()
	cfg := simconfig.Default()
	cfg.Synthetic = "alt"
	cfg.Length = 500
	cfg.Predictor.GlobalPredictorSize = 8
	cfg.Predictor.NumThreads = 2
	cfg.Results = filepath.Join(dir, "runs.db")
	tracePath := filepath.Join(dir, "alt.trace")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	if err := run(ctx, cfg, runOptions{writeTrace: tracePath, baseline: "bimodal"}, logger); err != nil {
		t.Fatalf("run: %v", err)
	}

	store, err := results.Open(ctx, cfg.Results)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	runs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("stored %d runs, expected 1", len(runs))
	}
	if runs[0].Retired != 1000 || runs[0].Threads != 2 || runs[0].History != 8 {
		t.Errorf("stored summary = %+v", runs[0])
	}

	// The dumped trace replays to the same digest.
	replay := cfg
	replay.Synthetic, replay.Trace = "", tracePath
	branches, err := loadBranches(replay)
	if err != nil {
		t.Fatalf("loadBranches: %v", err)
	}
	want, _ := cfg.Branches()
	if trace.Digest(branches) != trace.Digest(want) || runs[0].Digest != trace.Digest(want) {
		t.Error("dumped trace digest differs from the generated stream")
	}

	if err := listRuns(ctx, cfg.Results, 5, logger); err != nil {
		t.Errorf("listRuns: %v", err)
	}
}

func TestRun_Baselines(t *testing.T) {
	cfg := simconfig.Default()
	cfg.Synthetic = "corr"
	cfg.Length = 400
	cfg.Predictor.GlobalPredictorSize = 8
	cfg.Results = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, name := range []string{"bimodal", "tage"} {
		if err := run(context.Background(), cfg, runOptions{baseline: name}, logger); err != nil {
			t.Errorf("baseline %s: %v", name, err)
		}
	}
	err := run(context.Background(), cfg, runOptions{baseline: "gshare"}, logger)
	if !errors.Is(err, errUnknownBaseline) {
		t.Errorf("unknown baseline error = %v, expected errUnknownBaseline", err)
	}
}

func TestNewBaseline_TAGEThreadLimit(t *testing.T) {
	if _, err := newBaseline("tage", 9); err == nil {
		t.Error("tage baseline accepted 9 threads")
	}
	eng, err := newBaseline("tage", 2)
	if err != nil || eng == nil {
		t.Fatalf("newBaseline(tage, 2) = %v, %v", eng, err)
	}
}

func TestLoadConfig_DefaultAndFile(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil || cfg.Synthetic == "" {
		t.Fatalf("loadConfig(\"\") = %+v, %v", cfg, err)
	}

	path := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(path, []byte(`{"trace":"x.trace"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(file): %v", err)
	}
	if cfg.Trace != "x.trace" || cfg.Synthetic != "" {
		t.Errorf("cfg source = %q/%q", cfg.Trace, cfg.Synthetic)
	}
}

func TestListRuns_NeedsDatabase(t *testing.T) {
	if err := listRuns(context.Background(), "", 3, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("listRuns without a database succeeded")
	}
}
