// Package simconfig holds the configuration of one simulation run: predictor
// geometry, pipeline geometry, the branch source and where results go.
//
// Files are JSON:
//
//	{
//	  "predictor": {"global_predictor_size": 32, "num_threads": 1},
//	  "pipeline":  {"depth": 1, "btb_entries": 0},
//	  "synthetic": "loop", "length": 100000, "seed": 1,
//	  "results":   "runs.db",
//	  "log_level": "info"
//	}
//
// Missing fields keep their defaults. NEUROPATH_LOG_LEVEL and NEUROPATH_RESULTS
// override the file.
package simconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/sugawarayuuta/sonnet"

	"neuropath/proto/perceptron"
	"neuropath/proto/pipeline"
	"neuropath/proto/trace"
)

// Environment overrides.
const (
	EnvLogLevel = "NEUROPATH_LOG_LEVEL"
	EnvResults  = "NEUROPATH_RESULTS"
	EnvLength   = "NEUROPATH_LENGTH"
)

// DefaultLength is the synthetic trace length when none is given.
const DefaultLength = 100_000

var (
	ErrNoSource      = errors.New("simconfig: one of trace or synthetic is required")
	ErrTwoSources    = errors.New("simconfig: trace and synthetic are mutually exclusive")
	ErrBadLength     = errors.New("simconfig: synthetic length must be positive")
	ErrBadLogLevel   = errors.New("simconfig: unknown log level")
	ErrBadGenerator  = errors.New("simconfig: unknown synthetic generator")
	ErrPipelineDepth = errors.New("simconfig: pipeline depth must be at least 1")
)

// Config is a whole run.
type Config struct {
	Predictor perceptron.Config `json:"predictor"`
	Pipeline  pipeline.Config   `json:"pipeline"`

	// Trace is a trace file path. Exclusive with Synthetic.
	Trace string `json:"trace,omitempty"`
	// Synthetic names a generator from trace.Generators.
	Synthetic string `json:"synthetic,omitempty"`
	Length    int    `json:"length,omitempty"`
	Seed      int64  `json:"seed,omitempty"`

	// Results is a SQLite DSN for run summaries. Empty disables recording.
	Results  string `json:"results,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
}

// Default returns a single-thread loop simulation with default geometry.
func Default() Config {
	return Config{
		Predictor: perceptron.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Synthetic: "loop",
		Length:    DefaultLength,
		Seed:      1,
		LogLevel:  "info",
	}
}

// Load reads path over Default, applies the environment and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("simconfig: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("simconfig: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses data over Default, applies the environment and validates.
// A file naming a trace drops the default synthetic source.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	cfg.Synthetic = ""
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if cfg.Trace == "" && cfg.Synthetic == "" {
		cfg.Synthetic = Default().Synthetic
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.LogLevel = envString(EnvLogLevel, c.LogLevel)
	c.Results = envString(EnvResults, c.Results)
	c.Length = envInt(EnvLength, c.Length)
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Predictor.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Depth < 1 {
		return fmt.Errorf("%w: %d", ErrPipelineDepth, c.Pipeline.Depth)
	}
	switch {
	case c.Trace == "" && c.Synthetic == "":
		return ErrNoSource
	case c.Trace != "" && c.Synthetic != "":
		return ErrTwoSources
	}
	if c.Synthetic != "" {
		if !slices.Contains(trace.Generators, c.Synthetic) {
			return fmt.Errorf("%w: %q", ErrBadGenerator, c.Synthetic)
		}
		if c.Length < 1 {
			return fmt.Errorf("%w: %d", ErrBadLength, c.Length)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. Empty means info.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadLogLevel, c.LogLevel)
	}
	return lvl, nil
}

// SourceName labels the branch source in logs and stored summaries.
func (c Config) SourceName() string {
	if c.Trace != "" {
		return c.Trace
	}
	return fmt.Sprintf("synthetic:%s/%d/%d", c.Synthetic, c.Length, c.Seed)
}

// Branches materializes a synthetic source, one independent stream per
// predictor thread. Thread i uses seed+i.
func (c Config) Branches() ([]trace.Branch, error) {
	threads := c.Predictor.NumThreads
	if threads < 1 {
		threads = 1
	}
	streams := make([][]trace.Branch, threads)
	for tid := range streams {
		s, err := trace.Generate(c.Synthetic, c.Length, c.Seed+int64(tid))
		if err != nil {
			return nil, err
		}
		streams[tid] = s
	}
	return trace.Interleave(streams...), nil
}

func envString(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
