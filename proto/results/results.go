// Package results keeps run summaries in SQLite so runs over the same trace
// can be compared across predictor geometries. Only statistics are stored.
// Predictor state never leaves the process.
package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"neuropath/proto/perceptron"
	"neuropath/proto/pipeline"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("results: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     INTEGER NOT NULL,
	duration_ns    INTEGER NOT NULL,
	source         TEXT NOT NULL,
	digest         TEXT NOT NULL,
	history        INTEGER NOT NULL,
	threads        INTEGER NOT NULL,
	perceptrons    INTEGER NOT NULL,
	depth          INTEGER NOT NULL,
	btb_entries    INTEGER NOT NULL,
	retired        INTEGER NOT NULL,
	conditional    INTEGER NOT NULL,
	mispredictions INTEGER NOT NULL,
	squashed       INTEGER NOT NULL,
	accuracy       REAL NOT NULL,
	fingerprint    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started ON runs (started_at);
`

const columns = `id, started_at, duration_ns, source, digest, history, threads, perceptrons,
	depth, btb_entries, retired, conditional, mispredictions, squashed, accuracy, fingerprint`

// Summary is one stored run.
type Summary struct {
	ID        uuid.UUID
	StartedAt time.Time
	Duration  time.Duration

	Source string // Trace path or synthetic generator label
	Digest uint64 // trace.Digest of the branches fed

	History     int
	Threads     int
	Perceptrons int
	Depth       int
	BTBEntries  int

	Retired        uint64
	Conditional    uint64
	Mispredictions uint64
	Squashed       uint64
	Accuracy       float64

	Fingerprint uint64 // Engine state hash after the run
}

// FromRun builds a summary from a finished pipeline run.
func FromRun(id uuid.UUID, started time.Time, source string, digest uint64,
	pc perceptron.Config, plc pipeline.Config, res pipeline.Result, fingerprint uint64) Summary {
	perceptrons := pc.PerceptronCount
	if perceptrons == 0 {
		perceptrons = perceptron.DefaultPerceptronCount
	}
	return Summary{
		ID:             id,
		StartedAt:      started.UTC(),
		Duration:       time.Since(started),
		Source:         source,
		Digest:         digest,
		History:        pc.GlobalPredictorSize,
		Threads:        pc.NumThreads,
		Perceptrons:    perceptrons,
		Depth:          plc.Depth,
		BTBEntries:     plc.BTBEntries,
		Retired:        res.Retired,
		Conditional:    res.Conditional,
		Mispredictions: res.Mispredictions,
		Squashed:       res.Squashed,
		Accuracy:       res.Accuracy(),
		Fingerprint:    fingerprint,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a SQLite-backed summary table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens dsn with the sqlite3 driver and creates the schema if needed.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("results: open %s: %w", dsn, err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(s)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("results: schema: %w", err)
	}
	s.logger.Debug("results store opened", "dsn", dsn)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts sum. A zero ID is replaced with a new random one, which is
// returned.
func (s *Store) Record(ctx context.Context, sum Summary) (uuid.UUID, error) {
	if sum.ID == uuid.Nil {
		sum.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID.String(),
		sum.StartedAt.UnixNano(),
		int64(sum.Duration),
		sum.Source,
		hex64(sum.Digest),
		sum.History,
		sum.Threads,
		sum.Perceptrons,
		sum.Depth,
		sum.BTBEntries,
		int64(sum.Retired),
		int64(sum.Conditional),
		int64(sum.Mispredictions),
		int64(sum.Squashed),
		sum.Accuracy,
		hex64(sum.Fingerprint),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("results: record %s: %w", sum.ID, err)
	}
	s.logger.Info("run recorded", "id", sum.ID, "source", sum.Source, "accuracy", sum.Accuracy)
	return sum.ID, nil
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id.String())
	sum, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("results: get %s: %w", id, err)
	}
	return sum, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("results: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("results: list: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: list: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Summary, error) {
	var (
		sum                     Summary
		id, digest, fingerprint string
		started, duration       int64
		retired, conditional    int64
		mispredicted, squashed  int64
	)
	err := r.Scan(
		&id, &started, &duration, &sum.Source, &digest,
		&sum.History, &sum.Threads, &sum.Perceptrons, &sum.Depth, &sum.BTBEntries,
		&retired, &conditional, &mispredicted, &squashed,
		&sum.Accuracy, &fingerprint,
	)
	if err != nil {
		return Summary{}, err
	}
	if sum.ID, err = uuid.Parse(id); err != nil {
		return Summary{}, fmt.Errorf("run id %q: %w", id, err)
	}
	if sum.Digest, err = strconv.ParseUint(digest, 16, 64); err != nil {
		return Summary{}, fmt.Errorf("digest %q: %w", digest, err)
	}
	if sum.Fingerprint, err = strconv.ParseUint(fingerprint, 16, 64); err != nil {
		return Summary{}, fmt.Errorf("fingerprint %q: %w", fingerprint, err)
	}
	sum.StartedAt = time.Unix(0, started).UTC()
	sum.Duration = time.Duration(duration)
	sum.Retired = uint64(retired)
	sum.Conditional = uint64(conditional)
	sum.Mispredictions = uint64(mispredicted)
	sum.Squashed = uint64(squashed)
	return sum, nil
}

// hex64 stores a full-width hash as text. The driver rejects uint64 values
// with the high bit set.
func hex64(v uint64) string { return strconv.FormatUint(v, 16) }
