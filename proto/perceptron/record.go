package perceptron

import "fmt"

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PREDICTION RECORD
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Record is what Lookup()/UncondBranch() hand the pipeline and what Update()/Squash()
// take back. It is a plain value: the pipeline holds it in its in-flight queue and
// passes it back exactly once.
//
// FIELDS:
//   id     Slot handle, non-zero for records issued by an engine
//   ghr    Speculative history of the thread at prediction time
//   taken  Predicted direction (always true for unconditional branches)
//   uncond Issued by UncondBranch()
//   output Perceptron output y behind the prediction (0 for unconditional)
//
// The zero Record is the "missing record" value. The engine tracks outstanding ids, so
// a record passed back twice is caught as well.
//
// Hardware: pipeline register carried with the branch down to retire
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Record is the opaque per-branch prediction record.
type Record struct {
	id     uint64
	ghr    uint64
	taken  bool
	uncond bool
	output int64
}

// Valid reports whether the record was issued by an engine.
func (r Record) Valid() bool { return r.id != 0 }

// GHR returns the speculative global history captured at prediction time.
func (r Record) GHR() uint64 { return r.ghr }

// Taken returns the predicted direction.
func (r Record) Taken() bool { return r.taken }

// Unconditional reports whether the record came from UncondBranch.
func (r Record) Unconditional() bool { return r.uncond }

// Output returns the perceptron output behind the prediction.
func (r Record) Output() int64 { return r.output }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RECORD BOOK
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// RecordBook hands out record ids and remembers which are still outstanding. Every
// Engine keeps one so a record passed back twice, or never issued, is caught at the
// boundary. Engines outside this package build their records through it.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// RecordBook tracks the records an engine has issued and not yet consumed.
type RecordBook struct {
	inflight map[uint64]struct{}
	nextID   uint64
}

// NewRecordBook returns an empty book.
func NewRecordBook() *RecordBook {
	return &RecordBook{inflight: make(map[uint64]struct{})}
}

// Issue returns a fresh record carrying the prediction-time history ghr, the
// predicted direction and the engine output behind it.
func (b *RecordBook) Issue(ghr uint64, taken, uncond bool, output int64) Record {
	b.nextID++
	rec := Record{id: b.nextID, ghr: ghr, taken: taken, uncond: uncond, output: output}
	b.inflight[rec.id] = struct{}{}
	return rec
}

// Consume retires rec. It panics with ErrNilRecord for the zero Record and with
// ErrStaleRecord for a record that is not outstanding. op names the caller in
// the panic message.
func (b *RecordBook) Consume(op string, rec Record) {
	if !rec.Valid() {
		panic(fmt.Errorf("perceptron: %s: %w", op, ErrNilRecord))
	}
	if _, ok := b.inflight[rec.id]; !ok {
		panic(fmt.Errorf("perceptron: %s: record %d: %w", op, rec.id, ErrStaleRecord))
	}
	delete(b.inflight, rec.id)
}

// Check panics with ErrNilRecord when rec was never issued by any engine.
func (b *RecordBook) Check(op string, rec Record) {
	if !rec.Valid() {
		panic(fmt.Errorf("perceptron: %s: %w", op, ErrNilRecord))
	}
}

// Len returns the number of outstanding records.
func (b *RecordBook) Len() int { return len(b.inflight) }

// Reset forgets every outstanding record. Ids keep counting up, so records
// issued before Reset are stale afterwards.
func (b *RecordBook) Reset() { clear(b.inflight) }
