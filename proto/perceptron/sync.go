package perceptron

import "sync"

// Engine is the boundary the fetch pipeline drives. Predictor and Locked both
// satisfy it.
type Engine interface {
	Lookup(tid int, addr uint64) (bool, Record)
	UncondBranch(tid int, addr uint64) Record
	Update(tid int, addr uint64, taken bool, rec Record, squashed bool)
	Squash(tid int, rec Record)
	GHR(tid int, rec Record) uint64
	BTBUpdate(tid int, addr uint64, rec Record)
}

var (
	_ Engine = (*Predictor)(nil)
	_ Engine = (*Locked)(nil)
)

// Locked serializes every engine call behind one mutex so several pipeline
// models can share a predictor. The ledgers and weight table are shared state
// with no synchronization of their own.
type Locked struct {
	mu sync.Mutex
	p  *Predictor
}

// NewLocked wraps p.
func NewLocked(p *Predictor) *Locked { return &Locked{p: p} }

// Lookup predicts addr for thread tid under the lock.
func (l *Locked) Lookup(tid int, addr uint64) (bool, Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Lookup(tid, addr)
}

// UncondBranch records an unconditional branch under the lock.
func (l *Locked) UncondBranch(tid int, addr uint64) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.UncondBranch(tid, addr)
}

// Update resolves rec under the lock.
func (l *Locked) Update(tid int, addr uint64, taken bool, rec Record, squashed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Update(tid, addr, taken, rec, squashed)
}

// Squash discards rec under the lock.
func (l *Locked) Squash(tid int, rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Squash(tid, rec)
}

// GHR returns the history captured in rec.
func (l *Locked) GHR(tid int, rec Record) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.GHR(tid, rec)
}

// BTBUpdate reports a BTB miss for rec under the lock.
func (l *Locked) BTBUpdate(tid int, addr uint64, rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.BTBUpdate(tid, addr, rec)
}

// Stats returns the wrapped predictor's counters.
func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Stats()
}

// Fingerprint returns the wrapped predictor's state hash.
func (l *Locked) Fingerprint() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Fingerprint()
}
