package tage

import (
	"errors"
	"testing"

	"neuropath/proto/perceptron"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TAGE Baseline - Test Suite
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// The engine is driven the way the pipeline drives it: Lookup issues a record, Update
// resolves it with the real outcome, and squashed marks a resolution the fetch did not
// follow. Table internals are inspected directly where a test needs to pin a transition.
//
// TEST ORGANIZATION:
//   1. Initialization
//   2. Hashing
//   3. Prediction
//   4. Allocation
//   5. Counters and aging
//   6. Record contract and histories
//   7. Reset
//   8. Patterns
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func newPredictor(t testing.TB, threads int) *Predictor {
	t.Helper()
	p, err := New(threads)
	if err != nil {
		t.Fatalf("New(%d): %v", threads, err)
	}
	return p
}

// step predicts pc on thread tid, resolves it with taken and reports whether the
// prediction was right. A wrong guess resolves squashed, as the pipeline does.
func step(p *Predictor, tid int, pc uint64, taken bool) bool {
	pred, rec := p.Lookup(tid, pc)
	p.Update(tid, pc, taken, rec, pred != taken)
	return pred == taken
}

func expectPanic(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic wrapping %v, got none", target)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Fatalf("panic value %v, want error wrapping %v", r, target)
		}
	}()
	fn()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 1. INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestInit_BasePredictorFullyValid(t *testing.T) {
	// WHAT: Every base slot is valid with a neutral counter
	// WHY: The base table guarantees a prediction for any branch

	p := newPredictor(t, 1)
	base := &p.Tables[0]
	if got := base.Occupancy(); got != EntriesPerTable {
		t.Fatalf("base occupancy = %d, expected %d", got, EntriesPerTable)
	}
	for i := range base.Entries {
		if base.Entries[i].Counter != NeutralCounter {
			t.Fatalf("base entry %d counter = %d, expected %d", i, base.Entries[i].Counter, NeutralCounter)
		}
	}
}

func TestInit_HistoryTablesEmpty(t *testing.T) {
	p := newPredictor(t, 1)
	for i := 1; i < NumTables; i++ {
		if got := p.Tables[i].Occupancy(); got != 0 {
			t.Errorf("table %d occupancy = %d, expected 0", i, got)
		}
		if p.Tables[i].HistoryLen != HistoryLengths[i] {
			t.Errorf("table %d history length = %d, expected %d", i, p.Tables[i].HistoryLen, HistoryLengths[i])
		}
	}
	if !p.AgingEnabled {
		t.Error("aging disabled by default")
	}
}

func TestInit_ThreadBounds(t *testing.T) {
	if _, err := New(0); !errors.Is(err, perceptron.ErrBadThreadCount) {
		t.Errorf("New(0) error = %v, expected ErrBadThreadCount", err)
	}
	if _, err := New(NumContexts + 1); !errors.Is(err, ErrTooManyThreads) {
		t.Errorf("New(%d) error = %v, expected ErrTooManyThreads", NumContexts+1, err)
	}

	// Every hardware context is usable.
	p := newPredictor(t, NumContexts)
	step(p, NumContexts-1, 0x1000, true)
	if got := p.CommittedHistory(NumContexts - 1); got != 1 {
		t.Errorf("G[%d] = %#b, expected 0b1", NumContexts-1, got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 2. HASHING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestHash_Bounds(t *testing.T) {
	// WHAT: Indices fit 10 bits and tags fit 13 bits for any input
	// HARDWARE: Fixed-width index and tag buses

	pcs := []uint64{0, 0x1000, 0x400134, 0xDEADBEEF, ^uint64(0)}
	hists := []uint64{0, 1, 0xAAAA, 0x123456789ABCDEF0, ^uint64(0)}
	for _, pc := range pcs {
		for _, h := range hists {
			for table := 0; table < NumTables; table++ {
				if idx := hashIndex(pc, h, HistoryLengths[table], table); idx >= EntriesPerTable {
					t.Fatalf("hashIndex(%#x, %#x, table %d) = %d out of range", pc, h, table, idx)
				}
				if tag := hashTag(pc, h, HistoryLengths[table]); tag > TagMask {
					t.Fatalf("hashTag(%#x, %#x, table %d) = %#x exceeds 13 bits", pc, h, table, tag)
				}
			}
		}
	}
}

func TestHash_BaseIgnoresHistory(t *testing.T) {
	pc := uint64(0x12345678)
	want := hashIndex(pc, 0, 0, 0)
	for _, h := range []uint64{1, 0xFFFF, ^uint64(0)} {
		if got := hashIndex(pc, h, 0, 0); got != want {
			t.Errorf("base index with history %#x = %d, expected %d", h, got, want)
		}
	}
}

func TestHash_HistoryLengthRespected(t *testing.T) {
	// WHAT: Bits beyond a table's history length do not change its index or tag
	// WHY: Table 1 must generalize across everything older than 4 branches

	pc := uint64(0x400100)
	low := uint64(0b1011)
	high := low | 0xFFFF_0000
	if hashIndex(pc, low, 4, 1) != hashIndex(pc, high, 4, 1) {
		t.Error("table 1 index depends on history beyond 4 bits")
	}
	if hashTag(pc, low, 4) != hashTag(pc, high, 4) {
		t.Error("table 1 tag depends on history beyond 4 bits")
	}
	if hashIndex(pc, low, 32, 6) == hashIndex(pc, high, 32, 6) &&
		hashTag(pc, low, 32) == hashTag(pc, high, 32) {
		t.Error("table 6 ignores history inside its 32 bits")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 3. PREDICTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestPredict_BaseFallback(t *testing.T) {
	// WHAT: A fresh engine predicts from the base table
	// WHY: Neutral counter 4 is the taken side of the threshold

	p := newPredictor(t, 1)
	taken, rec := p.Lookup(0, 0x1000)
	if !taken {
		t.Error("fresh engine predicted not taken")
	}
	if rec.Output() != 0 {
		t.Errorf("confidence = %d, expected 0 from the base table", rec.Output())
	}
	if !rec.Valid() || rec.Unconditional() || rec.GHR() != 0 {
		t.Errorf("record = valid %v uncond %v ghr %#b", rec.Valid(), rec.Unconditional(), rec.GHR())
	}
	p.Squash(0, rec)
}

func TestPredict_ContextIsolation(t *testing.T) {
	// WHAT: Tagged entries trained by thread 0 never provide for thread 1
	// WHY: Context tag must match for a tagged hit

	p := newPredictor(t, 2)
	pc := uint64(0x10000)
	for i := 0; i < 20; i++ {
		step(p, 0, pc, false)
	}

	taken0, rec0 := p.Lookup(0, pc)
	if taken0 || rec0.Output() == 0 {
		t.Errorf("thread 0: taken %v confidence %d, expected a tagged not-taken prediction", taken0, rec0.Output())
	}
	_, rec1 := p.Lookup(1, pc)
	if rec1.Output() != 0 {
		t.Errorf("thread 1 confidence = %d, expected base table only", rec1.Output())
	}
	p.Squash(0, rec0)
	p.Squash(1, rec1)
}

func TestPredict_ConfidenceLevels(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0x2000)
	p.allocate(1, pc, 0, 0, true)
	idx := hashIndex(pc, 0, HistoryLengths[1], 1)

	cases := []struct {
		counter uint8
		taken   bool
		conf    uint8
	}{
		{0, false, 2},
		{1, false, 2},
		{2, false, 1},
		{3, false, 1},
		{4, true, 1},
		{5, true, 1},
		{6, true, 2},
		{7, true, 2},
	}
	for _, tc := range cases {
		p.Tables[1].Entries[idx].Counter = tc.counter
		taken, conf := p.predict(pc, 0, 0)
		if taken != tc.taken || conf != tc.conf {
			t.Errorf("counter %d: predict = (%v, %d), expected (%v, %d)", tc.counter, taken, conf, tc.taken, tc.conf)
		}
	}
}

func TestMatch_LongestHistoryWins(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0x3000)
	p.allocate(1, pc, 0, 0, false)
	p.allocate(5, pc, 0, 0, true)

	table, _ := p.lookup(pc, 0, 0)
	if table != 5 {
		t.Fatalf("provider = table %d, expected 5", table)
	}
	if taken, _ := p.predict(pc, 0, 0); !taken {
		t.Error("table 1 overrode the longer table 5")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 4. ALLOCATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestAlloc_Table1OnFirstMispredict(t *testing.T) {
	// WHAT: A base-only mispredict allocates one weak entry in table 1
	// WHY: Shortest history first, grow only when it proves insufficient

	p := newPredictor(t, 1)
	pc := uint64(0x1000)
	if step(p, 0, pc, false) {
		t.Fatal("fresh engine predicted not taken")
	}

	st := p.Stats()
	if st.Allocations != 1 || st.EntriesUsed[1] != 1 || st.Mispredictions != 1 {
		t.Fatalf("stats = %+v, expected one allocation in table 1", st)
	}
	e := p.Tables[1].Entries[hashIndex(pc, 0, HistoryLengths[1], 1)]
	if e.Counter != NeutralCounter-1 || e.Context != 0 || e.Useful || e.Age != 0 {
		t.Errorf("allocated entry = %+v, expected weak not-taken, fresh", e)
	}
	if e.Tag != hashTag(pc, 0, HistoryLengths[1]) {
		t.Errorf("tag = %#x, expected %#x", e.Tag, hashTag(pc, 0, HistoryLengths[1]))
	}
	if c := p.Tables[0].Entries[hashIndex(pc, 0, 0, 0)].Counter; c != NeutralCounter-1 {
		t.Errorf("base counter = %d, expected %d", c, NeutralCounter-1)
	}
}

func TestAlloc_LongerTablesOnWeakMispredict(t *testing.T) {
	// WHAT: A weak tagged provider that mispredicts allocates in longer tables
	// WHY: pc 0x1000 has zero in bits 1-10, so all three distances draw an allocation

	p := newPredictor(t, 1)
	pc := uint64(0x1000)
	step(p, 0, pc, false) // table 1 entry, counter 3, history 0

	// SG is back at zero: table 1 provides not-taken and the branch goes taken.
	if step(p, 0, pc, true) {
		t.Fatal("table 1 entry predicted taken")
	}

	st := p.Stats()
	if st.Allocations != 4 {
		t.Fatalf("Allocations = %d, expected 4", st.Allocations)
	}
	for table, want := range []int{EntriesPerTable, 1, 1, 1, 1, 0, 0, 0} {
		if st.EntriesUsed[table] != want {
			t.Errorf("table %d entries = %d, expected %d", table, st.EntriesUsed[table], want)
		}
	}
	if table, _ := p.lookup(pc, 0, 0); table != 4 {
		t.Errorf("provider = table %d, expected 4", table)
	}
	if taken, conf := p.predict(pc, 0, 0); !taken || conf != 1 {
		t.Errorf("predict = (%v, %d), expected weak taken", taken, conf)
	}
}

func TestAlloc_UsefulEntryProtected(t *testing.T) {
	// WHAT: A useful young entry is not replaced; a fully aged one is

	p := newPredictor(t, 1)
	pc := uint64(0x5000)
	p.allocate(2, pc, 0, 0, true)
	idx := hashIndex(pc, 0, HistoryLengths[2], 2)
	p.Tables[2].Entries[idx].Useful = true

	p.allocate(2, pc, 0, 0, false)
	if c := p.Tables[2].Entries[idx].Counter; c != NeutralCounter+1 {
		t.Fatalf("useful entry replaced: counter %d", c)
	}

	p.Tables[2].Entries[idx].Age = MaxAge
	p.allocate(2, pc, 0, 0, false)
	if c := p.Tables[2].Entries[idx].Counter; c != NeutralCounter-1 {
		t.Errorf("aged entry kept: counter %d", c)
	}
	if got := p.Stats().Allocations; got != 2 {
		t.Errorf("Allocations = %d, expected 2", got)
	}
}

func TestUseful_SetOnCorrectProvider(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0x1000)
	step(p, 0, pc, false)
	if !step(p, 0, pc, false) {
		t.Fatal("table 1 entry did not predict not taken")
	}

	e := p.Tables[1].Entries[hashIndex(pc, 0, HistoryLengths[1], 1)]
	if !e.Useful || e.Counter != NeutralCounter-2 {
		t.Errorf("entry = %+v, expected useful with counter %d", e, NeutralCounter-2)
	}
	if got := p.Stats().UsefulEntries[1]; got != 1 {
		t.Errorf("UsefulEntries[1] = %d, expected 1", got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 5. COUNTERS AND AGING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestCounter_AllTransitions(t *testing.T) {
	// HARDWARE: Next-state table for the 3-bit hysteresis counter

	takenNext := [8]uint8{1, 2, 3, 4, 5, 6, 7, 7}
	notTakenNext := [8]uint8{0, 0, 1, 2, 3, 4, 5, 6}
	for c := uint8(0); c <= MaxCounter; c++ {
		e := Entry{Counter: c}
		updateCounterWithHysteresis(&e, true)
		if e.Counter != takenNext[c] {
			t.Errorf("counter %d taken → %d, expected %d", c, e.Counter, takenNext[c])
		}
		e = Entry{Counter: c}
		updateCounterWithHysteresis(&e, false)
		if e.Counter != notTakenNext[c] {
			t.Errorf("counter %d not taken → %d, expected %d", c, e.Counter, notTakenNext[c])
		}
	}
}

func TestAging_ClearsUsefulAndSaturates(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0x6000)
	p.allocate(3, pc, 0, 0, true)
	idx := hashIndex(pc, 0, HistoryLengths[3], 3)
	p.Tables[3].Entries[idx].Useful = true

	for i := 0; i < MaxAge/2; i++ {
		p.AgeAllEntries()
	}
	if e := p.Tables[3].Entries[idx]; e.Useful || e.Age != MaxAge/2 {
		t.Errorf("after %d sweeps entry = %+v, expected age %d and not useful", MaxAge/2, e, MaxAge/2)
	}

	for i := 0; i < 2*MaxAge; i++ {
		p.AgeAllEntries()
	}
	if e := p.Tables[3].Entries[idx]; e.Age != MaxAge {
		t.Errorf("age = %d, expected saturation at %d", e.Age, MaxAge)
	}
	if e := p.Tables[0].Entries[0]; e.Age != 0 {
		t.Errorf("base entry aged to %d", e.Age)
	}
}

func TestAging_TriggeredByInterval(t *testing.T) {
	// WHAT: One sweep per AgingInterval conditional resolutions, none when disabled

	for _, enabled := range []bool{true, false} {
		p := newPredictor(t, 1)
		p.AgingEnabled = enabled
		for i := 0; i < AgingInterval; i++ {
			step(p, 0, 0x7000, true)
		}
		for i := 0; i < AgingInterval; i++ {
			rec := p.UncondBranch(0, 0x7100)
			p.Update(0, 0x7100, true, rec, false)
		}
		want := uint64(0)
		if enabled {
			want = 1
		}
		if got := p.Stats().AgingSweeps; got != want {
			t.Errorf("enabled=%v: AgingSweeps = %d, expected %d", enabled, got, want)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 6. RECORD CONTRACT AND HISTORIES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestRecord_ContractViolationsPanic(t *testing.T) {
	p := newPredictor(t, 1)
	_, rec := p.Lookup(0, 0x1000)
	p.Update(0, 0x1000, true, rec, false)

	expectPanic(t, perceptron.ErrStaleRecord, func() { p.Update(0, 0x1000, true, rec, false) })
	expectPanic(t, perceptron.ErrStaleRecord, func() { p.Squash(0, rec) })
	expectPanic(t, perceptron.ErrNilRecord, func() { p.Update(0, 0x1000, true, perceptron.Record{}, false) })
	expectPanic(t, perceptron.ErrNilRecord, func() { p.GHR(0, perceptron.Record{}) })
	expectPanic(t, perceptron.ErrBadThread, func() { p.Lookup(1, 0x1000) })
	expectPanic(t, perceptron.ErrBadThread, func() { p.UncondBranch(-1, 0x1000) })
}

func TestHistory_SpeculativeAheadOfCommitted(t *testing.T) {
	// WHAT: Lookup and UncondBranch shift SG; only Update shifts G
	// WHY: Younger fetches predict under the guesses of older in-flight branches

	p := newPredictor(t, 1)
	_, r1 := p.Lookup(0, 0x1000) // base guess taken
	r2 := p.UncondBranch(0, 0x2000)

	if sg := p.SpeculativeHistory(0); sg != 0b11 {
		t.Errorf("SG = %#b, expected 0b11", sg)
	}
	if g := p.CommittedHistory(0); g != 0 {
		t.Errorf("G = %#b, expected 0 before any update", g)
	}
	if got := p.GHR(0, r2); got != 0b1 {
		t.Errorf("GHR of second record = %#b, expected 0b1", got)
	}
	if got := p.Stats().InFlight; got != 2 {
		t.Errorf("InFlight = %d, expected 2", got)
	}

	p.Update(0, 0x1000, true, r1, false)
	p.Update(0, 0x2000, true, r2, false)
	if g, sg := p.CommittedHistory(0), p.SpeculativeHistory(0); g != 0b11 || sg != g {
		t.Errorf("G = %#b SG = %#b, expected both 0b11", g, sg)
	}
}

func TestHistory_SquashRestoresCommitted(t *testing.T) {
	p := newPredictor(t, 1)
	step(p, 0, 0x1000, true)
	_, rec := p.Lookup(0, 0x1000)
	p.Squash(0, rec)

	if g, sg := p.CommittedHistory(0), p.SpeculativeHistory(0); g != 0b1 || sg != g {
		t.Errorf("after squash G = %#b SG = %#b, expected both 0b1", g, sg)
	}
	if st := p.Stats(); st.Squashes != 1 || st.InFlight != 0 {
		t.Errorf("stats = %+v, expected one squash and nothing in flight", st)
	}
}

func TestHistory_MispredictResyncs(t *testing.T) {
	p := newPredictor(t, 1)
	step(p, 0, 0x1000, false) // guessed taken, went not taken

	if g, sg := p.CommittedHistory(0), p.SpeculativeHistory(0); g != 0 || sg != 0 {
		t.Errorf("G = %#b SG = %#b, expected both 0", g, sg)
	}
	if got := p.Stats().SquashedUpdates; got != 1 {
		t.Errorf("SquashedUpdates = %d, expected 1", got)
	}
}

func TestBTBUpdate_ClearsSpeculativeLSB(t *testing.T) {
	// WHAT: BTBUpdate drops the taken guess Lookup pushed into SG; G is untouched

	p := newPredictor(t, 1)
	step(p, 0, 0x1000, true)
	taken, rec := p.Lookup(0, 0x1000)
	if !taken {
		t.Fatal("expected a taken prediction to demote")
	}
	p.BTBUpdate(0, 0x1000, rec)

	if sg := p.SpeculativeHistory(0); sg != 0b10 {
		t.Errorf("SG = %#b, expected 0b10", sg)
	}
	if g := p.CommittedHistory(0); g != 0b1 {
		t.Errorf("G = %#b, expected 0b1", g)
	}
	if got := p.Stats().InFlight; got != 1 {
		t.Errorf("BTBUpdate consumed the record: InFlight = %d", got)
	}

	p.Update(0, 0x1000, false, rec, true)
	if g, sg := p.CommittedHistory(0), p.SpeculativeHistory(0); g != 0b10 || sg != g {
		t.Errorf("G = %#b SG = %#b, expected both 0b10", g, sg)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 7. RESET
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestReset_ClearsLearnedState(t *testing.T) {
	p := newPredictor(t, 1)
	for i := 0; i < 50; i++ {
		step(p, 0, 0x1000, i%3 == 0)
	}
	_, rec := p.Lookup(0, 0x1000)

	p.Reset()

	for i := 1; i < NumTables; i++ {
		if got := p.Tables[i].Occupancy(); got != 0 {
			t.Errorf("table %d occupancy = %d after reset", i, got)
		}
	}
	if c := p.Tables[0].Entries[hashIndex(0x1000, 0, 0, 0)].Counter; c != NeutralCounter {
		t.Errorf("base counter = %d after reset", c)
	}
	if p.CommittedHistory(0) != 0 || p.SpeculativeHistory(0) != 0 {
		t.Error("histories survived reset")
	}
	if st := p.Stats(); st.Updates != 0 || st.Allocations != 0 || st.InFlight != 0 {
		t.Errorf("stats after reset = %+v", st)
	}
	expectPanic(t, perceptron.ErrStaleRecord, func() { p.Update(0, 0x1000, true, rec, false) })
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// 8. PATTERNS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func TestPattern_AlwaysTaken(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0xF0000)
	for i := 0; i < 20; i++ {
		step(p, 0, pc, true)
	}
	if !step(p, 0, pc, true) {
		t.Error("should predict taken for always-taken branch")
	}
}

func TestPattern_AlwaysNotTaken(t *testing.T) {
	p := newPredictor(t, 1)
	pc := uint64(0x100000)
	for i := 0; i < 20; i++ {
		step(p, 0, pc, false)
	}
	if !step(p, 0, pc, false) {
		t.Error("should predict not-taken for always-not-taken branch")
	}
}

func TestPattern_Alternating(t *testing.T) {
	// WHAT: Learn a period-2 pattern from history
	// WHY: The base counter alone can never beat 50% here

	p := newPredictor(t, 1)
	pc := uint64(0x110000)
	correct, total := 0, 0
	for i := 0; i < 100; i++ {
		ok := step(p, 0, pc, i%2 == 0)
		if i > 20 {
			total++
			if ok {
				correct++
			}
		}
	}

	accuracy := float64(correct) / float64(total) * 100
	t.Logf("Alternating pattern accuracy: %.1f%% (%d/%d)", accuracy, correct, total)
	if accuracy < 90 {
		t.Errorf("alternating accuracy %.1f%%, expected >= 90%%", accuracy)
	}
}

func TestPattern_Loop(t *testing.T) {
	// WHAT: Learn a loop pattern (N taken, 1 not-taken)

	p := newPredictor(t, 1)
	pc := uint64(0x120000)
	loopCount := 5
	correct, total := 0, 0
	for rep := 0; rep < 50; rep++ {
		for i := 0; i <= loopCount; i++ {
			ok := step(p, 0, pc, i < loopCount)
			if rep > 5 {
				total++
				if ok {
					correct++
				}
			}
		}
	}

	accuracy := float64(correct) / float64(total) * 100
	t.Logf("Loop pattern (N=%d) accuracy: %.1f%% (%d/%d)", loopCount, accuracy, correct, total)
	if accuracy < 90 {
		t.Errorf("loop accuracy %.1f%%, expected >= 90%%", accuracy)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BENCHMARKS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func BenchmarkLookupUpdate(b *testing.B) {
	p := newPredictor(b, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		step(p, 0, uint64(0x1000+(i&63)*4), i%3 != 0)
	}
}
