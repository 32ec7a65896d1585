package perceptron

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// WEIGHT TABLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// P perceptrons, each a row of H+1 saturating weights:
//
//   weights[p][0]      bias
//   weights[p][1..H]   one weight per history position
//
// Row selection is p = addr mod P. Training a position j does not touch row p: it
// touches the row of the branch j steps back on the path, because in the path-based
// scheme that branch contributed weights[...][j] to this output through the ledger.
//
// LEARNING RULE:
//   bias        += outcome ? +1 : -1
//   w[k_j][j]   += (history bit j == outcome) ? +1 : -1     k_j = path[j mod len] mod P
//
// LEARNING GATE:
//   squashed || |y| <= theta,   theta = trunc(2.14·(H+1) + 20.58)
//
// Confident outputs (|y| > theta) are left alone even when correct.
//
// Storage: one flat slice, row-major, zero at reset. Rows are never freed.
//
// Hardware: P × (H+1) × B bits of SRAM
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// WeightTable holds every perceptron's weights.
type WeightTable struct {
	rows  int         // P
	width int         // H+1
	w     []Weight    // rows*width weights, row-major
	rng   WeightRange // Clamp rails
}

// NewWeightTable returns a zeroed table of rows perceptrons over history length h.
func NewWeightTable(rows, h int, rng WeightRange) *WeightTable {
	return &WeightTable{
		rows:  rows,
		width: h + 1,
		w:     make([]Weight, rows*(h+1)),
		rng:   rng,
	}
}

// Index hashes a branch address to its perceptron row.
func (t *WeightTable) Index(addr uint64) int {
	return int(addr % uint64(t.rows))
}

// Row returns a view of perceptron p's weights. The view aliases the table.
func (t *WeightTable) Row(p int) []Weight {
	off := p * t.width
	return t.w[off : off+t.width : off+t.width]
}

// At returns weights[p][j].
func (t *WeightTable) At(p, j int) Weight { return t.w[p*t.width+j] }

// Evaluate returns bias(p) + sr[H], the perceptron output against ledger sr.
func (t *WeightTable) Evaluate(p int, sr Ledger) int64 {
	return int64(t.w[p*t.width]) + sr.Output()
}

// Learn applies one training step for perceptron p resolved as taken, using the
// history register value and path to pick the per-position rows.
func (t *WeightTable) Learn(p int, taken bool, history uint64, path *PathHistory) {
	bias := p * t.width
	t.w[bias] = t.rng.Step(t.w[bias], taken)

	h := t.width - 1
	for j := 1; j <= h; j++ {
		k := t.Index(path.At(j))
		agree := ((history>>uint(j))&1 == 1) == taken
		idx := k*t.width + j
		t.w[idx] = t.rng.Step(t.w[idx], agree)
	}
}

// Saturation counts weights sitting on the upper and lower rails.
func (t *WeightTable) Saturation() (high, low int) {
	for _, w := range t.w {
		switch w {
		case t.rng.Max:
			high++
		case t.rng.Min:
			low++
		}
	}
	return high, low
}

// Reset zeroes every weight.
func (t *WeightTable) Reset() { clear(t.w) }

// Theta returns the training threshold for history length h.
func Theta(h int) int64 {
	return int64(float64(2.14*float64(h+1)) + 20.58)
}
