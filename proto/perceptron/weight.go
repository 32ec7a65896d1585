package perceptron

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SATURATING WEIGHTS
// ═══════════════════════════════════════════════════════════════════════════════════════════════
//
// Each perceptron weight is a B-bit two's complement register. Training moves a weight
// by ±1 and clamps at the rails instead of wrapping:
//
//   Max = 2^(B-1) - 1
//   Min = -(Max + 1)
//
// B is log2(H) where H is the global predictor size, so H=4 gives 2-bit weights in
// [-2, 1] and H=64 gives 6-bit weights in [-32, 31].
//
// Saturation is silent. A weight pinned at a rail simply stays there.
//
// Hardware: B-bit up/down counter with clamp logic per weight
//
// SystemVerilog:
//   function automatic logic signed [B-1:0] sat_step(logic signed [B-1:0] w, logic up);
//     if (up)  return (w == MAX_W) ? w : w + 1;
//     else     return (w == MIN_W) ? w : w - 1;
//   endfunction
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Weight is one signed perceptron weight.
type Weight int32

// WeightRange holds the clamp rails for a weight width.
type WeightRange struct {
	Min Weight
	Max Weight
}

// WeightRangeForBits returns the rails of a bits-wide two's complement weight.
// bits must be at least 1.
func WeightRangeForBits(bits uint) WeightRange {
	max := Weight(1)<<(bits-1) - 1
	return WeightRange{Min: -(max + 1), Max: max}
}

// Inc returns w+1 clamped to Max.
func (r WeightRange) Inc(w Weight) Weight {
	if w < r.Max {
		return w + 1
	}
	return r.Max
}

// Dec returns w-1 clamped to Min.
func (r WeightRange) Dec(w Weight) Weight {
	if w > r.Min {
		return w - 1
	}
	return r.Min
}

// Step moves w one unit toward Max when up is set, toward Min otherwise.
func (r WeightRange) Step(w Weight, up bool) Weight {
	if up {
		return r.Inc(w)
	}
	return r.Dec(w)
}

// Contains reports whether w lies within the rails.
func (r WeightRange) Contains(w Weight) bool {
	return w >= r.Min && w <= r.Max
}
