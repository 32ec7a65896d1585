package trace

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
)

// SliceSource replays a fixed branch slice.
type SliceSource struct {
	branches []Branch
	i        int
}

// NewSliceSource returns a Source over branches.
func NewSliceSource(branches []Branch) *SliceSource {
	return &SliceSource{branches: branches}
}

// Next returns the next branch or io.EOF.
func (s *SliceSource) Next() (Branch, error) {
	if s.i >= len(s.branches) {
		return Branch{}, io.EOF
	}
	b := s.branches[s.i]
	s.i++
	return b, nil
}

// Base addresses for generated code. Spaced so the perceptron hash spreads them.
const (
	loopPC   = 0x400100
	bodyPC   = 0x400134
	callPC   = 0x400200
	altPC    = 0x400300
	corrAPC  = 0x400401
	corrBPC  = 0x400417
	randomPC = 0x400500
)

// Loop generates n branches (none for n <= 0) of a counted loop: a body branch taken on even
// iterations, a back edge taken trip-1 times then not taken, and an
// unconditional call after each loop exit.
func Loop(n, trip int) []Branch {
	n = max(n, 0)
	if trip < 1 {
		trip = 1
	}
	out := make([]Branch, 0, n)
	for iter := 0; len(out) < n; iter++ {
		out = append(out, Branch{PC: bodyPC, Taken: iter%2 == 0})
		exit := iter%trip == trip-1
		out = append(out, Branch{PC: loopPC, Taken: !exit})
		if exit {
			out = append(out, Branch{PC: callPC, Taken: true, Kind: Unconditional})
		}
	}
	return out[:n]
}

// Alternating generates n outcomes of one branch flipping every time.
func Alternating(n int) []Branch {
	n = max(n, 0)
	out := make([]Branch, n)
	for i := range out {
		out[i] = Branch{PC: altPC, Taken: i%2 == 0}
	}
	return out
}

// Correlated generates pairs: branch A is random, branch B repeats A.
func Correlated(n int, seed int64) []Branch {
	n = max(n, 0)
	rng := rand.New(rand.NewSource(seed))
	out := make([]Branch, 0, n+1)
	for len(out) < n {
		a := rng.Intn(2) == 1
		out = append(out, Branch{PC: corrAPC, Taken: a}, Branch{PC: corrBPC, Taken: a})
	}
	return out[:n]
}

// Random generates n branches over 16 addresses, taken with probability bias.
func Random(n int, seed int64, bias float64) []Branch {
	n = max(n, 0)
	rng := rand.New(rand.NewSource(seed))
	out := make([]Branch, n)
	for i := range out {
		out[i] = Branch{
			PC:    randomPC + uint64(rng.Intn(16))*4,
			Taken: rng.Float64() < bias,
		}
	}
	return out
}

// Interleave merges per-thread streams round-robin, stamping each branch with
// its stream index as the thread id.
func Interleave(streams ...[]Branch) []Branch {
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	out := make([]Branch, 0, total)
	for i := 0; len(out) < total; i++ {
		for tid, s := range streams {
			if i < len(s) {
				b := s[i]
				b.Thread = tid
				out = append(out, b)
			}
		}
	}
	return out
}

// ErrUnknownGenerator is returned by Generate for a name not in Generators.
var ErrUnknownGenerator = errors.New("trace: unknown synthetic generator")

// Generators lists the names Generate accepts.
var Generators = []string{"loop", "alt", "corr", "random"}

// Generate builds n branches from the named generator. seed feeds the random
// generators and is ignored by the others.
func Generate(name string, n int, seed int64) ([]Branch, error) {
	switch name {
	case "loop":
		return Loop(n, 7), nil
	case "alt":
		return Alternating(n), nil
	case "corr":
		return Correlated(n, seed), nil
	case "random":
		return Random(n, seed, 0.5), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
}
