package perceptron

import (
	"fmt"
	"math/bits"
)

const (
	// DefaultPerceptronCount is the number of hashed perceptrons.
	DefaultPerceptronCount = 10

	// DefaultGlobalPredictorSize is the default history length H.
	DefaultGlobalPredictorSize = 32

	// MaxHistoryWidth is the widest history register the engine keeps (H <= 64).
	MaxHistoryWidth = 64

	// MinGlobalPredictorSize keeps the weight width log2(H) at one bit or more.
	MinGlobalPredictorSize = 2
)

// Config holds the predictor geometry.
type Config struct {
	// GlobalPredictorSize is the history length H. Must be a power of two in
	// [MinGlobalPredictorSize, MaxHistoryWidth].
	GlobalPredictorSize int `json:"global_predictor_size"`
	// NumThreads is the number of hardware threads with their own history
	// registers.
	NumThreads int `json:"num_threads"`
	// PerceptronCount is the number of hashed perceptrons. Zero selects
	// DefaultPerceptronCount.
	PerceptronCount int `json:"perceptron_count,omitempty"`
}

// DefaultConfig returns a single-threaded 32-bit-history configuration.
func DefaultConfig() Config {
	return Config{
		GlobalPredictorSize: DefaultGlobalPredictorSize,
		NumThreads:          1,
		PerceptronCount:     DefaultPerceptronCount,
	}
}

// withDefaults fills optional fields.
func (c Config) withDefaults() Config {
	if c.PerceptronCount == 0 {
		c.PerceptronCount = DefaultPerceptronCount
	}
	return c
}

// Validate reports the first geometry error, if any.
func (c Config) Validate() error {
	c = c.withDefaults()
	h := c.GlobalPredictorSize
	if h <= 0 || h&(h-1) != 0 {
		return fmt.Errorf("%w: %d", ErrNotPowerOfTwo, h)
	}
	if h > MaxHistoryWidth {
		return fmt.Errorf("%w: %d > %d", ErrHistoryTooWide, h, MaxHistoryWidth)
	}
	if h < MinGlobalPredictorSize {
		return fmt.Errorf("%w: %d < %d", ErrHistoryTooNarrow, h, MinGlobalPredictorSize)
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("%w: %d", ErrBadThreadCount, c.NumThreads)
	}
	if c.PerceptronCount < 1 {
		return fmt.Errorf("%w: %d", ErrBadPerceptronCount, c.PerceptronCount)
	}
	return nil
}

// WeightBits returns B = log2(H), the width of one weight.
func (c Config) WeightBits() uint {
	return uint(bits.TrailingZeros(uint(c.GlobalPredictorSize)))
}
