package perceptron

import "errors"

// Configuration errors returned by Config.Validate and New. All are fatal: a
// predictor cannot be built from an ill-formed configuration.
var (
	ErrNotPowerOfTwo      = errors.New("perceptron: global predictor size is not a power of two")
	ErrHistoryTooWide     = errors.New("perceptron: global predictor size exceeds history register width")
	ErrHistoryTooNarrow   = errors.New("perceptron: global predictor size too small for weight width")
	ErrBadThreadCount     = errors.New("perceptron: thread count must be at least 1")
	ErrBadPerceptronCount = errors.New("perceptron: perceptron count must be at least 1")
)

// Contract violations. The engine panics with an error wrapping one of these; they
// mean the pipeline and the predictor have fallen out of step.
var (
	ErrNilRecord   = errors.New("perceptron: missing prediction record")
	ErrStaleRecord = errors.New("perceptron: prediction record already consumed or unknown")
	ErrBadThread   = errors.New("perceptron: thread id out of range")
	ErrEmptyPath   = errors.New("perceptron: path history is empty")
)
