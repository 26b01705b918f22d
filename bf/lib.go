package bf

import (
	"context"
)

const (
	// DefaultTapeSize is the number of cells used when no size is given.
	DefaultTapeSize = 1024
	// Unbounded disables the loop limit.
	Unbounded = -1
)

type options struct {
	input     LineSource
	tapeSize  int
	loopLimit int
}

func defaultOptions() options {
	return options{
		tapeSize:  DefaultTapeSize,
		loopLimit: Unbounded,
	}
}

type Option func(*options)

// WithInput sets the source read by `,`. A nil source turns `,` into a no-op.
func WithInput(input LineSource) Option {
	return func(o *options) {
		o.input = input
	}
}

func WithTapeSize(size int) Option {
	return func(o *options) {
		o.tapeSize = size
	}
}

// WithLoopLimit caps the number of `]` a run may evaluate. Use Unbounded for
// no cap.
func WithLoopLimit(limit int) Option {
	return func(o *options) {
		o.loopLimit = limit
	}
}

// CheckLimits reports whether tapeSize and loopLimit are acceptable to
// NewInterpreter.
func CheckLimits(tapeSize int, loopLimit int) error {
	if tapeSize < 1 {
		return &InvalidTapeSizeError{Size: tapeSize}
	}
	if loopLimit < Unbounded {
		return &InvalidLoopLimitError{Limit: loopLimit}
	}
	return nil
}

// Execute runs source on a fresh tape of tapeSize cells and returns its
// output.
func Execute(source string, input LineSource, tapeSize int, loopLimit int) (string, error) {
	return ExecuteContext(context.Background(), source, input, tapeSize, loopLimit)
}

func ExecuteContext(ctx context.Context, source string, input LineSource, tapeSize int, loopLimit int) (string, error) {
	interpreter, err := NewInterpreter(source,
		WithInput(input),
		WithTapeSize(tapeSize),
		WithLoopLimit(loopLimit),
	)
	if err != nil {
		return "", err
	}
	return interpreter.RunContext(ctx)
}
