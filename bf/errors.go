package bf

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrMalformedProgram is matched by every error a program can fail with at
// run time.
var ErrMalformedProgram = errors.New("malformed brainfuck program")

// UnmatchedCloseError is returned when `]` is reached with no open loop.
type UnmatchedCloseError struct {
	Pos int
}

func (e *UnmatchedCloseError) Error() string {
	return fmt.Sprintf("cannot close a loop before opening it (at %d)", e.Pos)
}

func (e *UnmatchedCloseError) Unwrap() []error {
	return []error{ErrMalformedProgram, errdefs.ErrInvalidArgument}
}

// UnmatchedOpenError is returned when the program ends inside a loop. Pos is
// the innermost `[` left open.
type UnmatchedOpenError struct {
	Pos int
}

func (e *UnmatchedOpenError) Error() string {
	return fmt.Sprintf("a loop was opened but never closed (at %d)", e.Pos)
}

func (e *UnmatchedOpenError) Unwrap() []error {
	return []error{ErrMalformedProgram, errdefs.ErrInvalidArgument}
}

// LoopLimitError is returned when more `]` were evaluated than allowed.
type LoopLimitError struct {
	Limit int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("the loop limit is exceeded (loop limit set to %d)", e.Limit)
}

func (e *LoopLimitError) Unwrap() []error {
	return []error{ErrMalformedProgram, errdefs.ErrResourceExhausted}
}

type InvalidTapeSizeError struct {
	Size int
}

func (e *InvalidTapeSizeError) Error() string {
	return fmt.Sprintf("tape size must be at least 1, got %d", e.Size)
}

func (e *InvalidTapeSizeError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}

type InvalidLoopLimitError struct {
	Limit int
}

func (e *InvalidLoopLimitError) Error() string {
	return fmt.Sprintf("loop limit must be %d (unbounded) or non-negative, got %d", Unbounded, e.Limit)
}

func (e *InvalidLoopLimitError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}
