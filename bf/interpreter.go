package bf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/containerd/log"
)

type Interpreter struct {
	Program     string
	Input       LineSource
	program_ptr int
	tape        *Tape
	loops       []int
	loop_count  int
	loop_limit  int
	output      strings.Builder
}

func NewInterpreter(program string, opts ...Option) (*Interpreter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := CheckLimits(o.tapeSize, o.loopLimit); err != nil {
		return nil, err
	}
	tape, err := NewTape(o.tapeSize)
	if err != nil {
		return nil, err
	}
	return &Interpreter{
		Program:    program,
		Input:      o.input,
		tape:       tape,
		loop_limit: o.loopLimit,
	}, nil
}

func (i *Interpreter) Reset() {
	i.program_ptr = 0
	i.loops = i.loops[:0]
	i.loop_count = 0
	i.output.Reset()
	i.tape.Reset()
}

func (i *Interpreter) MemoryLength() int {
	return i.tape.Len()
}

// Index the memory
func (i *Interpreter) At(j int) uint8 {
	return i.tape.At(j)
}

func (i *Interpreter) Cursor() int {
	return i.tape.Cursor()
}

// LoopCount is the number of `]` evaluated by the last run.
func (i *Interpreter) LoopCount() int {
	return i.loop_count
}

// RunContext runs the program from the start on a zeroed tape until it
// finishes, fails or ctx is done. Output produced before a failure is
// discarded.
func (i *Interpreter) RunContext(ctx context.Context) (string, error) {
	i.Reset()

	logger := log.G(ctx).WithFields(log.Fields{
		"tape_size":  i.tape.Len(),
		"loop_limit": i.loop_limit,
	})
	logger.Debugf("running program of %d bytes", len(i.Program))

	for i.program_ptr < len(i.Program) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if err := i.step(); err != nil {
			logger.WithError(err).Debugf("program failed at %d", i.program_ptr)
			return "", err
		}
	}
	if len(i.loops) > 0 {
		err := &UnmatchedOpenError{Pos: i.loops[len(i.loops)-1]}
		logger.WithError(err).Debug("program failed at end")
		return "", err
	}

	logger.WithField("loops", i.loop_count).Debug("program finished")
	return i.output.String(), nil
}

func (i *Interpreter) Run() (string, error) {
	return i.RunContext(context.Background())
}

// step executes the instruction under program_ptr and moves program_ptr to
// the next one.
func (i *Interpreter) step() error {
	switch parse(i.Program[i.program_ptr]) {
	case Increment:
		i.tape.Inc()
	case Decrement:
		i.tape.Dec()
	case Right:
		i.tape.Right()
	case Left:
		i.tape.Left()
	case Output:
		i.output.WriteRune(rune(i.tape.Get()))
	case Input:
		if i.Input != nil {
			line, err := i.Input.NextLine()
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading input: %w", err)
			}
			i.tape.Set(firstCharCode(line))
		}
	case LoopStart:
		i.loops = append(i.loops, i.program_ptr)
	case LoopEnd:
		i.loop_count++
		if i.loop_limit != Unbounded && i.loop_count > i.loop_limit {
			return &LoopLimitError{Limit: i.loop_limit}
		}
		if len(i.loops) == 0 {
			return &UnmatchedCloseError{Pos: i.program_ptr}
		}
		top := len(i.loops) - 1
		if i.tape.Get() != 0 {
			// jump back into the body, the `[` stays open
			i.program_ptr = i.loops[top] + 1
			return nil
		}
		i.loops = i.loops[:top]
	}
	i.program_ptr++
	return nil
}

// firstCharCode returns the low byte of the first character of line, 0 for an
// empty line. Bytes that are not valid UTF-8 are taken as they are.
func firstCharCode(line string) uint8 {
	if line == "" {
		return 0
	}
	r, size := utf8.DecodeRuneInString(line)
	if r == utf8.RuneError && size == 1 {
		return line[0]
	}
	return uint8(r)
}
