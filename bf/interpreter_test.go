package bf_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/buffy/bf"
	"github.com/MarcinKonowalczyk/buffy/utils"
	"github.com/containerd/errdefs"
)

func newInterpreter(t *testing.T, program string, opts ...bf.Option) *bf.Interpreter {
	t.Helper()
	interpreter, err := bf.NewInterpreter(program, opts...)
	if err != nil {
		t.Fatalf("creating interpreter: %v", err)
	}
	return interpreter
}

func run(t *testing.T, interpreter *bf.Interpreter) string {
	t.Helper()
	output, err := interpreter.Run()
	if err != nil {
		t.Fatalf("running %q: %v", interpreter.Program, err)
	}
	return output
}

func TestInterpreter_OutputEmptyInterpreter(t *testing.T) {
	interpreter := newInterpreter(t, ".")
	utils.AssertEqual(t, run(t, interpreter), "\x00")
}

func TestInterpreter_InputEmptyInterpreter(t *testing.T) {
	interpreter := newInterpreter(t, "+,")
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 1)
}

func TestInterpreter_Increment(t *testing.T) {
	interpreter := newInterpreter(t, "+")
	utils.AssertEqual(t, interpreter.At(0), 0)
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 1)
}

func TestInterpreter_Decrement(t *testing.T) {
	interpreter := newInterpreter(t, "-")
	utils.AssertEqual(t, interpreter.At(0), 0)
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 255)
}

func TestInterpreter_IncrementRoundTrip(t *testing.T) {
	interpreter := newInterpreter(t, "+++"+strings.Repeat("+", 256))
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 3)
}

func TestInterpreter_MoveRight(t *testing.T) {
	interpreter := newInterpreter(t, ">+")
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 1)
	utils.AssertEqual(t, interpreter.Cursor(), 1)
}

func TestInterpreter_MoveLeft(t *testing.T) {
	interpreter := newInterpreter(t, "<+")
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(-1), 1)
	utils.AssertEqual(t, interpreter.Cursor(), bf.DefaultTapeSize-1)
}

func TestInterpreter_WrapRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 7, bf.DefaultTapeSize} {
		interpreter := newInterpreter(t, "<>", bf.WithTapeSize(size))
		run(t, interpreter)
		utils.AssertEqual(t, interpreter.Cursor(), 0)
		utils.AssertEqual(t, interpreter.MemoryLength(), size)
	}
}

func TestInterpreter_Loop(t *testing.T) {
	interpreter := newInterpreter(t, "+++[->+<]")
	utils.AssertEqual(t, run(t, interpreter), "")
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 3)
	utils.AssertEqual(t, interpreter.LoopCount(), 3)
}

func TestInterpreter_NestedLoops(t *testing.T) {
	// 2 * 3 into cell 2
	interpreter := newInterpreter(t, "++[>+++[>+<-]<-]")
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 0)
	utils.AssertEqual(t, interpreter.At(2), 6)
}

func TestInterpreter_EmptyLoop(t *testing.T) {
	utils.AssertEqual(t, run(t, newInterpreter(t, "[]")), "")
}

func TestInterpreter_Output(t *testing.T) {
	utils.AssertEqual(t, run(t, newInterpreter(t, "+++.")), "\x03")
	// cells are character codes, not raw bytes
	utils.AssertEqual(t, run(t, newInterpreter(t, "-.")), "ÿ")
}

func TestInterpreter_Input(t *testing.T) {
	interpreter := newInterpreter(t, ",.", bf.WithInput(bf.Lines("A")))
	utils.AssertEqual(t, run(t, interpreter), "A")
}

func TestInterpreter_InputFirstCharacterOnly(t *testing.T) {
	interpreter := newInterpreter(t, ",.,.", bf.WithInput(bf.Lines("xyz", "é")))
	utils.AssertEqual(t, run(t, interpreter), "xé")
}

func TestInterpreter_InputEmptyLine(t *testing.T) {
	interpreter := newInterpreter(t, "+,", bf.WithInput(bf.Lines("")))
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 0)
}

func TestInterpreter_InputExhausted(t *testing.T) {
	interpreter := newInterpreter(t, "+,", bf.WithInput(bf.Lines()))
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.At(0), 0)
}

type brokenSource struct{}

var errBroken = errors.New("broken pipe")

func (brokenSource) NextLine() (string, error) {
	return "", errBroken
}

func TestInterpreter_InputError(t *testing.T) {
	interpreter := newInterpreter(t, ".,", bf.WithInput(brokenSource{}))
	output, err := interpreter.Run()
	utils.AssertErrorIs(t, err, errBroken)
	utils.AssertEqual(t, output, "")
}

func TestInterpreter_UnmatchedOpen(t *testing.T) {
	_, err := newInterpreter(t, "+[").Run()
	openErr := utils.AssertErrorAs[*bf.UnmatchedOpenError](t, err)
	if openErr != nil {
		utils.AssertEqual(t, openErr.Pos, 1)
	}
	utils.AssertErrorIs(t, err, bf.ErrMalformedProgram)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected invalid argument")
}

func TestInterpreter_UnmatchedClose(t *testing.T) {
	_, err := newInterpreter(t, "]").Run()
	closeErr := utils.AssertErrorAs[*bf.UnmatchedCloseError](t, err)
	if closeErr != nil {
		utils.AssertEqual(t, closeErr.Pos, 0)
	}
	utils.AssertErrorIs(t, err, bf.ErrMalformedProgram)
}

func TestInterpreter_PartialOutputDiscarded(t *testing.T) {
	output, err := newInterpreter(t, "+.]").Run()
	utils.AssertError(t, err)
	utils.AssertEqual(t, output, "")
}

func TestInterpreter_LoopLimit(t *testing.T) {
	_, err := newInterpreter(t, "+[-]", bf.WithLoopLimit(0)).Run()
	limitErr := utils.AssertErrorAs[*bf.LoopLimitError](t, err)
	if limitErr != nil {
		utils.AssertEqual(t, limitErr.Limit, 0)
	}
	utils.AssertErrorIs(t, err, bf.ErrMalformedProgram)
	utils.Assert(t, errdefs.IsResourceExhausted(err), "Expected resource exhausted")

	output, err := newInterpreter(t, "+[-]", bf.WithLoopLimit(bf.Unbounded)).Run()
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, output, "")
}

func TestInterpreter_LoopLimitCountsEveryClose(t *testing.T) {
	// two separate loops, each closed once
	interpreter := newInterpreter(t, "[][]", bf.WithLoopLimit(2))
	run(t, interpreter)
	utils.AssertEqual(t, interpreter.LoopCount(), 2)

	_, err := newInterpreter(t, "[][][]", bf.WithLoopLimit(2)).Run()
	utils.AssertErrorAs[*bf.LoopLimitError](t, err)
}

func TestInterpreter_InvalidArguments(t *testing.T) {
	_, err := bf.NewInterpreter("+", bf.WithTapeSize(0))
	utils.AssertErrorAs[*bf.InvalidTapeSizeError](t, err)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected invalid argument")

	_, err = bf.NewInterpreter("+", bf.WithLoopLimit(-2))
	utils.AssertErrorAs[*bf.InvalidLoopLimitError](t, err)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected invalid argument")
}

func TestInterpreter_FillerIgnored(t *testing.T) {
	program := "++++++[>++++++++<-]>+." // '1'
	filled := "six: ++++++ [ move > ++++++++ back < -1 ] \n then > + and print ."
	utils.AssertEqual(t, bf.PreLex(filled), program)
	utils.AssertEqual(t, run(t, newInterpreter(t, filled)), run(t, newInterpreter(t, program)))
}

func TestInterpreter_RunTwice(t *testing.T) {
	interpreter := newInterpreter(t, ">+++.")
	first := run(t, interpreter)
	second := run(t, interpreter)
	utils.AssertEqual(t, first, second)
	utils.AssertEqual(t, interpreter.At(1), 3)
}

func TestInterpreter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	output, err := newInterpreter(t, "+[]").RunContext(ctx)
	utils.AssertErrorIs(t, err, context.Canceled)
	utils.AssertEqual(t, output, "")
}

func TestExecute(t *testing.T) {
	output, err := bf.Execute(",+.", bf.Lines("a"), bf.DefaultTapeSize, bf.Unbounded)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, output, "b")

	_, err = bf.Execute("+", nil, 0, bf.Unbounded)
	utils.AssertErrorAs[*bf.InvalidTapeSizeError](t, err)
}
