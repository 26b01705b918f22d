package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MarcinKonowalczyk/buffy/bf"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// comptime override for debug flag
// set with `-ldflags="-X 'main.debug=true'"`
var debug string

// Exit codes of the brainfuck subcommand
const (
	exitOK = iota
	exitError
	exitUsage
	exitMalformed
	exitLoopLimit
)

type brainfuckFlags struct {
	file      string
	tapeSize  int
	loopLimit int
	noInput   bool
	timing    bool
	logLevel  string
}

func parseBrainfuckFlags(args []string, output io.Writer) (*brainfuckFlags, error) {
	flags := &brainfuckFlags{}
	my_flagset := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	my_flagset.SetOutput(output)
	my_flagset.StringVar(&flags.file, "file", "", "brainfuck source file (read from the first line of stdin if empty)")
	my_flagset.IntVar(&flags.tapeSize, "tape-size", bf.DefaultTapeSize, "number of cells on the tape")
	my_flagset.IntVar(&flags.loopLimit, "loop-limit", bf.Unbounded, "maximum number of loop closes evaluated, -1 for no limit")
	my_flagset.BoolVar(&flags.noInput, "no-input", false, "make , a no-op instead of reading stdin lines")
	my_flagset.BoolVar(&flags.timing, "time", false, "print the elapsed time to stderr")
	my_flagset.StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	if err := my_flagset.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}
	if my_flagset.NArg() > 0 {
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unexpected arguments: %v", my_flagset.Args()))
	}
	return flags, nil
}

// runBrainfuck runs a program file as the brainfuck subcommand does. Lines of
// stdin after the file path (if it is read from there) feed `,`.
func runBrainfuck(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	flags, err := parseBrainfuckFlags(args, stderr)
	if err != nil {
		return err
	}

	level := flags.logLevel
	if debug != "" {
		level = "debug"
	}
	if err := log.SetLevel(level); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}

	input := bf.NewLineReader(stdin)

	filename := flags.file
	if filename == "" {
		fmt.Fprintln(stderr, "Please enter file path:")
		filename, err = input.NextLine()
		if err != nil {
			return fmt.Errorf("reading file path: %w", err)
		}
		filename = strings.TrimSpace(filename)
	}

	source, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"file":         filename,
		"instructions": len(bf.Lex(string(source))),
	}).Debug("loaded program")

	opts := []bf.Option{
		bf.WithTapeSize(flags.tapeSize),
		bf.WithLoopLimit(flags.loopLimit),
	}
	if !flags.noInput {
		opts = append(opts, bf.WithInput(input))
	}
	interpreter, err := bf.NewInterpreter(string(source), opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	output, err := interpreter.RunContext(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(stdout, output); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if flags.timing {
		fmt.Fprintf(stderr, "Took %d ns\n", elapsed.Nanoseconds())
	}
	return nil
}

func exitCode(err error) int {
	var limitErr *bf.LoopLimitError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &limitErr):
		return exitLoopLimit
	case errors.Is(err, bf.ErrMalformedProgram):
		return exitMalformed
	case errdefs.IsInvalidArgument(err):
		return exitUsage
	default:
		return exitError
	}
}
