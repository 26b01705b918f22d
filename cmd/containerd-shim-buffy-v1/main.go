package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	buffy_shim "github.com/MarcinKonowalczyk/buffy/shim"

	"github.com/containerd/containerd/v2/pkg/shim"
)

const runtimeName = "io.containerd.buffy.v1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Maybe hijack the shim to run as brainfuck interpreter
	brainfuck, args := isBrainfuckArg(os.Args[1:])

	if brainfuck {
		err := runBrainfuck(ctx, args, os.Stdin, os.Stdout, os.Stderr)
		if err != nil && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "Error running brainfuck:", err)
		}
		cancel()
		os.Exit(exitCode(err))
	}

	defer cancel()
	shim.Run(ctx, buffy_shim.NewManager(runtimeName))
}

func isBrainfuckArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "brainfuck" {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}
