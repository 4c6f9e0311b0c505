// Command asreplay replays a scripted scenario of acceleration-structure builds and removals
// through the lifecycle manager on a simulated GPU, printing the manager's telemetry as frames
// advance.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("asreplay", flag.ContinueOnError)
	flags.SetOutput(stderr)

	verbose := flags.Bool("v", false, "log debug traces of every manager and pool operation")
	printEvery := flags.Int("print-every", 1, "print telemetry every n frames; 0 prints only the final frame")
	stats := flags.Bool("stats", false, "print the detailed stats json after the last frame")
	interactive := flags.Bool("i", false, "step through frames interactively")

	err := flags.Parse(args)
	if err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: asreplay [flags] scenario.yaml")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(stderr))

	file, err := os.Open(flags.Arg(0))
	if err != nil {
		return errors.Wrap(err, "failed to open scenario")
	}
	defer file.Close()

	scenario, err := LoadScenario(file)
	if err != nil {
		return err
	}

	replay, err := NewReplay(logger, scenario)
	if err != nil {
		return err
	}

	if *interactive {
		err = runInteractive(replay, stdout)
	} else {
		err = runBatch(replay, stdout, *printEvery)
	}
	if err != nil {
		return err
	}

	if *stats {
		fmt.Fprintln(stdout, replay.Manager().BuildStatsString(true))
	}

	return replay.Finish()
}

func runBatch(replay *Replay, out io.Writer, printEvery int) error {
	for !replay.Done() {
		err := replay.Step()
		if err != nil {
			return err
		}

		if printEvery > 0 && replay.Frame()%uint64(printEvery) == 0 {
			fmt.Fprint(out, replay.Manager().Telemetry())
		}
	}

	if printEvery == 0 {
		fmt.Fprint(out, replay.Manager().Telemetry())
	}
	return nil
}

const interactiveHelp = `Commands:
  <enter>, n   advance one frame
  c            run to the end of the scenario
  t            print telemetry
  s            print stats json
  q            quit
`

func runInteractive(replay *Replay, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: fmt.Sprintf("frame %d> ", replay.Frame()),
		Stdout: out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create readline instance")
	}
	defer rl.Close()

	fmt.Fprint(out, interactiveHelp)

	for !replay.Done() {
		rl.SetPrompt(fmt.Sprintf("frame %d> ", replay.Frame()))

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "", "n":
			err = replay.Step()
			if err == nil {
				fmt.Fprint(out, replay.Manager().Telemetry())
			}
		case "c":
			err = runBatch(replay, out, 0)
		case "t":
			fmt.Fprint(out, replay.Manager().Telemetry())
		case "s":
			fmt.Fprintln(out, replay.Manager().BuildStatsString(false))
		case "q":
			return nil
		default:
			fmt.Fprint(out, interactiveHelp)
		}

		if err != nil {
			return err
		}
	}

	return nil
}
