// Package main provides the armemu command, which loads an ARM ELF or
// Intel HEX image and runs it on the functional emulator.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "armemu"
	app.Description = "An ARM and Thumb instruction-set simulator"
	app.Usage = "armemu [options] <program.elf|program.hex>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "Path to a machine configuration JSON file",
		},
		cli.StringFlag{
			Name:  "save-config",
			Usage: "Write the effective configuration to this path and exit",
		},
		cli.BoolFlag{
			Name:  "hex",
			Usage: "Treat the program as Intel HEX regardless of its extension",
		},
		cli.Uint64Flag{
			Name:  "max-instructions",
			Usage: "Stop after this many instructions (0 = no limit, overrides config)",
		},
		cli.StringSliceFlag{
			Name:  "break",
			Usage: "Stop before executing the instruction at this address (repeatable)",
		},
		cli.StringFlag{
			Name:  "flags",
			Usage: "Flag policy: legacy or architectural (overrides config)",
		},
		cli.BoolFlag{
			Name:  "trace",
			Usage: "Print every decoded instruction to stderr",
		},
		cli.BoolFlag{
			Name:  "dump-registers",
			Usage: "Print the registers when execution stops",
		},
		cli.IntFlag{
			Name:  "dump-stack",
			Usage: "Print this many stack words when execution stops",
		},
		cli.BoolFlag{
			Name:  "cache",
			Usage: "Profile instruction and data accesses with the default caches",
		},
		cli.StringFlag{
			Name:  "cpuprofile",
			Usage: "Write a CPU profile of the run to this file",
		},
		cli.StringFlag{
			Name:  "memprofile",
			Usage: "Write a heap profile to this file after the run",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "Enable debug logging",
		},
	}
	app.Action = runApp

	err := app.Run(os.Args)
	if err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		slog.Error("Error running emulator", "error", err)
		os.Exit(1)
	}
}

// exitError carries a non-zero guest exit code out of the action.
type exitError int32

func (e exitError) Error() string {
	return "program exited with a non-zero code"
}

func runApp(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	if path := c.String("save-config"); path != "" {
		return cfg.Save(path)
	}

	if c.NArg() < 1 {
		cli.ShowAppHelp(c)
		return errors.New("no program path provided")
	}

	opts := runOptions{
		programPath:   c.Args().Get(0),
		hex:           c.Bool("hex"),
		trace:         c.Bool("trace"),
		dumpRegisters: c.Bool("dump-registers"),
		dumpStack:     c.Int("dump-stack"),
	}

	if path := c.String("cpuprofile"); path != "" {
		stop, err := startCPUProfile(path)
		if err != nil {
			return err
		}
		defer stop()
	}

	res, err := run(cfg, opts, os.Stdout, os.Stderr, logger)
	if err != nil {
		return err
	}

	if path := c.String("memprofile"); path != "" {
		if err := writeHeapProfile(path); err != nil {
			return err
		}
	}

	if res.exitCode != 0 {
		return exitError(res.exitCode)
	}
	return nil
}
