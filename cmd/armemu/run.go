package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/sarchlab/armemu/cache"
	"github.com/sarchlab/armemu/config"
	"github.com/sarchlab/armemu/emu"
	"github.com/sarchlab/armemu/loader"
)

type runOptions struct {
	programPath   string
	hex           bool
	trace         bool
	dumpRegisters bool
	dumpStack     int
}

type runResult struct {
	stopReason   emu.StopReason
	exitCode     int32
	instructions uint64
	icache       *cache.Cache
	dcache       *cache.Cache
}

// buildConfig loads the configured file, or the defaults, and applies the
// command-line overrides.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("max-instructions") {
		cfg.MaxInstructions = c.Uint64("max-instructions")
	}
	if c.IsSet("flags") {
		cfg.FlagPolicy = c.String("flags")
	}

	bps, err := parseAddresses(c.StringSlice("break"))
	if err != nil {
		return nil, err
	}
	cfg.Breakpoints = append(cfg.Breakpoints, bps...)

	if c.Bool("cache") {
		if cfg.ICache == nil {
			ic := cache.DefaultICacheConfig()
			cfg.ICache = &ic
		}
		if cfg.DCache == nil {
			dc := cache.DefaultDCacheConfig()
			cfg.DCache = &dc
		}
	}

	return cfg, cfg.Validate()
}

// parseAddresses parses decimal, 0x-hex or 0-octal addresses.
func parseAddresses(values []string) ([]uint32, error) {
	addrs := make([]uint32, 0, len(values))
	for _, v := range values {
		a, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid breakpoint address %q: %w", v, err)
		}
		addrs = append(addrs, uint32(a))
	}
	return addrs, nil
}

func loadProgram(opts runOptions) (*loader.Program, error) {
	ext := strings.ToLower(filepath.Ext(opts.programPath))
	if opts.hex || ext == ".hex" || ext == ".ihex" {
		return loader.LoadHexFile(opts.programPath)
	}
	return loader.Load(opts.programPath)
}

// run maps memory, loads the program and runs it until it stops.
func run(
	cfg *config.Config,
	opts runOptions,
	stdout, stderr io.Writer,
	logger *slog.Logger,
) (*runResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	memory := emu.NewMemory()
	memory.SetLogger(logger)
	if err := cfg.MapMemory(memory); err != nil {
		return nil, err
	}

	prog, err := loadProgram(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	if err := prog.MapInto(memory); err != nil {
		return nil, err
	}
	logger.Debug("program loaded",
		"path", opts.programPath,
		"entry", fmt.Sprintf("0x%08x", prog.EntryPoint),
		"segments", len(prog.Segments))

	res := &runResult{}
	emuOpts := []emu.EmulatorOption{
		emu.WithStdout(stdout),
		emu.WithStderr(stderr),
		emu.WithLogger(logger),
		emu.WithMaxInstructions(cfg.MaxInstructions),
		emu.WithFlagPolicy(policy),
	}
	if cfg.StackSize > 0 {
		emuOpts = append(emuOpts, emu.WithStackPointer(cfg.StackTop))
	}
	if opts.trace {
		emuOpts = append(emuOpts, emu.WithTracer(emu.NewTextTracer(stderr)))
	}
	if cfg.ICache != nil {
		if res.icache, err = cache.New(*cfg.ICache, memory); err != nil {
			return nil, err
		}
		emuOpts = append(emuOpts, emu.WithFetchBus(res.icache))
	}
	if cfg.DCache != nil {
		if res.dcache, err = cache.New(*cfg.DCache, memory); err != nil {
			return nil, err
		}
		emuOpts = append(emuOpts, emu.WithDataBus(res.dcache))
	}

	e := emu.NewEmulator(memory, emuOpts...)
	e.SetEntryPoint(prog.EntryPoint &^ 1)
	e.RegFile().CPSR.T = prog.Thumb()
	for _, bp := range cfg.Breakpoints {
		e.AddBreakpoint(bp)
	}

	res.stopReason = e.Run()
	res.exitCode = e.ExitCode()
	res.instructions = e.InstructionCount()

	logger.Info("execution stopped",
		"reason", res.stopReason.String(),
		"instructions", res.instructions,
		"pc", fmt.Sprintf("0x%08x", e.RegFile().PC()),
		"exit_code", res.exitCode)

	if err := report(e, res, opts, stderr); err != nil {
		return nil, err
	}

	return res, nil
}

func report(e *emu.Emulator, res *runResult, opts runOptions, w io.Writer) error {
	if opts.dumpRegisters {
		if err := e.DumpRegisters(w); err != nil {
			return err
		}
	}
	if opts.dumpStack > 0 {
		if err := e.DumpStack(w, opts.dumpStack); err != nil {
			return err
		}
	}

	for _, p := range []struct {
		name  string
		cache *cache.Cache
	}{{"icache", res.icache}, {"dcache", res.dcache}} {
		if p.cache == nil {
			continue
		}
		s := p.cache.Stats()
		if _, err := fmt.Fprintf(w,
			"%s: reads=%d writes=%d hits=%d misses=%d evictions=%d writebacks=%d hit_rate=%.2f%%\n",
			p.name, s.Reads, s.Writes, s.Hits, s.Misses, s.Evictions, s.Writebacks,
			s.HitRate()*100); err != nil {
			return err
		}
	}

	return nil
}
