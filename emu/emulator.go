package emu

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sarchlab/armemu/insts"
)

// StopReason tells why Step last returned false.
type StopReason uint8

// Stop reasons.
const (
	StopNone StopReason = iota
	StopHalted
	StopBreakpoint
	StopInstructionLimit
)

func (r StopReason) String() string {
	switch r {
	case StopHalted:
		return "halted"
	case StopBreakpoint:
		return "breakpoint"
	case StopInstructionLimit:
		return "instruction limit"
	}
	return "running"
}

// Emulator executes ARM and Thumb instructions functionally.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	dataBus        Bus
	fetchBus       Bus
	armDecoder     *insts.ARMDecoder
	thumbDecoder   *insts.ThumbDecoder
	syscallHandler SyscallHandler
	tracer         Tracer
	logger         *slog.Logger
	flagPolicy     FlagPolicy

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	// I/O
	stdout io.Writer
	stderr io.Writer

	// Execution state
	entryPoint       uint32
	stackPointer     uint32
	breakpoints      map[uint32]struct{}
	halted           bool
	exitCode         int32
	stopReason       StopReason
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithStackPointer sets the value r13 takes on every reset.
func WithStackPointer(sp uint32) EmulatorOption {
	return func(e *Emulator) {
		e.stackPointer = sp
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithTracer sets the tracer that observes each decoded instruction.
func WithTracer(t Tracer) EmulatorOption {
	return func(e *Emulator) {
		e.tracer = t
	}
}

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithFetchBus routes instruction fetches through b instead of memory.
func WithFetchBus(b Bus) EmulatorOption {
	return func(e *Emulator) {
		e.fetchBus = b
	}
}

// WithDataBus routes loads, stores and syscall buffers through b instead
// of memory.
func WithDataBus(b Bus) EmulatorOption {
	return func(e *Emulator) {
		e.dataBus = b
	}
}

// WithFlagPolicy selects how data-processing flags are computed.
func WithFlagPolicy(p FlagPolicy) EmulatorOption {
	return func(e *Emulator) {
		e.flagPolicy = p
	}
}

// NewEmulator creates a new emulator over memory. The memory is shared with
// the caller, who remains responsible for populating it.
func NewEmulator(memory *Memory, opts ...EmulatorOption) *Emulator {
	regFile := &RegFile{}

	e := &Emulator{
		regFile:      regFile,
		memory:       memory,
		armDecoder:   insts.NewARMDecoder(),
		thumbDecoder: insts.NewThumbDecoder(),
		tracer:       NopTracer{},
		logger:       slog.Default(),
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		breakpoints:  make(map[uint32]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.dataBus == nil {
		e.dataBus = memory
	}
	if e.fetchBus == nil {
		e.fetchBus = memory
	}

	e.alu = NewALU(regFile)
	e.lsu = NewLoadStoreUnit(regFile, e.dataBus)
	e.branchUnit = NewBranchUnit(regFile)

	if e.syscallHandler == nil {
		h := NewDefaultSyscallHandler(regFile, e.dataBus, e.stdout, e.stderr)
		h.SetLogger(e.logger)
		e.syscallHandler = h
	}

	e.Reset()

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed since reset.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Halted reports whether an exit syscall has run.
func (e *Emulator) Halted() bool {
	return e.halted
}

// ExitCode returns r0 as it was when the exit syscall ran.
func (e *Emulator) ExitCode() int32 {
	return e.exitCode
}

// StopReason returns why the last Step returned false.
func (e *Emulator) StopReason() StopReason {
	return e.stopReason
}

// Reset zeroes every register except r15, which takes the entry point,
// clears both status registers and leaves the halted state. r13 takes the
// configured stack pointer, zero unless WithStackPointer was given.
func (e *Emulator) Reset() {
	*e.regFile = RegFile{}
	e.regFile.R[RegPC] = e.entryPoint
	e.regFile.R[RegSP] = e.stackPointer
	e.halted = false
	e.exitCode = 0
	e.stopReason = StopNone
	e.instructionCount = 0
}

// SetEntryPoint sets the entry point and moves r15 there.
func (e *Emulator) SetEntryPoint(addr uint32) {
	e.entryPoint = addr
	e.regFile.R[RegPC] = addr
}

// EntryPoint returns the address r15 takes on reset.
func (e *Emulator) EntryPoint() uint32 {
	return e.entryPoint
}

// AddBreakpoint adds a breakpoint at addr.
func (e *Emulator) AddBreakpoint(addr uint32) {
	e.breakpoints[addr] = struct{}{}
}

// RemoveBreakpoint removes the breakpoint at addr, if any.
func (e *Emulator) RemoveBreakpoint(addr uint32) {
	delete(e.breakpoints, addr)
}

// HasBreakpoint reports whether addr has a breakpoint.
func (e *Emulator) HasBreakpoint(addr uint32) bool {
	_, ok := e.breakpoints[addr]
	return ok
}

// PeekRegister returns register idx as a signed value.
func (e *Emulator) PeekRegister(idx int) int32 {
	return int32(e.regFile.R[idx&0xF])
}

// PokeRegister sets register idx.
func (e *Emulator) PokeRegister(idx int, value int32) {
	e.regFile.R[idx&0xF] = uint32(value)
}

// Step executes a single instruction. It returns false without executing
// when the emulator is halted, when r15 (Thumb bit masked) is a
// breakpoint or when the instruction limit is reached. It also returns
// false after executing an exit syscall.
func (e *Emulator) Step() bool {
	if e.halted {
		e.stopReason = StopHalted
		e.logger.Info("halted", "exit_code", e.exitCode)
		return false
	}

	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		e.stopReason = StopInstructionLimit
		e.logger.Info("instruction limit reached", "count", e.instructionCount)
		return false
	}

	pc := e.regFile.R[RegPC] &^ 1
	if e.HasBreakpoint(pc) {
		e.stopReason = StopBreakpoint
		e.logger.Info("breakpoint", "pc", fmt.Sprintf("0x%08x", pc))
		return false
	}

	if e.regFile.CPSR.T {
		e.stepThumb(pc)
	} else {
		e.stepARM(pc)
	}
	e.instructionCount++

	if e.halted {
		e.stopReason = StopHalted
		return false
	}

	e.stopReason = StopNone
	return true
}

// Run steps until Step returns false and reports why it stopped.
func (e *Emulator) Run() StopReason {
	for e.Step() {
	}
	return e.stopReason
}

// conditionPassed evaluates cond against the current flags. The reserved
// encoding is reported and treated as failing.
func (e *Emulator) conditionPassed(cond insts.Cond, addr uint32) bool {
	ok, err := cond.Evaluate(e.regFile.Flags())
	if err != nil {
		e.logger.Warn("unsupported condition",
			"pc", fmt.Sprintf("0x%08x", addr), "err", err)
		return false
	}
	return ok
}

// syscall runs the SWI handler.
func (e *Emulator) syscall(num uint8) {
	result := e.syscallHandler.Handle(num)
	if result.Exited {
		e.halted = true
		e.exitCode = result.ExitCode
	}
}

func (e *Emulator) unknown(addr uint32, inst *insts.Instruction) {
	e.logger.Warn("unknown opcode",
		"pc", fmt.Sprintf("0x%08x", addr),
		"opcode", fmt.Sprintf("0x%x", inst.Raw),
		"thumb", inst.Thumb)
}

// DumpRegisters writes r0-r15, the CPSR with its main fields, and the SPSR.
func (e *Emulator) DumpRegisters(w io.Writer) error {
	r := e.regFile
	if _, err := fmt.Fprintf(w, "REGISTERS DUMP:\n===============\n"); err != nil {
		return err
	}

	for i := 0; i < 16; i += 2 {
		if _, err := fmt.Fprintf(w, "r%-2d: 0x%08X\t\tr%-2d: 0x%08X\n",
			i, r.R[i], i+1, r.R[i+1]); err != nil {
			return err
		}
	}

	c := r.CPSR
	_, err := fmt.Fprintf(w,
		"\ncpsr: 0x%x\n (z: %t, n: %t, c: %t, v: %t, I: %t, F: %t, t: %t, mode: %d)\nspsr: 0x%x\n",
		c.Pack(), c.Z, c.N, c.C, c.V, c.I, c.F, c.T, c.Mode, r.SPSR)
	return err
}

// DumpStack writes count words starting at r13.
func (e *Emulator) DumpStack(w io.Writer, count int) error {
	if _, err := fmt.Fprintf(w, "STACK DUMP:\n===========\n"); err != nil {
		return err
	}

	sp := e.regFile.SP()
	for i := 0; i < count; i++ {
		value := e.dataBus.Read32(sp + uint32(i)<<2)
		if _, err := fmt.Fprintf(w, "[%02d] 0x%08X\n", i, value); err != nil {
			return err
		}
	}
	return nil
}
