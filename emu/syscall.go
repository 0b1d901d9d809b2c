package emu

import (
	"io"
	"log/slog"
)

// Syscall numbers, taken from the low byte of the SWI comment field.
const (
	SyscallExit  uint8 = 0 // exit(r0)
	SyscallWrite uint8 = 4 // write(fd=r0, buf=r1, len=r2)
)

// maxWriteLen bounds a single write syscall.
const maxWriteLen = 1 << 20

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int32
}

// SyscallHandler is the interface for handling software interrupts.
type SyscallHandler interface {
	// Handle executes syscall num against the current register state.
	// Arguments are in r0-r2 and the return value goes to r0.
	Handle(num uint8) SyscallResult
}

// DefaultSyscallHandler implements exit and write.
type DefaultSyscallHandler struct {
	regFile *RegFile
	bus     Bus
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(
	regFile *RegFile,
	bus Bus,
	stdout, stderr io.Writer,
) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		bus:     bus,
		stdout:  stdout,
		stderr:  stderr,
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger used for unhandled syscalls and write errors.
func (h *DefaultSyscallHandler) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// Handle executes syscall num.
func (h *DefaultSyscallHandler) Handle(num uint8) SyscallResult {
	switch num {
	case SyscallExit:
		return SyscallResult{
			Exited:   true,
			ExitCode: int32(h.regFile.ReadReg(0)),
		}
	case SyscallWrite:
		h.handleWrite()
	default:
		h.logger.Warn("unhandled syscall", "num", num)
	}
	return SyscallResult{}
}

// handleWrite copies r2 bytes at r1 to stdout (fd 1) or stderr (fd 2) and
// returns the length in r0. Other descriptors are ignored.
func (h *DefaultSyscallHandler) handleWrite() {
	fd := h.regFile.ReadReg(0)
	bufPtr := h.regFile.ReadReg(1)
	count := h.regFile.ReadReg(2)

	var writer io.Writer
	switch fd {
	case 1:
		writer = h.stdout
	case 2:
		writer = h.stderr
	default:
		return
	}

	if count > maxWriteLen {
		h.logger.Warn("syscall write too long", "fd", fd, "len", count)
		return
	}

	buf := make([]byte, count)
	for i := uint32(0); i < count; i++ {
		buf[i] = h.bus.Read8(bufPtr + i)
	}

	if _, err := writer.Write(buf); err != nil {
		h.logger.Error("syscall write failed", "fd", fd, "err", err)
	}

	h.regFile.WriteReg(0, count)
}
