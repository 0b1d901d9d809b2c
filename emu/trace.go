package emu

import (
	"fmt"
	"io"

	"github.com/sarchlab/armemu/insts"
)

// Tracer observes every decoded instruction. executed is false when the
// condition failed and the instruction had no effect.
type Tracer interface {
	Trace(addr uint32, inst *insts.Instruction, executed bool)
}

// NopTracer discards all events.
type NopTracer struct{}

// Trace does nothing.
func (NopTracer) Trace(uint32, *insts.Instruction, bool) {}

// TextTracer writes one disassembly line per instruction.
type TextTracer struct {
	w io.Writer
}

// NewTextTracer creates a tracer writing to w.
func NewTextTracer(w io.Writer) *TextTracer {
	return &TextTracer{w: w}
}

// Trace writes "ADDR [A|T] (raw) text", marking skipped instructions.
func (t *TextTracer) Trace(addr uint32, inst *insts.Instruction, executed bool) {
	mode, raw := "A", fmt.Sprintf("%08x", inst.Raw)
	if inst.Thumb {
		mode, raw = "T", fmt.Sprintf("%04x", inst.Raw)
	}

	skipped := ""
	if !executed {
		skipped = " ; skipped"
	}

	_, _ = fmt.Fprintf(t.w, "%08X [%s] (%s) %s%s\n", addr, mode, raw, inst, skipped)
}
