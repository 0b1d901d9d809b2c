package emu_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armemu/emu"
	"github.com/sarchlab/armemu/insts"
)

var _ = Describe("Emulator", func() {
	var (
		e   *emu.Emulator
		mem *emu.Memory
	)

	BeforeEach(func() {
		e, mem = newTestEmulator()
	})

	It("should branch with the pipeline correction", func() {
		loadARM(mem, 0, 0xEA000006) // B #+32

		Expect(e.Step()).To(BeTrue())
		Expect(e.RegFile().PC()).To(Equal(uint32(0 + 6<<2 + 8)))
	})

	It("should restore r4 and sp across PUSH/POP", func() {
		e, mem = newTestEmulator(emu.WithStackPointer(0x8000))
		loadThumb(mem, 0x100,
			0x2442, // MOV r4, #0x42
			0xB410, // PUSH {r4}
			0x2400, // MOV r4, #0
			0xBC10, // POP {r4}
		)
		e.SetEntryPoint(0x100)
		e.RegFile().CPSR.T = true

		stepN(e, 2)
		Expect(e.RegFile().SP()).To(Equal(uint32(0x7FFC)))
		stepN(e, 2)

		Expect(e.PeekRegister(4)).To(Equal(int32(0x42)))
		Expect(e.RegFile().SP()).To(Equal(uint32(0x8000)))
	})

	Describe("breakpoints", func() {
		BeforeEach(func() {
			loadARM(mem, 0,
				0xE3A0002A, // MOV r0, #42
				0xE5810000, // STR r0, [r1]
			)
			e.PokeRegister(1, 0x200)
		})

		It("should stop without mutating state", func() {
			e.AddBreakpoint(0)
			before := *e.RegFile()
			word := mem.Read32(0x200)

			Expect(e.Step()).To(BeFalse())
			Expect(e.StopReason()).To(Equal(emu.StopBreakpoint))
			Expect(*e.RegFile()).To(Equal(before))
			Expect(mem.Read32(0x200)).To(Equal(word))
			Expect(e.InstructionCount()).To(BeZero())
		})

		It("should resume once removed", func() {
			e.AddBreakpoint(0)
			Expect(e.HasBreakpoint(0)).To(BeTrue())
			e.RemoveBreakpoint(0)
			Expect(e.HasBreakpoint(0)).To(BeFalse())

			Expect(e.Step()).To(BeTrue())
			Expect(e.PeekRegister(0)).To(Equal(int32(42)))
		})

		It("should stop Run at a later breakpoint", func() {
			e.AddBreakpoint(4)

			Expect(e.Run()).To(Equal(emu.StopBreakpoint))
			Expect(e.RegFile().PC()).To(Equal(uint32(4)))
		})

		It("should mask the Thumb bit before matching", func() {
			e.AddBreakpoint(0x100)
			e.PokeRegister(15, 0x101)
			e.RegFile().CPSR.T = true

			Expect(e.Step()).To(BeFalse())
		})
	})

	Describe("halting", func() {
		It("should stop on exit and stay stopped", func() {
			loadARM(mem, 0,
				0xEF000000, // SWI 0
				0xE3A00001, // MOV r0, #1
			)
			e.PokeRegister(0, 3)

			Expect(e.Step()).To(BeFalse())
			Expect(e.Halted()).To(BeTrue())
			Expect(e.StopReason()).To(Equal(emu.StopHalted))
			Expect(e.ExitCode()).To(Equal(int32(3)))

			Expect(e.Step()).To(BeFalse())
			Expect(e.InstructionCount()).To(Equal(uint64(1)))
			Expect(e.PeekRegister(0)).To(Equal(int32(3)))
			Expect(e.RegFile().PC()).To(Equal(uint32(4)))
		})

		It("should clear the halt on reset", func() {
			loadARM(mem, 0, 0xEF000000)
			Expect(e.Step()).To(BeFalse())

			e.Reset()

			Expect(e.Halted()).To(BeFalse())
			Expect(e.StopReason()).To(Equal(emu.StopNone))
			Expect(e.Step()).To(BeFalse())
		})
	})

	It("should stop at the instruction limit", func() {
		e, mem = newTestEmulator(emu.WithMaxInstructions(2))
		loadARM(mem, 0, 0xE1A00000, 0xE1A00000, 0xE1A00000)

		Expect(e.Run()).To(Equal(emu.StopInstructionLimit))
		Expect(e.InstructionCount()).To(Equal(uint64(2)))
	})

	Describe("Reset", func() {
		It("should zero registers except PC", func() {
			e.SetEntryPoint(0x40)
			for i := 0; i < 15; i++ {
				e.PokeRegister(i, int32(i+1))
			}
			e.RegFile().CPSR.N = true
			e.RegFile().SPSR = 0x10

			e.Reset()

			for i := 0; i < 15; i++ {
				Expect(e.PeekRegister(i)).To(BeZero())
			}
			Expect(e.RegFile().PC()).To(Equal(uint32(0x40)))
			Expect(e.EntryPoint()).To(Equal(uint32(0x40)))
			Expect(e.RegFile().CPSR).To(Equal(emu.PSR{}))
			Expect(e.RegFile().SPSR).To(BeZero())
		})

		It("should apply the configured stack pointer", func() {
			e, _ = newTestEmulator(emu.WithStackPointer(0x8000))
			e.PokeRegister(13, 0)

			e.Reset()

			Expect(e.RegFile().SP()).To(Equal(uint32(0x8000)))
		})
	})

	It("should peek and poke signed values", func() {
		e.PokeRegister(3, -1)

		Expect(e.PeekRegister(3)).To(Equal(int32(-1)))
		Expect(e.RegFile().R[3]).To(Equal(uint32(0xFFFFFFFF)))
	})

	It("should interwork from ARM into Thumb", func() {
		loadARM(mem, 0,
			0xE28F0001, // ADD r0, pc, #1
			0xE12FFF10, // BX r0
		)
		loadThumb(mem, 8,
			0x2007, // MOV r0, #7
			0xDF00, // SWI 0
		)

		Expect(e.Run()).To(Equal(emu.StopHalted))
		Expect(e.ExitCode()).To(Equal(int32(7)))
		Expect(e.RegFile().CPSR.T).To(BeTrue())
	})

	It("should skip reserved-condition instructions", func() {
		loadARM(mem, 0, 0xF3A00001) // MOVNV r0, #1

		Expect(e.Step()).To(BeTrue())
		Expect(e.PeekRegister(0)).To(BeZero())
		Expect(e.RegFile().PC()).To(Equal(uint32(4)))
	})

	It("should continue past unknown Thumb opcodes", func() {
		loadThumb(mem, 0x100, 0xB100)
		e.SetEntryPoint(0x100)
		e.RegFile().CPSR.T = true

		Expect(e.Step()).To(BeTrue())
		Expect(e.RegFile().PC()).To(Equal(uint32(0x102)))
	})

	It("should continue past coprocessor transfers", func() {
		loadARM(mem, 0, 0xEE010F10)

		Expect(e.Step()).To(BeTrue())
		Expect(e.RegFile().PC()).To(Equal(uint32(4)))
	})

	Describe("write syscall", func() {
		It("should send the buffer to stdout", func() {
			var out bytes.Buffer
			e, mem = newTestEmulator(emu.WithStdout(&out))
			loadARM(mem, 0,
				0xE3A00001, // MOV r0, #1
				0xE3A01C01, // MOV r1, #0x100
				0xE3A02005, // MOV r2, #5
				0xEF000004, // SWI 4
				0xE1A03000, // MOV r3, r0
				0xE3A00000, // MOV r0, #0
				0xEF000000, // SWI 0
			)
			_, err := mem.WriteAt([]byte("hello"), 0x100)
			Expect(err).NotTo(HaveOccurred())

			Expect(e.Run()).To(Equal(emu.StopHalted))
			Expect(out.String()).To(Equal("hello"))
			Expect(e.PeekRegister(3)).To(Equal(int32(5)))
			Expect(e.ExitCode()).To(BeZero())
		})
	})

	It("should use a custom syscall handler", func() {
		handler := &recordingHandler{}
		e, mem = newTestEmulator(emu.WithSyscallHandler(handler))
		loadARM(mem, 0, 0xEF000063, 0xEF000000)

		Expect(e.Step()).To(BeTrue())
		Expect(e.Step()).To(BeTrue())
		Expect(handler.nums).To(Equal([]uint8{0x63, 0}))
	})

	Describe("tracing", func() {
		It("should render executed and skipped instructions", func() {
			var trace bytes.Buffer
			e, mem = newTestEmulator(emu.WithTracer(emu.NewTextTracer(&trace)))
			loadARM(mem, 0,
				0xE2810005, // ADD r0, r1, #5
				0x13A00001, // MOVNE r0, #1
			)
			e.RegFile().CPSR.Z = true

			stepN(e, 2)

			Expect(trace.String()).To(Equal(
				"00000000 [A] (e2810005) add r0, r1, #0x5\n" +
					"00000004 [A] (13a00001) movne r0, #0x1 ; skipped\n"))
		})

		It("should pass decoded instructions to custom tracers", func() {
			tracer := &recordingTracer{}
			e, mem = newTestEmulator(emu.WithTracer(tracer))
			loadThumb(mem, 0x100, 0x2042)
			e.SetEntryPoint(0x100)
			e.RegFile().CPSR.T = true

			stepN(e, 1)

			Expect(tracer.addrs).To(Equal([]uint32{0x100}))
			Expect(tracer.ops).To(Equal([]insts.Op{insts.OpMOV}))
		})
	})

	Describe("dumps", func() {
		It("should dump registers", func() {
			var out bytes.Buffer
			e.PokeRegister(0, 42)
			e.RegFile().CPSR.Z = true

			Expect(e.DumpRegisters(&out)).To(Succeed())

			Expect(out.String()).To(ContainSubstring("REGISTERS DUMP:"))
			Expect(out.String()).To(ContainSubstring("r0 : 0x0000002A"))
			Expect(out.String()).To(ContainSubstring("cpsr: 0x40000000"))
			Expect(out.String()).To(ContainSubstring("z: true"))
		})

		It("should dump the stack from sp", func() {
			var out bytes.Buffer
			e.PokeRegister(13, 0x8000)
			mem.Write32(0x8000, 0xDEADBEEF)
			mem.Write32(0x8004, 0x1)

			Expect(e.DumpStack(&out, 2)).To(Succeed())

			Expect(out.String()).To(Equal(
				"STACK DUMP:\n===========\n[00] 0xDEADBEEF\n[01] 0x00000001\n"))
		})
	})
})

type recordingHandler struct {
	nums []uint8
}

func (h *recordingHandler) Handle(num uint8) emu.SyscallResult {
	h.nums = append(h.nums, num)
	return emu.SyscallResult{}
}

type recordingTracer struct {
	addrs []uint32
	ops   []insts.Op
}

func (t *recordingTracer) Trace(addr uint32, inst *insts.Instruction, _ bool) {
	t.addrs = append(t.addrs, addr)
	t.ops = append(t.ops, inst.Op)
}
