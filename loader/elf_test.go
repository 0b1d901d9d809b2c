package loader_test

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armemu/emu"
	"github.com/sarchlab/armemu/loader"
)

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	// mov r0, #42; swi 0
	code := armWords(0xE3A0002A, 0xEF000000)

	Describe("Load", func() {
		Context("with a valid ARM ELF binary", func() {
			var elfPath string

			BeforeEach(func() {
				elfPath = filepath.Join(tempDir, "test.elf")
				createARMELF(elfPath, 0x8000, testSegment{vaddr: 0x8000, data: code, flags: 0x5})
			})

			It("should extract the correct entry point", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint32(0x8000)))
				Expect(prog.Thumb()).To(BeFalse())
			})

			It("should load segment contents", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].VirtAddr).To(Equal(uint32(0x8000)))
				Expect(prog.Segments[0].Data).To(Equal(code))
				Expect(prog.Segments[0].Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(prog.Segments[0].Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should set up the initial stack pointer", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.InitialSP).To(Equal(uint32(loader.DefaultStackTop)))
			})
		})

		It("should report a Thumb entry point", func() {
			elfPath := filepath.Join(tempDir, "thumb.elf")
			createARMELF(elfPath, 0x8001, testSegment{vaddr: 0x8000, data: []byte{0x2A, 0x20}, flags: 0x5})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Thumb()).To(BeTrue())
		})

		It("should load multiple PT_LOAD segments", func() {
			elfPath := filepath.Join(tempDir, "multi-segment.elf")
			dataData := []byte{0x01, 0x02, 0x03, 0x04}
			createARMELF(elfPath, 0x8000,
				testSegment{vaddr: 0x8000, data: code, flags: 0x5},
				testSegment{vaddr: 0x10000, data: dataData, flags: 0x6},
			)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[1].VirtAddr).To(Equal(uint32(0x10000)))
			Expect(prog.Segments[1].Data).To(Equal(dataData))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
		})

		It("should handle BSS segments where Memsz > Filesz", func() {
			elfPath := filepath.Join(tempDir, "bss.elf")
			createARMELF(elfPath, 0x8000,
				testSegment{vaddr: 0x10000, data: []byte{1, 2, 3, 4}, memsz: 1024, flags: 0x6})

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(HaveLen(4))
			Expect(prog.Segments[0].MemSize).To(Equal(uint32(1024)))
		})

		It("should return empty segments for an ELF with no PT_LOAD", func() {
			elfPath := filepath.Join(tempDir, "no-load.elf")
			createARMELF(elfPath, 0x8000)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				notElfPath := filepath.Join(tempDir, "not-elf.bin")
				Expect(os.WriteFile(notElfPath, []byte("not an elf file"), 0644)).To(Succeed())

				_, err := loader.Load(notElfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should reject other machines", func() {
				elfPath := filepath.Join(tempDir, "x86.elf")
				createELF(elfPath, 3, 0)

				_, err := loader.Load(elfPath)
				Expect(err).To(MatchError(ContainSubstring("not an ARM")))
			})

			It("should reject 64-bit ELF files", func() {
				elfPath := filepath.Join(tempDir, "elf64.elf")
				createELF64(elfPath)

				_, err := loader.Load(elfPath)
				Expect(err).To(MatchError(ContainSubstring("not a 32-bit")))
			})
		})
	})

	Describe("MapInto", func() {
		var mem *emu.Memory

		BeforeEach(func() {
			mem = emu.NewMemory()
			mem.SetLogger(slog.New(slog.DiscardHandler))
		})

		It("should map each segment and zero the BSS tail", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0x8000, Data: code, MemSize: uint32(len(code))},
				{VirtAddr: 0x10000, Data: []byte{0xAA}, MemSize: 16},
			}}

			Expect(prog.MapInto(mem)).To(Succeed())

			Expect(mem.Chunks()).To(HaveLen(2))
			Expect(mem.Read32(0x8000)).To(Equal(uint32(0xE3A0002A)))
			Expect(mem.Read8(0x10000)).To(Equal(uint8(0xAA)))
			Expect(mem.Read8(0x1000F)).To(BeZero())
		})

		It("should write into a chunk that is already mapped", func() {
			_, err := mem.Create(0, 0x1000)
			Expect(err).NotTo(HaveOccurred())
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0x100, Data: []byte{1, 2}, MemSize: 2},
			}}

			Expect(prog.MapInto(mem)).To(Succeed())

			Expect(mem.Chunks()).To(HaveLen(1))
			Expect(mem.Read16(0x100)).To(Equal(uint16(0x0201)))
		})

		It("should fail when a segment runs past an existing chunk", func() {
			_, err := mem.Create(0, 0x100)
			Expect(err).NotTo(HaveOccurred())
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0xFF, Data: []byte{1, 2}, MemSize: 2},
			}}

			Expect(prog.MapInto(mem)).NotTo(Succeed())
		})

		It("should map the stack below the initial stack pointer", func() {
			prog := &loader.Program{InitialSP: 0x20000}

			Expect(prog.MapStack(mem, 0x1000)).To(Succeed())

			chunk := mem.Find(0x1FFFC)
			Expect(chunk).NotTo(BeNil())
			Expect(chunk.Base()).To(Equal(int64(0x1F000)))
		})

		It("should run a mapped program to completion", func() {
			elfPath := filepath.Join(tempDir, "run.elf")
			createARMELF(elfPath, 0x8000, testSegment{vaddr: 0x8000, data: code, flags: 0x5})
			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.MapInto(mem)).To(Succeed())

			e := emu.NewEmulator(mem, emu.WithLogger(slog.New(slog.DiscardHandler)))
			e.SetEntryPoint(prog.EntryPoint)

			Expect(e.Run()).To(Equal(emu.StopHalted))
			Expect(e.ExitCode()).To(Equal(int32(42)))
		})
	})
})

type testSegment struct {
	vaddr uint32
	data  []byte
	memsz uint32
	flags uint32
}

func armWords(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// createARMELF writes a little-endian ELF32 ARM executable with one
// PT_LOAD program header per segment.
func createARMELF(path string, entry uint32, segs ...testSegment) {
	header := elf32Header(40, entry, len(segs))

	offset := uint32(52 + 32*len(segs))
	var progHeaders, payload []byte
	for _, s := range segs {
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint32(len(s.data))
		}

		ph := make([]byte, 32)
		binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
		binary.LittleEndian.PutUint32(ph[4:8], offset)
		binary.LittleEndian.PutUint32(ph[8:12], s.vaddr)
		binary.LittleEndian.PutUint32(ph[12:16], s.vaddr)
		binary.LittleEndian.PutUint32(ph[16:20], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(ph[20:24], memsz)
		binary.LittleEndian.PutUint32(ph[24:28], s.flags)
		binary.LittleEndian.PutUint32(ph[28:32], 4)

		progHeaders = append(progHeaders, ph...)
		payload = append(payload, s.data...)
		offset += uint32(len(s.data))
	}

	writeFile(path, header, progHeaders, payload)
}

// createELF writes a header-only ELF32 file for the given machine.
func createELF(path string, machine uint16, entry uint32) {
	writeFile(path, elf32Header(machine, entry, 0))
}

func elf32Header(machine uint16, entry uint32, phnum int) []byte {
	h := make([]byte, 52)
	copy(h[0:4], []byte{0x7f, 'E', 'L', 'F'})
	h[4] = 1 // 32-bit
	h[5] = 1 // little endian
	h[6] = 1 // version
	binary.LittleEndian.PutUint16(h[16:18], 2) // executable
	binary.LittleEndian.PutUint16(h[18:20], machine)
	binary.LittleEndian.PutUint32(h[20:24], 1)
	binary.LittleEndian.PutUint32(h[24:28], entry)
	if phnum > 0 {
		binary.LittleEndian.PutUint32(h[28:32], 52)
	}
	binary.LittleEndian.PutUint16(h[40:42], 52)
	binary.LittleEndian.PutUint16(h[42:44], 32)
	binary.LittleEndian.PutUint16(h[44:46], uint16(phnum))
	binary.LittleEndian.PutUint16(h[46:48], 40)
	return h
}

// createELF64 writes a header-only ELF64 ARM file to test rejection.
func createELF64(path string) {
	h := make([]byte, 64)
	copy(h[0:4], []byte{0x7f, 'E', 'L', 'F'})
	h[4] = 2 // 64-bit
	h[5] = 1
	h[6] = 1
	binary.LittleEndian.PutUint16(h[16:18], 2)
	binary.LittleEndian.PutUint16(h[18:20], 40)
	binary.LittleEndian.PutUint32(h[20:24], 1)
	binary.LittleEndian.PutUint16(h[52:54], 64)
	binary.LittleEndian.PutUint16(h[54:56], 56)
	binary.LittleEndian.PutUint16(h[58:60], 64)
	writeFile(path, h)
}

func writeFile(path string, parts ...[]byte) {
	file, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = file.Close() }()

	for _, p := range parts {
		_, err = file.Write(p)
		Expect(err).NotTo(HaveOccurred())
	}
}
