// Package loader reads ARM program images and maps them into emulator
// memory.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/armemu/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer for loaded programs. The
// stack grows down from here.
const DefaultStackTop = 0x00800000

// DefaultStackSize is the default stack size (64KB).
const DefaultStackSize = 64 * 1024

// Segment represents a loadable segment of a program image.
type Segment struct {
	// VirtAddr is the address where this segment should be loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded program image ready for execution.
type Program struct {
	// EntryPoint is the address where execution should begin. Bit 0 set
	// means the entry is Thumb code.
	EntryPoint uint32
	// Segments contains all loadable segments of the image.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint32
}

// Thumb reports whether the entry point is Thumb code.
func (p *Program) Thumb() bool {
	return p.EntryPoint&1 == 1
}

// Load parses a 32-bit ARM ELF binary and returns a Program struct ready for
// mapping into the emulator's memory.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}

	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("not an ARM ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		InitialSP:  DefaultStackTop,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}

// MapInto creates a chunk for every segment and copies the segment in.
// Bytes past the file data are zeroed. A segment whose start is already
// mapped is written into the existing chunk.
func (p *Program) MapInto(mem *emu.Memory) error {
	for _, seg := range p.Segments {
		size := seg.MemSize
		if size < uint32(len(seg.Data)) {
			size = uint32(len(seg.Data))
		}
		if size == 0 {
			continue
		}

		chunk, err := mem.Create(int64(seg.VirtAddr), int(size))
		if err != nil {
			return fmt.Errorf("failed to map segment at 0x%x: %w", seg.VirtAddr, err)
		}

		image := make([]byte, size)
		copy(image, seg.Data)

		if chunk.Base() == int64(seg.VirtAddr) && chunk.Size() >= int(size) {
			_ = chunk.Close()
			_, err = chunk.Write(image)
			_ = chunk.Close()
		} else {
			_, err = mem.WriteAt(image, int64(seg.VirtAddr))
		}
		if err != nil {
			return fmt.Errorf("failed to write segment at 0x%x: %w", seg.VirtAddr, err)
		}
	}

	return nil
}

// MapStack maps size bytes directly below the initial stack pointer.
func (p *Program) MapStack(mem *emu.Memory, size int) error {
	base := int64(p.InitialSP) - int64(size)
	if _, err := mem.Create(base, size); err != nil {
		return fmt.Errorf("failed to map stack at 0x%x: %w", base, err)
	}
	return nil
}
