package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidChunkSize is returned when a chunk is created with a size
	// that is zero or negative.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrChunkOverlap is returned when a new chunk would partially overlap
	// an existing one.
	ErrChunkOverlap = errors.New("chunk overlaps an existing chunk")
)

// chunkFill is the value of never-written chunk bytes.
const chunkFill = 0xFF

// Bus is the byte/halfword/word access interface the engines run against.
// Misses are never reported through the return values.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, value uint8)
	Write16(addr uint32, value uint16)
	Write32(addr uint32, value uint32)
}

// Chunk is a contiguous, fixed-size region of byte-addressable memory.
// It is also a sequential io.Writer starting at its base, which lets a
// loader stream a segment into it.
type Chunk struct {
	base int64
	data []byte
	pos  int
}

// NewChunk creates a chunk of size bytes at base, filled with 0xFF.
func NewChunk(base int64, size int) (*Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = chunkFill
	}

	return &Chunk{base: base, data: data}, nil
}

// Base returns the first address of the chunk.
func (c *Chunk) Base() int64 { return c.base }

// Size returns the chunk size in bytes.
func (c *Chunk) Size() int { return len(c.data) }

// Contains reports whether addr falls inside the chunk.
func (c *Chunk) Contains(addr int64) bool {
	return addr >= c.base && addr < c.base+int64(len(c.data))
}

// Bytes returns the backing storage.
func (c *Chunk) Bytes() []byte { return c.data }

// Write appends p at the current write position.
func (c *Chunk) Write(p []byte) (int, error) {
	n := copy(c.data[c.pos:], p)
	c.pos += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// WriteAt writes p at offset off from the chunk base.
func (c *Chunk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(c.data)) {
		return 0, fmt.Errorf("offset %d outside chunk of %d bytes", off, len(c.data))
	}
	n := copy(c.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Close rewinds the sequential write position.
func (c *Chunk) Close() error {
	c.pos = 0
	return nil
}

// Memory is a set of disjoint chunks. Lookups scan the chunk list
// linearly. Creating chunks is serialized with lookups; reads and writes
// go through to chunk storage.
type Memory struct {
	mu     sync.RWMutex
	chunks []*Chunk
	misses atomic.Uint64
	logger *slog.Logger
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{logger: slog.Default()}
}

// SetLogger sets the logger that receives invalid-access reports.
func (m *Memory) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// Create maps a new chunk of size bytes at base. If base already lies
// inside a chunk, that chunk is returned unchanged.
func (m *Memory) Create(base int64, size int) (*Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.find(base); c != nil {
		return c, nil
	}

	c, err := NewChunk(base, size)
	if err != nil {
		return nil, err
	}

	end := base + int64(size)
	for _, other := range m.chunks {
		if other.base < end && base < other.base+int64(len(other.data)) {
			return nil, fmt.Errorf("%w: [0x%x, 0x%x)", ErrChunkOverlap, base, end)
		}
	}

	m.chunks = append(m.chunks, c)
	return c, nil
}

// Find returns the chunk containing addr, or nil.
func (m *Memory) Find(addr int64) *Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(addr)
}

func (m *Memory) find(addr int64) *Chunk {
	for _, c := range m.chunks {
		if c.Contains(addr) {
			return c
		}
	}
	return nil
}

// Chunks returns the mapped chunks in creation order.
func (m *Memory) Chunks() []*Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Chunk(nil), m.chunks...)
}

// Misses returns the number of accesses that hit no chunk.
func (m *Memory) Misses() uint64 {
	return m.misses.Load()
}

// WriteAt writes p at absolute address off. Every byte must be mapped.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	for i := range p {
		c := m.Find(off + int64(i))
		if c == nil {
			return i, fmt.Errorf("address 0x%x is not mapped", off+int64(i))
		}
		c.data[off+int64(i)-c.base] = p[i]
	}
	return len(p), nil
}

// span returns the storage for n bytes at addr, or nil on a miss.
func (m *Memory) span(addr uint32, n int, write bool) []byte {
	a := int64(addr)
	c := m.Find(a)
	if c == nil || !c.Contains(a+int64(n)-1) {
		m.misses.Add(1)
		m.logger.Warn("invalid memory access",
			"addr", fmt.Sprintf("0x%08x", addr), "size", n, "write", write)
		return nil
	}
	off := a - c.base
	return c.data[off : off+int64(n)]
}

// Read8 reads a byte. Unmapped addresses read as zero.
func (m *Memory) Read8(addr uint32) uint8 {
	if b := m.span(addr, 1, false); b != nil {
		return b[0]
	}
	return 0
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint32) uint16 {
	if b := m.span(addr, 2, false); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint32) uint32 {
	if b := m.span(addr, 4, false); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// Write8 writes a byte. Writes to unmapped addresses are dropped.
func (m *Memory) Write8(addr uint32, value uint8) {
	if b := m.span(addr, 1, true); b != nil {
		b[0] = value
	}
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint32, value uint16) {
	if b := m.span(addr, 2, true); b != nil {
		binary.LittleEndian.PutUint16(b, value)
	}
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint32, value uint32) {
	if b := m.span(addr, 4, true); b != nil {
		binary.LittleEndian.PutUint32(b, value)
	}
}
