// Package cache profiles memory traffic with a set-associative cache model
// built on Akita cache components.
package cache

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/armemu/emu"
)

// ErrInvalidConfig is returned by New for a geometry that cannot form a
// cache.
var ErrInvalidConfig = errors.New("invalid cache config")

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int `json:"size"`
	// Associativity (number of ways)
	Associativity int `json:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `json:"block_size"`
	// HitLatency in cycles
	HitLatency uint64 `json:"hit_latency"`
	// MissLatency in cycles
	MissLatency uint64 `json:"miss_latency"`
}

// DefaultICacheConfig returns the default instruction cache: 16KB, 4-way,
// 32B lines, typical of small ARM cores.
func DefaultICacheConfig() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     32,
		HitLatency:    1,
		MissLatency:   20,
	}
}

// DefaultDCacheConfig returns the default data cache: 16KB, 4-way, 32B
// lines.
func DefaultDCacheConfig() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     32,
		HitLatency:    1,
		MissLatency:   20,
	}
}

// Validate checks that the geometry divides into whole sets of
// power-of-two lines.
func (c Config) Validate() error {
	if c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: block size %d is not a positive power of two",
			ErrInvalidConfig, c.BlockSize)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("%w: associativity %d", ErrInvalidConfig, c.Associativity)
	}
	if c.Size <= 0 || c.Size%(c.Associativity*c.BlockSize) != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of %d-way %dB sets",
			ErrInvalidConfig, c.Size, c.Associativity, c.BlockSize)
	}
	return nil
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	// Cycles is the sum of hit and miss latencies over all accesses.
	Cycles uint64
}

// HitRate returns hits over all line lookups, or 0 before any access.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache sits in front of an emu.Bus and records how a cache of the
// configured geometry would have served each access. Data always passes
// through to the next bus; only tags, dirty bits and LRU state are kept.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	next      emu.Bus
	stats     Statistics
}

// New creates a cache in front of next.
func New(config Config, next emu.Bus) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	numSets := config.Size / (config.Associativity * config.BlockSize)

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		next: next,
	}, nil
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr &^ uint64(c.config.BlockSize-1)
}

// access looks up every line the size bytes at addr touch.
func (c *Cache) access(addr uint32, size int, write bool) {
	if write {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	first := c.blockAddr(uint64(addr))
	last := c.blockAddr(uint64(addr) + uint64(size) - 1)
	for line := first; line <= last; line += uint64(c.config.BlockSize) {
		c.touch(line, write)
	}
}

func (c *Cache) touch(blockAddr uint64, write bool) {
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.stats.Cycles += c.config.HitLatency
		if write {
			block.IsDirty = true
		}
		c.directory.Visit(block)
		return
	}

	c.stats.Misses++
	c.stats.Cycles += c.config.MissLatency

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return
	}

	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = write
	c.directory.Visit(victim)
}

// Contains reports whether the line holding addr is cached.
func (c *Cache) Contains(addr uint32) bool {
	block := c.directory.Lookup(0, c.blockAddr(uint64(addr)))
	return block != nil && block.IsValid
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(addr uint32) {
	block := c.directory.Lookup(0, c.blockAddr(uint64(addr)))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush counts a writeback for every dirty line and invalidates all lines.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all cache lines and clears statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}

// Read8 implements emu.Bus.
func (c *Cache) Read8(addr uint32) uint8 {
	c.access(addr, 1, false)
	return c.next.Read8(addr)
}

// Read16 implements emu.Bus.
func (c *Cache) Read16(addr uint32) uint16 {
	c.access(addr, 2, false)
	return c.next.Read16(addr)
}

// Read32 implements emu.Bus.
func (c *Cache) Read32(addr uint32) uint32 {
	c.access(addr, 4, false)
	return c.next.Read32(addr)
}

// Write8 implements emu.Bus.
func (c *Cache) Write8(addr uint32, value uint8) {
	c.access(addr, 1, true)
	c.next.Write8(addr, value)
}

// Write16 implements emu.Bus.
func (c *Cache) Write16(addr uint32, value uint16) {
	c.access(addr, 2, true)
	c.next.Write16(addr, value)
}

// Write32 implements emu.Bus.
func (c *Cache) Write32(addr uint32, value uint32) {
	c.access(addr, 4, true)
	c.next.Write32(addr, value)
}
