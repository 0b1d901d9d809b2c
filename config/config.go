// Package config holds the machine description the command-line front end
// runs programs against.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/armemu/cache"
	"github.com/sarchlab/armemu/emu"
	"github.com/sarchlab/armemu/loader"
)

// Region is a memory range mapped before the program is loaded.
type Region struct {
	Base uint32 `json:"base"`
	Size int    `json:"size"`
}

// Config describes the simulated machine.
type Config struct {
	// Memory lists regions mapped up front, in addition to whatever the
	// program image maps itself. HEX images need their region here.
	Memory []Region `json:"memory"`

	// StackTop is the initial r13. A StackSize of 0 maps no stack.
	StackTop  uint32 `json:"stack_top"`
	StackSize int    `json:"stack_size"`

	// Breakpoints are addresses execution stops at.
	Breakpoints []uint32 `json:"breakpoints"`

	// MaxInstructions stops execution after this many instructions.
	// 0 means no limit.
	MaxInstructions uint64 `json:"max_instructions"`

	// FlagPolicy is "legacy" or "architectural".
	FlagPolicy string `json:"flag_policy"`

	// ICache and DCache enable the cache profilers when set.
	ICache *cache.Config `json:"icache,omitempty"`
	DCache *cache.Config `json:"dcache,omitempty"`
}

// Default returns a config with a 64KB stack below loader.DefaultStackTop,
// no extra regions and the legacy flag policy.
func Default() *Config {
	return &Config{
		StackTop:   loader.DefaultStackTop,
		StackSize:  loader.DefaultStackSize,
		FlagPolicy: emu.LegacyFlags.String(),
	}
}

// Load loads a Config from a JSON file. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Save writes the Config to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks region sizes and overlap, the flag policy and cache
// geometry.
func (c *Config) Validate() error {
	regions := append([]Region(nil), c.Memory...)
	if c.StackSize < 0 {
		return fmt.Errorf("stack_size must be >= 0")
	}
	if c.StackSize > 0 {
		if int64(c.StackTop) < int64(c.StackSize) {
			return fmt.Errorf("stack of %d bytes does not fit below 0x%x", c.StackSize, c.StackTop)
		}
		regions = append(regions, c.stackRegion())
	}

	for i, r := range regions {
		if r.Size <= 0 {
			return fmt.Errorf("region at 0x%x: size must be > 0", r.Base)
		}
		for _, other := range regions[:i] {
			if overlaps(r, other) {
				return fmt.Errorf("region at 0x%x overlaps region at 0x%x", r.Base, other.Base)
			}
		}
	}

	if _, err := emu.ParseFlagPolicy(c.FlagPolicy); err != nil {
		return err
	}

	if c.ICache != nil {
		if err := c.ICache.Validate(); err != nil {
			return fmt.Errorf("icache: %w", err)
		}
	}
	if c.DCache != nil {
		if err := c.DCache.Validate(); err != nil {
			return fmt.Errorf("dcache: %w", err)
		}
	}

	return nil
}

func (c *Config) stackRegion() Region {
	return Region{Base: c.StackTop - uint32(c.StackSize), Size: c.StackSize}
}

func overlaps(a, b Region) bool {
	aEnd := int64(a.Base) + int64(a.Size)
	bEnd := int64(b.Base) + int64(b.Size)
	return int64(a.Base) < bEnd && int64(b.Base) < aEnd
}

// Policy returns the parsed flag policy.
func (c *Config) Policy() (emu.FlagPolicy, error) {
	return emu.ParseFlagPolicy(c.FlagPolicy)
}

// MapMemory creates the configured regions and the stack in mem.
func (c *Config) MapMemory(mem *emu.Memory) error {
	regions := c.Memory
	if c.StackSize > 0 {
		regions = append(append([]Region(nil), regions...), c.stackRegion())
	}

	for _, r := range regions {
		if _, err := mem.Create(int64(r.Base), r.Size); err != nil {
			return fmt.Errorf("failed to map region at 0x%x: %w", r.Base, err)
		}
	}

	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Memory = append([]Region(nil), c.Memory...)
	clone.Breakpoints = append([]uint32(nil), c.Breakpoints...)
	if c.ICache != nil {
		ic := *c.ICache
		clone.ICache = &ic
	}
	if c.DCache != nil {
		dc := *c.DCache
		clone.DCache = &dc
	}
	return &clone
}
