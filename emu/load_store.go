package emu

import "math/bits"

// LoadStoreUnit implements the memory transfers shared by the ARM and
// Thumb engines.
type LoadStoreUnit struct {
	regFile *RegFile
	bus     Bus
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and bus.
func NewLoadStoreUnit(regFile *RegFile, bus Bus) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		bus:     bus,
	}
}

// LDR loads a word into rd. A load into r15 interworks: bit 0 selects Thumb
// state and is cleared from the new PC.
func (lsu *LoadStoreUnit) LDR(rd uint8, addr uint32) {
	lsu.writeLoaded(rd, lsu.bus.Read32(addr))
}

// LDRB loads a zero-extended byte into rd.
func (lsu *LoadStoreUnit) LDRB(rd uint8, addr uint32) {
	lsu.regFile.WriteReg(rd, uint32(lsu.bus.Read8(addr)))
}

// LDRH loads a zero-extended halfword into rd.
func (lsu *LoadStoreUnit) LDRH(rd uint8, addr uint32) {
	lsu.regFile.WriteReg(rd, uint32(lsu.bus.Read16(addr)))
}

// LDRSB loads a sign-extended byte into rd.
func (lsu *LoadStoreUnit) LDRSB(rd uint8, addr uint32) {
	lsu.regFile.WriteReg(rd, uint32(int32(int8(lsu.bus.Read8(addr)))))
}

// LDRSH loads a sign-extended halfword into rd.
func (lsu *LoadStoreUnit) LDRSH(rd uint8, addr uint32) {
	lsu.regFile.WriteReg(rd, uint32(int32(int16(lsu.bus.Read16(addr)))))
}

// STR stores value as a word.
func (lsu *LoadStoreUnit) STR(value, addr uint32) {
	lsu.bus.Write32(addr, value)
}

// STRB stores the low byte of value.
func (lsu *LoadStoreUnit) STRB(value, addr uint32) {
	lsu.bus.Write8(addr, uint8(value))
}

// STRH stores the low halfword of value.
func (lsu *LoadStoreUnit) STRH(value, addr uint32) {
	lsu.bus.Write16(addr, uint16(value))
}

// blockStart returns the lowest address a block transfer touches and the
// base writeback value. Registers are always laid out in ascending order.
func blockStart(base uint32, list uint16, pre, up bool) (start, wb uint32) {
	size := uint32(bits.OnesCount16(list)) * 4

	switch {
	case up && !pre:
		return base, base + size
	case up && pre:
		return base + 4, base + size
	case !up && !pre:
		return base - size + 4, base - size
	default:
		return base - size, base - size
	}
}

// LDM loads every register in list from consecutive words starting at
// start, lowest register first.
func (lsu *LoadStoreUnit) LDM(list uint16, start uint32) {
	addr := start
	for r := uint8(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		lsu.writeLoaded(r, lsu.bus.Read32(addr))
		addr += 4
	}
}

// STM stores every register in list to consecutive words starting at
// start, lowest register first. pcValue is stored for r15.
func (lsu *LoadStoreUnit) STM(list uint16, start, pcValue uint32) {
	addr := start
	for r := uint8(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		value := lsu.regFile.ReadReg(r)
		if r == RegPC {
			value = pcValue
		}
		lsu.bus.Write32(addr, value)
		addr += 4
	}
}

// WalkLDM loads every register in list, lowest first, from base. The
// address moves one word towards up for each register, before the access
// when pre is set and after it otherwise. It returns the final address.
func (lsu *LoadStoreUnit) WalkLDM(list uint16, base uint32, pre, up bool) uint32 {
	addr := base
	for r := uint8(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		if pre {
			addr = blockStep(addr, up)
		}
		lsu.writeLoaded(r, lsu.bus.Read32(addr))
		if !pre {
			addr = blockStep(addr, up)
		}
	}
	return addr
}

// WalkSTM is the store counterpart of WalkLDM. It visits the highest
// register first. pcValue is stored for r15.
func (lsu *LoadStoreUnit) WalkSTM(list uint16, base uint32, pre, up bool, pcValue uint32) uint32 {
	addr := base
	for r := int(RegPC); r >= 0; r-- {
		if list&(1<<r) == 0 {
			continue
		}
		if pre {
			addr = blockStep(addr, up)
		}
		value := lsu.regFile.ReadReg(uint8(r))
		if r == RegPC {
			value = pcValue
		}
		lsu.bus.Write32(addr, value)
		if !pre {
			addr = blockStep(addr, up)
		}
	}
	return addr
}

func blockStep(addr uint32, up bool) uint32 {
	if up {
		return addr + 4
	}
	return addr - 4
}

func (lsu *LoadStoreUnit) writeLoaded(rd uint8, value uint32) {
	if rd == RegPC {
		lsu.regFile.CPSR.T = value&1 == 1
		value &^= 1
	}
	lsu.regFile.WriteReg(rd, value)
}
