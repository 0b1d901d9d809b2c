package emu

import (
	"math/bits"

	"github.com/sarchlab/armemu/insts"
)

// ALU implements the flag-setting arithmetic shared by the ARM and Thumb
// engines.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// Add returns a + b and sets N, Z, C and V.
func (a *ALU) Add(x, y uint32) uint32 {
	result := x + y
	a.regFile.SetNZ(result)
	a.regFile.CPSR.C = result < x
	a.regFile.CPSR.V = addOverflow(x, y, result)
	return result
}

// Sub returns a - b and sets N, Z, C and V. C is set when no borrow occurs.
func (a *ALU) Sub(x, y uint32) uint32 {
	result := x - y
	a.regFile.SetNZ(result)
	a.regFile.CPSR.C = x >= y
	a.regFile.CPSR.V = addOverflow(x, -y, result)
	return result
}

// AddWithCarry returns x + y + carry and sets N, Z, C and V. Subtract with
// carry is AddWithCarry(x, ^y, carry).
func (a *ALU) AddWithCarry(x, y uint32, carry bool) uint32 {
	result, c := bits.Add32(x, y, b2u(carry))
	a.regFile.SetNZ(result)
	a.regFile.CPSR.C = c == 1
	a.regFile.CPSR.V = (x^result)&(y^result)>>31 == 1
	return result
}

// addOverflow reports signed overflow: both operands share a sign and the
// result's sign differs.
func addOverflow(x, y, result uint32) bool {
	return (x^y)>>31 == 0 && (x^result)>>31 == 1
}

// LSL shifts left. Amounts of 32 or more yield zero.
func LSL(value, amount uint32) uint32 {
	if amount >= 32 {
		return 0
	}
	return value << amount
}

// LSR shifts right logically. Amounts of 32 or more yield zero.
func LSR(value, amount uint32) uint32 {
	if amount >= 32 {
		return 0
	}
	return value >> amount
}

// ASR shifts right arithmetically. Amounts of 32 or more fill with the sign.
func ASR(value, amount uint32) uint32 {
	if amount >= 32 {
		amount = 31
	}
	return uint32(int32(value) >> amount)
}

// ROR rotates right by amount modulo 32.
func ROR(value, amount uint32) uint32 {
	return bits.RotateLeft32(value, -int(amount&31))
}

// RRX rotates right by one through the carry.
func RRX(value uint32, carry bool) uint32 {
	return b2u(carry)<<31 | value>>1
}

// Shift applies a register-specified shift and returns the result and the
// shifter carry-out. An amount of zero leaves both value and carry alone.
func Shift(value uint32, t insts.ShiftType, amount uint32, carry bool) (uint32, bool) {
	if amount == 0 {
		return value, carry
	}

	switch t {
	case insts.ShiftLSL:
		switch {
		case amount < 32:
			return value << amount, value&(1<<(32-amount)) != 0
		case amount == 32:
			return 0, value&1 != 0
		default:
			return 0, false
		}
	case insts.ShiftLSR:
		switch {
		case amount < 32:
			return value >> amount, value&(1<<(amount-1)) != 0
		case amount == 32:
			return 0, value>>31 != 0
		default:
			return 0, false
		}
	case insts.ShiftASR:
		if amount >= 32 {
			return ASR(value, 32), value>>31 != 0
		}
		return ASR(value, amount), value&(1<<(amount-1)) != 0
	default:
		r := ROR(value, amount)
		return r, r>>31 != 0
	}
}

// ShiftImm applies an immediate-encoded shift. In the immediate form
// LSR #0 and ASR #0 mean #32 and ROR #0 means RRX.
func ShiftImm(value uint32, t insts.ShiftType, imm uint8, carry bool) (uint32, bool) {
	if imm != 0 {
		return Shift(value, t, uint32(imm), carry)
	}

	switch t {
	case insts.ShiftLSR, insts.ShiftASR:
		return Shift(value, t, 32, carry)
	case insts.ShiftROR:
		return RRX(value, carry), value&1 != 0
	default:
		return value, carry
	}
}
