package insts

import (
	"errors"
	"fmt"
)

// ErrUnsupportedCondition is returned when evaluating the reserved NV encoding.
var ErrUnsupportedCondition = errors.New("unsupported condition")

// Cond represents an ARM condition code as encoded in the 4-bit condition field.
type Cond uint8

// ARM condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always (unconditional)
	CondNV Cond = 0b1111 // Reserved, never evaluated
)

var condNames = [...]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al", "nv",
}

// Flags holds the four condition flags a condition is evaluated against.
type Flags struct {
	N bool
	Z bool
	C bool
	V bool
}

// CondFromBits extracts a condition from the low four bits of v.
func CondFromBits(v uint32) Cond {
	return Cond(v & 0xF)
}

// Evaluate reports whether the condition holds for the given flags.
// CondNV yields ErrUnsupportedCondition.
func (c Cond) Evaluate(f Flags) (bool, error) {
	switch c {
	case CondEQ:
		return f.Z, nil
	case CondNE:
		return !f.Z, nil
	case CondCS:
		return f.C, nil
	case CondCC:
		return !f.C, nil
	case CondMI:
		return f.N, nil
	case CondPL:
		return !f.N, nil
	case CondVS:
		return f.V, nil
	case CondVC:
		return !f.V, nil
	case CondHI:
		return f.C && !f.Z, nil
	case CondLS:
		return !f.C || f.Z, nil
	case CondGE:
		return f.N == f.V, nil
	case CondLT:
		return f.N != f.V, nil
	case CondGT:
		return f.N == f.V && !f.Z, nil
	case CondLE:
		return f.N != f.V || f.Z, nil
	case CondAL:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0b%04b", ErrUnsupportedCondition, uint8(c))
	}
}

// String returns the assembler suffix for the condition.
func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", uint8(c))
}

// suffix returns the mnemonic suffix, empty for AL.
func (c Cond) suffix() string {
	if c == CondAL {
		return ""
	}
	return c.String()
}
