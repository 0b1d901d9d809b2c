package emu

import "fmt"

// FlagPolicy selects how the execute engines compute C and V, and how ARM
// block transfers lay out their registers.
type FlagPolicy uint8

const (
	// LegacyFlags keeps the signed post-write comparisons used for SUB,
	// RSB, ADD, SBC and RSC, and the BIC register form that reads Rd
	// instead of Rn. Logical ops, TST, TEQ and ADC set only N and Z, and
	// Thumb high-register ADD sets flags. LDM walks the register list
	// upwards and STM downwards, one word per register.
	LegacyFlags FlagPolicy = iota

	// ArchitecturalFlags routes every arithmetic op through Add, Sub and
	// AddWithCarry, takes C from the shifter for logical ops, and BIC
	// always reads Rn. Block transfers store registers in ascending
	// address order.
	ArchitecturalFlags
)

// String returns the policy name used in configuration files.
func (p FlagPolicy) String() string {
	switch p {
	case LegacyFlags:
		return "legacy"
	case ArchitecturalFlags:
		return "architectural"
	}
	return fmt.Sprintf("FlagPolicy(%d)", uint8(p))
}

// ParseFlagPolicy parses a policy name.
func ParseFlagPolicy(s string) (FlagPolicy, error) {
	switch s {
	case "", "legacy":
		return LegacyFlags, nil
	case "architectural":
		return ArchitecturalFlags, nil
	}
	return LegacyFlags, fmt.Errorf("unknown flag policy %q", s)
}
