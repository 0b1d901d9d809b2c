// Package emu provides functional ARM and Thumb emulation.
package emu

import "github.com/sarchlab/armemu/insts"

// Register roles.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15
)

// RegFile represents the ARM register file.
// It contains the sixteen general-purpose registers (r0-r15), the current
// program status register and a single saved status slot.
type RegFile struct {
	// R holds r0-r15. r15 is the program counter and always points at the
	// next instruction to fetch once an instruction has been fetched.
	R [16]uint32

	// CPSR is the current program status register.
	CPSR PSR

	// SPSR is the saved status register, kept packed.
	SPSR uint32
}

// ReadReg reads a register value.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	return r.R[reg&0xF]
}

// WriteReg writes a value to a register.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	r.R[reg&0xF] = value
}

// PC returns r15.
func (r *RegFile) PC() uint32 {
	return r.R[RegPC]
}

// SP returns r13.
func (r *RegFile) SP() uint32 {
	return r.R[RegSP]
}

// Flags returns the condition flags of the CPSR.
func (r *RegFile) Flags() insts.Flags {
	return insts.Flags{N: r.CPSR.N, Z: r.CPSR.Z, C: r.CPSR.C, V: r.CPSR.V}
}

// SetNZ sets the N and Z flags from a result.
func (r *RegFile) SetNZ(result uint32) {
	r.CPSR.N = result>>31 == 1
	r.CPSR.Z = result == 0
}

// PSR is the structured form of a program status register.
//
// Packed layout, bit 31 first:
//
//	31:N 30:Z 29:C 28:V 27:Q 26-25:IT[1:0] 24:J 23-20:reserved
//	19-16:GE 15-10:IT[7:2] 9:E 8:A 7:I 6:F 5:T 4-0:mode
type PSR struct {
	N bool
	Z bool
	C bool
	V bool
	Q bool

	IT uint8 // If-Then state, split across two bit ranges when packed
	J  bool
	GE uint8 // 4 bits

	E bool
	A bool
	I bool
	F bool
	T bool

	Mode uint8 // 5 bits
}

// Pack returns the 32-bit representation of the status register.
func (p PSR) Pack() uint32 {
	var v uint32

	v |= b2u(p.N) << 31
	v |= b2u(p.Z) << 30
	v |= b2u(p.C) << 29
	v |= b2u(p.V) << 28
	v |= b2u(p.Q) << 27
	v |= uint32(p.IT&0x3) << 25
	v |= b2u(p.J) << 24
	v |= uint32(p.GE&0xF) << 16
	v |= uint32(p.IT>>2) << 10
	v |= b2u(p.E) << 9
	v |= b2u(p.A) << 8
	v |= b2u(p.I) << 7
	v |= b2u(p.F) << 6
	v |= b2u(p.T) << 5
	v |= uint32(p.Mode & 0x1F)

	return v
}

// Unpack loads every field from a packed value. Reserved bits are dropped.
func (p *PSR) Unpack(v uint32) {
	p.N = v&(1<<31) != 0
	p.Z = v&(1<<30) != 0
	p.C = v&(1<<29) != 0
	p.V = v&(1<<28) != 0
	p.Q = v&(1<<27) != 0
	p.IT = uint8((v>>25)&0x3) | uint8((v>>10)&0x3F)<<2
	p.J = v&(1<<24) != 0
	p.GE = uint8((v >> 16) & 0xF)
	p.E = v&(1<<9) != 0
	p.A = v&(1<<8) != 0
	p.I = v&(1<<7) != 0
	p.F = v&(1<<6) != 0
	p.T = v&(1<<5) != 0
	p.Mode = uint8(v & 0x1F)
}

// UnpackPSR returns the structured form of a packed status register.
func UnpackPSR(v uint32) PSR {
	var p PSR
	p.Unpack(v)
	return p
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
