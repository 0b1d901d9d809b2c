package emu

import (
	"math/bits"

	"github.com/sarchlab/armemu/insts"
)

// stepThumb fetches, decodes and executes one 16-bit instruction at pc.
// Only conditional branches carry a condition.
func (e *Emulator) stepThumb(pc uint32) {
	half := e.fetchBus.Read16(pc)
	e.regFile.R[RegPC] = pc + 2

	inst := e.thumbDecoder.Decode(half)

	executed := true
	if inst.Format == insts.FormatThumbCondBranch {
		executed = e.conditionPassed(inst.Cond, pc)
	}

	e.tracer.Trace(pc, inst, executed)
	if executed {
		e.executeThumb(pc, inst)
	}
}

// thumbReg reads a register as a Thumb operand. r15 reads as the
// instruction address plus 4.
func (e *Emulator) thumbReg(r uint8) uint32 {
	if r == RegPC {
		return e.regFile.R[RegPC] + 2
	}
	return e.regFile.R[r]
}

// thumbPCBase returns the word-aligned PC used by literal loads and
// ADD Rd, PC.
func (e *Emulator) thumbPCBase() uint32 {
	return (e.regFile.R[RegPC] + 2) &^ 3
}

func (e *Emulator) executeThumb(pc uint32, inst *insts.Instruction) {
	rf := e.regFile

	switch inst.Format {
	case insts.FormatThumbShiftImm:
		result, carry := ShiftImm(rf.R[inst.Rm], inst.ShiftType, inst.ShiftAmount, rf.CPSR.C)
		rf.WriteReg(inst.Rd, result)
		e.setLogicalFlags(result, carry)
	case insts.FormatThumbAddSub:
		op2 := inst.Imm
		if !inst.Immediate {
			op2 = rf.R[inst.Rm]
		}
		if inst.Op == insts.OpSUB {
			rf.WriteReg(inst.Rd, e.alu.Sub(rf.R[inst.Rn], op2))
		} else {
			rf.WriteReg(inst.Rd, e.alu.Add(rf.R[inst.Rn], op2))
		}
	case insts.FormatThumbImm:
		e.executeThumbImm(inst)
	case insts.FormatThumbALU:
		e.executeThumbALU(inst)
	case insts.FormatThumbHiReg:
		e.executeThumbHiReg(inst)
	case insts.FormatThumbBLXReg:
		e.branchUnit.BLX(e.thumbReg(inst.Rm))
	case insts.FormatThumbLoadLiteral:
		e.lsu.LDR(inst.Rd, e.thumbPCBase()+inst.Imm)
	case insts.FormatThumbLoadStoreReg:
		e.thumbTransfer(inst, rf.R[inst.Rn]+rf.R[inst.Rm])
	case insts.FormatThumbLoadStoreImm,
		insts.FormatThumbLoadStoreHalf,
		insts.FormatThumbLoadStoreSP:
		e.thumbTransfer(inst, rf.R[inst.Rn]+inst.Imm)
	case insts.FormatThumbAddress:
		base := rf.R[RegSP]
		if inst.Rn == RegPC {
			base = e.thumbPCBase()
		}
		rf.WriteReg(inst.Rd, base+inst.Imm)
	case insts.FormatThumbAdjustSP:
		if inst.Op == insts.OpSUB {
			rf.R[RegSP] -= inst.Imm
		} else {
			rf.R[RegSP] += inst.Imm
		}
	case insts.FormatThumbPushPop:
		e.executePushPop(inst)
	case insts.FormatThumbBlock:
		e.executeThumbBlock(inst)
	case insts.FormatThumbCondBranch, insts.FormatThumbBranch:
		e.branchUnit.B(inst.Offset + 2)
	case insts.FormatThumbSWI:
		e.syscall(uint8(inst.Imm))
	case insts.FormatThumbLongBranch:
		e.executeLongBranch(inst)
	default:
		e.unknown(pc, inst)
	}
}

func (e *Emulator) executeThumbImm(inst *insts.Instruction) {
	rf := e.regFile
	rd := rf.R[inst.Rd]

	switch inst.Op {
	case insts.OpMOV:
		rf.WriteReg(inst.Rd, inst.Imm)
		rf.SetNZ(inst.Imm)
	case insts.OpCMP:
		e.alu.Sub(rd, inst.Imm)
	case insts.OpADD:
		rf.WriteReg(inst.Rd, e.alu.Add(rd, inst.Imm))
	case insts.OpSUB:
		rf.WriteReg(inst.Rd, e.alu.Sub(rd, inst.Imm))
	}
}

var thumbShiftTypes = map[insts.Op]insts.ShiftType{
	insts.OpLSL: insts.ShiftLSL,
	insts.OpLSR: insts.ShiftLSR,
	insts.OpASR: insts.ShiftASR,
	insts.OpROR: insts.ShiftROR,
}

func (e *Emulator) executeThumbALU(inst *insts.Instruction) {
	rf := e.regFile
	rd := rf.R[inst.Rd]
	rm := rf.R[inst.Rm]
	carry := rf.CPSR.C

	var result uint32
	switch inst.Op {
	case insts.OpTST:
		rf.SetNZ(rd & rm)
		return
	case insts.OpCMP:
		e.alu.Sub(rd, rm)
		return
	case insts.OpCMN:
		e.alu.Add(rd, rm)
		return
	case insts.OpLSL, insts.OpLSR, insts.OpASR, insts.OpROR:
		var c bool
		result, c = Shift(rd, thumbShiftTypes[inst.Op], rm&0xFF, carry)
		e.setLogicalFlags(result, c)
	case insts.OpADC:
		result = e.thumbAddWithCarry(rd, rm, carry)
	case insts.OpSBC:
		result = e.thumbSubWithCarry(rd, rm, carry)
	case insts.OpNEG:
		result = e.alu.Sub(0, rm)
	default:
		switch inst.Op {
		case insts.OpAND:
			result = rd & rm
		case insts.OpEOR:
			result = rd ^ rm
		case insts.OpORR:
			result = rd | rm
		case insts.OpBIC:
			result = rd &^ rm
		case insts.OpMVN:
			result = ^rm
		case insts.OpMUL:
			result = rd * rm
		}
		rf.SetNZ(result)
	}

	rf.WriteReg(inst.Rd, result)
}

// thumbAddWithCarry chains two flag-setting adds under LegacyFlags.
func (e *Emulator) thumbAddWithCarry(x, y uint32, carry bool) uint32 {
	if e.flagPolicy == ArchitecturalFlags {
		return e.alu.AddWithCarry(x, y, carry)
	}
	return e.alu.Add(e.alu.Add(x, y), b2u(carry))
}

// thumbSubWithCarry chains two flag-setting subtracts under LegacyFlags.
func (e *Emulator) thumbSubWithCarry(x, y uint32, carry bool) uint32 {
	if e.flagPolicy == ArchitecturalFlags {
		return e.alu.AddWithCarry(x, ^y, carry)
	}
	return e.alu.Sub(e.alu.Sub(x, y), 1-b2u(carry))
}

// executeThumbHiReg runs ADD/CMP/MOV/BX over the full register file. CMP
// sets flags, as does ADD under LegacyFlags. Writes to r15 clear bit 0.
func (e *Emulator) executeThumbHiReg(inst *insts.Instruction) {
	rf := e.regFile
	rd := e.thumbReg(inst.Rd)
	rm := e.thumbReg(inst.Rm)

	var result uint32
	switch inst.Op {
	case insts.OpCMP:
		e.alu.Sub(rd, rm)
		return
	case insts.OpBX:
		e.branchUnit.BX(rm)
		return
	case insts.OpNOP:
		return
	case insts.OpADD:
		if e.flagPolicy == ArchitecturalFlags {
			result = rd + rm
		} else {
			result = e.alu.Add(rd, rm)
		}
	case insts.OpMOV:
		result = rm
	}

	if inst.Rd == RegPC {
		result &^= 1
	}
	rf.WriteReg(inst.Rd, result)
}

func (e *Emulator) thumbTransfer(inst *insts.Instruction, addr uint32) {
	rd := e.regFile.R[inst.Rd]

	switch inst.Op {
	case insts.OpLDR:
		e.lsu.LDR(inst.Rd, addr)
	case insts.OpLDRB:
		e.lsu.LDRB(inst.Rd, addr)
	case insts.OpLDRH:
		e.lsu.LDRH(inst.Rd, addr)
	case insts.OpLDRSB:
		e.lsu.LDRSB(inst.Rd, addr)
	case insts.OpLDRSH:
		e.lsu.LDRSH(inst.Rd, addr)
	case insts.OpSTR:
		e.lsu.STR(rd, addr)
	case insts.OpSTRB:
		e.lsu.STRB(rd, addr)
	case insts.OpSTRH:
		e.lsu.STRH(rd, addr)
	}
}

// executePushPop runs a full-descending stack transfer on r13.
func (e *Emulator) executePushPop(inst *insts.Instruction) {
	rf := e.regFile
	size := uint32(bits.OnesCount16(inst.RegList)) * 4
	sp := rf.R[RegSP]

	if inst.Op == insts.OpPUSH {
		e.lsu.STM(inst.RegList, sp-size, rf.R[RegPC]+2)
		rf.R[RegSP] = sp - size
		return
	}

	rf.R[RegSP] = sp + size
	e.lsu.LDM(inst.RegList, sp)
}

// executeThumbBlock runs STMIA/LDMIA. A load whose list holds the base
// register leaves the loaded value in place of the writeback.
func (e *Emulator) executeThumbBlock(inst *insts.Instruction) {
	rf := e.regFile
	base := rf.R[inst.Rn]
	wb := base + uint32(bits.OnesCount16(inst.RegList))*4

	if inst.Load {
		e.lsu.LDM(inst.RegList, base)
		if !inst.HasReg(inst.Rn) {
			rf.WriteReg(inst.Rn, wb)
		}
		return
	}

	e.lsu.STM(inst.RegList, base, rf.R[RegPC]+2)
	rf.WriteReg(inst.Rn, wb)
}

// executeLongBranch runs one half of BL/BLX. The first half parks the
// upper part of the target in r14; the second completes the jump and
// leaves the Thumb return address in r14.
func (e *Emulator) executeLongBranch(inst *insts.Instruction) {
	rf := e.regFile

	if !inst.High {
		rf.R[RegLR] = uint32(int32(rf.R[RegPC]+2) + inst.Offset)
		return
	}

	next := rf.R[RegPC]
	target := rf.R[RegLR] + inst.Imm
	if inst.Op == insts.OpBLX {
		target &^= 3
		rf.CPSR.T = false
	}

	rf.R[RegPC] = target
	rf.R[RegLR] = next | 1
}
