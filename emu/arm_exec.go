package emu

import (
	"fmt"

	"github.com/sarchlab/armemu/insts"
)

// stepARM fetches, decodes and executes one 32-bit instruction at pc.
func (e *Emulator) stepARM(pc uint32) {
	word := e.fetchBus.Read32(pc)
	e.regFile.R[RegPC] = pc + 4

	inst := e.armDecoder.Decode(word)

	executed := true
	if inst.Format != insts.FormatSWI && inst.Op != insts.OpUnknown {
		executed = e.conditionPassed(inst.Cond, pc)
	}

	e.tracer.Trace(pc, inst, executed)
	if executed {
		e.executeARM(pc, inst)
	}
}

// executeARM dispatches a decoded ARM instruction whose condition passed.
func (e *Emulator) executeARM(pc uint32, inst *insts.Instruction) {
	switch inst.Format {
	case insts.FormatBranchExchange:
		target := e.armReg(inst.Rm)
		if inst.Link {
			e.branchUnit.BLX(target)
		} else {
			e.branchUnit.BX(target)
		}
	case insts.FormatSWI:
		e.syscall(uint8(inst.Imm))
	case insts.FormatMultiply:
		e.executeMultiply(inst)
	case insts.FormatDataProc:
		e.executeDataProc(inst)
	case insts.FormatSingleTransfer:
		e.executeSingleTransfer(inst)
	case insts.FormatBlockTransfer:
		e.executeBlockTransfer(inst)
	case insts.FormatBranch:
		// r15 is pc+4 here; the target is pc+8+offset.
		if inst.Link {
			e.branchUnit.BL(inst.Offset + 4)
		} else {
			e.branchUnit.B(inst.Offset + 4)
		}
	case insts.FormatCoprocessor:
		e.logger.Debug("coprocessor transfer not executed",
			"pc", fmt.Sprintf("0x%08x", pc), "opcode", fmt.Sprintf("0x%08x", inst.Raw))
	default:
		e.unknown(pc, inst)
	}
}

// armReg reads a register as an ARM operand. r15 reads as the instruction
// address plus 8.
func (e *Emulator) armReg(r uint8) uint32 {
	if r == RegPC {
		return e.regFile.R[RegPC] + 4
	}
	return e.regFile.R[r]
}

func (e *Emulator) executeMultiply(inst *insts.Instruction) {
	rf := e.regFile

	result := rf.R[inst.Rm] * rf.R[inst.Rs]
	if inst.Op == insts.OpMLA {
		result += rf.R[inst.Rd]
	}
	rf.WriteReg(inst.Rn, result)

	if inst.SetFlags {
		rf.SetNZ(result)
	}
}

// operand2 returns the shifter operand and the shifter carry-out.
func (e *Emulator) operand2(inst *insts.Instruction) (uint32, bool) {
	carry := e.regFile.CPSR.C

	if inst.Immediate {
		if inst.Rotate != 0 {
			carry = inst.Imm>>31 == 1
		}
		return inst.Imm, carry
	}

	rm := e.armReg(inst.Rm)
	if inst.ShiftByReg {
		return Shift(rm, inst.ShiftType, e.regFile.R[inst.Rs]&0xFF, carry)
	}
	return ShiftImm(rm, inst.ShiftType, inst.ShiftAmount, carry)
}

func (e *Emulator) executeDataProc(inst *insts.Instruction) {
	rf := e.regFile
	op2, shifterCarry := e.operand2(inst)
	rn := e.armReg(inst.Rn)

	switch inst.Op {
	case insts.OpMRS:
		rf.WriteReg(inst.Rd, rf.CPSR.Pack())
		return
	case insts.OpMRSSaved:
		rf.WriteReg(inst.Rd, rf.SPSR)
		return
	case insts.OpMSR:
		rf.CPSR.Unpack(op2)
		return
	case insts.OpMSRSaved:
		rf.SPSR = op2
		return
	case insts.OpTST:
		e.setTestFlags(rn&op2, shifterCarry)
		return
	case insts.OpTEQ:
		e.setTestFlags(rn^op2, shifterCarry)
		return
	case insts.OpCMP:
		e.alu.Sub(rn, op2)
		return
	case insts.OpCMN:
		e.alu.Add(rn, op2)
		return
	}

	if e.flagPolicy == ArchitecturalFlags {
		e.dataProcArchitectural(inst, rn, op2, shifterCarry)
		return
	}
	e.dataProcLegacy(inst, rn, op2)
}

func (e *Emulator) setLogicalFlags(result uint32, carry bool) {
	e.regFile.SetNZ(result)
	e.regFile.CPSR.C = carry
}

// setTestFlags sets the TST/TEQ flags. LegacyFlags leaves C alone.
func (e *Emulator) setTestFlags(result uint32, carry bool) {
	if e.flagPolicy == ArchitecturalFlags {
		e.setLogicalFlags(result, carry)
		return
	}
	e.regFile.SetNZ(result)
}

// logicalResult computes the ops that never produce a carry of their own.
func logicalResult(op insts.Op, first, op2 uint32) (uint32, bool) {
	switch op {
	case insts.OpAND:
		return first & op2, true
	case insts.OpEOR:
		return first ^ op2, true
	case insts.OpORR:
		return first | op2, true
	case insts.OpMOV:
		return op2, true
	case insts.OpBIC:
		return first &^ op2, true
	case insts.OpMVN:
		return ^op2, true
	}
	return 0, false
}

func (e *Emulator) dataProcArchitectural(
	inst *insts.Instruction,
	rn, op2 uint32,
	shifterCarry bool,
) {
	rf := e.regFile
	saved := rf.CPSR

	result, logical := logicalResult(inst.Op, rn, op2)
	if logical {
		e.setLogicalFlags(result, shifterCarry)
	} else {
		switch inst.Op {
		case insts.OpSUB:
			result = e.alu.Sub(rn, op2)
		case insts.OpRSB:
			result = e.alu.Sub(op2, rn)
		case insts.OpADD:
			result = e.alu.Add(rn, op2)
		case insts.OpADC:
			result = e.alu.AddWithCarry(rn, op2, saved.C)
		case insts.OpSBC:
			result = e.alu.AddWithCarry(rn, ^op2, saved.C)
		case insts.OpRSC:
			result = e.alu.AddWithCarry(op2, ^rn, saved.C)
		}
	}

	if !inst.SetFlags {
		rf.CPSR = saved
	}
	rf.WriteReg(inst.Rd, result)
}

// dataProcLegacy computes results, then flags from signed comparisons of
// the registers as they are after the write. Logical ops and ADC only set
// N and Z.
func (e *Emulator) dataProcLegacy(inst *insts.Instruction, rn, op2 uint32) {
	rf := e.regFile
	carryIn := b2u(rf.CPSR.C)

	first := rn
	if inst.Op == insts.OpBIC && !inst.Immediate {
		first = e.armReg(inst.Rd)
	}

	result, logical := logicalResult(inst.Op, first, op2)
	if !logical {
		switch inst.Op {
		case insts.OpSUB:
			result = rn - op2
		case insts.OpRSB:
			result = op2 - rn
		case insts.OpADD:
			result = rn + op2
		case insts.OpADC:
			result = rn + op2 + carryIn
		case insts.OpSBC:
			result = rn - op2 - (1 - carryIn)
		case insts.OpRSC:
			result = op2 - rn - (1 - carryIn)
		}
	}
	rf.WriteReg(inst.Rd, result)

	if !inst.SetFlags {
		return
	}

	rf.SetNZ(result)

	sRn := int32(rf.R[inst.Rn])
	sRd := int32(rf.R[inst.Rd])
	sRm := int32(rf.R[inst.Rm])
	imm8 := int32(inst.Imm8)
	c := &rf.CPSR

	switch inst.Op {
	case insts.OpSUB:
		if inst.Immediate {
			c.C = sRn >= int32(op2)
		} else {
			c.C = sRn < sRd
		}
		c.V = sRn < 0 && sRd >= 0
	case insts.OpRSB:
		if inst.Immediate {
			c.C = sRn > imm8
			c.V = false
		} else {
			c.C = sRn > sRm
			c.V = sRm < 0 && sRm-sRn >= 0
		}
	case insts.OpADD:
		c.C = sRd < sRn
		c.V = sRn < 0 && sRd >= 0
	case insts.OpSBC:
		c.C = sRd > sRn
		c.V = sRn < 0 && sRd >= 0
	case insts.OpRSC:
		if inst.Immediate {
			c.C = sRd > imm8
			c.V = sRm < 0 && sRd >= 0
		} else {
			c.C = sRd > sRm
			c.V = sRn < 0 && sRd >= 0
		}
	}
}

func (e *Emulator) executeSingleTransfer(inst *insts.Instruction) {
	rf := e.regFile

	offset := inst.Imm
	if !inst.Immediate {
		offset, _ = ShiftImm(rf.R[inst.Rm], inst.ShiftType, inst.ShiftAmount, rf.CPSR.C)
	}

	base := e.armReg(inst.Rn)
	wb := base + offset
	if !inst.Up {
		wb = base - offset
	}

	addr := base
	if inst.PreIndex {
		addr = wb
	}

	if inst.Load {
		if inst.Byte {
			e.lsu.LDRB(inst.Rd, addr)
		} else {
			e.lsu.LDR(inst.Rd, addr)
		}
		// PC-relative literal loads never write back.
		if inst.Rn == RegPC {
			return
		}
	} else {
		value := rf.R[inst.Rd]
		if inst.Rd == RegPC {
			value += 8
		}
		if inst.Byte {
			e.lsu.STRB(value, addr)
		} else {
			e.lsu.STR(value, addr)
		}
	}

	if inst.Writeback || !inst.PreIndex {
		rf.WriteReg(inst.Rn, wb)
	}
}

// executeBlockTransfer runs LDM/STM. LegacyFlags walks the list one word
// per register, loads lowest register first and stores highest first, and
// always writes back the final address. ArchitecturalFlags lays the
// registers out in ascending order and keeps a loaded base.
func (e *Emulator) executeBlockTransfer(inst *insts.Instruction) {
	rf := e.regFile

	if inst.UserPSR && inst.HasReg(RegPC) {
		rf.CPSR.Unpack(rf.SPSR)
	}

	if e.flagPolicy != ArchitecturalFlags {
		var wb uint32
		if inst.Load {
			wb = e.lsu.WalkLDM(inst.RegList, rf.R[inst.Rn], inst.PreIndex, inst.Up)
		} else {
			wb = e.lsu.WalkSTM(inst.RegList, rf.R[inst.Rn], inst.PreIndex, inst.Up,
				rf.R[RegPC]+8)
		}
		if inst.Writeback {
			rf.WriteReg(inst.Rn, wb)
		}
		return
	}

	start, wb := blockStart(rf.R[inst.Rn], inst.RegList, inst.PreIndex, inst.Up)
	if inst.Load {
		e.lsu.LDM(inst.RegList, start)
	} else {
		e.lsu.STM(inst.RegList, start, rf.R[RegPC]+8)
	}

	if inst.Writeback && !(inst.Load && inst.HasReg(inst.Rn)) {
		rf.WriteReg(inst.Rn, wb)
	}
}
