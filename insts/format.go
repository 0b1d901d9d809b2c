package insts

import (
	"fmt"
	"strings"
)

var regNames = [16]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
}

// RegName returns the assembler name of register r.
func RegName(r uint8) string {
	return regNames[r&0xF]
}

// String renders the instruction as assembler text.
func (i *Instruction) String() string {
	if i.Op == OpUnknown {
		if i.Thumb {
			return fmt.Sprintf(".hword 0x%04x", i.Raw)
		}
		return fmt.Sprintf(".word 0x%08x", i.Raw)
	}

	if i.Thumb {
		return i.thumbString()
	}
	return i.armString()
}

func (i *Instruction) mnemonic() string {
	s := i.Op.String() + i.Cond.suffix()
	if i.SetFlags && !i.Op.IsComparison() {
		s += "s"
	}
	return s
}

func (i *Instruction) armString() string {
	switch i.Format {
	case FormatBranchExchange:
		return fmt.Sprintf("%s %s", i.mnemonic(), RegName(i.Rm))
	case FormatSWI:
		return fmt.Sprintf("swi #0x%x", i.Imm)
	case FormatMultiply:
		if i.Op == OpMLA {
			return fmt.Sprintf("%s %s, %s, %s, %s", i.mnemonic(),
				RegName(i.Rn), RegName(i.Rm), RegName(i.Rs), RegName(i.Rd))
		}
		return fmt.Sprintf("%s %s, %s, %s", i.mnemonic(),
			RegName(i.Rn), RegName(i.Rm), RegName(i.Rs))
	case FormatDataProc:
		return i.dataProcString()
	case FormatSingleTransfer:
		return i.singleTransferString()
	case FormatBlockTransfer:
		return i.blockTransferString()
	case FormatBranch:
		return fmt.Sprintf("%s #%+d", i.mnemonic(), i.Offset+8)
	case FormatCoprocessor:
		return fmt.Sprintf("cp%s 0x%08x", i.Cond.suffix(), i.Raw)
	}
	return i.Op.String()
}

func (i *Instruction) operand2() string {
	if i.Immediate {
		return fmt.Sprintf("#0x%x", i.Imm)
	}
	s := RegName(i.Rm)
	switch {
	case i.ShiftByReg:
		s += fmt.Sprintf(", %s %s", i.ShiftType, RegName(i.Rs))
	case i.ShiftAmount != 0:
		s += fmt.Sprintf(", %s #%d", i.ShiftType, i.ShiftAmount)
	case i.ShiftType == ShiftROR:
		s += ", rrx"
	case i.ShiftType != ShiftLSL:
		s += fmt.Sprintf(", %s #32", i.ShiftType)
	}
	return s
}

func (i *Instruction) dataProcString() string {
	switch i.Op {
	case OpMRS:
		return fmt.Sprintf("mrs%s %s, cpsr", i.Cond.suffix(), RegName(i.Rd))
	case OpMRSSaved:
		return fmt.Sprintf("mrs%s %s, spsr", i.Cond.suffix(), RegName(i.Rd))
	case OpMSR:
		return fmt.Sprintf("msr%s cpsr, %s", i.Cond.suffix(), i.operand2())
	case OpMSRSaved:
		return fmt.Sprintf("msr%s spsr, %s", i.Cond.suffix(), i.operand2())
	case OpMOV, OpMVN:
		return fmt.Sprintf("%s %s, %s", i.mnemonic(), RegName(i.Rd), i.operand2())
	}

	if i.Op.IsComparison() {
		return fmt.Sprintf("%s %s, %s", i.mnemonic(), RegName(i.Rn), i.operand2())
	}
	return fmt.Sprintf("%s %s, %s, %s", i.mnemonic(),
		RegName(i.Rd), RegName(i.Rn), i.operand2())
}

func (i *Instruction) singleTransferString() string {
	sign := "-"
	if i.Up {
		sign = ""
	}

	var off string
	if i.Immediate {
		off = fmt.Sprintf("#%s0x%x", sign, i.Imm)
	} else {
		off = sign + i.operand2()
	}

	m := i.Op.String() + i.Cond.suffix()
	if !i.PreIndex {
		return fmt.Sprintf("%s %s, [%s], %s", m, RegName(i.Rd), RegName(i.Rn), off)
	}
	wb := ""
	if i.Writeback {
		wb = "!"
	}
	return fmt.Sprintf("%s %s, [%s, %s]%s", m, RegName(i.Rd), RegName(i.Rn), off, wb)
}

func (i *Instruction) blockTransferString() string {
	mode := map[[2]bool]string{
		{false, false}: "da", {false, true}: "ia",
		{true, false}: "db", {true, true}: "ib",
	}[[2]bool{i.PreIndex, i.Up}]

	wb := ""
	if i.Writeback {
		wb = "!"
	}
	psr := ""
	if i.UserPSR {
		psr = "^"
	}
	return fmt.Sprintf("%s%s%s %s%s, %s%s", i.Op, mode, i.Cond.suffix(),
		RegName(i.Rn), wb, regListString(i.RegList), psr)
}

func regListString(list uint16) string {
	var names []string
	for r := uint8(0); r < 16; r++ {
		if list&(1<<r) != 0 {
			names = append(names, RegName(r))
		}
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func (i *Instruction) thumbString() string {
	m := i.Op.String()
	rd, rn, rm := RegName(i.Rd), RegName(i.Rn), RegName(i.Rm)

	switch i.Format {
	case FormatThumbShiftImm:
		return fmt.Sprintf("%ss %s, %s, #%d", m, rd, rm, i.ShiftAmount)
	case FormatThumbAddSub:
		if i.Immediate {
			return fmt.Sprintf("%ss %s, %s, #%d", m, rd, rn, i.Imm)
		}
		return fmt.Sprintf("%ss %s, %s, %s", m, rd, rn, rm)
	case FormatThumbImm:
		if i.Op == OpCMP {
			return fmt.Sprintf("%s %s, #0x%x", m, rd, i.Imm)
		}
		return fmt.Sprintf("%ss %s, #0x%x", m, rd, i.Imm)
	case FormatThumbALU:
		if i.Op.IsComparison() {
			return fmt.Sprintf("%s %s, %s", m, rd, rm)
		}
		return fmt.Sprintf("%ss %s, %s", m, rd, rm)
	case FormatThumbHiReg:
		if i.Op == OpBX {
			return fmt.Sprintf("bx %s", rm)
		}
		if i.Op == OpNOP {
			return "nop"
		}
		return fmt.Sprintf("%s %s, %s", m, rd, rm)
	case FormatThumbBLXReg:
		return fmt.Sprintf("blx %s", rm)
	case FormatThumbLoadLiteral:
		return fmt.Sprintf("ldr %s, [pc, #0x%x]", rd, i.Imm)
	case FormatThumbLoadStoreReg:
		return fmt.Sprintf("%s %s, [%s, %s]", m, rd, rn, rm)
	case FormatThumbLoadStoreImm, FormatThumbLoadStoreHalf, FormatThumbLoadStoreSP:
		return fmt.Sprintf("%s %s, [%s, #0x%x]", m, rd, rn, i.Imm)
	case FormatThumbAddress:
		return fmt.Sprintf("add %s, %s, #0x%x", rd, rn, i.Imm)
	case FormatThumbAdjustSP:
		return fmt.Sprintf("%s sp, #0x%x", m, i.Imm)
	case FormatThumbPushPop:
		return fmt.Sprintf("%s %s", m, regListString(i.RegList))
	case FormatThumbBlock:
		return fmt.Sprintf("%sia %s!, %s", m, rn, regListString(i.RegList))
	case FormatThumbCondBranch:
		return fmt.Sprintf("b%s #%+d", i.Cond.suffix(), i.Offset+4)
	case FormatThumbSWI:
		return fmt.Sprintf("swi #0x%x", i.Imm)
	case FormatThumbBranch:
		return fmt.Sprintf("b #%+d", i.Offset+4)
	case FormatThumbLongBranch:
		if !i.High {
			return fmt.Sprintf("bl.hi #%+d", i.Offset)
		}
		return fmt.Sprintf("%s.lo #0x%x", m, i.Imm)
	}
	return m
}
