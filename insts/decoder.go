package insts

import "math/bits"

// ARMDecoder decodes 32-bit ARM machine code into instructions.
type ARMDecoder struct{}

// NewARMDecoder creates a new ARM instruction decoder.
func NewARMDecoder() *ARMDecoder {
	return &ARMDecoder{}
}

// Decode decodes a 32-bit ARM instruction word. Encodings are matched in a
// fixed priority order; anything left over decodes as OpUnknown.
func (d *ARMDecoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Op:     OpUnknown,
		Format: FormatUnknown,
		Raw:    word,
		Cond:   CondFromBits(word >> 28),
	}

	switch {
	case d.isBranchExchange(word):
		d.decodeBranchExchange(word, inst)
	case d.isSWI(word):
		d.decodeSWI(word, inst)
	case d.isMultiply(word):
		d.decodeMultiply(word, inst)
	case (word>>26)&0x3 == 0:
		d.decodeDataProcessing(word, inst)
	case (word>>26)&0x3 == 1:
		d.decodeSingleTransfer(word, inst)
	case (word>>25)&0x7 == 0b100:
		d.decodeBlockTransfer(word, inst)
	case (word>>25)&0x7 == 0b101:
		d.decodeBranch(word, inst)
	case (word>>25)&0x7 == 0b110 || (word>>25)&0x7 == 0b111:
		inst.Op = OpCoprocessor
		inst.Format = FormatCoprocessor
	}

	return inst
}

// isBranchExchange checks for BX/BLX Rm: bits [27:8] == 0x012FFF.
func (d *ARMDecoder) isBranchExchange(word uint32) bool {
	return (word>>8)&0x0FFFFF == 0x012FFF
}

// isSWI checks for an unconditional software interrupt (top byte 0xEF).
func (d *ARMDecoder) isSWI(word uint32) bool {
	return word>>24 == 0xEF
}

// isMultiply checks for MUL/MLA: bits [27:22] == 0 and bits [7:4] == 1001.
func (d *ARMDecoder) isMultiply(word uint32) bool {
	return (word>>22)&0x3F == 0 && (word>>4)&0xF == 0b1001
}

func (d *ARMDecoder) decodeBranchExchange(word uint32, inst *Instruction) {
	inst.Format = FormatBranchExchange
	inst.Rm = uint8(word & 0xF)
	inst.Link = (word>>5)&1 == 1
	if inst.Link {
		inst.Op = OpBLX
	} else {
		inst.Op = OpBX
	}
}

func (d *ARMDecoder) decodeSWI(word uint32, inst *Instruction) {
	inst.Op = OpSWI
	inst.Format = FormatSWI
	inst.Imm = word & 0xFFFFFF
}

// decodeMultiply decodes MUL/MLA. Bits [19:16] name the destination and
// bits [15:12] the accumulator, so Rn holds the product and Rd is added.
func (d *ARMDecoder) decodeMultiply(word uint32, inst *Instruction) {
	inst.Format = FormatMultiply
	d.decodeRegisters(word, inst)
	inst.SetFlags = (word>>20)&1 == 1
	if (word>>21)&1 == 1 {
		inst.Op = OpMLA
	} else {
		inst.Op = OpMUL
	}
}

func (d *ARMDecoder) decodeDataProcessing(word uint32, inst *Instruction) {
	inst.Format = FormatDataProc
	d.decodeRegisters(word, inst)
	inst.SetFlags = (word>>20)&1 == 1
	inst.Immediate = (word>>25)&1 == 1
	inst.Imm8 = word & 0xFF

	opField := (word >> 21) & 0xF
	inst.Op = dataProcessingOps[opField]

	if !inst.SetFlags {
		switch inst.Op {
		case OpTST:
			inst.Op = OpMRS
		case OpTEQ:
			inst.Op = OpMSR
		case OpCMP:
			inst.Op = OpMRSSaved
		case OpCMN:
			inst.Op = OpMSRSaved
		}
	}

	if inst.Immediate {
		inst.Rotate = uint8(((word >> 8) & 0xF) << 1)
		inst.Imm = bits.RotateLeft32(inst.Imm8, -int(inst.Rotate))
		return
	}

	d.decodeShift(word, inst)
	if (word>>4)&1 == 1 {
		inst.ShiftByReg = true
		inst.ShiftAmount = 0
	}
}

// decodeSingleTransfer decodes LDR/STR. The I bit selects a register
// offset, so Immediate is its inverse.
func (d *ARMDecoder) decodeSingleTransfer(word uint32, inst *Instruction) {
	inst.Format = FormatSingleTransfer
	d.decodeRegisters(word, inst)
	d.decodeTransferBits(word, inst)
	inst.Immediate = (word>>25)&1 == 0

	switch {
	case inst.Load && inst.Byte:
		inst.Op = OpLDRB
	case inst.Load:
		inst.Op = OpLDR
	case inst.Byte:
		inst.Op = OpSTRB
	default:
		inst.Op = OpSTR
	}

	if inst.Immediate {
		inst.Imm = word & 0xFFF
		return
	}
	d.decodeShift(word, inst)
}

func (d *ARMDecoder) decodeBlockTransfer(word uint32, inst *Instruction) {
	inst.Format = FormatBlockTransfer
	d.decodeRegisters(word, inst)
	d.decodeTransferBits(word, inst)
	inst.UserPSR = inst.Byte
	inst.Byte = false
	inst.RegList = uint16(word & 0xFFFF)
	if inst.Load {
		inst.Op = OpLDM
	} else {
		inst.Op = OpSTM
	}
}

func (d *ARMDecoder) decodeBranch(word uint32, inst *Instruction) {
	inst.Format = FormatBranch
	inst.Link = (word>>24)&1 == 1
	inst.Offset = signExtend((word&0xFFFFFF)<<2, 26)
	if inst.Link {
		inst.Op = OpBL
	} else {
		inst.Op = OpB
	}
}

// decodeRegisters extracts the register fields common to all ARM formats.
func (d *ARMDecoder) decodeRegisters(word uint32, inst *Instruction) {
	inst.Rn = uint8((word >> 16) & 0xF)
	inst.Rd = uint8((word >> 12) & 0xF)
	inst.Rs = uint8((word >> 8) & 0xF)
	inst.Rm = uint8(word & 0xF)
}

func (d *ARMDecoder) decodeTransferBits(word uint32, inst *Instruction) {
	inst.PreIndex = (word>>24)&1 == 1
	inst.Up = (word>>23)&1 == 1
	inst.Byte = (word>>22)&1 == 1
	inst.Writeback = (word>>21)&1 == 1
	inst.Load = (word>>20)&1 == 1
}

func (d *ARMDecoder) decodeShift(word uint32, inst *Instruction) {
	inst.ShiftType = ShiftType((word >> 5) & 0x3)
	inst.ShiftAmount = uint8((word >> 7) & 0x1F)
}

// signExtend sign-extends the low n bits of v.
func signExtend(v uint32, n uint) int32 {
	shift := 32 - n
	return int32(v<<shift) >> shift
}
