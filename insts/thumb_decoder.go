package insts

// ThumbDecoder decodes 16-bit Thumb machine code into instructions.
type ThumbDecoder struct{}

// NewThumbDecoder creates a new Thumb instruction decoder.
func NewThumbDecoder() *ThumbDecoder {
	return &ThumbDecoder{}
}

var thumbALUOps = [16]Op{
	OpAND, OpEOR, OpLSL, OpLSR, OpASR, OpADC, OpSBC, OpROR,
	OpTST, OpNEG, OpCMP, OpCMN, OpORR, OpMUL, OpBIC, OpMVN,
}

var thumbRegOffsetOps = [8]Op{
	OpSTR, OpSTRH, OpSTRB, OpLDRSB, OpLDR, OpLDRH, OpLDRB, OpLDRSH,
}

// Decode decodes a 16-bit Thumb instruction.
func (d *ThumbDecoder) Decode(half uint16) *Instruction {
	word := uint32(half)
	inst := &Instruction{
		Op:     OpUnknown,
		Format: FormatUnknown,
		Raw:    word,
		Thumb:  true,
		Cond:   CondAL,
	}

	switch {
	case word>>13 == 0:
		d.decodeShiftAddSub(word, inst)
	case word>>13 == 1:
		d.decodeImmediate(word, inst)
	case word>>10 == 0x10:
		d.decodeALU(word, inst)
	case word>>7 == 0x8F:
		inst.Op = OpBLX
		inst.Format = FormatThumbBLXReg
		inst.Link = true
		inst.Rm = uint8((word >> 3) & 0xF)
	case word>>10 == 0x11:
		d.decodeHiReg(word, inst)
	case word>>11 == 0b01001:
		inst.Op = OpLDR
		inst.Format = FormatThumbLoadLiteral
		inst.Load = true
		inst.Rd = uint8((word >> 8) & 0x7)
		inst.Rn = 15
		inst.Imm = (word & 0xFF) << 2
		inst.Immediate = true
	case word>>12 == 0b0101:
		d.decodeLoadStoreReg(word, inst)
	case word>>13 == 0b011:
		d.decodeLoadStoreImm(word, inst)
	case word>>12 == 0b1000:
		d.decodeLoadStoreHalf(word, inst)
	case word>>12 == 0b1001:
		d.decodeLoadStoreSP(word, inst)
	case word>>12 == 0b1010:
		d.decodeAddress(word, inst)
	case word>>12 == 0b1011:
		d.decodeMisc(word, inst)
	case word>>12 == 0b1100:
		d.decodeBlock(word, inst)
	case word>>12 == 0b1101:
		d.decodeCondBranch(word, inst)
	case word>>11 == 0b11100:
		inst.Op = OpB
		inst.Format = FormatThumbBranch
		inst.Offset = signExtend((word&0x7FF)<<1, 12)
	case word>>11 == 0b11110, word>>11 == 0b11111, word>>11 == 0b11101:
		d.decodeLongBranch(word, inst)
	}

	return inst
}

func (d *ThumbDecoder) decodeShiftAddSub(word uint32, inst *Instruction) {
	inst.Rd = uint8(word & 0x7)
	inst.SetFlags = true

	switch (word >> 11) & 0x3 {
	case 0:
		inst.Op = OpLSL
	case 1:
		inst.Op = OpLSR
	case 2:
		inst.Op = OpASR
	case 3:
		inst.Format = FormatThumbAddSub
		inst.Rn = uint8((word >> 3) & 0x7)
		inst.Immediate = (word>>10)&1 == 1
		if inst.Immediate {
			inst.Imm = (word >> 6) & 0x7
		} else {
			inst.Rm = uint8((word >> 6) & 0x7)
		}
		if (word>>9)&1 == 1 {
			inst.Op = OpSUB
		} else {
			inst.Op = OpADD
		}
		return
	}

	inst.Format = FormatThumbShiftImm
	inst.Rm = uint8((word >> 3) & 0x7)
	inst.ShiftAmount = uint8((word >> 6) & 0x1F)
	inst.ShiftType = ShiftType((word >> 11) & 0x3)
}

func (d *ThumbDecoder) decodeImmediate(word uint32, inst *Instruction) {
	inst.Format = FormatThumbImm
	inst.Rd = uint8((word >> 8) & 0x7)
	inst.Rn = inst.Rd
	inst.Imm = word & 0xFF
	inst.Immediate = true
	inst.SetFlags = true
	inst.Op = [4]Op{OpMOV, OpCMP, OpADD, OpSUB}[(word>>11)&0x3]
}

func (d *ThumbDecoder) decodeALU(word uint32, inst *Instruction) {
	inst.Format = FormatThumbALU
	inst.Rd = uint8(word & 0x7)
	inst.Rm = uint8((word >> 3) & 0x7)
	inst.SetFlags = true
	inst.Op = thumbALUOps[(word>>6)&0xF]
}

// decodeHiReg decodes ADD/CMP/MOV/BX, where bit 7 extends Rd and bit 6
// extends Rm into the high registers.
func (d *ThumbDecoder) decodeHiReg(word uint32, inst *Instruction) {
	inst.Format = FormatThumbHiReg
	inst.Rd = uint8(((word >> 4) & 0x8) | (word & 0x7))
	inst.Rm = uint8((word >> 3) & 0xF)

	switch (word >> 8) & 0x3 {
	case 0:
		inst.Op = OpADD
	case 1:
		inst.Op = OpCMP
		inst.SetFlags = true
	case 2:
		inst.Op = OpMOV
		if inst.Rd == 8 && inst.Rm == 8 {
			inst.Op = OpNOP
		}
	case 3:
		inst.Op = OpBX
	}
}

func (d *ThumbDecoder) decodeLoadStoreReg(word uint32, inst *Instruction) {
	inst.Format = FormatThumbLoadStoreReg
	inst.Rd = uint8(word & 0x7)
	inst.Rn = uint8((word >> 3) & 0x7)
	inst.Rm = uint8((word >> 6) & 0x7)
	inst.PreIndex = true
	inst.Up = true

	sel := (word >> 9) & 0x7
	inst.Op = thumbRegOffsetOps[sel]
	inst.Load = sel >= 3
}

func (d *ThumbDecoder) decodeLoadStoreImm(word uint32, inst *Instruction) {
	inst.Format = FormatThumbLoadStoreImm
	inst.Rd = uint8(word & 0x7)
	inst.Rn = uint8((word >> 3) & 0x7)
	inst.Immediate = true
	inst.PreIndex = true
	inst.Up = true
	inst.Byte = (word>>12)&1 == 1
	inst.Load = (word>>11)&1 == 1

	imm5 := (word >> 6) & 0x1F
	switch {
	case inst.Byte && inst.Load:
		inst.Op = OpLDRB
		inst.Imm = imm5
	case inst.Byte:
		inst.Op = OpSTRB
		inst.Imm = imm5
	case inst.Load:
		inst.Op = OpLDR
		inst.Imm = imm5 << 2
	default:
		inst.Op = OpSTR
		inst.Imm = imm5 << 2
	}
}

func (d *ThumbDecoder) decodeLoadStoreHalf(word uint32, inst *Instruction) {
	inst.Format = FormatThumbLoadStoreHalf
	inst.Rd = uint8(word & 0x7)
	inst.Rn = uint8((word >> 3) & 0x7)
	inst.Imm = ((word >> 6) & 0x1F) << 1
	inst.Immediate = true
	inst.PreIndex = true
	inst.Up = true
	inst.Load = (word>>11)&1 == 1
	if inst.Load {
		inst.Op = OpLDRH
	} else {
		inst.Op = OpSTRH
	}
}

func (d *ThumbDecoder) decodeLoadStoreSP(word uint32, inst *Instruction) {
	inst.Format = FormatThumbLoadStoreSP
	inst.Rd = uint8((word >> 8) & 0x7)
	inst.Rn = 13
	inst.Imm = (word & 0xFF) << 2
	inst.Immediate = true
	inst.PreIndex = true
	inst.Up = true
	inst.Load = (word>>11)&1 == 1
	if inst.Load {
		inst.Op = OpLDR
	} else {
		inst.Op = OpSTR
	}
}

func (d *ThumbDecoder) decodeAddress(word uint32, inst *Instruction) {
	inst.Op = OpADD
	inst.Format = FormatThumbAddress
	inst.Rd = uint8((word >> 8) & 0x7)
	inst.Imm = (word & 0xFF) << 2
	inst.Immediate = true
	if (word>>11)&1 == 1 {
		inst.Rn = 13
	} else {
		inst.Rn = 15
	}
}

// decodeMisc decodes the 1011 group: SP adjustment and PUSH/POP.
func (d *ThumbDecoder) decodeMisc(word uint32, inst *Instruction) {
	switch (word >> 9) & 0x7 {
	case 0:
		if (word>>8)&1 != 0 {
			return
		}
		inst.Format = FormatThumbAdjustSP
		inst.Rd = 13
		inst.Rn = 13
		inst.Imm = (word & 0x7F) << 2
		inst.Immediate = true
		if (word>>7)&1 == 1 {
			inst.Op = OpSUB
		} else {
			inst.Op = OpADD
		}
	case 2:
		inst.Op = OpPUSH
		inst.Format = FormatThumbPushPop
		inst.Rn = 13
		inst.RegList = uint16(word & 0xFF)
		if (word>>8)&1 == 1 {
			inst.RegList |= 1 << 14
		}
	case 6:
		inst.Op = OpPOP
		inst.Format = FormatThumbPushPop
		inst.Rn = 13
		inst.Load = true
		inst.RegList = uint16(word & 0xFF)
		if (word>>8)&1 == 1 {
			inst.RegList |= 1 << 15
		}
	}
}

func (d *ThumbDecoder) decodeBlock(word uint32, inst *Instruction) {
	inst.Format = FormatThumbBlock
	inst.Rn = uint8((word >> 8) & 0x7)
	inst.RegList = uint16(word & 0xFF)
	inst.Up = true
	inst.Writeback = true
	inst.Load = (word>>11)&1 == 1
	if inst.Load {
		inst.Op = OpLDM
	} else {
		inst.Op = OpSTM
	}
}

// decodeCondBranch decodes B<cond>. Condition 0b1111 in this slot is SWI.
func (d *ThumbDecoder) decodeCondBranch(word uint32, inst *Instruction) {
	cond := CondFromBits(word >> 8)
	if cond == CondNV {
		inst.Op = OpSWI
		inst.Format = FormatThumbSWI
		inst.Imm = word & 0xFF
		return
	}

	inst.Op = OpB
	inst.Format = FormatThumbCondBranch
	inst.Cond = cond
	inst.Offset = signExtend((word&0xFF)<<1, 9)
}

// decodeLongBranch decodes one half of a BL/BLX pair. The first half
// carries the upper offset bits, the second the lower bits.
func (d *ThumbDecoder) decodeLongBranch(word uint32, inst *Instruction) {
	inst.Format = FormatThumbLongBranch
	inst.Link = true
	imm11 := word & 0x7FF

	switch word >> 11 {
	case 0b11110:
		inst.Op = OpBL
		inst.Offset = signExtend(imm11<<12, 23)
	case 0b11111:
		inst.Op = OpBL
		inst.High = true
		inst.Imm = imm11 << 1
	case 0b11101:
		inst.Op = OpBLX
		inst.High = true
		inst.Imm = imm11 << 1
	}
}
