// Package insts provides ARM and Thumb instruction definitions and decoding.
//
// This package turns 32-bit ARM words and 16-bit Thumb halfwords into
// structured Instruction values. It supports:
//   - ARM: BX/BLX, SWI, MUL/MLA, data processing and PSR transfers,
//     LDR/STR, LDM/STM, B/BL and (decode-only) coprocessor transfers
//   - Thumb: shifts, add/sub, immediate ops, ALU, high-register ops,
//     loads/stores, PUSH/POP, LDMIA/STMIA, branches and BL/BLX pairs
//
// Usage:
//
//	decoder := insts.NewARMDecoder()
//	inst := decoder.Decode(0xE2810005) // ADD r0, r1, #5
//	fmt.Println(inst) // add r0, r1, #0x5
package insts

// Op represents an operation, shared by the ARM and Thumb instruction sets.
type Op uint16

// Opcodes.
const (
	OpUnknown Op = iota

	// Data processing, in ARM opcode-field order.
	OpAND
	OpEOR
	OpSUB
	OpRSB
	OpADD
	OpADC
	OpSBC
	OpRSC
	OpTST
	OpTEQ
	OpCMP
	OpCMN
	OpORR
	OpMOV
	OpBIC
	OpMVN

	// Status register transfers.
	OpMRS      // Rd = CPSR
	OpMSR      // CPSR = operand
	OpMRSSaved // Rd = SPSR
	OpMSRSaved // SPSR = operand

	// Thumb-only ALU forms.
	OpLSL
	OpLSR
	OpASR
	OpROR
	OpNEG
	OpNOP

	OpMUL
	OpMLA

	// Loads and stores.
	OpLDR
	OpSTR
	OpLDRB
	OpSTRB
	OpLDRH
	OpSTRH
	OpLDRSB
	OpLDRSH
	OpLDM
	OpSTM
	OpPUSH
	OpPOP

	// Control flow.
	OpB
	OpBL
	OpBX
	OpBLX
	OpSWI

	OpCoprocessor
)

var opNames = map[Op]string{
	OpUnknown: "???",
	OpAND: "and", OpEOR: "eor", OpSUB: "sub", OpRSB: "rsb",
	OpADD: "add", OpADC: "adc", OpSBC: "sbc", OpRSC: "rsc",
	OpTST: "tst", OpTEQ: "teq", OpCMP: "cmp", OpCMN: "cmn",
	OpORR: "orr", OpMOV: "mov", OpBIC: "bic", OpMVN: "mvn",
	OpMRS: "mrs", OpMSR: "msr", OpMRSSaved: "mrs", OpMSRSaved: "msr",
	OpLSL: "lsl", OpLSR: "lsr", OpASR: "asr", OpROR: "ror",
	OpNEG: "neg", OpNOP: "nop", OpMUL: "mul", OpMLA: "mla",
	OpLDR: "ldr", OpSTR: "str", OpLDRB: "ldrb", OpSTRB: "strb",
	OpLDRH: "ldrh", OpSTRH: "strh", OpLDRSB: "ldrsb", OpLDRSH: "ldrsh",
	OpLDM: "ldm", OpSTM: "stm", OpPUSH: "push", OpPOP: "pop",
	OpB: "b", OpBL: "bl", OpBX: "bx", OpBLX: "blx", OpSWI: "swi",
	OpCoprocessor: "mrc",
}

// String returns the base mnemonic of the operation.
func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "???"
}

// dataProcessingOps maps the 4-bit ARM data-processing opcode field to an Op.
var dataProcessingOps = [16]Op{
	OpAND, OpEOR, OpSUB, OpRSB, OpADD, OpADC, OpSBC, OpRSC,
	OpTST, OpTEQ, OpCMP, OpCMN, OpORR, OpMOV, OpBIC, OpMVN,
}

// IsComparison reports whether the data-processing op only updates flags.
func (o Op) IsComparison() bool {
	return o == OpTST || o == OpTEQ || o == OpCMP || o == OpCMN
}

// Format represents an instruction encoding class.
type Format uint8

// ARM instruction formats.
const (
	FormatUnknown        Format = iota
	FormatBranchExchange        // BX/BLX register
	FormatSWI                   // Software interrupt
	FormatMultiply              // MUL/MLA
	FormatDataProc              // Data processing and PSR transfer
	FormatSingleTransfer        // LDR/STR
	FormatBlockTransfer         // LDM/STM
	FormatBranch                // B/BL
	FormatCoprocessor           // Coprocessor transfer, decoded only
)

// Thumb instruction formats.
const (
	FormatThumbShiftImm     Format = iota + 32 // LSL/LSR/ASR Rd, Rm, #imm
	FormatThumbAddSub                          // ADD/SUB Rd, Rn, Rm|#imm3
	FormatThumbImm                             // MOV/CMP/ADD/SUB Rd, #imm8
	FormatThumbALU                             // register-register ALU
	FormatThumbHiReg                           // ADD/CMP/MOV/BX over r0-r15
	FormatThumbBLXReg                          // BLX Rm
	FormatThumbLoadLiteral                     // LDR Rd, [PC, #imm]
	FormatThumbLoadStoreReg                    // register offset
	FormatThumbLoadStoreImm                    // word/byte immediate offset
	FormatThumbLoadStoreHalf                   // halfword immediate offset
	FormatThumbLoadStoreSP                     // SP-relative
	FormatThumbAddress                         // ADD Rd, PC|SP, #imm
	FormatThumbAdjustSP                        // ADD/SUB SP, #imm
	FormatThumbPushPop                         // PUSH/POP
	FormatThumbBlock                           // STMIA/LDMIA
	FormatThumbCondBranch                      // B<cond>
	FormatThumbSWI                             // SWI #imm8
	FormatThumbBranch                          // B
	FormatThumbLongBranch                      // BL/BLX halves
)

// ShiftType represents a shift type for register operands.
type ShiftType uint8

// Shift types.
const (
	ShiftLSL ShiftType = 0b00 // Logical shift left
	ShiftLSR ShiftType = 0b01 // Logical shift right
	ShiftASR ShiftType = 0b10 // Arithmetic shift right
	ShiftROR ShiftType = 0b11 // Rotate right
)

var shiftNames = [...]string{"lsl", "lsr", "asr", "ror"}

// String returns the assembler name of the shift.
func (s ShiftType) String() string {
	return shiftNames[s&3]
}

// Instruction is a decoded ARM or Thumb instruction. It carries no state and
// is never retained across steps.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format
	Raw    uint32 // Encoded word (halfword for Thumb)
	Thumb  bool   // true for 16-bit encodings
	Cond   Cond   // Condition code, CondAL where the encoding has none

	Rd uint8 // Destination register
	Rn uint8 // Base or first operand register
	Rm uint8 // Second operand register
	Rs uint8 // Shift-amount or multiplier register

	// Immediate operand. For ARM data processing this is the rotated value;
	// Thumb immediates are already scaled.
	Imm uint32
	// Imm8 is the low byte of an ARM encoding before rotation.
	Imm8 uint32
	// Rotate is the rotate-right amount applied to Imm8.
	Rotate uint8

	// Offset is the sign-extended branch offset in bytes, before the
	// pipeline correction.
	Offset int32

	Immediate bool // operand or transfer offset is an immediate
	PreIndex  bool // P
	Up        bool // U
	Byte      bool // B
	Writeback bool // W
	SetFlags  bool // S
	Load      bool // L
	Link      bool // BL/BLX
	UserPSR   bool // ^ on block transfers
	High      bool // second half of a Thumb long branch

	ShiftType   ShiftType // Type of shift applied to Rm
	ShiftAmount uint8     // Immediate shift amount
	ShiftByReg  bool      // Shift amount comes from Rs

	RegList uint16 // Register list for block transfers
}

// HasReg reports whether register r is in the register list.
func (i *Instruction) HasReg(r uint8) bool {
	return i.RegList&(1<<r) != 0
}

// Size returns the encoding size in bytes.
func (i *Instruction) Size() uint32 {
	if i.Thumb {
		return 2
	}
	return 4
}
