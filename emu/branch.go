package emu

// BranchUnit implements the branch operations shared by the ARM and Thumb
// engines. All methods run after fetch, so r15 already holds the address
// of the next instruction.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// B adds offset to r15.
func (b *BranchUnit) B(offset int32) {
	b.regFile.R[RegPC] = uint32(int32(b.regFile.R[RegPC]) + offset)
}

// BL saves the next-instruction address in r14 and adds offset to r15.
func (b *BranchUnit) BL(offset int32) {
	b.regFile.R[RegLR] = b.regFile.R[RegPC]
	b.B(offset)
}

// BX jumps to target, taking Thumb state from bit 0.
func (b *BranchUnit) BX(target uint32) {
	b.regFile.CPSR.T = target&1 == 1
	b.regFile.R[RegPC] = target &^ 1
}

// BLX saves the return address in r14 and jumps like BX. In Thumb state
// the saved address has bit 0 set so a later BX returns to Thumb.
func (b *BranchUnit) BLX(target uint32) {
	ret := b.regFile.R[RegPC]
	if b.regFile.CPSR.T {
		ret |= 1
	}
	b.regFile.R[RegLR] = ret
	b.BX(target)
}
