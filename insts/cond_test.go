package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armemu/insts"
)

var _ = Describe("Cond", func() {
	It("should evaluate GT false and LE true for N=1, V=0, Z=0", func() {
		flags := insts.Flags{N: true}

		gt, err := insts.CondGT.Evaluate(flags)
		Expect(err).NotTo(HaveOccurred())
		Expect(gt).To(BeFalse())

		le, err := insts.CondLE.Evaluate(flags)
		Expect(err).NotTo(HaveOccurred())
		Expect(le).To(BeTrue())
	})

	It("should always pass AL", func() {
		for bits := 0; bits < 16; bits++ {
			flags := insts.Flags{
				N: bits&8 != 0,
				Z: bits&4 != 0,
				C: bits&2 != 0,
				V: bits&1 != 0,
			}
			ok, err := insts.CondAL.Evaluate(flags)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
	})

	It("should fail explicitly for NV", func() {
		_, err := insts.CondNV.Evaluate(insts.Flags{})
		Expect(err).To(MatchError(insts.ErrUnsupportedCondition))
	})

	DescribeTable("flag-driven conditions",
		func(c insts.Cond, f insts.Flags, want bool) {
			got, err := c.Evaluate(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("EQ with Z", insts.CondEQ, insts.Flags{Z: true}, true),
		Entry("NE with Z", insts.CondNE, insts.Flags{Z: true}, false),
		Entry("CS with C", insts.CondCS, insts.Flags{C: true}, true),
		Entry("CC with C", insts.CondCC, insts.Flags{C: true}, false),
		Entry("MI with N", insts.CondMI, insts.Flags{N: true}, true),
		Entry("PL with N", insts.CondPL, insts.Flags{N: true}, false),
		Entry("VS with V", insts.CondVS, insts.Flags{V: true}, true),
		Entry("VC with V", insts.CondVC, insts.Flags{V: true}, false),
		Entry("HI with C and Z", insts.CondHI, insts.Flags{C: true, Z: true}, false),
		Entry("HI with C only", insts.CondHI, insts.Flags{C: true}, true),
		Entry("LS with Z", insts.CondLS, insts.Flags{C: true, Z: true}, true),
		Entry("GE with N and V", insts.CondGE, insts.Flags{N: true, V: true}, true),
		Entry("LT with V only", insts.CondLT, insts.Flags{V: true}, true),
		Entry("GT with no flags", insts.CondGT, insts.Flags{}, true),
		Entry("LE with Z", insts.CondLE, insts.Flags{Z: true}, true),
	)

	It("should extract a condition from the top nibble", func() {
		Expect(insts.CondFromBits(0xEA000006 >> 28)).To(Equal(insts.CondAL))
		Expect(insts.CondFromBits(0x1A000000 >> 28)).To(Equal(insts.CondNE))
		Expect(insts.CondGE.String()).To(Equal("ge"))
	})
})
