package bgc_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tracinggc/gcheap/bgc"
)

var _ = Describe("Machine", func() {
	It("advances through the exact §4.6 sequence without ever decreasing (I8)", func() {
		m := bgc.NewMachine()
		var seen []bgc.State
		seen = append(seen, m.State())
		for i := 0; i < 13; i++ {
			seen = append(seen, m.Advance())
		}

		Expect(seen[0]).To(Equal(bgc.NotInProcess))
		Expect(seen[len(seen)-1]).To(Equal(bgc.NotInProcess))
		for i := 1; i < len(seen); i++ {
			wrapping := seen[i-1] == bgc.NotInProcess && seen[i] == bgc.Initialized
			Expect(wrapping || seen[i] >= seen[i-1]).To(BeTrue(),
				"state regressed from %v to %v", seen[i-1], seen[i])
		}
	})

	It("lets a caller force the overflow branch without violating monotonicity", func() {
		m := bgc.NewMachine()
		for m.State() != bgc.RevisitLOH {
			m.Advance()
		}
		Expect(func() { m.To(bgc.OverflowSOH) }).NotTo(Panic())
		Expect(func() { m.To(bgc.OverflowLOH) }).NotTo(Panic())
	})

	It("records and drains the segment-change log", func() {
		m := bgc.NewMachine()
		m.Advance()
		m.RecordSegChange(0x1000, 0x2000, false)
		m.RecordSegChange(0x3000, 0x4000, true)

		log := m.DrainLog()
		Expect(log).To(HaveLen(2))
		Expect(log[0].Deleted).To(BeFalse())
		Expect(log[1].Deleted).To(BeTrue())
		Expect(m.DrainLog()).To(BeEmpty())
	})
})
