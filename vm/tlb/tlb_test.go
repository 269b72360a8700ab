package tlb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nachosvm/vm"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

var _ = Describe("TLB", func() {
	var (
		table *tlb.Table
	)

	BeforeEach(func() {
		table = tlb.NewTable(4)
	})

	It("should start with every slot invalid", func() {
		for _, e := range table.Entries() {
			Expect(e.Valid).To(BeFalse())
		}

		_, _, found := table.Lookup(0)
		Expect(found).To(BeFalse())
	})

	Context("hit", func() {
		BeforeEach(func() {
			table.Install(2, vm.TranslationEntry{
				VirtualPage:  5,
				PhysicalPage: 9,
				Valid:        true,
			})
		})

		It("should find the installed entry", func() {
			slot, e, found := table.Lookup(5)

			Expect(found).To(BeTrue())
			Expect(slot).To(Equal(2))
			Expect(e.PhysicalPage).To(Equal(9))
		})

		It("should mark use and dirty bits", func() {
			table.MarkUsed(2, true)

			_, e, _ := table.Lookup(5)
			Expect(e.Use).To(BeTrue())
			Expect(e.Dirty).To(BeTrue())
		})

		It("should return the evicted entry on overwrite", func() {
			evicted := table.Install(2, vm.TranslationEntry{
				VirtualPage:  6,
				PhysicalPage: 1,
				Valid:        true,
			})

			Expect(evicted.VirtualPage).To(Equal(5))
			_, _, found := table.Lookup(5)
			Expect(found).To(BeFalse())
		})

		It("should drop everything on invalidate", func() {
			dropped := table.InvalidateAll()

			Expect(dropped).To(HaveLen(1))
			_, _, found := table.Lookup(5)
			Expect(found).To(BeFalse())
		})
	})

	It("should panic on slots out of range", func() {
		Expect(func() { table.Install(4, vm.TranslationEntry{}) }).To(Panic())
		Expect(func() { table.MarkUsed(-1, false) }).To(Panic())
	})
})

var _ = Describe("RoundRobin", func() {
	It("should rotate through every slot", func() {
		r := &tlb.RoundRobin{}

		slots := []int{}
		for i := 0; i < 9; i++ {
			slots = append(slots, r.Victim(4))
		}

		Expect(slots).To(Equal([]int{0, 1, 2, 3, 0, 1, 2, 3, 0}))
	})

	It("should wrap the cursor before using it", func() {
		r := &tlb.RoundRobin{}
		for i := 0; i < 4; i++ {
			r.Victim(4)
		}

		Expect(r.Cursor()).To(Equal(4))
		Expect(r.Victim(4)).To(Equal(0))
		Expect(r.Cursor()).To(Equal(1))
	})
})

var _ = Describe("TLB selective invalidation", func() {
	It("should only drop matching entries", func() {
		table := tlb.NewTable(3)
		table.Install(0, vm.TranslationEntry{VirtualPage: 0, PhysicalPage: 4, Valid: true})
		table.Install(1, vm.TranslationEntry{VirtualPage: 1, PhysicalPage: 5, Valid: true})

		n := table.InvalidateIf(func(e vm.TranslationEntry) bool {
			return e.PhysicalPage == 4
		})

		Expect(n).To(Equal(1))
		_, _, found := table.Lookup(0)
		Expect(found).To(BeFalse())
		_, _, found = table.Lookup(1)
		Expect(found).To(BeTrue())
	})
})
