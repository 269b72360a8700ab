package vm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nachosvm/vm"
)

var _ = Describe("PageTable", func() {
	var (
		pt *vm.PageTable
	)

	BeforeEach(func() {
		pt = vm.NewPageTable(4)
	})

	It("should start with every entry invalid and unmapped", func() {
		Expect(pt.Len()).To(Equal(4))

		for i, e := range pt.Entries() {
			Expect(e.VirtualPage).To(Equal(i))
			Expect(e.PhysicalPage).To(Equal(vm.Unmapped))
			Expect(e.Valid).To(BeFalse())
		}

		Expect(pt.NumValid()).To(Equal(0))
	})

	It("should map and unmap pages", func() {
		pt.Map(2, 7)

		e := pt.Find(2)
		Expect(e.Valid).To(BeTrue())
		Expect(e.PhysicalPage).To(Equal(7))
		Expect(pt.NumValid()).To(Equal(1))

		frame, wasValid := pt.Unmap(2)
		Expect(frame).To(Equal(7))
		Expect(wasValid).To(BeTrue())
		Expect(pt.Find(2).PhysicalPage).To(Equal(vm.Unmapped))
	})

	It("should panic when mapping a valid page again", func() {
		pt.Map(1, 3)

		Expect(func() { pt.Map(1, 4) }).To(Panic())
	})

	It("should panic when accessing a page out of range", func() {
		Expect(func() { pt.Find(4) }).To(Panic())
		Expect(func() { pt.Map(-1, 0) }).To(Panic())
	})

	It("should not panic in lookups out of range", func() {
		_, found := pt.Lookup(10)

		Expect(found).To(BeFalse())
	})

	It("should update status bits without changing the mapping", func() {
		pt.Map(0, 5)

		pt.Update(vm.TranslationEntry{
			VirtualPage:  0,
			PhysicalPage: 9,
			Use:          true,
			Dirty:        true,
		})

		e := pt.Find(0)
		Expect(e.PhysicalPage).To(Equal(5))
		Expect(e.Use).To(BeTrue())
		Expect(e.Dirty).To(BeTrue())
	})

	It("should set use and dirty bits on touch", func() {
		pt.Map(3, 1)

		pt.Touch(3, false)
		Expect(pt.Find(3).Use).To(BeTrue())
		Expect(pt.Find(3).Dirty).To(BeFalse())

		pt.Touch(3, true)
		Expect(pt.Find(3).Dirty).To(BeTrue())
	})
})
