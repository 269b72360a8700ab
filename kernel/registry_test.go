package kernel_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/nachosvm/kernel"
)

var _ = Describe("Registry", func() {
	var r *kernel.Registry[string]

	BeforeEach(func() {
		r = kernel.NewRegistry[string](3)
	})

	It("should hand out increasing ids from the first one", func() {
		Expect(r.Add("a")).To(Equal(3))
		Expect(r.Add("b")).To(Equal(4))
		Expect(r.Len()).To(Equal(2))

		v, ok := r.Get(4)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("b"))
	})

	It("should not reuse removed ids", func() {
		id := r.Add("a")

		v, ok := r.Remove(id)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("a"))

		_, ok = r.Get(id)
		Expect(ok).To(BeFalse())
		Expect(r.Add("b")).To(Equal(id + 1))
		Expect(r.NextID()).To(Equal(id + 2))
	})

	It("should visit values in id order", func() {
		for _, s := range []string{"x", "y", "z"} {
			r.Add(s)
		}
		r.Remove(4)

		var ids []int
		var values []string
		r.Each(func(id int, v string) {
			ids = append(ids, id)
			values = append(values, v)
		})

		Expect(ids).To(Equal([]int{3, 5}))
		Expect(values).To(Equal([]string{"x", "z"}))
	})

	It("should allow removal while visiting", func() {
		r.Add("x")
		r.Add("y")

		r.Each(func(id int, _ string) {
			r.Remove(id)
		})

		Expect(r.Len()).To(Equal(0))
	})
})
