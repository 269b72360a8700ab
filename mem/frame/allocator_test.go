package frame_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/mem/frame"
)

var _ = Describe("Allocator", func() {
	var (
		allocator *frame.Allocator
	)

	BeforeEach(func() {
		allocator = frame.NewAllocator(8)
	})

	It("should start with every frame free", func() {
		Expect(allocator.NumFrames()).To(Equal(8))
		Expect(allocator.NumFree()).To(Equal(8))
		Expect(allocator.Allocated()).To(BeEmpty())
	})

	It("should hand out the lowest free frame", func() {
		f0, err := allocator.Allocate()
		Expect(err).NotTo(HaveOccurred())
		f1, err := allocator.Allocate()
		Expect(err).NotTo(HaveOccurred())

		Expect(f0).To(Equal(0))
		Expect(f1).To(Equal(1))

		allocator.Free(0)
		f2, err := allocator.Allocate()
		Expect(err).NotTo(HaveOccurred())
		Expect(f2).To(Equal(0))
	})

	It("should report out of memory when exhausted", func() {
		for i := 0; i < 8; i++ {
			_, err := allocator.Allocate()
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := allocator.Allocate()

		Expect(err).To(MatchError(frame.ErrOutOfMemory))
		Expect(allocator.NumFree()).To(Equal(0))
	})

	It("should panic on double free", func() {
		f, _ := allocator.Allocate()
		allocator.Free(f)

		Expect(func() { allocator.Free(f) }).To(Panic())
	})

	It("should panic on out of range frames", func() {
		Expect(func() { allocator.Free(8) }).To(Panic())
		Expect(func() { allocator.IsAllocated(-1) }).To(Panic())
	})

	It("should keep the allocated set consistent for random sequences", func() {
		r := rand.New(rand.NewSource(42))
		owned := map[int]bool{}
		allocs, frees := 0, 0

		for step := 0; step < 500; step++ {
			if r.Intn(2) == 0 || len(owned) == 0 {
				f, err := allocator.Allocate()
				if len(owned) == 8 {
					Expect(err).To(MatchError(frame.ErrOutOfMemory))
					continue
				}

				Expect(err).NotTo(HaveOccurred())
				Expect(owned).NotTo(HaveKey(f))
				owned[f] = true
				allocs++

				continue
			}

			for f := range owned {
				allocator.Free(f)
				delete(owned, f)
				frees++

				break
			}

			Expect(allocator.Allocated()).To(HaveLen(allocs - frees))
			Expect(allocator.NumFree()).To(Equal(8 - (allocs - frees)))
		}

		for f := range owned {
			Expect(allocator.IsAllocated(f)).To(BeTrue())
		}
	})

	Context("with hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			allocator.AcceptHook(hook)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should invoke hooks on allocate and free", func() {
			gomock.InOrder(
				hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Pos).To(BeIdenticalTo(frame.HookPosAlloc))
					Expect(ctx.Item).To(Equal(0))
				}),
				hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Pos).To(BeIdenticalTo(frame.HookPosFree))
					Expect(ctx.Item).To(Equal(0))
				}),
			)

			f, _ := allocator.Allocate()
			allocator.Free(f)
		})
	})
})
