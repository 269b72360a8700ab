package tracing_test

import (
	"bytes"
	"encoding/csv"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/kernel"
	"github.com/sarchlab/nachosvm/mem/frame"
	"github.com/sarchlab/nachosvm/tracing"
	"github.com/sarchlab/nachosvm/vm"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

var _ = Describe("NewEvent", func() {
	It("should put frame indices in the frame column", func() {
		frames := frame.NewAllocator(4)

		e := tracing.NewEvent(hooking.HookCtx{
			Domain: frames,
			Pos:    frame.HookPosAlloc,
			Item:   3,
		})

		Expect(e.Domain).To(Equal("FrameAllocator"))
		Expect(e.What).To(Equal("FrameAlloc"))
		Expect(e.Frame).To(Equal(3))
		Expect(e.VAddr).To(Equal(tracing.NA))
		Expect(e.Count).To(Equal(tracing.NA))
	})

	It("should put fault addresses in the vaddr column", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:  addrspace.HookPosPageFault,
			Item: 0x184,
		})

		Expect(e.VAddr).To(Equal(0x184))
		Expect(e.Frame).To(Equal(tracing.NA))
		Expect(e.Domain).To(BeEmpty())
	})

	It("should describe loaded pages", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:    addrspace.HookPosPageLoaded,
			Item:   vm.TranslationEntry{VirtualPage: 2, PhysicalPage: 7, Valid: true},
			Detail: addrspace.LoadDetail{CodeBytes: 100, DataBytes: 28},
		})

		Expect(e.VPN).To(Equal(2))
		Expect(e.Frame).To(Equal(7))
		Expect(e.Note).To(Equal("code=100 data=28"))
	})

	It("should describe TLB evictions", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:  tlb.HookPosRefill,
			Item: vm.TranslationEntry{VirtualPage: 5, PhysicalPage: 1, Valid: true},
			Detail: tlb.RefillDetail{
				Slot:    2,
				Evicted: vm.TranslationEntry{VirtualPage: 9, Valid: true},
			},
		})

		Expect(e.Slot).To(Equal(2))
		Expect(e.VPN).To(Equal(5))
		Expect(e.Note).To(Equal("evicted vpn 9"))
	})

	It("should describe staged arguments", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:    addrspace.HookPosArgumentsStaged,
			Item:   []string{"prog", "hello"},
			Detail: 1004,
		})

		Expect(e.Count).To(Equal(2))
		Expect(e.Note).To(Equal("prog hello"))
		Expect(e.VAddr).To(Equal(1004))
	})

	It("should describe terminated processes", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:    kernel.HookPosTerminate,
			Item:   &kernel.Process{ID: 4, Path: "halt"},
			Detail: errors.New("segfault"),
		})

		Expect(e.Count).To(Equal(4))
		Expect(e.Note).To(Equal("segfault"))
	})

	It("should count released frames", func() {
		e := tracing.NewEvent(hooking.HookCtx{
			Pos:  addrspace.HookPosReleased,
			Item: 11,
		})

		Expect(e.Count).To(Equal(11))
	})
})

var _ = Describe("LogTracer", func() {
	var (
		buf    *bytes.Buffer
		tracer *tracing.LogTracer
		frames *frame.Allocator
	)

	BeforeEach(func() {
		buf = new(bytes.Buffer)
		tracer = tracing.NewLogTracer(buf)
		frames = frame.NewAllocator(4)
		tracing.CollectTrace(tracer, frames)
	})

	It("should write a header line", func() {
		records, err := csv.NewReader(buf).ReadAll()

		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0]).To(Equal(tracing.LogHeader))
	})

	It("should write one numbered line per event", func() {
		f, err := frames.Allocate()
		Expect(err).ToNot(HaveOccurred())
		frames.Free(f)

		records, err := csv.NewReader(buf).ReadAll()

		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect(records[1]).To(Equal([]string{
			"1", "FrameAllocator", "FrameAlloc", "", "", "0", "", "", "",
		}))
		Expect(records[2][0]).To(Equal("2"))
		Expect(records[2][2]).To(Equal("FrameFree"))
	})
})

var _ = Describe("StatsTracer", func() {
	It("should count events per position", func() {
		stats := tracing.NewStatsTracer()
		table := tlb.NewTable(2)
		frames := frame.NewAllocator(4)
		tracing.CollectTrace(stats, table, frames)

		table.Install(0, vm.TranslationEntry{VirtualPage: 1, Valid: true})
		table.Install(1, vm.TranslationEntry{VirtualPage: 2, Valid: true})
		table.InvalidateAll()
		_, _ = frames.Allocate()

		Expect(stats.Count(tlb.HookPosRefill)).To(Equal(uint64(2)))
		Expect(stats.Count(tlb.HookPosInvalidate)).To(Equal(uint64(1)))
		Expect(stats.Count(frame.HookPosFree)).To(BeZero())
		Expect(stats.Counts()).To(Equal(map[string]uint64{
			"TLBRefill":     2,
			"TLBInvalidate": 1,
			"FrameAlloc":    1,
		}))
	})

	It("should ignore contexts without a position", func() {
		stats := tracing.NewStatsTracer()

		stats.Func(hooking.HookCtx{})

		Expect(stats.Counts()).To(BeEmpty())
	})
})

var _ = Describe("RecorderTracer", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should create the event table and insert events", func() {
		recorder.EXPECT().CreateTable(tracing.EventTable, tracing.Event{})
		tracer := tracing.NewRecorderTracer(recorder)

		var inserted []tracing.Event
		recorder.EXPECT().
			InsertData(tracing.EventTable, gomock.Any()).
			Do(func(_ string, entry any) {
				inserted = append(inserted, entry.(tracing.Event))
			}).
			Times(2)
		recorder.EXPECT().Flush()

		table := tlb.NewTable(1)
		tracing.CollectTrace(tracer, table)
		table.Install(0, vm.TranslationEntry{VirtualPage: 3, PhysicalPage: 6, Valid: true})
		table.InvalidateAll()
		tracer.Flush()

		Expect(inserted).To(HaveLen(2))
		Expect(inserted[0].Seq).To(Equal(uint64(1)))
		Expect(inserted[0].Domain).To(Equal("TLB"))
		Expect(inserted[0].VPN).To(Equal(3))
		Expect(inserted[0].Slot).To(Equal(0))
		Expect(inserted[1].Seq).To(Equal(uint64(2)))
		Expect(inserted[1].What).To(Equal("TLBInvalidate"))
		Expect(inserted[1].Count).To(Equal(1))
	})
})
