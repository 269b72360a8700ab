package monitoring_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/kernel"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/monitoring"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/tracing"
)

func installProgram(fs afero.Fs, path string) {
	img := noff.Image{
		Code:           bytes.Repeat([]byte{0x42}, 200),
		InitData:       bytes.Repeat([]byte{0x43}, 60),
		InitDataAddr:   200,
		UninitDataAddr: 260,
		UninitDataSize: 40,
	}

	err := afero.WriteFile(fs, path, img.Encode(binary.LittleEndian), 0o755)
	Expect(err).NotTo(HaveOccurred())
}

func get(h http.Handler, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode(rec *httptest.ResponseRecorder, v any) {
	Expect(rec.Code).To(Equal(http.StatusOK))
	Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
}

var _ = Describe("Monitor", func() {
	var (
		fs      afero.Fs
		owner   *kernel.Thread
		k       *kernel.Kernel
		stats   *tracing.StatsTracer
		monitor *monitoring.Monitor
		router  http.Handler
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		installProgram(fs, "/bin/prog")
		owner = kernel.NewThread("main")
		stats = tracing.NewStatsTracer()
		monitor = monitoring.NewMonitor()
		monitor.RegisterStats(stats)
		router = monitor.Router()
	})

	It("should refuse kernel routes before a kernel is registered", func() {
		rec := get(router, "/api/spaces")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should serve the index page", func() {
		rec := get(router, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	Context("with a kernel in direct mode", func() {
		var id kernel.SpaceID

		BeforeEach(func() {
			k = kernel.MakeBuilder().
				WithMachine(machine.MakeBuilder().Build()).
				WithFileSystem(fs).
				WithSpaceHook(stats).
				Build()
			monitor.RegisterKernel(k)

			var err error
			id, err = k.Exec(owner, "/bin/prog", []string{"x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(k.StartProcess(id)).To(Succeed())
		})

		It("should list the address spaces", func() {
			var spaces []map[string]any
			decode(get(router, "/api/spaces"), &spaces)

			Expect(spaces).To(HaveLen(1))
			Expect(spaces[0]["path"]).To(Equal("/bin/prog"))
			Expect(spaces[0]["owner"]).To(Equal("main"))
			Expect(spaces[0]["mode"]).To(Equal(addrspace.DirectMode.String()))
			Expect(spaces[0]["num_pages"]).To(BeNumerically("==", 11))
			Expect(spaces[0]["valid_pages"]).To(BeNumerically("==", 11))
			Expect(spaces[0]["running"]).To(BeTrue())
		})

		It("should report the frames in use", func() {
			var frames struct {
				Total     int   `json:"total"`
				Free      int   `json:"free"`
				Allocated []int `json:"allocated"`
			}
			decode(get(router, "/api/frames"), &frames)

			Expect(frames.Total).To(Equal(32))
			Expect(frames.Free).To(Equal(21))
			Expect(frames.Allocated).To(HaveLen(11))
		})

		It("should report an empty TLB", func() {
			var entries []any
			decode(get(router, "/api/tlb"), &entries)

			Expect(entries).To(BeEmpty())
		})

		It("should serialize one space", func() {
			rec := get(router, "/api/space/0")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.Len()).To(BeNumerically(">", 0))
		})

		It("should reject unknown spaces", func() {
			Expect(get(router, "/api/space/7").Code).
				To(Equal(http.StatusNotFound))
			Expect(get(router, "/api/space/abc").Code).
				To(Equal(http.StatusBadRequest))
		})

		It("should report the event counters", func() {
			var counts map[string]uint64
			decode(get(router, "/api/stats"), &counts)

			Expect(counts).To(HaveKeyWithValue(
				addrspace.HookPosArgumentsStaged.Name, uint64(1)))
		})

		It("should report the resources of the process", func() {
			var rsp struct {
				MemorySize uint64 `json:"memory_size"`
			}
			decode(get(router, "/api/resource"), &rsp)

			Expect(rsp.MemorySize).To(BeNumerically(">", 0))
		})
	})

	Context("with a kernel in lazy mode", func() {
		BeforeEach(func() {
			k = kernel.MakeBuilder().
				WithMachine(machine.MakeBuilder().WithTLBSize(4).Build()).
				WithFileSystem(fs).
				WithPagingMode(addrspace.LazyMode).
				Build()
			monitor.RegisterKernel(k)
		})

		It("should show resident pages as progress", func() {
			id, err := k.Exec(owner, "/bin/prog", nil)
			Expect(err).NotTo(HaveOccurred())
			p, err := k.Process(id)
			Expect(err).NotTo(HaveOccurred())

			bar := monitor.TrackResidency(p)
			Expect(bar.Total).To(Equal(uint64(11)))
			Expect(bar.Finished).To(BeZero())

			Expect(k.StartProcess(id)).To(Succeed())
			_, err = k.ReadUser(id, 0, 4)
			Expect(err).NotTo(HaveOccurred())

			var bars []monitoring.ProgressBar
			decode(get(router, "/api/progress"), &bars)
			Expect(bars).To(HaveLen(1))
			Expect(bars[0].Finished).To(Equal(uint64(p.Space.PageTable().NumValid())))

			var entries []map[string]any
			decode(get(router, "/api/tlb"), &entries)
			Expect(entries).To(HaveLen(4))

			Expect(k.Exit(id)).To(Succeed())

			decode(get(router, "/api/progress"), &bars)
			Expect(bars).To(BeEmpty())
		})
	})
})
