// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/nachosvm/kernel"
	"github.com/sarchlab/nachosvm/monitoring/web"
	"github.com/sarchlab/nachosvm/tracing"
	"github.com/sarchlab/nachosvm/vm"
)

// Monitor turns a kernel into a server that reports its address spaces, its
// frames, and its TLB.
type Monitor struct {
	kernel     *kernel.Kernel
	stats      *tracing.StatsTracer
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel sets the kernel to report.
func (m *Monitor) RegisterKernel(k *kernel.Kernel) {
	m.kernel = k
}

// RegisterStats sets the counters reported under /api/stats.
func (m *Monitor) RegisterStats(s *tracing.StatsTracer) {
	m.stats = s
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// TrackResidency shows how many pages of a process are resident as a progress
// bar. The bar disappears when the address space is released.
func (m *Monitor) TrackResidency(p *kernel.Process) *ProgressBar {
	bar := m.CreateProgressBar(
		fmt.Sprintf("%d:%s", p.ID, p.Path),
		uint64(p.Space.NumPages()),
	)
	bar.IncrementFinished(uint64(p.Space.PageTable().NumValid()))

	p.Space.AcceptHook(&residencyHook{monitor: m, bar: bar})

	return bar
}

// Router returns the handler of all the monitoring routes.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/spaces", m.listSpaces)
	r.HandleFunc("/api/space/{id}", m.spaceDetails)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/tlb", m.listTLB)
	r.HandleFunc("/api/stats", m.listStats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.Assets()))

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr, "Monitoring kernel with http://localhost:%d\n", port)

	server := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := server.Serve(listener)
		dieOnErr(err)
	}()

	return port
}

// OpenBrowser opens the monitoring page in the default browser.
func (m *Monitor) OpenBrowser(port int) error {
	return browser.OpenURL(fmt.Sprintf("http://localhost:%d", port))
}

type spaceRsp struct {
	ID         int    `json:"id"`
	Path       string `json:"path"`
	Owner      string `json:"owner"`
	Mode       string `json:"mode"`
	NumPages   int    `json:"num_pages"`
	ValidPages int    `json:"valid_pages"`
	Running    bool   `json:"running"`
}

func (m *Monitor) listSpaces(w http.ResponseWriter, _ *http.Request) {
	if !m.kernelRegisteredOr503(w) {
		return
	}

	current := m.kernel.Current()
	rsp := []spaceRsp{}

	for _, p := range m.kernel.Processes() {
		owner := ""
		if p.Owner != nil {
			owner = p.Owner.Name()
		}

		rsp = append(rsp, spaceRsp{
			ID:         int(p.ID),
			Path:       p.Path,
			Owner:      owner,
			Mode:       p.Space.Mode().String(),
			NumPages:   p.Space.NumPages(),
			ValidPages: p.Space.PageTable().NumValid(),
			Running:    p.ID == current,
		})
	}

	writeJSON(w, rsp)
}

type spaceDetail struct {
	ID        int
	Path      string
	Arguments []string
	Pages     []vm.TranslationEntry
}

func (m *Monitor) spaceDetails(w http.ResponseWriter, r *http.Request) {
	if !m.kernelRegisteredOr503(w) {
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid space id", http.StatusBadRequest)
		return
	}

	p, err := m.kernel.Process(kernel.SpaceID(id))
	if err != nil {
		http.Error(w, "Space not found", http.StatusNotFound)
		return
	}

	detail := &spaceDetail{
		ID:        int(p.ID),
		Path:      p.Path,
		Arguments: p.Space.Arguments(),
		Pages:     p.Space.PageTable().Entries(),
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail)
	serializer.SetMaxDepth(3)
	err = serializer.Serialize(w)

	dieOnErr(err)
}

type framesRsp struct {
	Total     int   `json:"total"`
	Free      int   `json:"free"`
	Allocated []int `json:"allocated"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	if !m.kernelRegisteredOr503(w) {
		return
	}

	frames := m.kernel.Frames()

	writeJSON(w, framesRsp{
		Total:     frames.NumFrames(),
		Free:      frames.NumFree(),
		Allocated: frames.Allocated(),
	})
}

func (m *Monitor) listTLB(w http.ResponseWriter, _ *http.Request) {
	if !m.kernelRegisteredOr503(w) {
		return
	}

	t := m.kernel.Machine().TLB()
	if t == nil {
		writeJSON(w, []vm.TranslationEntry{})
		return
	}

	writeJSON(w, t.Entries())
}

func (m *Monitor) listStats(w http.ResponseWriter, _ *http.Request) {
	if m.stats == nil {
		writeJSON(w, map[string]uint64{})
		return
	}

	writeJSON(w, m.stats.Counts())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) kernelRegisteredOr503(w http.ResponseWriter) bool {
	if m.kernel == nil {
		http.Error(w, "No kernel registered", http.StatusServiceUnavailable)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
