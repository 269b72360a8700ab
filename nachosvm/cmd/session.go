package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/afero"

	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/kernel"
	"github.com/sarchlab/nachosvm/mem/frame"
	"github.com/sarchlab/nachosvm/monitoring"
	"github.com/sarchlab/nachosvm/tracing"
)

// A session is one kernel with its tracers attached.
type session struct {
	cfg      config.Config
	kernel   *kernel.Kernel
	stats    *tracing.StatsTracer
	trace    afero.File
	recorder datarecording.DataRecorder
	events   *tracing.RecorderTracer
	monitor  *monitoring.Monitor
}

func newSession(cfg config.Config, fs afero.Fs) (*session, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:   cfg,
		stats: tracing.NewStatsTracer(),
	}

	hooks := []hooking.Hook{s.stats}

	if cfg.TraceFile != "" {
		s.trace, err = fs.Create(cfg.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("creating trace file: %w", err)
		}

		hooks = append(hooks, tracing.NewLogTracer(s.trace))
	}

	if cfg.RecordDriver != "" {
		s.recorder, err = datarecording.Open(cfg.RecordDriver, cfg.RecordDSN)
		if err != nil {
			s.close()
			return nil, err
		}

		s.events = tracing.NewRecorderTracer(s.recorder)
		hooks = append(hooks, s.events)
	}

	m := cfg.MachineBuilder().Build()
	frames := frame.NewAllocator(cfg.NumPhysPages)

	kb := kernel.MakeBuilder().
		WithMachine(m).
		WithFrameAllocator(frames).
		WithPagingMode(cfg.PagingMode).
		WithUserStackSize(cfg.UserStackSize).
		WithFileSystem(fs)

	for _, h := range hooks {
		kb = kb.WithSpaceHook(h).WithHook(h)
		tracing.CollectTrace(h, frames)

		if m.TLB() != nil {
			tracing.CollectTrace(h, m.TLB())
		}
	}

	s.kernel = kb.Build()

	if cfg.MonitorPort >= 0 {
		s.monitor = monitoring.NewMonitor().WithPortNumber(cfg.MonitorPort)
		s.monitor.RegisterKernel(s.kernel)
		s.monitor.RegisterStats(s.stats)
	}

	return s, nil
}

// run executes a program by touching every page of its address space once,
// in order, the way a program that scans its whole image would.
func (s *session) run(
	path string,
	args []string,
	touch bool,
) (p *kernel.Process, err error) {
	id, err := s.kernel.Exec(kernel.NewThread("main"), path, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			s.exitIfRegistered(id)
		}
	}()

	p, err = s.kernel.Process(id)
	if err != nil {
		return nil, err
	}

	if s.monitor != nil {
		s.monitor.TrackResidency(p)
	}

	err = s.kernel.StartProcess(id)
	if err != nil {
		return p, err
	}

	if !touch {
		return p, nil
	}

	pageSize := s.kernel.Machine().PageSize()
	for vpn := 0; vpn < p.Space.NumPages(); vpn++ {
		_, err = s.kernel.ReadUser(id, vpn*pageSize, 4)
		if err != nil {
			return p, fmt.Errorf("touching page %d: %w", vpn, err)
		}
	}

	return p, nil
}

// exitIfRegistered releases a process that failed without being terminated
// by the kernel.
func (s *session) exitIfRegistered(id kernel.SpaceID) {
	if _, err := s.kernel.Process(id); err != nil {
		return
	}

	err := s.kernel.Exit(id)
	if err != nil {
		warn("cannot release process %d: %v", id, err)
	}
}

func (s *session) report(w io.Writer, p *kernel.Process) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "program\t%s\n", p.Path)
	fmt.Fprintf(tw, "paging\t%s\n", s.cfg.PagingMode)
	fmt.Fprintf(tw, "pages\t%d\n", p.Space.NumPages())
	fmt.Fprintf(tw, "resident\t%d\n", p.Space.PageTable().NumValid())
	fmt.Fprintf(tw, "frames in use\t%d/%d\n",
		s.kernel.Frames().NumFrames()-s.kernel.Frames().NumFree(),
		s.kernel.Frames().NumFrames())

	counts := s.stats.Counts()
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}

	tw.Flush()
}

func (s *session) close() error {
	var errs []error

	if s.events != nil {
		s.events.Flush()
	}

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	if s.trace != nil {
		errs = append(errs, s.trace.Close())
	}

	return errors.Join(errs...)
}
