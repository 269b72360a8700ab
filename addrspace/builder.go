package addrspace

import (
	"fmt"
	"io"
	"log"

	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/mem/frame"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/vm"
)

// A Builder can build address spaces.
type Builder struct {
	machine       *machine.Machine
	frames        *frame.Allocator
	pager         Pager
	userStackSize int
	hooks         []hooking.Hook
}

// MakeBuilder creates a builder with a 1024-byte stack allowance and direct
// paging.
func MakeBuilder() Builder {
	return Builder{
		userStackSize: 1024,
		pager:         NewPager(DirectMode),
	}
}

// WithMachine sets the machine the address spaces run on.
func (b Builder) WithMachine(m *machine.Machine) Builder {
	b.machine = m
	return b
}

// WithFrameAllocator sets the allocator that supplies the frames.
func (b Builder) WithFrameAllocator(a *frame.Allocator) Builder {
	b.frames = a
	return b
}

// WithPager sets the paging strategy.
func (b Builder) WithPager(p Pager) Builder {
	b.pager = p
	return b
}

// WithPagingMode sets the paging strategy by mode.
func (b Builder) WithPagingMode(mode PagingMode) Builder {
	b.pager = NewPager(mode)
	return b
}

// WithUserStackSize sets the number of bytes reserved for the stack.
func (b Builder) WithUserStackSize(n int) Builder {
	b.userStackSize = n
	return b
}

// WithHook registers a hook on every address space built.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.machine == nil {
		log.Panic("address space built without a machine")
	}

	if b.frames == nil {
		log.Panic("address space built without a frame allocator")
	}

	if b.frames.NumFrames() != b.machine.NumPhysPages() {
		log.Panicf("frame allocator manages %d frames, machine has %d",
			b.frames.NumFrames(), b.machine.NumPhysPages())
	}

	if b.pager == nil {
		log.Panic("address space built without a pager")
	}

	if b.userStackSize < 0 {
		log.Panicf("negative stack size %d", b.userStackSize)
	}
}

// Build loads the header of the executable and creates an address space for
// it. The executable stays in use until the address space is released, which
// also closes it if it is an io.Closer. If Build fails, closing the executable
// is up to the caller.
func (b Builder) Build(name string, executable io.ReaderAt) (*AddressSpace, error) {
	b.parametersMustBeValid()

	header, err := noff.ReadHeader(executable)
	if err != nil {
		return nil, err
	}

	pageSize := b.machine.PageSize()
	numPages := header.NumPages(pageSize, b.userStackSize)

	err = segmentsMustFit(header, numPages*pageSize)
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{
		name:          name,
		machine:       b.machine,
		frames:        b.frames,
		pager:         b.pager,
		executable:    executable,
		header:        header,
		pageTable:     vm.NewPageTable(numPages),
		numPages:      numPages,
		userStackSize: b.userStackSize,
	}

	for _, h := range b.hooks {
		as.AcceptHook(h)
	}

	err = b.pager.Construct(as)
	if err != nil {
		return nil, err
	}

	return as, nil
}

func segmentsMustFit(h noff.Header, size int) error {
	for _, s := range []noff.Segment{h.Code, h.InitData, h.UninitData} {
		if s.Size > 0 && s.End() > int64(size) {
			return fmt.Errorf("%w: segment [0x%x, 0x%x) beyond the %d-byte address space",
				noff.ErrInvalidExecutable, s.VirtualAddr, s.End(), size)
		}
	}

	return nil
}
