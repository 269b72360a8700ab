package kernel

import (
	"log"

	"github.com/spf13/afero"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/mem/frame"
)

// A Builder can build kernels.
type Builder struct {
	machine       *machine.Machine
	frames        *frame.Allocator
	pagingMode    addrspace.PagingMode
	userStackSize int
	fs            afero.Fs
	spaces        *Registry[*Process]
	files         *Registry[*openFile]
	spaceHooks    []hooking.Hook
	kernelHooks   []hooking.Hook
}

// MakeBuilder creates a builder with direct paging, a 1024-byte user stack,
// and the file system of the host.
func MakeBuilder() Builder {
	return Builder{
		pagingMode:    addrspace.DirectMode,
		userStackSize: 1024,
	}
}

// WithMachine sets the machine.
func (b Builder) WithMachine(m *machine.Machine) Builder {
	b.machine = m
	return b
}

// WithFrameAllocator sets the frame allocator. By default the kernel manages
// every frame of the machine.
func (b Builder) WithFrameAllocator(a *frame.Allocator) Builder {
	b.frames = a
	return b
}

// WithPagingMode sets how address spaces get their frames.
func (b Builder) WithPagingMode(mode addrspace.PagingMode) Builder {
	b.pagingMode = mode
	return b
}

// WithUserStackSize sets the stack allowance of every address space.
func (b Builder) WithUserStackSize(n int) Builder {
	b.userStackSize = n
	return b
}

// WithFileSystem sets where executables and files are opened.
func (b Builder) WithFileSystem(fs afero.Fs) Builder {
	b.fs = fs
	return b
}

// WithSpaceRegistry sets the table of processes.
func (b Builder) WithSpaceRegistry(r *Registry[*Process]) Builder {
	b.spaces = r
	return b
}

// WithSpaceHook registers a hook on every address space the kernel creates.
func (b Builder) WithSpaceHook(h hooking.Hook) Builder {
	b.spaceHooks = append(b.spaceHooks[:len(b.spaceHooks):len(b.spaceHooks)], h)
	return b
}

// WithHook registers a hook on the kernel.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.kernelHooks = append(b.kernelHooks[:len(b.kernelHooks):len(b.kernelHooks)], h)
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.machine == nil {
		log.Panic("kernel built without a machine")
	}

	if b.pagingMode == addrspace.LazyMode && b.machine.TLB() == nil {
		log.Panic("lazy paging requires a machine with a TLB")
	}
}

// Build creates a kernel.
func (b Builder) Build() *Kernel {
	b.parametersMustBeValid()

	if b.frames == nil {
		b.frames = frame.NewAllocator(b.machine.NumPhysPages())
	}

	if b.fs == nil {
		b.fs = afero.NewOsFs()
	}

	if b.spaces == nil {
		b.spaces = NewRegistry[*Process](0)
	}

	if b.files == nil {
		b.files = NewRegistry[*openFile](int(FirstFileID))
	}

	spaceBuilder := addrspace.MakeBuilder().
		WithMachine(b.machine).
		WithFrameAllocator(b.frames).
		WithPagingMode(b.pagingMode).
		WithUserStackSize(b.userStackSize)
	for _, h := range b.spaceHooks {
		spaceBuilder = spaceBuilder.WithHook(h)
	}

	k := &Kernel{
		machine:      b.machine,
		frames:       b.frames,
		spaceBuilder: spaceBuilder,
		fs:           b.fs,
		spaces:       b.spaces,
		files:        b.files,
		current:      NoSpace,
	}

	for _, h := range b.kernelHooks {
		k.AcceptHook(h)
	}

	return k
}
