// Package kernel ties address spaces to the processes that run in them. It
// keeps the space table and the open-file table, and serves the requests of
// user programs that touch memory management: exec, page faults, exit, and
// the file calls.
package kernel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/mem/frame"
)

// SpaceID identifies a process and its address space.
type SpaceID int

// NoSpace is the id of no process.
const NoSpace SpaceID = -1

// HookPosExec marks that a process was created. The item is the *Process.
var HookPosExec = &hooking.HookPos{Name: "Exec"}

// HookPosExit marks that a process exited. The item is the *Process.
var HookPosExit = &hooking.HookPos{Name: "Exit"}

// HookPosTerminate marks that a process was killed by a fault it could not
// survive. The item is the *Process and the detail is the error.
var HookPosTerminate = &hooking.HookPos{Name: "Terminate"}

// A Process is a registered address space.
type Process struct {
	ID     SpaceID
	Path   string
	Owner  *Thread
	Thread *Thread
	Space  *addrspace.AddressSpace
}

// Kernel is the part of the operating system that manages user memory.
type Kernel struct {
	hooking.HookableBase

	machine      *machine.Machine
	frames       *frame.Allocator
	spaceBuilder addrspace.Builder
	fs           afero.Fs

	spaces *Registry[*Process]
	files  *Registry[*openFile]

	mu      sync.Mutex
	current SpaceID
}

// Name returns the name of the kernel.
func (k *Kernel) Name() string {
	return "Kernel"
}

// Machine returns the machine the kernel runs on.
func (k *Kernel) Machine() *machine.Machine {
	return k.machine
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *frame.Allocator {
	return k.frames
}

// Current returns the process that is on the machine.
func (k *Kernel) Current() SpaceID {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.current
}

// Process returns a registered process.
func (k *Kernel) Process(id SpaceID) (*Process, error) {
	p, ok := k.spaces.Get(int(id))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSpace, id)
	}

	return p, nil
}

// Processes returns the registered processes in id order.
func (k *Kernel) Processes() []*Process {
	var res []*Process

	k.spaces.Each(func(_ int, p *Process) {
		res = append(res, p)
	})

	return res
}

// Exec loads the executable at path into a new address space and registers
// it as a process owned by owner. The arguments of the program are path
// followed by args. The process does not run until StartProcess.
func (k *Kernel) Exec(owner *Thread, path string, args []string) (SpaceID, error) {
	p, err := k.load(owner, path)
	if err != nil {
		return NoSpace, err
	}

	p.Space.SetArguments(append([]string{path}, args...))

	return k.register(p), nil
}

// ExecFromUser serves the exec call of the running program caller. The path
// is a NUL-terminated string at pathAddr and the arguments are argc strings
// whose pointers are stored at argvAddr, all in the memory of caller.
func (k *Kernel) ExecFromUser(
	caller SpaceID,
	pathAddr, argc, argvAddr int,
) (SpaceID, error) {
	parent, err := k.Process(caller)
	if err != nil {
		return NoSpace, err
	}

	path, err := k.ReadUserString(caller, pathAddr, addrspace.MaxArgLength)
	if err != nil {
		return NoSpace, err
	}

	p, err := k.load(parent.Thread, path)
	if err != nil {
		return NoSpace, err
	}

	err = p.Space.SetArgumentsFromUser(userMemory{k, caller}, argc, argvAddr, path)
	if err != nil {
		_ = p.Space.Release()
		return NoSpace, err
	}

	return k.register(p), nil
}

func (k *Kernel) load(owner *Thread, path string) (*Process, error) {
	f, err := k.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening executable: %w", err)
	}

	space, err := k.spaceBuilder.Build(path, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	return &Process{
		Path:   path,
		Owner:  owner,
		Thread: NewThread(path),
		Space:  space,
	}, nil
}

func (k *Kernel) register(p *Process) SpaceID {
	p.ID = SpaceID(k.spaces.Add(p))

	k.InvokeHook(hooking.HookCtx{
		Domain: k,
		Pos:    HookPosExec,
		Item:   p,
	})

	return p.ID
}

// StartProcess puts a process on the machine for the first time: its address
// space becomes active, the registers get their initial values, and the
// arguments are copied to its stack. The process that was running is saved.
func (k *Kernel) StartProcess(id SpaceID) error {
	p, err := k.Process(id)
	if err != nil {
		return err
	}

	k.machine.Exclusive(func() {
		k.saveCurrent()

		p.Space.RestoreState()
		p.Space.InitRegisters()
		err = p.Space.StageArguments()

		k.setCurrent(id)
	})

	if err != nil {
		return k.terminate(p, err)
	}

	return nil
}

// ContextSwitch takes the machine from one process and gives it to another.
// From may be NoSpace when the machine is idle.
func (k *Kernel) ContextSwitch(from, to SpaceID) error {
	next, err := k.Process(to)
	if err != nil {
		return err
	}

	var prev *Process
	if from != NoSpace {
		prev, err = k.Process(from)
		if err != nil {
			return err
		}
	}

	k.machine.Exclusive(func() {
		if prev != nil {
			prev.Space.SaveState()
		}

		next.Space.RestoreState()
		k.setCurrent(to)
	})

	return nil
}

func (k *Kernel) saveCurrent() {
	cur := k.Current()
	if cur == NoSpace {
		return
	}

	if p, ok := k.spaces.Get(int(cur)); ok {
		p.Space.SaveState()
	}
}

func (k *Kernel) setCurrent(id SpaceID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.current = id
}

// HandlePageFault resolves the fault recorded in BadVAddrReg for process id,
// which must be the running process. If the fault cannot be resolved, the
// process is terminated and the error is returned.
func (k *Kernel) HandlePageFault(id SpaceID) error {
	p, err := k.Process(id)
	if err != nil {
		return err
	}

	if k.Current() != id {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}

	badVAddr := k.machine.ReadRegister(machine.BadVAddrReg)

	err = p.Space.HandleTranslationFault(badVAddr)
	if err != nil {
		return k.terminate(p, err)
	}

	return nil
}

func (k *Kernel) terminate(p *Process, cause error) error {
	_ = k.remove(p)

	k.InvokeHook(hooking.HookCtx{
		Domain: k,
		Pos:    HookPosTerminate,
		Item:   p,
		Detail: cause,
	})

	return fmt.Errorf("process %d (%s) terminated: %w", p.ID, p.Path, cause)
}

// Exit releases the address space of a process and deregisters it.
func (k *Kernel) Exit(id SpaceID) error {
	p, err := k.Process(id)
	if err != nil {
		return err
	}

	err = k.remove(p)

	k.InvokeHook(hooking.HookCtx{
		Domain: k,
		Pos:    HookPosExit,
		Item:   p,
	})

	return err
}

func (k *Kernel) remove(p *Process) error {
	k.spaces.Remove(int(p.ID))

	k.mu.Lock()
	if k.current == p.ID {
		k.current = NoSpace
	}
	k.mu.Unlock()

	k.closeFilesOf(p.Thread)

	return p.Space.Release()
}

// ReadUser loads size bytes from the memory of the running process, resolving
// the page faults the access hits.
func (k *Kernel) ReadUser(id SpaceID, vaddr, size int) (int, error) {
	var v int

	err := k.withFaults(id, func() error {
		var err error
		v, err = k.machine.ReadMem(vaddr, size)

		return err
	})

	return v, err
}

// WriteUser stores size bytes of value to the memory of the running process,
// resolving the page faults the access hits.
func (k *Kernel) WriteUser(id SpaceID, vaddr, size, value int) error {
	return k.withFaults(id, func() error {
		return k.machine.WriteMem(vaddr, size, value)
	})
}

// ReadUserString reads a NUL-terminated string of at most maxLen bytes from
// the memory of the running process.
func (k *Kernel) ReadUserString(id SpaceID, vaddr, maxLen int) (string, error) {
	buf := make([]byte, 0, 16)

	for len(buf) < maxLen {
		c, err := k.ReadUser(id, vaddr+len(buf), 1)
		if err != nil {
			return "", err
		}

		if c == 0 {
			break
		}

		buf = append(buf, byte(c))
	}

	return string(buf), nil
}

// ReadUserBytes reads n bytes from the memory of the running process.
func (k *Kernel) ReadUserBytes(id SpaceID, vaddr, n int) ([]byte, error) {
	buf := make([]byte, n)

	for i := range buf {
		c, err := k.ReadUser(id, vaddr+i, 1)
		if err != nil {
			return nil, err
		}

		buf[i] = byte(c)
	}

	return buf, nil
}

// WriteUserBytes copies data to the memory of the running process.
func (k *Kernel) WriteUserBytes(id SpaceID, vaddr int, data []byte) error {
	for i, b := range data {
		err := k.WriteUser(id, vaddr+i, 1, int(b))
		if err != nil {
			return err
		}
	}

	return nil
}

func (k *Kernel) withFaults(id SpaceID, access func() error) error {
	if k.Current() != id {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}

	for {
		err := access()
		if k.outsideSpace(id, err) {
			return k.segmentationFault(id, err)
		}

		if !machine.IsPageFault(err) {
			return err
		}

		err = k.HandlePageFault(id)
		if err != nil {
			return err
		}
	}
}

// outsideSpace tells if err is an address error on an address that process id
// does not map.
func (k *Kernel) outsideSpace(id SpaceID, err error) bool {
	var e *machine.Exception
	if !errors.As(err, &e) || e.Type != machine.AddressError {
		return false
	}

	p, ok := k.spaces.Get(int(id))
	if !ok {
		return false
	}

	return e.BadVAddr < 0 || e.BadVAddr >= p.Space.Size()
}

func (k *Kernel) segmentationFault(id SpaceID, cause error) error {
	p, err := k.Process(id)
	if err != nil {
		return err
	}

	return k.terminate(p, fmt.Errorf("%w: %w", addrspace.ErrSegmentationFault, cause))
}

// userMemory reads the memory of a running process for an address space that
// is being set up.
type userMemory struct {
	k  *Kernel
	id SpaceID
}

func (m userMemory) ReadMem(vaddr, size int) (int, error) {
	return m.k.ReadUser(m.id, vaddr, size)
}
