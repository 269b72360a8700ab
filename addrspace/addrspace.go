// Package addrspace manages the address spaces that user programs run in. An
// address space is loaded from a NOFF executable, owns the page table that
// maps it onto physical frames, and serves the page faults of its program.
package addrspace

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/mem/frame"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/vm"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

// StackReserve is left between the stack register and the data the kernel
// places at the top of the stack.
const StackReserve = 16

// HookPosPageFault marks that a fault is being resolved. The item is the
// faulting virtual address.
var HookPosPageFault = &hooking.HookPos{Name: "PageFault"}

// HookPosPageLoaded marks that a page got a frame. The item is the new
// translation entry and the detail is a LoadDetail.
var HookPosPageLoaded = &hooking.HookPos{Name: "PageLoaded"}

// HookPosPageAlreadyLoaded marks a fault on a page that is already valid. The
// item is the translation entry.
var HookPosPageAlreadyLoaded = &hooking.HookPos{Name: "PageAlreadyLoaded"}

// HookPosArgumentsStaged marks that the arguments are on the user stack. The
// item is the argument list and the detail is the address of argv.
var HookPosArgumentsStaged = &hooking.HookPos{Name: "ArgumentsStaged"}

// HookPosReleased marks that an address space returned its frames. The item
// is the number of frames returned.
var HookPosReleased = &hooking.HookPos{Name: "Released"}

// LoadDetail tells how many bytes of a loaded page came from each segment.
type LoadDetail struct {
	CodeBytes int
	DataBytes int
}

// AddressSpace is the memory of one user program.
type AddressSpace struct {
	hooking.HookableBase

	mu sync.Mutex

	name          string
	machine       *machine.Machine
	frames        *frame.Allocator
	pager         Pager
	executable    io.ReaderAt
	header        noff.Header
	pageTable     *vm.PageTable
	numPages      int
	userStackSize int

	args            []string
	argsStaged      bool
	stackPagesAdded int

	savedRegs    [machine.NumTotalRegs]int
	hasSavedRegs bool

	refill   tlb.RoundRobin
	active   bool
	released bool
}

// Name returns the name of the address space.
func (as *AddressSpace) Name() string {
	return as.name
}

// Header returns the header of the executable.
func (as *AddressSpace) Header() noff.Header {
	return as.header
}

// NumPages returns the number of virtual pages.
func (as *AddressSpace) NumPages() int {
	return as.numPages
}

// Size returns the number of bytes of virtual memory.
func (as *AddressSpace) Size() int {
	return as.numPages * as.machine.PageSize()
}

// PageTable returns the page table of the address space.
func (as *AddressSpace) PageTable() *vm.PageTable {
	return as.pageTable
}

// Mode returns the paging mode of the address space.
func (as *AddressSpace) Mode() PagingMode {
	return as.pager.Mode()
}

// Released tells if the address space has returned its frames.
func (as *AddressSpace) Released() bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.released
}

// RefillCursor returns the position of the round-robin TLB refill cursor.
func (as *AddressSpace) RefillCursor() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.refill.Cursor()
}

// InitRegisters sets the registers to their values at program start: all
// zero except the program counters and the stack pointer, which points just
// below the end of the address space.
func (as *AddressSpace) InitRegisters() {
	var regs [machine.NumTotalRegs]int

	regs[machine.PCReg] = 0
	regs[machine.NextPCReg] = machine.WordSize
	regs[machine.StackReg] = as.Size() - StackReserve

	as.machine.SetRegisters(regs)
}

// SaveState keeps the user registers of the outgoing program. Status bits
// collected by the TLB are merged back into the page table.
func (as *AddressSpace) SaveState() {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.savedRegs = as.machine.Registers()
	as.hasSavedRegs = true
	as.active = false

	if t := as.machine.TLB(); t != nil && as.pager.Mode() == LazyMode {
		for _, e := range t.Entries() {
			as.mergeStatusBits(e)
		}
	}
}

// RestoreState hands the machine to this address space. The caller must make
// the switch atomic with respect to the scheduler, see machine.Exclusive.
func (as *AddressSpace) RestoreState() {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.pager.OnContextSwitchRestore(as)
	as.active = true

	if as.hasSavedRegs {
		as.machine.SetRegisters(as.savedRegs)
	}
}

// HandleTranslationFault resolves a miss on badVAddr. Addresses outside the
// address space yield ErrSegmentationFault; running out of frames yields
// ErrOutOfMemory. Both are fatal to the program. The TLB is only refilled
// while the address space is on the machine, between RestoreState and
// SaveState.
func (as *AddressSpace) HandleTranslationFault(badVAddr int) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.released {
		return ErrReleased
	}

	vpn := badVAddr / as.machine.PageSize()
	if badVAddr < 0 || vpn >= as.numPages {
		return fmt.Errorf("%w: address 0x%x beyond %d pages",
			ErrSegmentationFault, badVAddr, as.numPages)
	}

	as.InvokeHook(hooking.HookCtx{
		Domain: as,
		Pos:    HookPosPageFault,
		Item:   badVAddr,
	})

	return as.pager.ResolveFault(as, vpn)
}

// Release returns every frame owned by the address space and closes the
// executable. Releasing twice does nothing.
func (as *AddressSpace) Release() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.released {
		return nil
	}

	as.released = true
	as.active = false
	n := as.releaseFrames()

	if as.machine.ActivePageTable() == as.pageTable {
		as.machine.UsePageTable(nil)
	}

	as.InvokeHook(hooking.HookCtx{
		Domain: as,
		Pos:    HookPosReleased,
		Item:   n,
	})

	if closer, ok := as.executable.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// releaseFrames frees the frame of every valid page and drops the TLB
// entries that point to them.
func (as *AddressSpace) releaseFrames() int {
	freed := make(map[int]bool)

	for vpn := 0; vpn < as.numPages; vpn++ {
		f, wasValid := as.pageTable.Unmap(vpn)
		if !wasValid {
			continue
		}

		as.frames.Free(f)
		freed[f] = true
	}

	if t := as.machine.TLB(); t != nil && len(freed) > 0 {
		t.InvalidateIf(func(e vm.TranslationEntry) bool {
			return freed[e.PhysicalPage]
		})
	}

	return len(freed)
}

// CopyToMemory copies size bytes from the executable at inFileAddr to the
// virtual range starting at virtualAddr. Every page of the range must be
// resident. The range may start and end in the middle of pages.
func (as *AddressSpace) CopyToMemory(virtualAddr, inFileAddr, size int) error {
	if size < 0 {
		log.Panicf("negative copy size %d", size)
	}

	pageSize := as.machine.PageSize()

	for done := 0; done < size; {
		addr := virtualAddr + done
		vpn := addr / pageSize
		offset := addr % pageSize
		n := min(size-done, pageSize-offset)

		entry, err := as.residentEntry(vpn)
		if err != nil {
			return err
		}

		err = as.copyToFrame(entry.PhysicalPage, offset,
			int64(inFileAddr+done), n)
		if err != nil {
			return err
		}

		done += n
	}

	return nil
}

func (as *AddressSpace) residentEntry(vpn int) (vm.TranslationEntry, error) {
	entry, found := as.pageTable.Lookup(vpn)
	if !found {
		return entry, fmt.Errorf("%w: page %d beyond %d pages",
			ErrSegmentationFault, vpn, as.numPages)
	}

	if !entry.Valid {
		return entry, fmt.Errorf("%w: page %d", ErrNotResident, vpn)
	}

	return entry, nil
}

func (as *AddressSpace) copyToFrame(
	frameIndex, pageOffset int,
	fileOffset int64,
	n int,
) error {
	buf := make([]byte, n)

	read, err := as.executable.ReadAt(buf, fileOffset)
	if read < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		return fmt.Errorf("%w: reading %d bytes at offset %d: %w",
			noff.ErrInvalidExecutable, n, fileOffset, err)
	}

	paddr := frameIndex*as.machine.PageSize() + pageOffset

	return as.machine.MainMemory().Write(paddr, buf)
}

func (as *AddressSpace) copySegments() error {
	segments := []noff.Segment{as.header.Code, as.header.InitData}

	for _, s := range segments {
		if s.Size == 0 {
			continue
		}

		err := as.CopyToMemory(int(s.VirtualAddr), int(s.InFileAddr), int(s.Size))
		if err != nil {
			return err
		}
	}

	return nil
}

// mapZeroedPage gives a page a fresh zero-filled frame.
func (as *AddressSpace) mapZeroedPage(vpn int) error {
	f, err := as.frames.Allocate()
	if err != nil {
		return fmt.Errorf("%w: mapping page %d: %w", ErrOutOfMemory, vpn, err)
	}

	err = as.machine.MainMemory().ZeroFrame(f)
	if err != nil {
		as.frames.Free(f)
		return err
	}

	as.pageTable.Map(vpn, f)

	return nil
}

// loadPage makes a page valid, filling it with the bytes of the code and
// initialized data segments that fall in it. Bytes outside both segments are
// zero. A page that is already valid is left untouched.
func (as *AddressSpace) loadPage(vpn int) error {
	entry := as.pageTable.Find(vpn)
	if entry.Valid {
		as.InvokeHook(hooking.HookCtx{
			Domain: as,
			Pos:    HookPosPageAlreadyLoaded,
			Item:   entry,
		})

		return nil
	}

	f, err := as.frames.Allocate()
	if err != nil {
		return fmt.Errorf("%w: loading page %d: %w", ErrOutOfMemory, vpn, err)
	}

	detail, err := as.fillFrame(f, vpn)
	if err != nil {
		as.frames.Free(f)
		return err
	}

	as.pageTable.Map(vpn, f)

	as.InvokeHook(hooking.HookCtx{
		Domain: as,
		Pos:    HookPosPageLoaded,
		Item:   as.pageTable.Find(vpn),
		Detail: detail,
	})

	return nil
}

func (as *AddressSpace) fillFrame(f, vpn int) (LoadDetail, error) {
	detail := LoadDetail{}

	err := as.machine.MainMemory().ZeroFrame(f)
	if err != nil {
		return detail, err
	}

	pageSize := as.machine.PageSize()
	pageStart := vpn * pageSize
	pageEnd := pageStart + pageSize

	code, err := as.fillFromSegment(f, pageStart, pageEnd, as.header.Code)
	if err != nil {
		return detail, err
	}

	data, err := as.fillFromSegment(f, pageStart, pageEnd, as.header.InitData)
	if err != nil {
		return detail, err
	}

	detail.CodeBytes = code
	detail.DataBytes = data

	return detail, nil
}

// fillFromSegment copies the part of the segment that overlaps with
// [pageStart, pageEnd) into the frame and returns the number of bytes copied.
func (as *AddressSpace) fillFromSegment(
	f, pageStart, pageEnd int,
	s noff.Segment,
) (int, error) {
	lo := max(pageStart, int(s.VirtualAddr))
	hi := min(pageEnd, int(s.End()))

	if lo >= hi {
		return 0, nil
	}

	err := as.copyToFrame(f, lo-pageStart, s.FileOffset(lo), hi-lo)
	if err != nil {
		return 0, err
	}

	return hi - lo, nil
}

// refillTLB installs a copy of the page table entry of vpn in the slot under
// the round-robin cursor.
func (as *AddressSpace) refillTLB(vpn int) {
	t := as.machine.TLB()
	slot := as.refill.Victim(t.Size())

	evicted := t.Install(slot, as.pageTable.Find(vpn))
	as.mergeStatusBits(evicted)
}

// mergeStatusBits copies the use and dirty bits of a TLB entry into the page
// table, if the entry still describes a mapping of this address space.
func (as *AddressSpace) mergeStatusBits(e vm.TranslationEntry) {
	if !e.Valid {
		return
	}

	current, found := as.pageTable.Lookup(e.VirtualPage)
	if !found || !current.Valid || current.PhysicalPage != e.PhysicalPage {
		return
	}

	current.Use = current.Use || e.Use
	current.Dirty = current.Dirty || e.Dirty
	as.pageTable.Update(current)
}

// ReadVirtual reads n bytes of the address space through its page table.
// Every page of the range must be resident.
func (as *AddressSpace) ReadVirtual(vaddr, n int) ([]byte, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	res := make([]byte, 0, n)
	err := as.walkResident(vaddr, n, func(paddr, done, length int) error {
		buf, err := as.machine.MainMemory().Read(paddr, length)
		res = append(res, buf...)

		return err
	})

	return res, err
}

func (as *AddressSpace) writeVirtual(vaddr int, data []byte) error {
	return as.walkResident(vaddr, len(data), func(paddr, done, length int) error {
		return as.machine.MainMemory().Write(paddr, data[done:done+length])
	})
}

// walkResident calls fn for every page-sized piece of [vaddr, vaddr+n) with
// the physical address of the piece.
func (as *AddressSpace) walkResident(
	vaddr, n int,
	fn func(paddr, done, length int) error,
) error {
	pageSize := as.machine.PageSize()

	if vaddr < 0 {
		return fmt.Errorf("%w: address 0x%x", ErrSegmentationFault, vaddr)
	}

	for done := 0; done < n; {
		addr := vaddr + done
		vpn := addr / pageSize
		offset := addr % pageSize
		length := min(n-done, pageSize-offset)

		entry, err := as.residentEntry(vpn)
		if err != nil {
			return err
		}

		err = fn(entry.PhysicalPage*pageSize+offset, done, length)
		if err != nil {
			return err
		}

		done += length
	}

	return nil
}
