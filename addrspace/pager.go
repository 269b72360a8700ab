package addrspace

import (
	"fmt"
	"log"
	"strings"
)

// PagingMode selects how address spaces get their frames.
type PagingMode int

// The supported paging modes.
const (
	// DirectMode maps every page and copies every segment when the address
	// space is built. The page table is the active translation map.
	DirectMode PagingMode = iota

	// LazyMode maps a page on its first fault and translates through the TLB.
	LazyMode
)

func (m PagingMode) String() string {
	switch m {
	case DirectMode:
		return "direct"
	case LazyMode:
		return "lazy"
	default:
		return fmt.Sprintf("PagingMode(%d)", int(m))
	}
}

// ParsePagingMode converts "direct" or "lazy" to a PagingMode.
func ParsePagingMode(s string) (PagingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "eager":
		return DirectMode, nil
	case "lazy", "demand", "tlb":
		return LazyMode, nil
	default:
		return 0, fmt.Errorf("unknown paging mode %q", s)
	}
}

// A Pager is the strategy that decides when pages get frames.
type Pager interface {
	// Mode returns the paging mode the pager implements.
	Mode() PagingMode

	// Construct populates the page table of a new address space.
	Construct(as *AddressSpace) error

	// ResolveFault makes a virtual page translatable after a miss.
	ResolveFault(as *AddressSpace, vpn int) error

	// OnContextSwitchRestore prepares the machine to run the address space.
	OnContextSwitchRestore(as *AddressSpace)
}

// NewPager returns the pager of a paging mode.
func NewPager(mode PagingMode) Pager {
	switch mode {
	case DirectMode:
		return directPager{}
	case LazyMode:
		return lazyPager{}
	default:
		log.Panicf("unknown paging mode %s", mode)
	}

	return nil
}

type directPager struct{}

func (directPager) Mode() PagingMode {
	return DirectMode
}

func (directPager) Construct(as *AddressSpace) error {
	free := as.frames.NumFree()
	if as.numPages > free {
		return fmt.Errorf("%w: %d pages needed, %d frames free",
			ErrTooLarge, as.numPages, free)
	}

	for vpn := 0; vpn < as.numPages; vpn++ {
		err := as.mapZeroedPage(vpn)
		if err != nil {
			as.releaseFrames()
			return err
		}
	}

	err := as.copySegments()
	if err != nil {
		as.releaseFrames()
		return err
	}

	return nil
}

func (directPager) ResolveFault(as *AddressSpace, vpn int) error {
	return as.loadPage(vpn)
}

func (directPager) OnContextSwitchRestore(as *AddressSpace) {
	as.machine.UsePageTable(as.pageTable)
}

type lazyPager struct{}

func (lazyPager) Mode() PagingMode {
	return LazyMode
}

func (lazyPager) Construct(as *AddressSpace) error {
	if as.machine.TLB() == nil {
		log.Panic("lazy paging requires a machine with a TLB")
	}

	return nil
}

func (lazyPager) ResolveFault(as *AddressSpace, vpn int) error {
	err := as.loadPage(vpn)
	if err != nil {
		return err
	}

	if as.active {
		as.refillTLB(vpn)
	}

	return nil
}

func (lazyPager) OnContextSwitchRestore(as *AddressSpace) {
	as.machine.TLB().InvalidateAll()
}
