package machine

import (
	"log"

	"github.com/sarchlab/nachosvm/mem/memory"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

// A Builder can build machines.
type Builder struct {
	numPhysPages int
	pageSize     int
	tlbSize      int
}

// MakeBuilder creates a builder with the default machine: 32 frames of 128
// bytes and no TLB.
func MakeBuilder() Builder {
	return Builder{
		numPhysPages: 32,
		pageSize:     128,
	}
}

// WithNumPhysPages sets the number of frames of main memory.
func (b Builder) WithNumPhysPages(n int) Builder {
	b.numPhysPages = n
	return b
}

// WithPageSize sets the size of a page and of a frame.
func (b Builder) WithPageSize(n int) Builder {
	b.pageSize = n
	return b
}

// WithTLBSize gives the machine a TLB with n slots. The memory unit
// translates through the TLB only. Zero removes the TLB.
func (b Builder) WithTLBSize(n int) Builder {
	b.tlbSize = n
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numPhysPages <= 0 {
		log.Panicf("number of physical pages must be positive, got %d",
			b.numPhysPages)
	}

	if b.pageSize <= 0 || b.pageSize%WordSize != 0 {
		log.Panicf("page size must be a positive multiple of %d, got %d",
			WordSize, b.pageSize)
	}

	if b.tlbSize < 0 {
		log.Panicf("TLB size cannot be negative, got %d", b.tlbSize)
	}
}

// Build creates the machine.
func (b Builder) Build() *Machine {
	b.parametersMustBeValid()

	m := &Machine{
		pageSize:     b.pageSize,
		numPhysPages: b.numPhysPages,
		memory:       memory.NewStorage(b.numPhysPages, b.pageSize),
	}

	if b.tlbSize > 0 {
		m.tlb = tlb.NewTable(b.tlbSize)
	}

	return m
}
