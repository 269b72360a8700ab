// Package machine simulates the parts of a MIPS machine that user address
// spaces interact with: the register file, main memory, and the memory unit
// that translates virtual addresses through a page table or a TLB.
package machine

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/sarchlab/nachosvm/mem/memory"
	"github.com/sarchlab/nachosvm/vm"
	"github.com/sarchlab/nachosvm/vm/tlb"
)

// Machine is the simulated hardware.
type Machine struct {
	exclusive sync.Mutex

	regLock   sync.Mutex
	registers [NumTotalRegs]int

	mapLock   sync.RWMutex
	pageTable *vm.PageTable

	pageSize     int
	numPhysPages int
	memory       *memory.Storage
	tlb          *tlb.Table
}

// PageSize returns the size of a page and of a frame.
func (m *Machine) PageSize() int {
	return m.pageSize
}

// NumPhysPages returns the number of frames of main memory.
func (m *Machine) NumPhysPages() int {
	return m.numPhysPages
}

// MainMemory returns the physical memory.
func (m *Machine) MainMemory() *memory.Storage {
	return m.memory
}

// TLB returns the hardware TLB, or nil if the machine translates through a
// page table.
func (m *Machine) TLB() *tlb.Table {
	return m.tlb
}

// Exclusive runs fn while no other Exclusive call is running. Context
// switches use it to hand the machine over atomically.
func (m *Machine) Exclusive(fn func()) {
	m.exclusive.Lock()
	defer m.exclusive.Unlock()

	fn()
}

// ReadRegister returns the value of a register.
func (m *Machine) ReadRegister(num int) int {
	m.regLock.Lock()
	defer m.regLock.Unlock()

	registerMustExist(num)

	return m.registers[num]
}

// WriteRegister sets the value of a register.
func (m *Machine) WriteRegister(num, value int) {
	m.regLock.Lock()
	defer m.regLock.Unlock()

	registerMustExist(num)

	m.registers[num] = value
}

// Registers returns a copy of the register file.
func (m *Machine) Registers() [NumTotalRegs]int {
	m.regLock.Lock()
	defer m.regLock.Unlock()

	return m.registers
}

// SetRegisters overwrites the whole register file.
func (m *Machine) SetRegisters(regs [NumTotalRegs]int) {
	m.regLock.Lock()
	defer m.regLock.Unlock()

	m.registers = regs
}

func registerMustExist(num int) {
	if num < 0 || num >= NumTotalRegs {
		log.Panicf("register %d does not exist", num)
	}
}

// UsePageTable installs the page table that the memory unit translates
// through when there is no TLB.
func (m *Machine) UsePageTable(pt *vm.PageTable) {
	m.mapLock.Lock()
	defer m.mapLock.Unlock()

	m.pageTable = pt
}

// ActivePageTable returns the installed page table.
func (m *Machine) ActivePageTable() *vm.PageTable {
	m.mapLock.RLock()
	defer m.mapLock.RUnlock()

	return m.pageTable
}

// Translate converts a virtual address to a physical one, the way the memory
// unit does before every load or store. On failure, the bad address is
// recorded in BadVAddrReg and an *Exception is returned.
func (m *Machine) Translate(vaddr, size int, writing bool) (int, error) {
	if vaddr < 0 || (size == 4 && vaddr&0x3 != 0) || (size == 2 && vaddr&0x1 != 0) {
		return 0, m.raise(AddressError, vaddr)
	}

	vpn := vaddr / m.pageSize
	offset := vaddr % m.pageSize

	var (
		entry vm.TranslationEntry
		err   error
	)

	if m.tlb == nil {
		entry, err = m.translateWithPageTable(vaddr, vpn, writing)
	} else {
		entry, err = m.translateWithTLB(vaddr, vpn, writing)
	}

	if err != nil {
		return 0, err
	}

	if entry.PhysicalPage < 0 || entry.PhysicalPage >= m.numPhysPages {
		return 0, m.raise(BusError, vaddr)
	}

	return entry.PhysicalPage*m.pageSize + offset, nil
}

func (m *Machine) translateWithPageTable(
	vaddr, vpn int,
	writing bool,
) (vm.TranslationEntry, error) {
	pt := m.ActivePageTable()
	if pt == nil {
		log.Panic("translating without a page table or a TLB")
	}

	entry, found := pt.Lookup(vpn)
	if !found {
		return entry, m.raise(AddressError, vaddr)
	}

	if !entry.Valid {
		return entry, m.raise(PageFault, vaddr)
	}

	if entry.ReadOnly && writing {
		return entry, m.raise(ReadOnly, vaddr)
	}

	pt.Touch(vpn, writing)

	return entry, nil
}

func (m *Machine) translateWithTLB(
	vaddr, vpn int,
	writing bool,
) (vm.TranslationEntry, error) {
	slot, entry, found := m.tlb.Lookup(vpn)
	if !found {
		return entry, m.raise(PageFault, vaddr)
	}

	if entry.ReadOnly && writing {
		return entry, m.raise(ReadOnly, vaddr)
	}

	m.tlb.MarkUsed(slot, writing)

	return entry, nil
}

func (m *Machine) raise(t ExceptionType, vaddr int) error {
	m.WriteRegister(BadVAddrReg, vaddr)

	return &Exception{Type: t, BadVAddr: vaddr}
}

// ReadMem loads size bytes (1, 2, or 4) from a virtual address. Multi-byte
// values are little endian.
func (m *Machine) ReadMem(vaddr, size int) (int, error) {
	sizeMustBeSupported(size)

	paddr, err := m.Translate(vaddr, size, false)
	if err != nil {
		return 0, err
	}

	buf, err := m.memory.Read(paddr, size)
	if err != nil {
		return 0, err
	}

	switch size {
	case 1:
		return int(buf[0]), nil
	case 2:
		return int(binary.LittleEndian.Uint16(buf)), nil
	default:
		return int(int32(binary.LittleEndian.Uint32(buf))), nil
	}
}

// WriteMem stores the low size bytes (1, 2, or 4) of value at a virtual
// address, little endian.
func (m *Machine) WriteMem(vaddr, size, value int) error {
	sizeMustBeSupported(size)

	paddr, err := m.Translate(vaddr, size, true)
	if err != nil {
		return err
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(value))

	return m.memory.Write(paddr, buf[:size])
}

func sizeMustBeSupported(size int) {
	if size != 1 && size != 2 && size != 4 {
		log.Panicf("unsupported access size %d", size)
	}
}

// ReadBytes loads n bytes starting at a virtual address, one byte at a time.
// It stops at the first failing access and returns the bytes read so far.
func (m *Machine) ReadBytes(vaddr, n int) ([]byte, error) {
	buf := make([]byte, 0, n)

	for i := 0; i < n; i++ {
		v, err := m.ReadMem(vaddr+i, 1)
		if err != nil {
			return buf, err
		}

		buf = append(buf, byte(v))
	}

	return buf, nil
}

// WriteBytes stores data starting at a virtual address and returns the number
// of bytes written before the first failing access.
func (m *Machine) WriteBytes(vaddr int, data []byte) (int, error) {
	for i, b := range data {
		err := m.WriteMem(vaddr+i, 1, int(b))
		if err != nil {
			return i, err
		}
	}

	return len(data), nil
}
