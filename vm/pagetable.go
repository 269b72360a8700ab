// Package vm provides the models for address translations
package vm

import (
	"fmt"
	"log"
	"sync"
)

// Unmapped is the physical page of an entry that has no frame yet.
const Unmapped = -1

// A TranslationEntry maintains the information about how to translate one
// virtual page to a physical frame.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	ReadOnly     bool
	Use          bool
	Dirty        bool
}

// String formats the entry for traces.
func (e TranslationEntry) String() string {
	return fmt.Sprintf("{vpn:%d ppn:%d valid:%t ro:%t use:%t dirty:%t}",
		e.VirtualPage, e.PhysicalPage, e.Valid, e.ReadOnly, e.Use, e.Dirty)
}

// A PageTable holds one translation entry per virtual page of an address
// space. Entries are addressed by virtual page number.
type PageTable struct {
	sync.Mutex
	entries []TranslationEntry
}

// NewPageTable creates a page table with numPages entries, all invalid and
// unmapped.
func NewPageTable(numPages int) *PageTable {
	if numPages < 0 {
		log.Panicf("negative page count %d", numPages)
	}

	pt := &PageTable{
		entries: make([]TranslationEntry, numPages),
	}

	for i := range pt.entries {
		pt.entries[i] = TranslationEntry{
			VirtualPage:  i,
			PhysicalPage: Unmapped,
		}
	}

	return pt
}

// Len returns the number of entries.
func (pt *PageTable) Len() int {
	return len(pt.entries)
}

// Contains tells if the virtual page has an entry in the table.
func (pt *PageTable) Contains(vpn int) bool {
	return vpn >= 0 && vpn < len(pt.entries)
}

// Find returns a copy of the entry of the virtual page.
func (pt *PageTable) Find(vpn int) TranslationEntry {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)

	return pt.entries[vpn]
}

// Map makes the virtual page valid, backed by the given frame.
func (pt *PageTable) Map(vpn, frame int) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)
	pt.pageMustNotBeValid(vpn)

	e := &pt.entries[vpn]
	e.PhysicalPage = frame
	e.Valid = true
	e.Use = false
	e.Dirty = false
}

// Unmap invalidates the virtual page and returns the frame it was mapped to.
func (pt *PageTable) Unmap(vpn int) (frame int, wasValid bool) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)

	e := &pt.entries[vpn]
	frame, wasValid = e.PhysicalPage, e.Valid
	e.PhysicalPage = Unmapped
	e.Valid = false

	return frame, wasValid
}

// Update changes the status bits of an existing entry. The VirtualPage field
// locates the entry; the mapping itself is not altered.
func (pt *PageTable) Update(entry TranslationEntry) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(entry.VirtualPage)

	e := &pt.entries[entry.VirtualPage]
	e.ReadOnly = entry.ReadOnly
	e.Use = entry.Use
	e.Dirty = entry.Dirty
}

// SetReadOnly marks the protection of a page.
func (pt *PageTable) SetReadOnly(vpn int, readOnly bool) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)
	pt.entries[vpn].ReadOnly = readOnly
}

// Entries returns a snapshot of all the entries.
func (pt *PageTable) Entries() []TranslationEntry {
	pt.Lock()
	defer pt.Unlock()

	snapshot := make([]TranslationEntry, len(pt.entries))
	copy(snapshot, pt.entries)

	return snapshot
}

// NumValid returns the number of entries currently backed by a frame.
func (pt *PageTable) NumValid() int {
	pt.Lock()
	defer pt.Unlock()

	n := 0
	for _, e := range pt.entries {
		if e.Valid {
			n++
		}
	}

	return n
}

// Lookup returns the entry of vpn without panicking. It is used by the
// hardware translation path.
func (pt *PageTable) Lookup(vpn int) (TranslationEntry, bool) {
	pt.Lock()
	defer pt.Unlock()

	if !pt.Contains(vpn) {
		return TranslationEntry{}, false
	}

	return pt.entries[vpn], true
}

// Touch sets the use bit, and the dirty bit when writing, of a page.
func (pt *PageTable) Touch(vpn int, writing bool) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)

	pt.entries[vpn].Use = true
	if writing {
		pt.entries[vpn].Dirty = true
	}
}

func (pt *PageTable) pageMustExist(vpn int) {
	if !pt.Contains(vpn) {
		log.Panicf("virtual page %d out of range [0, %d)", vpn, len(pt.entries))
	}
}

func (pt *PageTable) pageMustNotBeValid(vpn int) {
	if pt.entries[vpn].Valid {
		log.Panicf("virtual page %d is already mapped", vpn)
	}
}
