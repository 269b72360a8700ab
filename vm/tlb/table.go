// Package tlb models the translation lookaside buffer of the simulated
// machine and the policy used to refill it.
package tlb

import (
	"log"
	"sync"

	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/vm"
)

// HookPosRefill marks that an entry is installed into a slot. The item is the
// installed entry and the detail is a RefillDetail.
var HookPosRefill = &hooking.HookPos{Name: "TLBRefill"}

// HookPosInvalidate marks that every slot is invalidated.
var HookPosInvalidate = &hooking.HookPos{Name: "TLBInvalidate"}

// RefillDetail describes where an entry went and what it replaced.
type RefillDetail struct {
	Slot    int
	Evicted vm.TranslationEntry
}

// A Table is the hardware-visible array of translation entries.
type Table struct {
	sync.Mutex
	hooking.HookableBase

	name    string
	entries []vm.TranslationEntry
}

// NewTable creates a TLB with size slots, all invalid.
func NewTable(size int) *Table {
	if size <= 0 {
		log.Panicf("TLB size must be positive, got %d", size)
	}

	t := &Table{
		name:    "TLB",
		entries: make([]vm.TranslationEntry, size),
	}
	t.reset()

	return t
}

// Name returns the name of the TLB.
func (t *Table) Name() string {
	return t.name
}

// Size returns the number of slots.
func (t *Table) Size() int {
	return len(t.entries)
}

func (t *Table) reset() {
	for i := range t.entries {
		t.entries[i] = vm.TranslationEntry{PhysicalPage: vm.Unmapped}
	}
}

// Lookup searches for a valid entry that translates vpn.
func (t *Table) Lookup(vpn int) (slot int, entry vm.TranslationEntry, found bool) {
	t.Lock()
	defer t.Unlock()

	for i, e := range t.entries {
		if e.Valid && e.VirtualPage == vpn {
			return i, e, true
		}
	}

	return 0, vm.TranslationEntry{}, false
}

// Install overwrites a slot with a copy of entry and returns the entry that
// was in the slot before.
func (t *Table) Install(slot int, entry vm.TranslationEntry) vm.TranslationEntry {
	evicted := t.swap(slot, entry)

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosRefill,
		Item:   entry,
		Detail: RefillDetail{Slot: slot, Evicted: evicted},
	})

	return evicted
}

func (t *Table) swap(slot int, entry vm.TranslationEntry) vm.TranslationEntry {
	t.Lock()
	defer t.Unlock()

	t.slotMustExist(slot)

	evicted := t.entries[slot]
	t.entries[slot] = entry

	return evicted
}

// InvalidateAll marks every slot invalid and returns the entries that were
// valid before.
func (t *Table) InvalidateAll() []vm.TranslationEntry {
	t.Lock()
	dropped := make([]vm.TranslationEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Valid {
			dropped = append(dropped, e)
		}
	}
	t.reset()
	t.Unlock()

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosInvalidate,
		Item:   dropped,
	})

	return dropped
}

// InvalidateIf invalidates the valid slots for which pred returns true and
// returns how many were invalidated.
func (t *Table) InvalidateIf(pred func(e vm.TranslationEntry) bool) int {
	t.Lock()
	defer t.Unlock()

	n := 0
	for i, e := range t.entries {
		if e.Valid && pred(e) {
			t.entries[i] = vm.TranslationEntry{PhysicalPage: vm.Unmapped}
			n++
		}
	}

	return n
}

// MarkUsed sets the use bit of a slot, and the dirty bit when writing.
func (t *Table) MarkUsed(slot int, writing bool) {
	t.Lock()
	defer t.Unlock()

	t.slotMustExist(slot)

	t.entries[slot].Use = true
	if writing {
		t.entries[slot].Dirty = true
	}
}

// Entries returns a snapshot of all the slots.
func (t *Table) Entries() []vm.TranslationEntry {
	t.Lock()
	defer t.Unlock()

	snapshot := make([]vm.TranslationEntry, len(t.entries))
	copy(snapshot, t.entries)

	return snapshot
}

func (t *Table) slotMustExist(slot int) {
	if slot < 0 || slot >= len(t.entries) {
		log.Panicf("TLB slot %d out of range [0, %d)", slot, len(t.entries))
	}
}
