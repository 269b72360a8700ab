// Package frame tracks which physical frames of the simulated machine are in
// use.
package frame

import (
	"errors"
	"log"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/nachosvm/hooking"
)

// ErrOutOfMemory is returned when every physical frame is in use.
var ErrOutOfMemory = errors.New("out of physical frames")

// HookPosAlloc marks that a frame is handed out. The item is the frame index.
var HookPosAlloc = &hooking.HookPos{Name: "FrameAlloc"}

// HookPosFree marks that a frame is returned. The item is the frame index.
var HookPosFree = &hooking.HookPos{Name: "FrameFree"}

// An Allocator is a bitmap over all the physical frames of one machine. All
// address spaces resident on the machine share the same Allocator.
type Allocator struct {
	hooking.HookableBase

	mu     sync.Mutex
	name   string
	frames *bitset.BitSet
	size   int
}

// NewAllocator creates an allocator that manages numFrames frames, all free.
func NewAllocator(numFrames int) *Allocator {
	if numFrames <= 0 {
		log.Panicf("number of frames must be positive, got %d", numFrames)
	}

	return &Allocator{
		name:   "FrameAllocator",
		frames: bitset.New(uint(numFrames)),
		size:   numFrames,
	}
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// Allocate marks the lowest free frame as used and returns its index.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	index, found := a.frames.NextClear(0)
	if !found || int(index) >= a.size {
		a.mu.Unlock()
		return 0, ErrOutOfMemory
	}

	a.frames.Set(index)
	a.mu.Unlock()

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosAlloc,
		Item:   int(index),
	})

	return int(index), nil
}

// Free returns a frame to the pool. Freeing a frame that is not allocated is a
// programming error and panics.
func (a *Allocator) Free(frame int) {
	a.frameMustBeInRange(frame)

	a.mu.Lock()
	if !a.frames.Test(uint(frame)) {
		a.mu.Unlock()
		log.Panicf("frame %d freed while not allocated", frame)
	}

	a.frames.Clear(uint(frame))
	a.mu.Unlock()

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosFree,
		Item:   frame,
	})
}

// IsAllocated tells if the frame is currently in use.
func (a *Allocator) IsAllocated(frame int) bool {
	a.frameMustBeInRange(frame)

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.frames.Test(uint(frame))
}

// NumFree returns the number of frames that can still be allocated.
func (a *Allocator) NumFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.size - int(a.frames.Count())
}

// NumFrames returns the total number of frames managed.
func (a *Allocator) NumFrames() int {
	return a.size
}

// Allocated returns the indices of all the frames in use, in ascending order.
func (a *Allocator) Allocated() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := make([]int, 0, a.frames.Count())
	for i, ok := a.frames.NextSet(0); ok; i, ok = a.frames.NextSet(i + 1) {
		list = append(list, int(i))
	}

	return list
}

func (a *Allocator) frameMustBeInRange(frame int) {
	if frame < 0 || frame >= a.size {
		log.Panicf("frame %d out of range [0, %d)", frame, a.size)
	}
}
