package addrspace

import "errors"

var (
	// ErrTooLarge is returned when a program needs more pages than there are
	// free frames at the time it is loaded eagerly.
	ErrTooLarge = errors.New("address space too large for free memory")

	// ErrOutOfMemory is returned when a page cannot get a frame. It wraps
	// frame.ErrOutOfMemory.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrSegmentationFault is returned for addresses outside the address
	// space. Such faults cannot be resolved by loading a page.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrArgumentsTooLarge is returned when the arguments do not fit in the
	// address space.
	ErrArgumentsTooLarge = errors.New("arguments too large")

	// ErrNotResident is returned when accessing a page that has no frame.
	ErrNotResident = errors.New("page not resident")

	// ErrReleased is returned when using an address space after Release.
	ErrReleased = errors.New("address space released")
)
