package kernel

import "errors"

var (
	// ErrNoSuchSpace is returned for space ids that are not registered.
	ErrNoSuchSpace = errors.New("no such address space")

	// ErrBadFileID is returned for open-file ids that are not open.
	ErrBadFileID = errors.New("bad open-file id")

	// ErrNotOwner is returned when a thread uses a file or a space it does not
	// own.
	ErrNotOwner = errors.New("not the owner")

	// ErrNotRunning is returned when accessing the memory of a space that is
	// not on the machine.
	ErrNotRunning = errors.New("address space not running")

	// ErrBadSeek is returned for relative seeks that leave the file.
	ErrBadSeek = errors.New("seek out of range")
)
