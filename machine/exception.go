package machine

import (
	"errors"
	"fmt"
)

// ExceptionType names what went wrong during an address translation.
type ExceptionType int

// The exceptions that the memory unit can raise.
const (
	PageFault ExceptionType = iota
	ReadOnly
	BusError
	AddressError
)

func (t ExceptionType) String() string {
	switch t {
	case PageFault:
		return "PageFault"
	case ReadOnly:
		return "ReadOnly"
	case BusError:
		return "BusError"
	case AddressError:
		return "AddressError"
	default:
		return fmt.Sprintf("ExceptionType(%d)", int(t))
	}
}

// An Exception is raised by the memory unit when a user access cannot be
// translated.
type Exception struct {
	Type     ExceptionType
	BadVAddr int
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s at virtual address 0x%x", e.Type, e.BadVAddr)
}

// IsPageFault tells if err is a page fault raised by the memory unit.
func IsPageFault(err error) bool {
	var e *Exception
	return errors.As(err, &e) && e.Type == PageFault
}
