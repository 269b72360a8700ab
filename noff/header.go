// Package noff reads and writes NOFF executables, the simplified object
// format that user programs are loaded from.
package noff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies a NOFF file.
const Magic uint32 = 0x00badfad

// HeaderSize is the number of bytes of the header at offset 0.
const HeaderSize = 40

// ErrInvalidExecutable is returned when a file is not a usable NOFF image.
var ErrInvalidExecutable = errors.New("invalid NOFF executable")

// A Segment is a contiguous range of the virtual address space that is
// initialized from the file.
type Segment struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// Contains tells if addr falls in [VirtualAddr, VirtualAddr+Size).
func (s Segment) Contains(addr int) bool {
	return addr >= int(s.VirtualAddr) && addr < int(s.End())
}

// End returns the first virtual address after the segment.
func (s Segment) End() int64 {
	return int64(s.VirtualAddr) + int64(s.Size)
}

// FileOffset returns where the byte at virtual address addr is stored in the
// file. The address must be inside the segment.
func (s Segment) FileOffset(addr int) int64 {
	return int64(s.InFileAddr) + int64(addr) - int64(s.VirtualAddr)
}

func (s Segment) overlaps(o Segment) bool {
	if s.Size == 0 || o.Size == 0 {
		return false
	}

	return int64(s.VirtualAddr) < o.End() && int64(o.VirtualAddr) < s.End()
}

// Header describes the three segments of an executable.
type Header struct {
	Magic      uint32
	Code       Segment
	InitData   Segment
	UninitData Segment

	byteOrder binary.ByteOrder
}

// ByteOrder returns the byte order the header was stored in.
func (h Header) ByteOrder() binary.ByteOrder {
	if h.byteOrder == nil {
		return binary.LittleEndian
	}

	return h.byteOrder
}

// IsCode tells if addr is in the code segment.
func (h Header) IsCode(addr int) bool {
	return h.Code.Contains(addr)
}

// IsData tells if addr is in the initialized data segment.
func (h Header) IsData(addr int) bool {
	return h.InitData.Contains(addr)
}

// AddressSpaceSize returns the number of bytes the program needs, including
// stackSize bytes of stack.
func (h Header) AddressSpaceSize(stackSize int) int {
	return int(h.Code.Size) + int(h.InitData.Size) +
		int(h.UninitData.Size) + stackSize
}

// NumPages returns the number of pages the program needs.
func (h Header) NumPages(pageSize, stackSize int) int {
	return divRoundUp(h.AddressSpaceSize(stackSize), pageSize)
}

func divRoundUp(n, s int) int {
	return (n + s - 1) / s
}

// ReadHeader reads the header at offset 0 of r. The byte order is detected
// from the magic number, trying little endian first.
func ReadHeader(r io.ReaderAt) (Header, error) {
	buf := make([]byte, HeaderSize)

	n, err := r.ReadAt(buf, 0)
	if n < HeaderSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		return Header{}, fmt.Errorf("%w: reading header: %w",
			ErrInvalidExecutable, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == Magic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == Magic:
		order = binary.BigEndian
	default:
		return Header{}, fmt.Errorf("%w: bad magic 0x%08x",
			ErrInvalidExecutable, binary.LittleEndian.Uint32(buf))
	}

	h := decodeHeader(buf, order)

	err = h.validate()
	if err != nil {
		return Header{}, err
	}

	return h, nil
}

func decodeHeader(buf []byte, order binary.ByteOrder) Header {
	word := func(i int) int32 {
		return int32(order.Uint32(buf[4*i:]))
	}

	segment := func(first int) Segment {
		return Segment{
			VirtualAddr: word(first),
			InFileAddr:  word(first + 1),
			Size:        word(first + 2),
		}
	}

	return Header{
		Magic:      order.Uint32(buf),
		Code:       segment(1),
		InitData:   segment(4),
		UninitData: segment(7),
		byteOrder:  order,
	}
}

func (h Header) validate() error {
	segments := []struct {
		name string
		seg  Segment
	}{
		{"code", h.Code},
		{"initData", h.InitData},
		{"uninitData", h.UninitData},
	}

	for _, s := range segments {
		if s.seg.Size < 0 || s.seg.VirtualAddr < 0 {
			return fmt.Errorf("%w: %s segment has negative size or address",
				ErrInvalidExecutable, s.name)
		}

		if s.seg.Size > 0 && s.seg.InFileAddr < 0 && s.name != "uninitData" {
			return fmt.Errorf("%w: %s segment has negative file offset",
				ErrInvalidExecutable, s.name)
		}
	}

	for i := range segments {
		for j := i + 1; j < len(segments); j++ {
			if segments[i].seg.overlaps(segments[j].seg) {
				return fmt.Errorf("%w: %s and %s segments overlap",
					ErrInvalidExecutable, segments[i].name, segments[j].name)
			}
		}
	}

	return nil
}
