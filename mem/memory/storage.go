// Package memory provides the physical main memory of the simulated machine.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when accessing bytes beyond the capacity.
var ErrOutOfRange = errors.New("accessing physical address beyond the storage capacity")

// A Storage keeps the bytes of the guest's physical memory.
//
// The storage is managed in units of one frame. A unit that has never been
// touched by Read or Write has no backing allocation and reads as zeros.
type Storage struct {
	mu       sync.Mutex
	unitSize int
	capacity int
	data     map[int][]byte
}

// NewStorage creates a storage of numFrames frames of frameSize bytes each.
func NewStorage(numFrames, frameSize int) *Storage {
	storage := new(Storage)

	storage.unitSize = frameSize
	storage.capacity = numFrames * frameSize
	storage.data = make(map[int][]byte)

	return storage
}

// Capacity returns the number of bytes in the storage.
func (s *Storage) Capacity() int {
	return s.capacity
}

// FrameSize returns the size of a unit.
func (s *Storage) FrameSize() int {
	return s.unitSize
}

func (s *Storage) createOrGetStorageUnit(address int) ([]byte, error) {
	if address < 0 || address >= s.capacity {
		return nil, fmt.Errorf("%w: 0x%x", ErrOutOfRange, address)
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr int) (baseAddr, inUnitAddr int) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address, length int) ([]byte, error) {
	res := make([]byte, length)

	_, err := s.ReadAt(res, int64(address))
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ReadAt implements io.ReaderAt over physical addresses.
func (s *Storage) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currAddr := int(off)
	dataOffset := 0

	for dataOffset < len(p) {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return dataOffset, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(len(p)-dataOffset, baseAddr+s.unitSize-currAddr)

		copy(p[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return dataOffset, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address int, data []byte) error {
	_, err := s.WriteAt(data, int64(address))
	return err
}

// WriteAt implements io.WriterAt over physical addresses.
func (s *Storage) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currAddr := int(off)
	dataOffset := 0

	for dataOffset < len(p) {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return dataOffset, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(len(p)-dataOffset, baseAddr+s.unitSize-currAddr)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			p[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return dataOffset, nil
}

// ZeroFrame clears every byte of a frame.
func (s *Storage) ZeroFrame(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, err := s.createOrGetStorageUnit(frame * s.unitSize)
	if err != nil {
		return err
	}

	clear(unit)

	return nil
}
