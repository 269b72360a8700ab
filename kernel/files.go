package kernel

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/sarchlab/nachosvm/addrspace"
)

// OpenFileID identifies an open file.
type OpenFileID int

// The console ids are reserved. Files opened by programs start at
// FirstFileID.
const (
	ConsoleInput OpenFileID = iota
	ConsoleOutput
	ConsoleError
	FirstFileID
)

// Seek references, numbered the way user programs pass them.
const (
	// SeekFromStart places the position pos bytes after the start, clamped to
	// the end of the file.
	SeekFromStart = 0

	// SeekFromEnd places the position pos bytes before the end, clamped to
	// the start of the file.
	SeekFromEnd = 1

	// SeekRelative moves the position by pos bytes. Moves that leave the file
	// fail.
	SeekRelative = 2
)

type openFile struct {
	name  string
	owner *Thread
	file  afero.File
}

// Create makes an empty file, truncating it if it exists.
func (k *Kernel) Create(name string) error {
	f, err := k.fs.Create(name)
	if err != nil {
		return err
	}

	return f.Close()
}

// Open opens an existing file for reading and writing on behalf of owner.
func (k *Kernel) Open(owner *Thread, name string) (OpenFileID, error) {
	f, err := k.fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("opening %s: %w", name, err)
	}

	id := k.files.Add(&openFile{
		name:  name,
		owner: owner,
		file:  f,
	})

	return OpenFileID(id), nil
}

// NumOpenFiles returns the number of files open.
func (k *Kernel) NumOpenFiles() int {
	return k.files.Len()
}

func (k *Kernel) fileOf(owner *Thread, id OpenFileID) (*openFile, error) {
	if id < FirstFileID {
		return nil, fmt.Errorf("%w: %d is a console", ErrBadFileID, id)
	}

	f, ok := k.files.Get(int(id))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadFileID, id)
	}

	if f.owner != owner {
		return nil, fmt.Errorf("%w: file %d is owned by %s", ErrNotOwner, id, f.owner)
	}

	return f, nil
}

// Close closes a file of owner.
func (k *Kernel) Close(owner *Thread, id OpenFileID) error {
	f, err := k.fileOf(owner, id)
	if err != nil {
		return err
	}

	k.files.Remove(int(id))

	return f.file.Close()
}

// Read reads up to n bytes from the current position of a file. Reading at
// the end of the file returns no bytes and no error.
func (k *Kernel) Read(owner *Thread, id OpenFileID, n int) ([]byte, error) {
	f, err := k.fileOf(owner, id)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)

	read, err := io.ReadFull(f.file, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}

	return buf[:read], err
}

// Write writes data at the current position of a file.
func (k *Kernel) Write(owner *Thread, id OpenFileID, data []byte) (int, error) {
	f, err := k.fileOf(owner, id)
	if err != nil {
		return 0, err
	}

	return f.file.Write(data)
}

// Seek moves the position of a file and returns the new position. Negative
// positions and unknown references move to the end of the file.
func (k *Kernel) Seek(owner *Thread, id OpenFileID, pos, whence int) (int, error) {
	f, err := k.fileOf(owner, id)
	if err != nil {
		return -1, err
	}

	info, err := f.file.Stat()
	if err != nil {
		return -1, err
	}

	length := int(info.Size())

	cur, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, err
	}

	var target int

	switch {
	case whence == SeekFromStart && pos >= 0:
		target = min(pos, length)
	case whence == SeekFromEnd && pos >= 0:
		target = max(length-pos, 0)
	case whence == SeekRelative:
		target = int(cur) + pos
		if target < 0 || target > length {
			return -1, fmt.Errorf("%w: %d + %d in a %d-byte file",
				ErrBadSeek, cur, pos, length)
		}
	default:
		target = length
	}

	_, err = f.file.Seek(int64(target), io.SeekStart)
	if err != nil {
		return -1, err
	}

	return target, nil
}

func (k *Kernel) closeFilesOf(owner *Thread) {
	k.files.Each(func(id int, f *openFile) {
		if f.owner != owner {
			return
		}

		k.files.Remove(id)
		_ = f.file.Close()
	})
}

// OpenFromUser serves the open call of a running process. The name is a
// NUL-terminated string in the memory of the process.
func (k *Kernel) OpenFromUser(id SpaceID, nameAddr int) (OpenFileID, error) {
	p, err := k.Process(id)
	if err != nil {
		return -1, err
	}

	name, err := k.ReadUserString(id, nameAddr, addrspace.MaxArgLength)
	if err != nil {
		return -1, err
	}

	return k.Open(p.Thread, name)
}

// ReadFileToUser serves the read call of a running process: up to n bytes of
// the file are copied to vaddr. It returns the number of bytes copied.
func (k *Kernel) ReadFileToUser(id SpaceID, fid OpenFileID, vaddr, n int) (int, error) {
	p, err := k.Process(id)
	if err != nil {
		return -1, err
	}

	data, err := k.Read(p.Thread, fid, n)
	if err != nil {
		return -1, err
	}

	err = k.WriteUserBytes(id, vaddr, data)
	if err != nil {
		return -1, err
	}

	return len(data), nil
}

// WriteFileFromUser serves the write call of a running process: n bytes at
// vaddr are written to the file.
func (k *Kernel) WriteFileFromUser(id SpaceID, fid OpenFileID, vaddr, n int) (int, error) {
	p, err := k.Process(id)
	if err != nil {
		return -1, err
	}

	data, err := k.ReadUserBytes(id, vaddr, n)
	if err != nil {
		return -1, err
	}

	return k.Write(p.Thread, fid, data)
}
