package addrspace

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/sarchlab/nachosvm/hooking"
	"github.com/sarchlab/nachosvm/machine"
)

// MaxArgLength caps the length of an argument read from user memory,
// excluding the terminating NUL.
const MaxArgLength = 127

// UserMemory reads the memory of the program that asks for a new process.
type UserMemory interface {
	ReadMem(vaddr, size int) (int, error)
}

// SetArguments hands the argument list to the address space. The first
// argument is conventionally the program name.
func (as *AddressSpace) SetArguments(args []string) {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.args = append([]string(nil), args...)
}

// SetArgumentsFromUser builds the argument list from the argv vector of the
// calling program: programName followed by argc strings whose pointers are
// stored at argvAddr.
func (as *AddressSpace) SetArgumentsFromUser(
	mem UserMemory,
	argc, argvAddr int,
	programName string,
) error {
	args := make([]string, 0, argc+1)
	args = append(args, programName)

	for i := 0; i < argc; i++ {
		ptr, err := mem.ReadMem(argvAddr+machine.WordSize*i, machine.WordSize)
		if err != nil {
			return fmt.Errorf("reading argv[%d]: %w", i, err)
		}

		s, err := readUserString(mem, ptr)
		if err != nil {
			return fmt.Errorf("reading argument %d: %w", i, err)
		}

		args = append(args, s)
	}

	as.SetArguments(args)

	return nil
}

func readUserString(mem UserMemory, vaddr int) (string, error) {
	buf := make([]byte, 0, 16)

	for len(buf) < MaxArgLength {
		c, err := mem.ReadMem(vaddr+len(buf), 1)
		if err != nil {
			return "", err
		}

		if c == 0 {
			break
		}

		buf = append(buf, byte(c))
	}

	return string(buf), nil
}

// Arguments returns a copy of the argument list.
func (as *AddressSpace) Arguments() []string {
	as.mu.Lock()
	defer as.mu.Unlock()

	return append([]string(nil), as.args...)
}

// StackPagesAdded returns how many pages were brought in to hold the
// arguments.
func (as *AddressSpace) StackPagesAdded() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.stackPagesAdded
}

// StageArguments copies the arguments to the top of the stack and points the
// argument registers at them. The strings go first, NUL terminated, from the
// top of the address space downwards with the last argument highest. The argv
// vector of word-sized pointers sits right below them, word aligned. The stack
// pointer is left StackReserve bytes below argv.
//
// StageArguments must be called once, after InitRegisters and before the
// program runs.
func (as *AddressSpace) StageArguments() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.released {
		return ErrReleased
	}

	if as.argsStaged {
		log.Panicf("arguments of %s staged twice", as.name)
	}

	argc := len(as.args)
	top := as.Size()

	stringBytes := 0
	for _, s := range as.args {
		stringBytes += len(s) + 1
	}

	argvAddr := top - stringBytes - argc*machine.WordSize
	if argvAddr < 0 {
		return fmt.Errorf("%w: %d bytes of arguments in a %d-byte address space",
			ErrArgumentsTooLarge, top-argvAddr, top)
	}

	argvAddr -= argvAddr % machine.WordSize

	err := as.bringInStack(argvAddr, top)
	if err != nil {
		return err
	}

	pointers, err := as.writeStrings(top)
	if err != nil {
		return err
	}

	err = as.writeArgv(argvAddr, pointers)
	if err != nil {
		return err
	}

	as.machine.WriteRegister(machine.StackReg, argvAddr-StackReserve)
	as.machine.WriteRegister(machine.Arg0Reg, argc)
	as.machine.WriteRegister(machine.Arg1Reg, argvAddr)
	as.argsStaged = true

	as.InvokeHook(hooking.HookCtx{
		Domain: as,
		Pos:    HookPosArgumentsStaged,
		Item:   append([]string(nil), as.args...),
		Detail: argvAddr,
	})

	return nil
}

// bringInStack makes the pages of [from, to) resident.
func (as *AddressSpace) bringInStack(from, to int) error {
	if from >= to {
		return nil
	}

	pageSize := as.machine.PageSize()

	for vpn := (to - 1) / pageSize; vpn >= from/pageSize; vpn-- {
		if as.pageTable.Find(vpn).Valid {
			continue
		}

		err := as.loadPage(vpn)
		if err != nil {
			return err
		}

		as.stackPagesAdded++
	}

	return nil
}

func (as *AddressSpace) writeStrings(top int) ([]int, error) {
	pointers := make([]int, len(as.args))
	addr := top

	for i := len(as.args) - 1; i >= 0; i-- {
		s := as.args[i]
		addr -= len(s) + 1

		data := append([]byte(s), 0)

		err := as.writeVirtual(addr, data)
		if err != nil {
			return nil, err
		}

		pointers[i] = addr
	}

	return pointers, nil
}

func (as *AddressSpace) writeArgv(argvAddr int, pointers []int) error {
	table := make([]byte, len(pointers)*machine.WordSize)
	for i, p := range pointers {
		binary.LittleEndian.PutUint32(table[i*machine.WordSize:], uint32(p))
	}

	return as.writeVirtual(argvAddr, table)
}
