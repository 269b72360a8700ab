package machine

// Register indices of the simulated MIPS machine.
const (
	// Arg0Reg and Arg1Reg pass the first two arguments to a function.
	Arg0Reg = 4
	Arg1Reg = 5

	StackReg    = 29
	RetAddrReg  = 31
	NumGPRegs   = 32
	HiReg       = 32
	LoReg       = 33
	PCReg       = 34
	NextPCReg   = 35
	PrevPCReg   = 36
	LoadReg     = 37
	LoadValReg  = 38
	BadVAddrReg = 39

	NumTotalRegs = 40
)

// WordSize is the size of a machine word and of a pointer in user space.
const WordSize = 4
