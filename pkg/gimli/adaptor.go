package gimli

import "github.com/wez/gimli/pkg/gimli/types"

// Addr is an address in the target process. Targets are modeled with 64-bit
// addresses independent of the host word size.
type Addr uint64

// IterStatus is re-exported so that engine callers and plugins share one
// continuation protocol with the type system.
type IterStatus = types.IterStatus

const (
	IterStop = types.IterStop
	IterCont = types.IterCont
	IterErr  = types.IterErr
)

// RegSlots is the number of register columns carried in a ThreadState. The
// slots are indexed by DWARF register number; on x86-64 columns 0-15 are the
// integer registers and column 16 is the return address (rip).
const RegSlots = 17

// DWARF register columns used by the engine itself. Everything else goes
// through OSAdaptor.RegAddr.
const (
	RegFP = 6  // rbp
	RegSP = 7  // rsp
	RegRA = 16 // rip / return address
)

// ThreadState is a snapshot of one thread of the target: its register file
// plus named slots for the program counter, stack pointer and frame pointer,
// and the kernel LWP id.
type ThreadState struct {
	Regs [RegSlots]uint64
	PC   Addr
	SP   Addr
	FP   Addr
	LWP  int
}

// RawMapping is one line of the target's memory map as reported by the OS.
type RawMapping struct {
	Name   string
	Base   Addr
	Len    uint64
	Offset uint64
}

// OSAdaptor abstracts the process-control primitives that differ per
// operating system. One implementation exists per supported OS; the rest of
// the engine is platform independent and sees registers only through the
// DWARF column accessor.
type OSAdaptor interface {
	// Attach stops the target and enumerates its threads, each with a
	// populated register set. A single-threaded target is reported as one
	// thread whose LWP id equals the pid.
	Attach(pid int) ([]ThreadState, error)

	// Detach resumes all threads and releases OS state. It is idempotent on
	// already-detached handles.
	Detach() error

	// ReadMem copies target memory into dest, best effort. It returns the
	// number of bytes read, which may be less than len(dest) or zero.
	ReadMem(addr Addr, dest []byte) int

	// EnumMappings reports the target's memory mappings that are backed by a
	// named object.
	EnumMappings() ([]RawMapping, error)

	// RegAddr maps a DWARF register column to the in-cursor storage for that
	// register, or nil when the column is unknown. This is the single
	// architecture-dependent dispatcher used by the unwinder.
	RegAddr(cur *Cursor, col int) *uint64

	// IsSignalFrame reports whether the cursor's PC is the sentinel value
	// marking a kernel-inserted signal trampoline frame.
	IsSignalFrame(cur *Cursor) bool

	// ProcStat samples the target's process status.
	ProcStat() (ProcStat, error)
}

// ProcStat is the process status surfaced to plugins.
type ProcStat struct {
	Pid  int
	Size uint64
	RSS  uint64
}
