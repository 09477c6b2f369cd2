package gimli

// Api is the stable capability surface exposed to analysis modules. It is
// built entirely from the process handle and the engine's resolvers, so a
// module never touches platform state directly.
type Api struct {
	proc *Proc
	reg  *ModuleRegistry
}

// NewApi binds an API surface to a process handle and a module registry.
func NewApi(proc *Proc, reg *ModuleRegistry) *Api {
	return &Api{proc: proc, reg: reg}
}

// Proc returns the process handle behind the API.
func (a *Api) Proc() *Proc { return a.proc }

// Registry returns the module registry behind the API.
func (a *Api) Registry() *ModuleRegistry { return a.reg }

// SymLookup resolves a symbol by raw name; an empty object searches every
// mapped object.
func (a *Api) SymLookup(obj, name string) *Symbol {
	return a.proc.SymLookup(obj, name)
}

// PcSymName computes a readable label for a code address.
func (a *Api) PcSymName(addr Addr) string {
	return a.proc.PcSymName(addr)
}

// ReadMem reads target memory, best effort, returning the bytes read.
func (a *Api) ReadMem(addr Addr, dest []byte) int {
	return a.proc.ReadMem(addr, dest)
}

// ReadString reads a NUL-terminated string from the target. A short read
// returns the bytes accumulated so far.
func (a *Api) ReadString(addr Addr) string {
	return a.proc.ReadString(addr)
}

// GetSourceInfo determines the source file and line for a code address.
func (a *Api) GetSourceInfo(addr Addr) (string, int, bool) {
	return a.proc.SourceInfo(addr)
}

// GetParameter locates a named parameter in the given frame and returns its
// C-style type name, address and size.
func (a *Api) GetParameter(frame *StackFrame, name string) (string, Addr, uint64, bool) {
	if frame == nil {
		return "", 0, 0, false
	}
	t, addr, ok := frame.ResolveVar(name)
	if !ok {
		return "", 0, 0, false
	}
	return t.Declname(), addr, t.Size(), true
}

// GetStringSymbol looks up a symbol, treats its value as a char* in the
// target, and returns a copy of the string it points at.
func (a *Api) GetStringSymbol(obj, name string) (string, bool) {
	sym := a.proc.SymLookup(obj, name)
	if sym == nil {
		return "", false
	}
	ptr, ok := a.proc.ReadPointer(sym.Addr)
	if !ok || ptr == 0 {
		return "", false
	}
	return a.proc.ReadString(ptr), true
}

// CopyFromSymbol resolves a symbol to an address, dereferences it deref
// times, then copies len(buf) bytes from the final address. It fails if any
// read falls short.
func (a *Api) CopyFromSymbol(obj, name string, deref int, buf []byte) bool {
	sym := a.proc.SymLookup(obj, name)
	if sym == nil {
		return false
	}
	addr := sym.Addr
	for i := 0; i < deref; i++ {
		next, ok := a.proc.ReadPointer(addr)
		if !ok {
			return false
		}
		addr = next
	}
	return a.proc.ReadMem(addr, buf) == len(buf)
}

// GetProcStatus returns the target's process status.
func (a *Api) GetProcStatus() ProcStat {
	return a.proc.Stat()
}
