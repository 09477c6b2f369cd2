package gimli

import (
	"github.com/wez/gimli/pkg/gimli/types"
)

// StackFrame captures one activation record of a thread during trace
// emission: a copy of the cursor at that frame plus its ordinals.
type StackFrame struct {
	Cur     Cursor
	Tid     int
	FrameNo int
}

// Param is a resolved formal parameter of a frame's subprogram.
type Param struct {
	Name string
	Type *types.Type
	Addr Addr
}

// Frame snapshots the cursor into a stack frame record.
func (c *Cursor) Frame() *StackFrame {
	return &StackFrame{Cur: *c, Tid: c.tid, FrameNo: c.frameNo}
}

// PC returns the frame's instruction address.
func (f *StackFrame) PC() Addr { return f.Cur.st.PC }

// ResolveVar locates the named formal parameter of the frame's enclosing
// subprogram and evaluates its location expression against the frame's
// registers and the target's memory. It reports false when the parameter is
// absent or its location cannot be evaluated, e.g. when it was optimized
// out.
func (f *StackFrame) ResolveVar(name string) (*types.Type, Addr, bool) {
	sub := f.subprogram()
	if sub == nil {
		return nil, 0, false
	}
	for _, p := range sub.params() {
		if p.name != name {
			continue
		}
		addr, ok := f.evalLocation(p.loc, sub)
		if !ok {
			return nil, 0, false
		}
		return p.typ, addr, true
	}
	return nil, 0, false
}

// Params resolves every formal parameter of the frame in declaration order.
// Parameters whose locations cannot be evaluated are included with a zero
// address so the emitter can render them as optimized out.
func (f *StackFrame) Params() []Param {
	sub := f.subprogram()
	if sub == nil {
		return nil
	}
	var out []Param
	for _, p := range sub.params() {
		param := Param{Name: p.name, Type: p.typ}
		if addr, ok := f.evalLocation(p.loc, sub); ok {
			param.Addr = addr
		} else {
			param.Type = nil
		}
		out = append(out, param)
	}
	return out
}

func (f *StackFrame) subprogram() *subprogram {
	m := f.Cur.proc.MappingForAddr(f.Cur.st.PC)
	if m == nil {
		return nil
	}
	return m.Object.findSubprogram(f.Cur.st.PC)
}

// DWARF location expression opcodes handled by the resolver.
const (
	dwOpAddr         = 0x03
	dwOpBreg0        = 0x70
	dwOpBreg31       = 0x8f
	dwOpReg0         = 0x50
	dwOpReg31        = 0x6f
	dwOpFbreg        = 0x91
	dwOpCallFrameCFA = 0x9c
)

// evalLocation evaluates a simple location expression to a target address.
// Expressions that name a register as the value's location, or that use
// operators beyond the simple addressing forms, resolve to not-found; the
// caller reports the variable as optimized out.
func (f *StackFrame) evalLocation(expr []byte, sub *subprogram) (Addr, bool) {
	if len(expr) == 0 {
		return 0, false
	}
	op := expr[0]
	switch {
	case op == dwOpAddr:
		if len(expr) < 9 {
			return 0, false
		}
		return Addr(int64(leUint64(expr[1:9])) + sub.obj.BaseAddr), true

	case op == dwOpFbreg:
		off, _, ok := sleb128(expr[1:])
		if !ok {
			return 0, false
		}
		base, ok := f.frameBase(sub)
		if !ok {
			return 0, false
		}
		return Addr(int64(base) + off), true

	case op >= dwOpBreg0 && op <= dwOpBreg31:
		off, _, ok := sleb128(expr[1:])
		if !ok {
			return 0, false
		}
		col := int(op - dwOpBreg0)
		reg := f.Cur.proc.os.RegAddr(&f.Cur, col)
		if reg == nil {
			return 0, false
		}
		return Addr(int64(*reg) + off), true

	case op >= dwOpReg0 && op <= dwOpReg31:
		// the value lives in a register, not at an address
		return 0, false
	}
	return 0, false
}

// frameBase evaluates the subprogram's DW_AT_frame_base in the context of
// the cursor.
func (f *StackFrame) frameBase(sub *subprogram) (Addr, bool) {
	fb := sub.frameBase()
	if len(fb) == 0 {
		return 0, false
	}
	op := fb[0]
	switch {
	case op == dwOpCallFrameCFA:
		if f.Cur.cfa != 0 {
			return f.Cur.cfa, true
		}
		// without an unwind row the standard prologue layout applies
		return f.Cur.st.FP + 16, true

	case op >= dwOpBreg0 && op <= dwOpBreg31:
		off, _, ok := sleb128(fb[1:])
		if !ok {
			return 0, false
		}
		reg := f.Cur.proc.os.RegAddr(&f.Cur, int(op-dwOpBreg0))
		if reg == nil {
			return 0, false
		}
		return Addr(int64(*reg) + off), true

	case op >= dwOpReg0 && op <= dwOpReg31:
		reg := f.Cur.proc.os.RegAddr(&f.Cur, int(op-dwOpReg0))
		if reg == nil {
			return 0, false
		}
		return Addr(*reg), true
	}
	return 0, false
}

// FuncName returns the name of the subprogram enclosing the frame's PC, when
// debug info provides one.
func (f *StackFrame) FuncName() (string, bool) {
	sub := f.subprogram()
	if sub == nil {
		return "", false
	}
	n := sub.name()
	return n, n != ""
}

func sleb128(b []byte) (int64, int, bool) {
	var result int64
	var shift uint
	for i := 0; i < len(b); i++ {
		result |= int64(b[i]&0x7f) << shift
		shift += 7
		if b[i]&0x80 == 0 {
			if shift < 64 && b[i]&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, true
		}
		if shift >= 64 {
			break
		}
	}
	return 0, 0, false
}
