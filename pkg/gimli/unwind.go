package gimli

// Cursor is the unwinder's view of one frame of one thread. Stepping
// advances it to the caller's frame. Cursors hold a non-owning reference to
// the process handle.
type Cursor struct {
	st   ThreadState
	proc *Proc

	// cfa is the canonical frame address of the current frame when known;
	// the frame-variable resolver uses it to evaluate DW_OP_call_frame_cfa
	// frame bases.
	cfa Addr

	frameNo int
	tid     int
}

// DebugUnwinder performs the debug-table step of the unwind loop. The
// default implementation walks the object's call-frame information; an
// external unwind library can be slotted in instead, as long as its accessor
// callbacks read target memory and registers through the same process
// handle.
type DebugUnwinder interface {
	Step(cur *Cursor) bool
}

type cfiUnwinder struct {
	proc *Proc
}

func newCFIUnwinder(p *Proc) DebugUnwinder {
	return &cfiUnwinder{proc: p}
}

// Step computes the caller's registers from the current frame's unwind row.
func (u *cfiUnwinder) Step(cur *Cursor) bool {
	m := u.proc.MappingForAddr(cur.st.PC)
	if m == nil {
		return false
	}
	table := m.Object.frameTable()
	if table == nil {
		return false
	}

	row, ok := table.rowFor(uint64(int64(cur.st.PC) - m.Object.BaseAddr))
	if !ok {
		return false
	}

	if row.cfaReg < 0 || row.cfaReg >= RegSlots {
		return false
	}
	cfa := Addr(int64(cur.st.Regs[row.cfaReg]) + row.cfaOff)

	newRegs := cur.st.Regs
	for col, rule := range row.regs {
		switch rule.kind {
		case ruleOffset:
			val, ok := u.proc.ReadPointer(Addr(int64(cfa) + rule.off))
			if !ok {
				if col == row.raCol {
					return false
				}
				continue
			}
			if col < RegSlots {
				newRegs[col] = uint64(val)
			}
		case ruleRegister:
			if col < RegSlots && rule.reg >= 0 && rule.reg < RegSlots {
				newRegs[col] = cur.st.Regs[rule.reg]
			}
		case ruleUndefined:
			if col == row.raCol {
				return false
			}
		}
	}

	if _, ok := row.regs[row.raCol]; !ok {
		// no rule for the return address means there is no caller
		return false
	}
	if row.raCol >= RegSlots {
		return false
	}

	newPC := Addr(newRegs[row.raCol])
	if newPC == 0 {
		return false
	}

	cur.st.Regs = newRegs
	cur.st.PC = newPC
	cur.st.SP = cfa
	cur.st.Regs[RegSP] = uint64(cfa)
	cur.st.FP = Addr(cur.st.Regs[RegFP])
	cur.cfa = cfa
	return true
}

// InitUnwind initializes a cursor at the innermost frame of a thread.
func (p *Proc) InitUnwind(st ThreadState) *Cursor {
	return &Cursor{st: st, proc: p, tid: st.LWP}
}

// State returns the cursor's current thread state.
func (c *Cursor) State() ThreadState { return c.st }

// FrameNo returns the ordinal of the current frame; 0 is top of stack.
func (c *Cursor) FrameNo() int { return c.frameNo }

// Tid returns the LWP id of the cursor's thread.
func (c *Cursor) Tid() int { return c.tid }

// Step advances the cursor to the caller's frame. A debug-table unwind is
// attempted first; when the tables cannot describe the frame the ABI
// frame-pointer chain is followed instead. Returns false at end of stack.
func (c *Cursor) Step() bool {
	prev := c.st

	if c.proc.unwinder.Step(c) {
		// keep the architecture-specific frame pointer slot in sync so
		// downstream register views stay consistent
		c.st.Regs[RegFP] = uint64(c.st.FP)
		c.frameNo++
		return true
	}

	// ABI frame-pointer fallback: the two words at FP are the saved frame
	// pointer and the return address.
	if prev.FP == 0 {
		return false
	}
	var frame [16]byte
	if c.proc.ReadMem(prev.FP, frame[:]) != len(frame) {
		return false
	}
	savedFP := Addr(leUint64(frame[:8]))
	retPC := Addr(leUint64(frame[8:]))

	if savedFP == prev.FP || savedFP == 0 {
		return false
	}

	c.st.FP = savedFP
	c.st.PC = retPC
	// Point the PC inside the call instruction rather than after it, so
	// symbolication and line lookup attribute the frame to the call site.
	// Signal trampoline frames are left alone.
	if c.st.PC > 0 && !c.proc.os.IsSignalFrame(c) {
		c.st.PC--
	}
	c.st.Regs[RegFP] = uint64(c.st.FP)
	c.st.Regs[RegRA] = uint64(c.st.PC)
	c.cfa = prev.FP + 16
	c.frameNo++
	return true
}
