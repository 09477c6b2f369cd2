package gimli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFramePointerFallback walks the documented fallback sequence: the two
// words at FP are (saved_fp, return_pc); the new PC is decremented by one so
// it lands inside the call instruction; a self-referential saved FP ends the
// stack.
func TestFramePointerFallback(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	a.pokeWord(0x7fff00, 0x7fff40)
	a.pokeWord(0x7fff08, 0x400cfe)
	// the next frame's saved FP points at itself
	a.pokeWord(0x7fff40, 0x7fff40)
	a.pokeWord(0x7fff48, 0x400dfe)

	st := ThreadState{PC: 0x400bfe, FP: 0x7fff00, LWP: 1}
	st.Regs[RegFP] = uint64(st.FP)
	cur := p.InitUnwind(st)

	assert.True(t, cur.Step())
	assert.EqualValues(t, 0x400cfd, cur.State().PC)
	assert.EqualValues(t, 0x7fff40, cur.State().FP)
	assert.EqualValues(t, 0x7fff40, cur.State().Regs[RegFP])
	assert.Equal(t, 1, cur.FrameNo())

	assert.False(t, cur.Step())
}

func TestUnwindStopsOnNullFP(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	a.pokeWord(0x7fff00, 0)
	a.pokeWord(0x7fff08, 0x400cfe)

	cur := p.InitUnwind(ThreadState{PC: 0x400bfe, FP: 0x7fff00})
	assert.False(t, cur.Step())

	cur = p.InitUnwind(ThreadState{PC: 0x400bfe, FP: 0})
	assert.False(t, cur.Step())
}

func TestUnwindStopsOnShortRead(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	// only 8 of the 16 bytes are readable
	a.pokeWord(0x7fff00, 0x7fff40)

	cur := p.InitUnwind(ThreadState{PC: 0x400bfe, FP: 0x7fff00})
	assert.False(t, cur.Step())
}

// TestUnwindTerminates drives a long but finite frame chain and checks the
// walk ends without looping.
func TestUnwindTerminates(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	fp := Addr(0x7ff000)
	for i := 0; i < 64; i++ {
		next := fp + 0x40
		a.pokeWord(fp, uint64(next))
		a.pokeWord(fp+8, uint64(0x400000+i))
		fp = next
	}
	// terminate with a null saved FP
	a.pokeWord(fp, 0)
	a.pokeWord(fp+8, 0)

	cur := p.InitUnwind(ThreadState{PC: 0x400bfe, FP: 0x7ff000})
	steps := 0
	for cur.Step() {
		steps++
		assert.Less(t, steps, 1000)
	}
	assert.Equal(t, 64, steps)
}

// TestSignalFramePCAdjustment: the sentinel PC that marks a kernel signal
// trampoline must not be decremented.
func TestSignalFramePCAdjustment(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	a.pokeWord(0x7fff00, 0x7fff40)
	a.pokeWord(0x7fff08, ^uint64(0))
	a.pokeWord(0x7fff40, 0)

	cur := p.InitUnwind(ThreadState{PC: 0x400bfe, FP: 0x7fff00})
	assert.True(t, cur.Step())
	assert.EqualValues(t, ^Addr(0), cur.State().PC)
}
