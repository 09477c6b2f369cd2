package gimli

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

// buildDebugFrame assembles a minimal .debug_frame section: one CIE with
// the usual x86-64 prologue rules and one FDE covering [0x1000,0x1100) that
// pushes the frame pointer after four bytes of prologue.
func buildDebugFrame() []byte {
	var cie []byte
	cie = append(cie, 1)             // version
	cie = append(cie, 0)             // empty augmentation
	cie = append(cie, 1)             // code alignment
	cie = append(cie, 0x78)          // data alignment -8 (sleb)
	cie = append(cie, 16)            // return address column
	cie = append(cie, 0x0c, 7, 8)    // def_cfa rsp+8
	cie = append(cie, 0x80|16, 1)    // offset r16 @ cfa-8
	cie = pad4(cie)

	var fde []byte
	fde = append(fde, le64(0x1000)...) // initial location
	fde = append(fde, le64(0x100)...)  // range
	fde = append(fde, 0x40|4)          // advance_loc 4
	fde = append(fde, 0x0e, 16)        // def_cfa_offset 16
	fde = append(fde, 0x80|6, 2)       // offset r6 @ cfa-16
	fde = pad4(fde)

	var out []byte
	// CIE: length, id=0xffffffff
	out = append(out, le32(uint32(len(cie)+4))...)
	out = append(out, le32(0xffffffff)...)
	out = append(out, cie...)
	// FDE: length, CIE offset 0
	out = append(out, le32(uint32(len(fde)+4))...)
	out = append(out, le32(0)...)
	out = append(out, fde...)
	return out
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0) // nop
	}
	return b
}

func TestParseDebugFrame(t *testing.T) {
	table, err := parseCFI(buildDebugFrame(), 0, false)
	assert.NoError(t, err)
	assert.Len(t, table.fdes, 1)
	assert.EqualValues(t, 0x1000, table.fdes[0].lo)
	assert.EqualValues(t, 0x1100, table.fdes[0].hi)
	assert.Equal(t, 16, table.fdes[0].cie.raCol)
}

func TestRowAtFunctionEntry(t *testing.T) {
	table, err := parseCFI(buildDebugFrame(), 0, false)
	assert.NoError(t, err)

	row, ok := table.rowFor(0x1000)
	assert.True(t, ok)
	assert.Equal(t, 7, row.cfaReg)
	assert.EqualValues(t, 8, row.cfaOff)

	ra, found := row.regs[16]
	assert.True(t, found)
	assert.Equal(t, ruleOffset, ra.kind)
	assert.EqualValues(t, -8, ra.off)

	// the frame pointer has not been pushed yet
	_, found = row.regs[6]
	assert.False(t, found)
}

func TestRowAfterPrologue(t *testing.T) {
	table, err := parseCFI(buildDebugFrame(), 0, false)
	assert.NoError(t, err)

	row, ok := table.rowFor(0x1010)
	assert.True(t, ok)
	assert.Equal(t, 7, row.cfaReg)
	assert.EqualValues(t, 16, row.cfaOff)

	fp, found := row.regs[6]
	assert.True(t, found)
	assert.Equal(t, ruleOffset, fp.kind)
	assert.EqualValues(t, -16, fp.off)
}

func TestRowOutsideCoverage(t *testing.T) {
	table, err := parseCFI(buildDebugFrame(), 0, false)
	assert.NoError(t, err)

	_, ok := table.rowFor(0x0fff)
	assert.False(t, ok)
	_, ok = table.rowFor(0x1100)
	assert.False(t, ok)
}

// TestCFIStepUnwind drives the debug-table step end to end: a synthetic
// frame table on a mapped object, a stack image in fake memory, and one
// step that recovers the caller's PC, SP and FP.
func TestCFIStepUnwind(t *testing.T) {
	a := newFakeAdaptor()
	p := newTestProc(a)

	f := addBareObject(p, "app")
	table, err := parseCFI(buildDebugFrame(), 0, false)
	assert.NoError(t, err)
	f.cfi = table
	f.cfiTried = true
	p.AddMapping("app", 0x1000, 0x1000, 0)

	// frame at pc=0x1010: cfa = rsp+16; saved rbp at cfa-16, ra at cfa-8
	a.pokeWord(0x7fff00, 0x7fffaa)   // saved rbp
	a.pokeWord(0x7fff08, 0x1085)     // return address
	st := ThreadState{PC: 0x1010, SP: 0x7fff00, FP: 0x7fffbb}
	st.Regs[RegSP] = 0x7fff00
	st.Regs[RegFP] = 0x7fffbb

	cur := p.InitUnwind(st)
	assert.True(t, cur.Step())
	assert.EqualValues(t, 0x1085, cur.State().PC)
	assert.EqualValues(t, 0x7fff10, cur.State().SP)
	assert.EqualValues(t, 0x7fffaa, cur.State().FP)
	assert.EqualValues(t, 0x7fffaa, cur.State().Regs[RegFP])
}
