package gimli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadabilityPenalty(t *testing.T) {
	type scenario struct {
		name     string
		expected int
	}

	scenarios := []scenario{
		{"bar", 0},
		{"_foo", 2},
		{"__foo", 4},
		{"a_b_c", 2},
		{"_a_b", 3},
		{"$dollar.dot", 0},
		{"", 0},
	}

	for _, s := range scenarios {
		assert.Equal(t, s.expected, readabilityPenalty(s.name), s.name)
	}
}

// TestBestFitSymbol covers the tie-break between overlapping symbols: the
// name with the lowest readability penalty wins.
func TestBestFitSymbol(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "./wedgie")
	f.AddSymbol("_foo", 0x100, 0x20)
	f.AddSymbol("bar", 0x100, 0x20)

	s := f.FindSymbolForAddr(0x110)
	assert.NotNil(t, s)
	assert.Equal(t, "bar", s.Name)

	// order of insertion must not matter
	f2 := addBareObject(p, "other")
	f2.AddSymbol("bar", 0x100, 0x20)
	f2.AddSymbol("_foo", 0x100, 0x20)
	s = f2.FindSymbolForAddr(0x110)
	assert.NotNil(t, s)
	assert.Equal(t, "bar", s.Name)
}

func TestBestFitTiePrefersFirst(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "obj")
	f.AddSymbol("one", 0x100, 0x20)
	f.AddSymbol("two", 0x100, 0x20)

	s := f.FindSymbolForAddr(0x110)
	assert.NotNil(t, s)
	assert.Equal(t, "one", s.Name)
}

func TestFindSymbolOutsideRanges(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "obj")
	f.AddSymbol("low", 0x100, 0x10)
	f.AddSymbol("high", 0x200, 0x10)

	assert.Nil(t, f.FindSymbolForAddr(0x150))
	assert.Nil(t, f.FindSymbolForAddr(0x50))
	assert.Nil(t, f.FindSymbolForAddr(0x210))
	assert.NotNil(t, f.FindSymbolForAddr(0x105))
}

// TestPcSymName covers the label formats: exact hit, offset hit, no symbol,
// unmapped address.
func TestPcSymName(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "./wedgie")
	f.AddSymbol("main", 0x400c00, 0x100)
	p.AddMapping("./wedgie", 0x400000, 0x10000, 0)

	assert.Equal(t, "./wedgie`main", p.PcSymName(0x400c00))
	assert.Equal(t, "./wedgie`main+52", p.PcSymName(0x400c52))
	assert.Equal(t, "./wedgie`0x400b00", p.PcSymName(0x400b00))
	assert.Equal(t, "", p.PcSymName(0x900000))

	// the data variant names just the object when no symbol covers
	assert.Equal(t, "./wedgie`main+52", p.DataSymName(0x400c52))
	assert.Equal(t, "./wedgie", p.DataSymName(0x400b00))
}

func TestBakeDedupAndLookup(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "obj")
	first := f.AddSymbol("dup", 0x100, 0x10)
	f.AddSymbol("dup", 0x200, 0x10)

	s := f.symLookup("dup")
	assert.NotNil(t, s)
	assert.Equal(t, first.Addr, s.Addr)

	// symbols added after a bake are visible after re-baking
	f.AddSymbol("late", 0x300, 0x10)
	assert.NotNil(t, f.symLookup("late"))
}

// TestSizeSynthesis covers platforms without symbol sizes: each size is
// synthesized from the next symbol's address, with a constant for the last.
func TestSizeSynthesis(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "obj")
	f.hasSymSizes = false
	f.AddSymbol("first", 0x100, 0)
	f.AddSymbol("second", 0x180, 0)

	s := f.symLookup("first")
	assert.NotNil(t, s)
	assert.EqualValues(t, 0x80, s.Size)

	s = f.symLookup("second")
	assert.NotNil(t, s)
	assert.EqualValues(t, missingSymSize, s.Size)
}

func TestSymLookupAcrossObjects(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	a := addBareObject(p, "/lib/a.so")
	b := addBareObject(p, "/lib/b.so")
	a.AddSymbol("shared", 0x100, 0x10)
	b.AddSymbol("shared", 0x900, 0x10)
	b.AddSymbol("only_b", 0x910, 0x10)

	// empty object searches in mapping order, first hit wins
	s := p.SymLookup("", "shared")
	assert.NotNil(t, s)
	assert.EqualValues(t, 0x100, s.Addr)

	s = p.SymLookup("", "only_b")
	assert.NotNil(t, s)
	assert.EqualValues(t, 0x910, s.Addr)

	assert.Nil(t, p.SymLookup("", "absent"))
}

// TestSymLookupBasename verifies the basename fallback and that the alias is
// interned for later lookups.
func TestSymLookupBasename(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	f := addBareObject(p, "/usr/lib/libfoo.so")
	f.AddSymbol("entry", 0x100, 0x10)

	s := p.SymLookup("libfoo.so", "entry")
	assert.NotNil(t, s)
	assert.EqualValues(t, 0x100, s.Addr)

	// alias interned
	assert.Equal(t, f, p.FindObject("libfoo.so"))
}
