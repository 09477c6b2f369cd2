package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newInt(c *Collection) *Type {
	return c.NewInteger("int", Encoding{Format: IntSigned, Bits: 32})
}

func newChar(c *Collection) *Type {
	return c.NewInteger("char", Encoding{Format: IntSigned | IntChar, Bits: 8})
}

// TestStructLayout builds struct S { int one; char *two; } and verifies the
// natural layout on a 64-bit target: two lands at bit 64 because of pointer
// alignment, and the padded size is 16.
func TestStructLayout(t *testing.T) {
	c := NewCollection()
	s := c.NewStruct("S")
	assert.NoError(t, s.AddMember("one", newInt(c)))
	assert.NoError(t, s.AddMember("two", c.NewPointer(newChar(c))))

	one, ok := s.Membinfo("one")
	assert.True(t, ok)
	assert.EqualValues(t, 0, one.Offset)

	two, ok := s.Membinfo("two")
	assert.True(t, ok)
	assert.EqualValues(t, 64, two.Offset)

	assert.EqualValues(t, 16, s.Size())

	_, ok = s.Membinfo("three")
	assert.False(t, ok)
}

// TestMemberOrdering checks that member offsets are monotonic for
// non-bit-field members added in order.
func TestMemberOrdering(t *testing.T) {
	c := NewCollection()
	s := c.NewStruct("seq")
	assert.NoError(t, s.AddMember("a", newChar(c)))
	assert.NoError(t, s.AddMember("b", newInt(c)))
	assert.NoError(t, s.AddMember("c", c.NewFloat("double", Encoding{Bits: 64})))

	var prevEnd uint64
	for _, name := range []string{"a", "b", "c"} {
		m, ok := s.Membinfo(name)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, m.Offset, prevEnd)
		prevEnd = m.Offset + m.Type.Size()*8
	}
}

func TestUnionOffsets(t *testing.T) {
	c := NewCollection()
	u := c.NewUnion("u")
	assert.NoError(t, u.AddMember("one", newInt(c)))
	assert.NoError(t, u.AddMember("two", c.NewPointer(newChar(c))))

	one, ok := u.Membinfo("one")
	assert.True(t, ok)
	assert.EqualValues(t, 0, one.Offset)

	two, ok := u.Membinfo("two")
	assert.True(t, ok)
	assert.EqualValues(t, 0, two.Offset)

	assert.EqualValues(t, 8, u.Size())
}

func TestBitfields(t *testing.T) {
	c := NewCollection()
	s := c.NewStruct("flags")
	u := c.NewInteger("unsigned int", Encoding{Bits: 32})
	assert.NoError(t, s.AddMemberEncoded("bit1", u, Encoding{Offset: 0, Bits: 1}))
	assert.NoError(t, s.AddMemberEncoded("bit2", u, Encoding{Offset: 1, Bits: 1}))
	assert.NoError(t, s.AddMemberEncoded("moo", u, Encoding{Offset: 2, Bits: 5}))

	moo, ok := s.Membinfo("moo")
	assert.True(t, ok)
	assert.EqualValues(t, 2, moo.Offset)
	bits, isBitfield := moo.IsBitfield()
	assert.True(t, isBitfield)
	assert.EqualValues(t, 5, bits)

	// insertion order is preserved for bit-fields
	members := s.Members()
	assert.Equal(t, []string{"bit1", "bit2", "moo"},
		[]string{members[0].Name, members[1].Name, members[2].Name})
}

// TestResolveIdempotence covers resolve(resolve(t)) == resolve(t) and the
// stripping of stacked qualifiers.
func TestResolveIdempotence(t *testing.T) {
	c := NewCollection()
	i := newInt(c)
	td := c.NewTypedef("myint", i)
	cv := c.NewConst(c.NewVolatile(td))

	assert.Equal(t, i, cv.Resolve())
	assert.Equal(t, cv.Resolve(), cv.Resolve().Resolve())
	assert.Equal(t, i, c.NewConst(c.NewVolatile(i)).Resolve())

	// size forwards through aliases
	assert.EqualValues(t, 4, cv.Size())
}

func TestDeclname(t *testing.T) {
	c := NewCollection()
	i := newInt(c)
	ch := newChar(c)

	type scenario struct {
		t        *Type
		expected string
	}

	scenarios := []scenario{
		{i, "int"},
		{c.NewPointer(ch), "char *"},
		{c.NewPointer(c.NewPointer(ch)), "char **"},
		{c.NewConst(i), "const int"},
		{c.NewPointer(c.NewConst(i)), "const int *"},
		{c.NewStruct("foo"), "struct foo"},
		{c.NewUnion("bar"), "union bar"},
		{c.NewPointer(nil), "void *"},
		{c.NewArray(i, nil, 4), "int [4]"},
		{c.NewPointer(c.NewFunction("", i, []*Type{i}, true)), "int (*)(int, ...)"},
	}

	for _, s := range scenarios {
		assert.Equal(t, s.expected, s.t.Declname())
	}
}

func TestVisit(t *testing.T) {
	c := NewCollection()
	s := c.NewStruct("outer")
	inner := c.NewStruct("inner")
	assert.NoError(t, inner.AddMember("a", newInt(c)))
	assert.NoError(t, inner.AddMember("b", newInt(c)))
	assert.NoError(t, s.AddMember("head", newInt(c)))
	assert.NoError(t, s.AddMember("nest", inner))

	var visited []string
	s.Visit(func(name string, ty *Type, offset uint64, depth int) IterStatus {
		visited = append(visited, name)
		return IterCont
	})
	assert.Equal(t, []string{"", "head", "nest", "a", "b"}, visited)

	// a stop from the callback halts the walk
	visited = nil
	s.Visit(func(name string, ty *Type, offset uint64, depth int) IterStatus {
		visited = append(visited, name)
		if name == "nest" {
			return IterStop
		}
		return IterCont
	})
	assert.Equal(t, []string{"", "head", "nest"}, visited)
}

func TestCollectionLookup(t *testing.T) {
	c := NewCollection()
	i := newInt(c)
	f := c.NewFunction("main", i, nil, false)

	assert.Equal(t, i, c.FindType("int"))
	assert.Equal(t, f, c.FindFunction("main"))
	assert.Nil(t, c.FindType("main"))
	assert.Nil(t, c.FindFunction("int"))

	var count int
	c.Visit(func(col *Collection, ty *Type) IterStatus {
		count++
		return IterCont
	})
	assert.Equal(t, 2, count)
}
