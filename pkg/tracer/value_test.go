package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wez/gimli/pkg/gimli"
	"github.com/wez/gimli/pkg/gimli/types"
)

// fakeMem is a sparse byte map standing in for the target address space.
type fakeMem map[gimli.Addr]byte

func (m fakeMem) poke(addr gimli.Addr, data []byte) {
	for i, b := range data {
		m[addr+gimli.Addr(i)] = b
	}
}

func (m fakeMem) pokeWord(addr gimli.Addr, val uint64) {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(val >> (8 * i))
	}
	m.poke(addr, buf[:])
}

func (m fakeMem) ReadMem(addr gimli.Addr, dest []byte) int {
	for i := range dest {
		b, ok := m[addr+gimli.Addr(i)]
		if !ok {
			return i
		}
		dest[i] = b
	}
	return len(dest)
}

func (m fakeMem) ReadString(addr gimli.Addr) string {
	var out []byte
	for {
		b, ok := m[addr]
		if !ok || b == 0 {
			return string(out)
		}
		out = append(out, b)
		addr++
	}
}

func newInt(c *types.Collection) *types.Type {
	return c.NewInteger("int", types.Encoding{Format: types.IntSigned, Bits: 32})
}

func newChar(c *types.Collection) *types.Type {
	return c.NewInteger("char", types.Encoding{Format: types.IntSigned | types.IntChar, Bits: 8})
}

func TestRenderInteger(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	mem.poke(0x1000, []byte{0x2a, 0, 0, 0})
	assert.Equal(t, "42", renderValue(mem, newInt(c), 0x1000, 0))

	// negative values sign-extend
	mem.poke(0x1010, []byte{0xff, 0xff, 0xff, 0xff})
	assert.Equal(t, "-1", renderValue(mem, newInt(c), 0x1010, 0))

	u := c.NewInteger("unsigned int", types.Encoding{Bits: 32})
	assert.Equal(t, "4294967295", renderValue(mem, u, 0x1010, 0))

	assert.Equal(t, "<unreadable>", renderValue(mem, newInt(c), 0x9000, 0))
	assert.Equal(t, "<optimized out>", renderValue(mem, nil, 0x1000, 0))
}

func TestRenderThroughAliases(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()
	mem.poke(0x1000, []byte{7, 0, 0, 0})

	aliased := c.NewConst(c.NewVolatile(c.NewTypedef("myint", newInt(c))))
	assert.Equal(t, "7", renderValue(mem, aliased, 0x1000, 0))
}

func TestRenderCharPointer(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	mem.pokeWord(0x1000, 0x2000)
	mem.poke(0x2000, []byte("forty-two\x00"))

	p := c.NewPointer(newChar(c))
	assert.Equal(t, `0x2000 "forty-two"`, renderValue(mem, p, 0x1000, 128))

	// a null pointer is not chased
	mem.pokeWord(0x1010, 0)
	assert.Equal(t, "(nil)", renderValue(mem, p, 0x1010, 128))

	// non-char pointers render as bare addresses
	ip := c.NewPointer(newInt(c))
	assert.Equal(t, "0x2000", renderValue(mem, ip, 0x1000, 128))
}

func TestRenderStruct(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	s := c.NewStruct("wedgie_data")
	assert.NoError(t, s.AddMember("one", newInt(c)))
	assert.NoError(t, s.AddMember("two", c.NewPointer(newChar(c))))

	mem.poke(0x1000, []byte{42, 0, 0, 0, 0, 0, 0, 0})
	mem.pokeWord(0x1008, 0x2000)
	mem.poke(0x2000, []byte("forty-two\x00"))

	assert.Equal(t, `{ one = 42, two = 0x2000 "forty-two" }`,
		renderValue(mem, s, 0x1000, 128))
}

func TestRenderBitfields(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()
	u := c.NewInteger("unsigned int", types.Encoding{Bits: 32})

	s := c.NewStruct("flags")
	assert.NoError(t, s.AddMemberEncoded("bit1", u, types.Encoding{Offset: 0, Bits: 1}))
	assert.NoError(t, s.AddMemberEncoded("bit2", u, types.Encoding{Offset: 1, Bits: 1}))
	assert.NoError(t, s.AddMemberEncoded("moo", u, types.Encoding{Offset: 2, Bits: 5}))

	// bit1=1, bit2=0, moo=13: 1 | 13<<2 = 0x35
	mem.poke(0x1000, []byte{0x35, 0, 0, 0})
	assert.Equal(t, "{ bit1 = 1, bit2 = 0, moo = 13 }", renderValue(mem, s, 0x1000, 0))
}

func TestRenderCharArray(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	arr := c.NewArray(newChar(c), nil, 8)
	mem.poke(0x1000, []byte("global!\x00"))
	assert.Equal(t, `"global!"`, renderValue(mem, arr, 0x1000, 128))
}

func TestRenderIntArray(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	arr := c.NewArray(newInt(c), nil, 4)
	mem.poke(0x1000, []byte{9, 0, 0, 0, 8, 0, 0, 0, 7, 0, 0, 0, 6, 0, 0, 0})
	assert.Equal(t, "[9, 8, 7, 6]", renderValue(mem, arr, 0x1000, 0))
}

func TestRenderUnreadableStructMember(t *testing.T) {
	mem := fakeMem{}
	c := types.NewCollection()

	s := c.NewStruct("partial")
	assert.NoError(t, s.AddMember("ok", newInt(c)))
	assert.NoError(t, s.AddMember("gone", newInt(c)))

	mem.poke(0x1000, []byte{1, 0, 0, 0})
	assert.Equal(t, "{ ok = 1, gone = <unreadable> }", renderValue(mem, s, 0x1000, 0))
}
