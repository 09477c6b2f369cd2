package gimli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMappingForAddr(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	addBareObject(p, "a")
	addBareObject(p, "b")
	p.AddMapping("a", 0x1000, 0x1000, 0)
	p.AddMapping("b", 0x3000, 0x1000, 0)

	type scenario struct {
		addr     Addr
		expected string
	}

	scenarios := []scenario{
		{0x1500, "a"},
		{0x2500, ""},
		{0x3FFF, "b"},
		{0x4000, ""},
		{0x1000, "a"},
		{0x0FFF, ""},
	}

	for _, s := range scenarios {
		m := p.MappingForAddr(s.addr)
		if s.expected == "" {
			assert.Nil(t, m, "addr 0x%x", uint64(s.addr))
		} else {
			assert.NotNil(t, m, "addr 0x%x", uint64(s.addr))
			assert.Equal(t, s.expected, m.Object.Name)
		}
	}
}

// TestMappingResort checks that a mapping added after a lookup is visible to
// the next lookup: the dirty flag forces a re-sort.
func TestMappingResort(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	addBareObject(p, "a")
	addBareObject(p, "b")

	p.AddMapping("b", 0x3000, 0x1000, 0)
	assert.Nil(t, p.MappingForAddr(0x1500))

	p.AddMapping("a", 0x1000, 0x1000, 0)
	m := p.MappingForAddr(0x1500)
	assert.NotNil(t, m)
	assert.Equal(t, "a", m.Object.Name)
}

// TestMappingTieBreak verifies the stable comparator: equal bases order by
// ascending length, so the narrowest covering entry is found first.
func TestMappingTieBreak(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	addBareObject(p, "wide")
	addBareObject(p, "narrow")

	p.AddMapping("wide", 0x1000, 0x2000, 0)
	p.AddMapping("narrow", 0x1000, 0x1000, 0)

	m := p.MappingForAddr(0x1800)
	assert.NotNil(t, m)
	assert.Equal(t, "narrow", m.Object.Name)

	// beyond the narrow entry only the wide one covers
	m = p.MappingForAddr(0x2800)
	assert.NotNil(t, m)
	assert.Equal(t, "wide", m.Object.Name)
}

// TestShowMemoryMap checks that exactly-adjacent mappings of one object are
// coalesced for display while distinct objects stay separate.
func TestShowMemoryMap(t *testing.T) {
	p := newTestProc(newFakeAdaptor())
	addBareObject(p, "/bin/app")
	addBareObject(p, "/lib/libc.so")

	p.AddMapping("/bin/app", 0x1000, 0x1000, 0)
	p.AddMapping("/bin/app", 0x2000, 0x1000, 0x1000)
	p.AddMapping("/lib/libc.so", 0x8000, 0x1000, 0)

	var buf bytes.Buffer
	p.ShowMemoryMap(&buf)
	out := buf.String()

	assert.Contains(t, out, "0x000000001000 - 0x000000003000 /bin/app")
	assert.Contains(t, out, "0x000000008000 - 0x000000009000 /lib/libc.so")
	assert.NotContains(t, out, "0x000000001000 - 0x000000002000")

	// display coalescing must not disturb the index
	m := p.MappingForAddr(0x2100)
	assert.NotNil(t, m)
	assert.EqualValues(t, 0x2000, m.Base)
}
