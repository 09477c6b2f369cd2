package gimli

import (
	"fmt"
	"io"
	"sort"
)

// Mapping associates one contiguous address range in the target with the
// object file backing it. Mapping entries hold non-owning references to
// their object; the registry on the Proc owns the objects.
type Mapping struct {
	Base   Addr
	Len    uint64
	Offset uint64
	Object *MappedObject
}

// Contains reports whether addr falls within the half-open range of the
// mapping.
func (m *Mapping) Contains(addr Addr) bool {
	return addr >= m.Base && addr < m.Base+Addr(m.Len)
}

// AddMapping records a mapping entry, creating the backing object lazily the
// first time its name is seen. The ordered array is marked dirty; it is
// re-sorted on the next lookup.
func (p *Proc) AddMapping(name string, base Addr, length, offset uint64) *Mapping {
	m := &Mapping{Base: base, Len: length, Offset: offset}
	p.log.WithFields(map[string]interface{}{
		"base": fmt.Sprintf("0x%x", uint64(base)),
		"len":  fmt.Sprintf("0x%x", length),
		"off":  fmt.Sprintf("0x%x", offset),
		"name": name,
	}).Debug("adding mapping")

	m.Object = p.FindObject(name)
	if m.Object == nil {
		m.Object = p.AddObject(name, base)
	}

	p.mappings = append(p.mappings, m)
	p.mapsChanged = true
	return m
}

// MappingForAddr returns the mapping whose range contains addr, or nil. The
// entry array is re-sorted first if any mapping was added since the last
// lookup: ascending base, ties broken by ascending length.
func (p *Proc) MappingForAddr(addr Addr) *Mapping {
	if p.mapsChanged {
		sort.SliceStable(p.mappings, func(i, j int) bool {
			a, b := p.mappings[i], p.mappings[j]
			if a.Base != b.Base {
				return a.Base < b.Base
			}
			return a.Len < b.Len
		})
		p.mapsChanged = false
	}

	i := sort.Search(len(p.mappings), func(i int) bool {
		m := p.mappings[i]
		return addr < m.Base+Addr(m.Len)
	})
	if i < len(p.mappings) && p.mappings[i].Contains(addr) {
		return p.mappings[i]
	}
	return nil
}

// ShowMemoryMap writes the textual map dump. Consecutive entries backed by
// the same object that are exactly adjacent are coalesced for display only;
// the index itself is unchanged.
func (p *Proc) ShowMemoryMap(w io.Writer) {
	// force a sort so the dump is in address order
	p.MappingForAddr(0)

	fmt.Fprintf(w, "\nMEMORY MAP: (executable, shared objects and named mmaps)\n")
	i := 0
	for i < len(p.mappings) {
		m := p.mappings[i]
		upper := m.Base + Addr(m.Len)

		for j := i + 1; j < len(p.mappings); j++ {
			om := p.mappings[j]
			if om.Object != m.Object || om.Base != upper {
				break
			}
			upper = om.Base + Addr(om.Len)
			i = j
		}

		fmt.Fprintf(w, "0x%012x - 0x%012x %s\n", uint64(m.Base), uint64(upper), m.Object.Name)
		i++
	}
	fmt.Fprintf(w, "\n\n")
}
