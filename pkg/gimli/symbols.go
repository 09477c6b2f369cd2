package gimli

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Symbol is one entry in an object's symbol table. Name is the demangled
// name and may alias RawName when demangling does not change it.
type Symbol struct {
	Name    string
	RawName string
	Addr    Addr
	Size    uint64

	index int
}

// missingSymSize is the size recorded for the last symbol of an object when
// the platform provides no size information and there is no next symbol to
// synthesize a size from.
const missingSymSize = 8

// AddSymbol appends a symbol to the object's table and marks it for
// re-baking. Demangling is performed by an external collaborator; here the
// demangled name aliases the raw name.
func (f *MappedObject) AddSymbol(name string, addr Addr, size uint64) *Symbol {
	f.symChanged = true
	f.symtab = append(f.symtab, Symbol{
		Name:    name,
		RawName: name,
		Addr:    addr,
		Size:    size,
		index:   len(f.symtab),
	})
	return &f.symtab[len(f.symtab)-1]
}

// bakeSymtab sorts and rehashes the symbol table if any symbol arrived since
// the last bake. Sort order is ascending address, ties by ascending size,
// final tie by insertion order. The hash maps raw name to symbol; duplicate
// names keep the first insert. On platforms without symbol sizes each size
// is synthesized from the next symbol's address.
func (f *MappedObject) bakeSymtab() {
	if !f.symChanged {
		return
	}
	f.symChanged = false

	f.log.WithField("count", len(f.symtab)).Debug("baking symbols")

	sort.SliceStable(f.symtab, func(i, j int) bool {
		a, b := &f.symtab[i], &f.symtab[j]
		if a.Addr != b.Addr {
			return a.Addr < b.Addr
		}
		if f.hasSymSizes && a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.index < b.index
	})

	f.symhash = make(map[string]*Symbol, len(f.symtab))
	for i := range f.symtab {
		s := &f.symtab[i]

		if !f.hasSymSizes {
			s.Size = missingSymSize
			for j := i + 1; j < len(f.symtab); j++ {
				if f.symtab[j].Addr > s.Addr {
					s.Size = uint64(f.symtab[j].Addr - s.Addr)
					break
				}
			}
		}

		if _, dup := f.symhash[s.RawName]; !dup {
			f.symhash[s.RawName] = s
		}
	}
}

// readabilityPenalty scores a symbol name; lower is better. Leading
// underscores weigh 2, interior underscores 1, so mangled and internal
// aliases lose to public names covering the same address. Other decorations
// such as '$' or '.' contribute nothing.
func readabilityPenalty(name string) int {
	start := true
	value := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			if start {
				value += 2
			} else {
				value++
			}
		} else {
			start = false
		}
	}
	return value
}

// FindSymbolForAddr returns the best symbol whose range covers addr, or nil.
// When several symbols cover the address the one with the lowest
// readability penalty wins; ties keep the earliest table entry.
func (f *MappedObject) FindSymbolForAddr(addr Addr) *Symbol {
	f.bakeSymtab()
	if len(f.symtab) == 0 {
		return nil
	}

	i := sort.Search(len(f.symtab), func(i int) bool {
		s := &f.symtab[i]
		return addr < s.Addr+Addr(s.Size)
	})
	if i >= len(f.symtab) || addr < f.symtab[i].Addr {
		return nil
	}

	// The hit may sit inside a run of symbols that all cover addr. Walk to
	// the first and last candidates of the run.
	first := i
	for first > 0 && f.symtab[first-1].Addr+Addr(f.symtab[first-1].Size) > addr {
		first--
	}
	last := i
	for last < len(f.symtab)-1 && f.symtab[last+1].Addr <= addr {
		last++
	}

	best := &f.symtab[first]
	bu := readabilityPenalty(best.Name)
	for n := first + 1; n <= last; n++ {
		cand := &f.symtab[n]
		if cand.Addr+Addr(cand.Size) <= addr {
			continue
		}
		if cu := readabilityPenalty(cand.Name); cu < bu {
			best = cand
			bu = cu
		}
	}
	return best
}

func (f *MappedObject) symLookup(name string) *Symbol {
	f.bakeSymtab()
	return f.symhash[name]
}

// PcSymName computes a readable label for a code address:
// "object`symbol", "object`symbol+hexoff", or "object`0xaddr" when no
// symbol covers the address. An unmapped address yields "".
func (p *Proc) PcSymName(addr Addr) string {
	m := p.MappingForAddr(addr)
	if m == nil {
		return ""
	}
	if s := m.Object.FindSymbolForAddr(addr); s != nil {
		if addr == s.Addr {
			return fmt.Sprintf("%s`%s", m.Object.Name, s.Name)
		}
		return fmt.Sprintf("%s`%s+%x", m.Object.Name, s.Name, uint64(addr-s.Addr))
	}
	return fmt.Sprintf("%s`0x%x", m.Object.Name, uint64(addr))
}

// DataSymName is PcSymName for data addresses: the no-symbol fallback names
// just the containing object, since the caller typically annotates with the
// address itself.
func (p *Proc) DataSymName(addr Addr) string {
	m := p.MappingForAddr(addr)
	if m == nil {
		return ""
	}
	if s := m.Object.FindSymbolForAddr(addr); s != nil {
		if addr == s.Addr {
			return fmt.Sprintf("%s`%s", m.Object.Name, s.Name)
		}
		return fmt.Sprintf("%s`%s+%x", m.Object.Name, s.Name, uint64(addr-s.Addr))
	}
	return m.Object.Name
}

// SymLookup resolves a symbol by raw name. An empty obj searches every
// mapped object in mapping order and returns the first hit. Otherwise the
// object is located by exact name, then by basename, then by resolving obj
// as a symlink against each object's canonical path; a hit through either
// fallback interns the alias so later lookups cost one hash probe.
func (p *Proc) SymLookup(obj, name string) *Symbol {
	if obj == "" {
		for _, f := range p.fileOrder {
			if sym := f.symLookup(name); sym != nil {
				return sym
			}
		}
		return nil
	}

	f := p.FindObject(obj)
	if f == nil {
		for _, cand := range p.fileOrder {
			if filepath.Base(cand.Name) == obj {
				f = cand
				break
			}
		}
		if f == nil {
			for _, cand := range p.fileOrder {
				real, err := filepath.EvalSymlinks(filepath.Join(filepath.Dir(cand.Name), obj))
				if err != nil {
					continue
				}
				if real == cand.Name {
					f = cand
					break
				}
			}
		}
		if f == nil {
			return nil
		}
		// intern the alias
		p.files[obj] = f
		f.addRef()
	}

	return f.symLookup(name)
}
