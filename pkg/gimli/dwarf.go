package gimli

import (
	"debug/dwarf"
	"sort"

	"github.com/wez/gimli/pkg/gimli/types"
)

// debugInfo holds the lazily-built debug views of one object: the sorted
// line-number table, the compilation-unit tree and the DWARF handle itself.
// It is built once on first access and read-only afterwards.
type debugInfo struct {
	data  *dwarf.Data
	lines []lineEntry
	cus   *cuNode
}

type lineEntry struct {
	addr Addr
	file string
	line int
}

// cuNode is one compilation unit in a binary tree sorted by address range.
type cuNode struct {
	lo, hi      Addr
	offset      dwarf.Offset
	left, right *cuNode
}

func (n *cuNode) insert(child *cuNode) {
	for {
		if child.lo < n.lo {
			if n.left == nil {
				n.left = child
				return
			}
			n = n.left
		} else {
			if n.right == nil {
				n.right = child
				return
			}
			n = n.right
		}
	}
}

func (n *cuNode) find(addr Addr) *cuNode {
	for n != nil {
		if addr < n.lo {
			n = n.left
		} else if addr >= n.hi {
			n = n.right
		} else {
			return n
		}
	}
	return nil
}

// debugData builds the object's debug views on first use. Missing debug info
// is recorded as an empty view: source lookups and parameter resolution find
// nothing and values are reported as optimized out. Unwinding does not use
// this view; it reads the frame tables through frameTable.
func (f *MappedObject) debugData() *debugInfo {
	if f.debug != nil {
		return f.debug
	}
	f.debug = &debugInfo{}
	if f.loader == nil {
		return f.debug
	}
	data, err := f.loader.DWARF()
	if err != nil || data == nil {
		f.log.WithError(err).Debug("no debug info")
		return f.debug
	}
	f.debug.data = data
	f.buildUnits(data)
	return f.debug
}

func (f *MappedObject) buildUnits(data *dwarf.Data) {
	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		// arange per CU, relocated by the object's base address
		ranges, err := data.Ranges(entry)
		if err == nil {
			for _, rng := range ranges {
				node := &cuNode{
					lo:     Addr(int64(rng[0]) + f.BaseAddr),
					hi:     Addr(int64(rng[1]) + f.BaseAddr),
					offset: entry.Offset,
				}
				if f.debug.cus == nil {
					f.debug.cus = node
				} else {
					f.debug.cus.insert(node)
				}
			}
		}

		f.buildLines(data, entry)
		r.SkipChildren()
	}

	sort.Slice(f.debug.lines, func(i, j int) bool {
		return f.debug.lines[i].addr < f.debug.lines[j].addr
	})
}

func (f *MappedObject) buildLines(data *dwarf.Data, cu *dwarf.Entry) {
	lr, err := data.LineReader(cu)
	if err != nil || lr == nil {
		return
	}
	var e dwarf.LineEntry
	for {
		if err := lr.Next(&e); err != nil {
			break
		}
		if e.EndSequence || e.File == nil {
			continue
		}
		f.debug.lines = append(f.debug.lines, lineEntry{
			addr: Addr(int64(e.Address) + f.BaseAddr),
			file: e.File.Name,
			line: e.Line,
		})
	}
}

// SourceInfo determines the source file and line for a code address.
func (f *MappedObject) SourceInfo(addr Addr) (string, int, bool) {
	d := f.debugData()
	if len(d.lines) == 0 {
		return "", 0, false
	}
	i := sort.Search(len(d.lines), func(i int) bool {
		return d.lines[i].addr > addr
	})
	if i == 0 {
		return "", 0, false
	}
	e := d.lines[i-1]
	return e.file, e.line, true
}

// SourceInfo resolves addr through the mapping registry to the owning
// object's line table.
func (p *Proc) SourceInfo(addr Addr) (string, int, bool) {
	m := p.MappingForAddr(addr)
	if m == nil {
		return "", 0, false
	}
	return m.Object.SourceInfo(addr)
}

// subprogram is the debug entry enclosing a code address.
type subprogram struct {
	obj   *MappedObject
	data  *dwarf.Data
	entry *dwarf.Entry
}

// findSubprogram locates the subprogram debug entry whose range covers addr.
func (f *MappedObject) findSubprogram(addr Addr) *subprogram {
	d := f.debugData()
	if d.data == nil {
		return nil
	}
	cu := d.cus.find(addr)
	if cu == nil {
		return nil
	}

	linkAddr := uint64(int64(addr) - f.BaseAddr)
	r := d.data.Reader()
	r.Seek(cu.offset)
	// the CU entry itself
	if _, err := r.Next(); err != nil {
		return nil
	}
	depth := 0
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			return nil
		}
		if entry.Tag == 0 {
			depth--
			if depth < 0 {
				return nil
			}
			continue
		}
		if entry.Tag != dwarf.TagSubprogram {
			if entry.Children {
				r.SkipChildren()
			}
			continue
		}
		ranges, err := d.data.Ranges(entry)
		if err == nil {
			for _, rng := range ranges {
				if linkAddr >= rng[0] && linkAddr < rng[1] {
					return &subprogram{obj: f, data: d.data, entry: entry}
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
}

// formalParam is a named parameter of a subprogram, in declaration order.
type formalParam struct {
	name string
	typ  *types.Type
	loc  []byte
}

// params returns the subprogram's formal parameters in declaration order.
func (s *subprogram) params() []formalParam {
	r := s.data.Reader()
	r.Seek(s.entry.Offset)
	if _, err := r.Next(); err != nil {
		return nil
	}
	if !s.entry.Children {
		return nil
	}

	var out []formalParam
	for {
		entry, err := r.Next()
		if err != nil || entry == nil || entry.Tag == 0 {
			break
		}
		if entry.Tag != dwarf.TagFormalParameter {
			if entry.Children {
				r.SkipChildren()
			}
			continue
		}
		p := formalParam{}
		if name, ok := entry.Val(dwarf.AttrName).(string); ok {
			p.name = name
		}
		if loc, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
			p.loc = loc
		}
		if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
			p.typ = s.obj.typeAt(off)
		}
		if p.name != "" {
			out = append(out, p)
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
	return out
}

// frameBase returns the subprogram's DW_AT_frame_base expression.
func (s *subprogram) frameBase() []byte {
	loc, _ := s.entry.Val(dwarf.AttrFrameBase).([]byte)
	return loc
}

// name returns the subprogram's name.
func (s *subprogram) name() string {
	n, _ := s.entry.Val(dwarf.AttrName).(string)
	return n
}
