package gimli

import (
	"debug/dwarf"

	"github.com/sirupsen/logrus"
	"github.com/wez/gimli/pkg/gimli/types"
)

// objectFile abstracts the container format of a mapped object. The ELF
// implementation is used on Linux and friends; Mach-O on darwin.
type objectFile interface {
	// PreferredVaddr is the link-time load address of the object's first
	// loadable segment.
	PreferredVaddr() uint64

	// HasSymbolSizes reports whether the symbol table carries sizes. When it
	// does not, sizes are synthesized after sorting.
	HasSymbolSizes() bool

	// SectionBytes returns the contents of the named section.
	SectionBytes(name string) ([]byte, bool)

	// SectionWithAddr returns the contents and link-time address of the
	// named section, which pc-relative unwind encodings need.
	SectionWithAddr(name string) ([]byte, uint64, bool)

	// LoadSymbols feeds every symbol into the mapped object.
	LoadSymbols(obj *MappedObject)

	// DWARF returns the object's debug info, if present.
	DWARF() (*dwarf.Data, error)

	Close() error
}

// MappedObject is the tracer's in-memory view of one object file mapped into
// the target: its symbols, sections, debug info and type collection. Objects
// are created lazily the first time an unknown name is seen by the mapping
// registry and are reference counted by the registry.
type MappedObject struct {
	Name string

	// BaseAddr is load_base - preferred_vaddr: the relocation applied to
	// every link-time address in the object.
	BaseAddr int64

	refcnt int
	loader objectFile
	log    *logrus.Entry

	symtab      []Symbol
	symhash     map[string]*Symbol
	symChanged  bool
	hasSymSizes bool

	debug    *debugInfo
	types    *types.Collection
	dieTypes map[dwarf.Type]*types.Type

	cfi      *cfiTable
	cfiTried bool
}

// frameTable parses the object's unwind tables on first use, preferring
// .debug_frame over .eh_frame.
func (f *MappedObject) frameTable() *cfiTable {
	if f.cfiTried {
		return f.cfi
	}
	f.cfiTried = true
	if f.loader == nil {
		return nil
	}
	if data, addr, ok := f.loader.SectionWithAddr(".debug_frame"); ok {
		if table, err := parseCFI(data, addr, false); err == nil {
			f.cfi = table
			return f.cfi
		} else {
			f.log.WithError(err).Debug("unable to parse .debug_frame")
		}
	}
	if data, addr, ok := f.loader.SectionWithAddr(".eh_frame"); ok {
		if table, err := parseCFI(data, addr, true); err == nil {
			f.cfi = table
		} else {
			f.log.WithError(err).Debug("unable to parse .eh_frame")
		}
	}
	return f.cfi
}

func (f *MappedObject) addRef() { f.refcnt++ }

func (f *MappedObject) delRef() {
	f.refcnt--
	if f.refcnt > 0 {
		return
	}
	if f.loader != nil {
		f.loader.Close()
		f.loader = nil
	}
	f.symtab = nil
	f.symhash = nil
	f.debug = nil
	f.types = nil
}

// Types returns the object's type collection, creating it on first use.
func (f *MappedObject) Types() *types.Collection {
	if f.types == nil {
		f.types = types.NewCollection()
	}
	return f.types
}

// SectionBytes returns the raw contents of the named section of the object
// file, if the object could be opened and the section exists.
func (f *MappedObject) SectionBytes(name string) ([]byte, bool) {
	if f.loader == nil {
		return nil, false
	}
	return f.loader.SectionBytes(name)
}

// FindObject looks up a mapped object by canonical name. A nil name (empty
// string) returns the first mapped object, which is the main executable.
func (p *Proc) FindObject(name string) *MappedObject {
	if name == "" {
		return p.firstFile
	}
	return p.files[name]
}

// AddObject creates the mapped object for name if it does not exist yet,
// opening the object file and loading its symbol table. base is the load
// address of the object's first mapping.
func (p *Proc) AddObject(name string, base Addr) *MappedObject {
	if f := p.files[name]; f != nil {
		return f
	}

	f := &MappedObject{
		Name:   name,
		refcnt: 1,
		log:    p.log.WithField("object", name),
	}
	p.files[name] = f
	p.fileOrder = append(p.fileOrder, f)
	if p.firstFile == nil {
		p.firstFile = f
	}

	loader, err := openObjectFile(name)
	if err != nil {
		// Can happen when the file was deleted after the target mapped it.
		f.log.WithError(err).Debug("unable to open object file")
		return f
	}
	f.loader = loader
	f.BaseAddr = int64(base) - int64(loader.PreferredVaddr())
	f.hasSymSizes = loader.HasSymbolSizes()
	f.log.WithFields(logrus.Fields{
		"base":      uint64(base),
		"vaddr":     loader.PreferredVaddr(),
		"base_addr": f.BaseAddr,
	}).Debug("opened object")

	loader.LoadSymbols(f)
	return f
}
