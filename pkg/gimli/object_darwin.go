//go:build darwin

package gimli

import (
	"debug/dwarf"
	"errors"

	"github.com/blacktop/go-macho"
)

// ModuleSuffix is the shared-library extension used when resolving analysis
// module names on this platform.
const ModuleSuffix = ".dylib"

type machoObject struct {
	file  *macho.File
	vaddr uint64
}

func openObjectFile(path string) (objectFile, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, err
	}
	o := &machoObject{file: f}
	if seg := f.Segment("__TEXT"); seg != nil {
		o.vaddr = seg.Addr
	}
	return o, nil
}

func (o *machoObject) PreferredVaddr() uint64 { return o.vaddr }

// nlist entries carry no size information; sizes are synthesized when the
// symbol table is baked.
func (o *machoObject) HasSymbolSizes() bool { return false }

func (o *machoObject) SectionBytes(name string) ([]byte, bool) {
	for _, sec := range o.file.Sections {
		if sec.Name != name {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

func (o *machoObject) SectionWithAddr(name string) ([]byte, uint64, bool) {
	for _, sec := range o.file.Sections {
		if sec.Name != name {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, 0, false
		}
		return data, sec.Addr, true
	}
	return nil, 0, false
}

func (o *machoObject) LoadSymbols(obj *MappedObject) {
	if o.file.Symtab == nil {
		return
	}
	const nStab = 0xe0
	for _, s := range o.file.Symtab.Syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		if s.Type&nStab != 0 || s.Sect == 0 {
			continue
		}
		obj.AddSymbol(s.Name, Addr(int64(s.Value)+obj.BaseAddr), 0)
	}
}

// Debug info lives in external dSYM bundles on this platform and is not
// loaded; unwinding falls back to frame pointers and symbolication works
// from the nlist table alone.
func (o *machoObject) DWARF() (*dwarf.Data, error) {
	return nil, errors.New("debug info not carried in mach-o images")
}

func (o *machoObject) Close() error { return o.file.Close() }
