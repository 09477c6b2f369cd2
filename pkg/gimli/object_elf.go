//go:build !darwin

package gimli

import (
	"debug/dwarf"
	"debug/elf"
)

// ModuleSuffix is the shared-library extension used when resolving analysis
// module names on this platform.
const ModuleSuffix = ".so"

type elfObject struct {
	file  *elf.File
	vaddr uint64
}

func openObjectFile(path string) (objectFile, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	o := &elfObject{file: f}

	// the preferred vaddr is the lowest PT_LOAD segment address
	first := true
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if first || prog.Vaddr < o.vaddr {
			o.vaddr = prog.Vaddr
			first = false
		}
	}
	return o, nil
}

func (o *elfObject) PreferredVaddr() uint64 { return o.vaddr }

func (o *elfObject) HasSymbolSizes() bool { return true }

func (o *elfObject) SectionBytes(name string) ([]byte, bool) {
	sec := o.file.Section(name)
	if sec == nil {
		return nil, false
	}
	data, err := sec.Data()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (o *elfObject) SectionWithAddr(name string) ([]byte, uint64, bool) {
	sec := o.file.Section(name)
	if sec == nil {
		return nil, 0, false
	}
	data, err := sec.Data()
	if err != nil {
		return nil, 0, false
	}
	return data, sec.Addr, true
}

func (o *elfObject) LoadSymbols(obj *MappedObject) {
	load := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Name == "" || s.Value == 0 {
				continue
			}
			switch elf.ST_TYPE(s.Info) {
			case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
			default:
				continue
			}
			obj.AddSymbol(s.Name, Addr(int64(s.Value)+obj.BaseAddr), s.Size)
		}
	}

	if syms, err := o.file.Symbols(); err == nil {
		load(syms)
	}
	if syms, err := o.file.DynamicSymbols(); err == nil {
		load(syms)
	}
}

func (o *elfObject) DWARF() (*dwarf.Data, error) { return o.file.DWARF() }

func (o *elfObject) Close() error { return o.file.Close() }
