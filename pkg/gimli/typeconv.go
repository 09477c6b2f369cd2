package gimli

import (
	"debug/dwarf"

	"github.com/wez/gimli/pkg/gimli/types"
)

// typeAt decodes the debug type graph rooted at the given offset into the
// object's type collection. Conversion is memoized on the dwarf handle's
// cached type nodes so shared and self-referential graphs come out as shared
// handles.
func (f *MappedObject) typeAt(off dwarf.Offset) *types.Type {
	d := f.debugData()
	if d.data == nil {
		return nil
	}
	dt, err := d.data.Type(off)
	if err != nil {
		return nil
	}
	if f.dieTypes == nil {
		f.dieTypes = map[dwarf.Type]*types.Type{}
	}
	return f.convertType(dt)
}

func (f *MappedObject) convertType(dt dwarf.Type) *types.Type {
	if dt == nil {
		return nil
	}
	if t, ok := f.dieTypes[dt]; ok {
		return t
	}
	col := f.Types()

	memo := func(t *types.Type) *types.Type {
		f.dieTypes[dt] = t
		return t
	}

	switch v := dt.(type) {
	case *dwarf.IntType:
		return memo(col.NewInteger(v.Name, types.Encoding{
			Format: types.IntSigned,
			Bits:   uint32(v.ByteSize * 8),
		}))
	case *dwarf.UintType:
		return memo(col.NewInteger(v.Name, types.Encoding{
			Bits: uint32(v.ByteSize * 8),
		}))
	case *dwarf.CharType:
		return memo(col.NewInteger(v.Name, types.Encoding{
			Format: types.IntSigned | types.IntChar,
			Bits:   uint32(v.ByteSize * 8),
		}))
	case *dwarf.UcharType:
		return memo(col.NewInteger(v.Name, types.Encoding{
			Format: types.IntChar,
			Bits:   uint32(v.ByteSize * 8),
		}))
	case *dwarf.BoolType:
		return memo(col.NewInteger(v.Name, types.Encoding{
			Format: types.IntBool,
			Bits:   uint32(v.ByteSize * 8),
		}))
	case *dwarf.FloatType:
		return memo(col.NewFloat(v.Name, types.Encoding{
			Bits: uint32(v.ByteSize * 8),
		}))
	case *dwarf.PtrType:
		// Register the pointer before converting its target so that
		// self-referential structs terminate.
		t := col.NewPointer(nil)
		f.dieTypes[dt] = t
		col.SetTarget(t, f.convertVoid(v.Type))
		return t
	case *dwarf.StructType:
		var t *types.Type
		if v.Kind == "union" {
			t = col.NewUnion(v.StructName)
		} else {
			t = col.NewStruct(v.StructName)
		}
		f.dieTypes[dt] = t
		for _, field := range v.Field {
			mt := f.convertType(field.Type)
			if mt == nil {
				continue
			}
			if field.BitSize != 0 {
				t.AddMemberEncoded(field.Name, mt, types.Encoding{
					Offset: uint32(field.ByteOffset*8) + uint32(field.BitOffset),
					Bits:   uint32(field.BitSize),
				})
			} else {
				t.AddMemberAt(field.Name, mt, uint64(field.ByteOffset*8))
			}
		}
		return t
	case *dwarf.EnumType:
		return memo(col.NewEnum(v.EnumName))
	case *dwarf.ArrayType:
		count := v.Count
		if count < 0 {
			count = 0
		}
		return memo(col.NewArray(f.convertType(v.Type), nil, uint32(count)))
	case *dwarf.TypedefType:
		t := col.NewTypedef(v.Name, nil)
		f.dieTypes[dt] = t
		col.SetTarget(t, f.convertType(v.Type))
		return t
	case *dwarf.QualType:
		t := f.qualFor(v.Qual)
		f.dieTypes[dt] = t
		col.SetTarget(t, f.convertType(v.Type))
		return t
	case *dwarf.FuncType:
		var args []*types.Type
		variadic := false
		for _, a := range v.ParamType {
			if _, dots := a.(*dwarf.DotDotDotType); dots {
				variadic = true
				continue
			}
			args = append(args, f.convertType(a))
		}
		return memo(col.NewFunction("", f.convertVoid(v.ReturnType), args, variadic))
	case *dwarf.VoidType:
		return nil
	}
	return nil
}

// convertVoid maps a dwarf void to a nil target, which the type system
// renders as "void".
func (f *MappedObject) convertVoid(dt dwarf.Type) *types.Type {
	if dt == nil {
		return nil
	}
	if _, void := dt.(*dwarf.VoidType); void {
		return nil
	}
	return f.convertType(dt)
}

func (f *MappedObject) qualFor(qual string) *types.Type {
	col := f.Types()
	switch qual {
	case "const":
		return col.NewConst(nil)
	case "restrict":
		return col.NewRestrict(nil)
	default:
		return col.NewVolatile(nil)
	}
}
