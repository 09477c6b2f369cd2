// Package types models the debug-info type graphs that the tracer reads out
// of a target's object files. A Collection owns every type created through it
// and hands out handles that stay valid for the life of the collection, which
// matters because members, array elements and pointer targets all reference
// each other freely.
package types

import "fmt"

// Kind identifies the variant of a Type.
type Kind int

const (
	Integer Kind = iota + 1
	Float
	Pointer
	Array
	Function
	Struct
	Union
	Enum
	Typedef
	Volatile
	Const
	Restrict
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Pointer:
		return "pointer"
	case Array:
		return "array"
	case Function:
		return "function"
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Enum:
		return "enum"
	case Typedef:
		return "typedef"
	case Volatile:
		return "volatile"
	case Const:
		return "const"
	case Restrict:
		return "restrict"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Integer encoding formats.
const (
	IntSigned uint32 = 1 << iota
	IntChar
	IntBool
)

// PointerSize is the size of a pointer in the target. Addresses are modeled
// as 64-bit regardless of the host word size.
const PointerSize = 8

// Encoding describes how a numeric value is stored: its format flags, its
// offset in bits from the start of its storage unit, and its width in bits.
// For bit-field members the offset is relative to the enclosing aggregate.
type Encoding struct {
	Format uint32
	Offset uint32
	Bits   uint32
}

// Member is one named component of a struct or union. Offset is in bits.
type Member struct {
	Name   string
	Type   *Type
	Offset uint64

	// bitfield records that the member was added with an explicit encoding
	// rather than placed by the natural layout rules.
	bitfield bool
	bits     uint32
}

// ArrayInfo describes an array type.
type ArrayInfo struct {
	Contents *Type
	Idx      *Type
	Nelems   uint32
}

// FuncInfo describes a function type.
type FuncInfo struct {
	Rettype  *Type
	Args     []*Type
	Variadic bool
}

// Type is a node in a type graph. Types are created through a Collection and
// must not be copied.
type Type struct {
	kind    Kind
	name    string
	enc     Encoding
	target  *Type
	members []Member
	arr     ArrayInfo
	fn      FuncInfo

	// rawSize is the accumulated size in bytes before trailing padding;
	// align is the strictest member alignment seen so far.
	rawSize uint64
	align   uint64
}

// Kind returns the kind tag of the type.
func (t *Type) Kind() Kind { return t.kind }

// Name returns the declared name of the type, which may be empty for
// anonymous aggregates and derived types.
func (t *Type) Name() string { return t.name }

// Encoding returns the numeric encoding of the type.
func (t *Type) Encoding() Encoding { return t.enc }

// Target returns the referenced type for pointers and aliasing kinds, or nil.
func (t *Type) Target() *Type { return t.target }

// Resolve follows the type graph, skipping aliasing nodes (typedef, volatile,
// const, restrict) until a base type is reached.
func (t *Type) Resolve() *Type {
	for t != nil {
		switch t.kind {
		case Typedef, Volatile, Const, Restrict:
			t = t.target
		default:
			return t
		}
	}
	return nil
}

// Size returns the padded and aligned size in bytes required to hold an
// instance of the type. Aliasing kinds forward to their target.
func (t *Type) Size() uint64 {
	switch t.kind {
	case Typedef, Volatile, Const, Restrict:
		if t.target == nil {
			return 0
		}
		return t.target.Size()
	case Integer, Float, Enum:
		return uint64((t.enc.Bits + 7) / 8)
	case Pointer, Function:
		return PointerSize
	case Array:
		if t.arr.Contents == nil {
			return 0
		}
		return t.arr.Contents.Size() * uint64(t.arr.Nelems)
	case Struct, Union:
		if t.align == 0 {
			return t.rawSize
		}
		return roundUp(t.rawSize, t.align)
	}
	return 0
}

// Align returns the natural alignment of the type in bytes.
func (t *Type) Align() uint64 {
	switch t.kind {
	case Typedef, Volatile, Const, Restrict:
		if t.target == nil {
			return 1
		}
		return t.target.Align()
	case Integer, Float, Enum:
		return scalarAlign(uint64((t.enc.Bits + 7) / 8))
	case Pointer, Function:
		return PointerSize
	case Array:
		if t.arr.Contents == nil {
			return 1
		}
		return t.arr.Contents.Align()
	case Struct, Union:
		if t.align == 0 {
			return 1
		}
		return t.align
	}
	return 1
}

func scalarAlign(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	a := uint64(1)
	for a < size && a < 16 {
		a <<= 1
	}
	return a
}

func roundUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// Membinfo locates a struct or union member by name and reports its type and
// offset in bits. Union members all sit at offset zero.
func (t *Type) Membinfo(name string) (Member, bool) {
	r := t.Resolve()
	if r == nil || (r.kind != Struct && r.kind != Union) {
		return Member{}, false
	}
	for _, m := range r.members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Members returns the ordered member list of a struct or union.
func (t *Type) Members() []Member {
	r := t.Resolve()
	if r == nil {
		return nil
	}
	return r.members
}

// Arinfo reports array information for array types.
func (t *Type) Arinfo() (ArrayInfo, bool) {
	r := t.Resolve()
	if r == nil || r.kind != Array {
		return ArrayInfo{}, false
	}
	return r.arr, true
}

// Funcinfo reports function information for function types.
func (t *Type) Funcinfo() (FuncInfo, bool) {
	r := t.Resolve()
	if r == nil || r.kind != Function {
		return FuncInfo{}, false
	}
	return r.fn, true
}

// AddMember appends a member to a struct or union using the natural layout
// rules: the member is placed at the current aggregate size rounded up to the
// member's alignment, and the aggregate alignment is widened to the strictest
// member alignment seen.
func (t *Type) AddMember(name string, member *Type) error {
	if t.kind != Struct && t.kind != Union {
		return fmt.Errorf("cannot add member %q to %s type", name, t.kind)
	}
	if member == nil {
		return fmt.Errorf("member %q has no type", name)
	}
	ma := member.Align()
	msize := member.Size()
	if ma > t.align {
		t.align = ma
	}
	if t.kind == Union {
		t.members = append(t.members, Member{Name: name, Type: member, Offset: 0})
		if msize > t.rawSize {
			t.rawSize = msize
		}
		return nil
	}
	off := roundUp(t.rawSize, ma)
	t.members = append(t.members, Member{Name: name, Type: member, Offset: off * 8})
	t.rawSize = off + msize
	return nil
}

// AddMemberAt appends a member at an explicit bit offset, as recorded by a
// debug-info decoder that already knows the compiler's layout.
func (t *Type) AddMemberAt(name string, member *Type, offsetBits uint64) error {
	if t.kind != Struct && t.kind != Union {
		return fmt.Errorf("cannot add member %q to %s type", name, t.kind)
	}
	if t.kind == Union {
		offsetBits = 0
	}
	t.members = append(t.members, Member{Name: name, Type: member, Offset: offsetBits})
	end := (offsetBits+7)/8 + member.Size()
	if end > t.rawSize {
		t.rawSize = end
	}
	if ma := member.Align(); ma > t.align {
		t.align = ma
	}
	return nil
}

// AddMemberEncoded appends a member at an explicit bit offset and width,
// which is how bit-fields are represented. The aggregate grows to cover the
// storage unit of the field but no natural-alignment placement occurs.
func (t *Type) AddMemberEncoded(name string, member *Type, enc Encoding) error {
	if t.kind != Struct && t.kind != Union {
		return fmt.Errorf("cannot add member %q to %s type", name, t.kind)
	}
	off := uint64(enc.Offset)
	if t.kind == Union {
		off = 0
	}
	t.members = append(t.members, Member{
		Name:     name,
		Type:     member,
		Offset:   off,
		bitfield: true,
		bits:     enc.Bits,
	})
	end := (off + uint64(enc.Bits) + 7) / 8
	if end > t.rawSize {
		t.rawSize = end
	}
	if ma := member.Align(); ma > t.align {
		t.align = ma
	}
	return nil
}

// IsBitfield reports whether the member was placed with an explicit encoding,
// along with its width in bits.
func (m Member) IsBitfield() (uint32, bool) {
	return m.bits, m.bitfield
}

// Collection owns a set of types. All constructors register the new type with
// the collection; handles remain valid until the collection is dropped.
type Collection struct {
	types   []*Type
	byName  map[string]*Type
	byFunc  map[string]*Type
}

// NewCollection creates an empty type collection.
func NewCollection() *Collection {
	return &Collection{
		byName: map[string]*Type{},
		byFunc: map[string]*Type{},
	}
}

func (c *Collection) register(t *Type) *Type {
	c.types = append(c.types, t)
	if t.name != "" {
		if t.kind == Function {
			if _, dup := c.byFunc[t.name]; !dup {
				c.byFunc[t.name] = t
			}
		} else if _, dup := c.byName[t.name]; !dup {
			c.byName[t.name] = t
		}
	}
	return t
}

// FindType looks up a non-function type by name.
func (c *Collection) FindType(name string) *Type { return c.byName[name] }

// FindFunction looks up a function type by name.
func (c *Collection) FindFunction(name string) *Type { return c.byFunc[name] }

// NewInteger creates an integer type with the given encoding.
func (c *Collection) NewInteger(name string, enc Encoding) *Type {
	return c.register(&Type{kind: Integer, name: name, enc: enc})
}

// NewFloat creates a floating point type with the given encoding.
func (c *Collection) NewFloat(name string, enc Encoding) *Type {
	return c.register(&Type{kind: Float, name: name, enc: enc})
}

// NewEnum creates an enumeration type. Enumerations are stored as ints.
func (c *Collection) NewEnum(name string) *Type {
	return c.register(&Type{kind: Enum, name: name, enc: Encoding{Format: IntSigned, Bits: 32}})
}

// NewPointer creates a pointer to target. A nil target denotes void*.
func (c *Collection) NewPointer(target *Type) *Type {
	return c.register(&Type{kind: Pointer, target: target})
}

// NewStruct creates an empty structure type.
func (c *Collection) NewStruct(name string) *Type {
	return c.register(&Type{kind: Struct, name: name})
}

// NewUnion creates an empty union type.
func (c *Collection) NewUnion(name string) *Type {
	return c.register(&Type{kind: Union, name: name})
}

// NewTypedef creates a named alias for target.
func (c *Collection) NewTypedef(name string, target *Type) *Type {
	return c.register(&Type{kind: Typedef, name: name, target: target})
}

// NewConst wraps target in a const qualifier.
func (c *Collection) NewConst(target *Type) *Type {
	return c.register(&Type{kind: Const, target: target})
}

// NewVolatile wraps target in a volatile qualifier.
func (c *Collection) NewVolatile(target *Type) *Type {
	return c.register(&Type{kind: Volatile, target: target})
}

// NewRestrict wraps target in a restrict qualifier.
func (c *Collection) NewRestrict(target *Type) *Type {
	return c.register(&Type{kind: Restrict, target: target})
}

// NewArray creates an array of nelems elements of contents, indexed by idx.
func (c *Collection) NewArray(contents, idx *Type, nelems uint32) *Type {
	return c.register(&Type{kind: Array, arr: ArrayInfo{Contents: contents, Idx: idx, Nelems: nelems}})
}

// SetTarget repoints the referenced type of a pointer or aliasing type.
// Decoders use this to close self-referential graphs: the node is registered
// first, then its target is filled in once converted.
func (c *Collection) SetTarget(t *Type, target *Type) {
	switch t.kind {
	case Pointer, Typedef, Const, Volatile, Restrict:
		t.target = target
	}
}

// NewFunction creates a function type.
func (c *Collection) NewFunction(name string, ret *Type, args []*Type, variadic bool) *Type {
	return c.register(&Type{kind: Function, name: name, fn: FuncInfo{Rettype: ret, Args: args, Variadic: variadic}})
}
