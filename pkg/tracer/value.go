package tracer

import (
	"fmt"
	"math"
	"strings"

	"github.com/mgutz/str"
	"github.com/wez/gimli/pkg/gimli"
	"github.com/wez/gimli/pkg/gimli/types"
)

// memReader is the slice of the process handle the value printer needs.
type memReader interface {
	ReadMem(addr gimli.Addr, dest []byte) int
	ReadString(addr gimli.Addr) string
}

// maxRenderDepth caps how deep nested aggregates are expanded.
const maxRenderDepth = 3

// maxArrayElems caps how many array elements are rendered.
const maxArrayElems = 8

// renderValue pretty-prints the value at addr according to its debug type.
// Unreadable memory renders as <unreadable>; a missing type as
// <optimized out>.
func renderValue(mem memReader, t *types.Type, addr gimli.Addr, maxString int) string {
	return renderValueDepth(mem, t, addr, maxString, 0)
}

func renderValueDepth(mem memReader, t *types.Type, addr gimli.Addr, maxString int, depth int) string {
	if t == nil {
		return "<optimized out>"
	}
	r := t.Resolve()
	if r == nil {
		return "<optimized out>"
	}

	switch r.Kind() {
	case types.Integer, types.Enum:
		return renderInteger(mem, r, addr)

	case types.Float:
		return renderFloat(mem, r, addr)

	case types.Pointer:
		return renderPointer(mem, r, addr, maxString)

	case types.Function:
		return fmt.Sprintf("0x%x", uint64(addr))

	case types.Array:
		return renderArray(mem, r, addr, maxString, depth)

	case types.Struct, types.Union:
		return renderAggregate(mem, r, addr, maxString, depth)
	}
	return "<optimized out>"
}

func readUint(mem memReader, addr gimli.Addr, size uint64) (uint64, bool) {
	if size == 0 || size > 8 {
		return 0, false
	}
	buf := make([]byte, size)
	if mem.ReadMem(addr, buf) != len(buf) {
		return 0, false
	}
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, true
}

func signExtend(v uint64, bits uint32) int64 {
	if bits == 0 || bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func renderInteger(mem memReader, t *types.Type, addr gimli.Addr) string {
	enc := t.Encoding()
	v, ok := readUint(mem, addr, t.Size())
	if !ok {
		return "<unreadable>"
	}
	return formatInteger(v, enc)
}

func formatInteger(v uint64, enc types.Encoding) string {
	switch {
	case enc.Format&types.IntBool != 0:
		if v != 0 {
			return "true"
		}
		return "false"
	case enc.Format&types.IntChar != 0:
		c := byte(v)
		if c >= 0x20 && c < 0x7f {
			return fmt.Sprintf("%d '%c'", signExtend(v, enc.Bits), c)
		}
		return fmt.Sprintf("%d", signExtend(v, enc.Bits))
	case enc.Format&types.IntSigned != 0:
		return fmt.Sprintf("%d", signExtend(v, enc.Bits))
	default:
		return fmt.Sprintf("%d", v)
	}
}

func renderFloat(mem memReader, t *types.Type, addr gimli.Addr) string {
	v, ok := readUint(mem, addr, t.Size())
	if !ok {
		return "<unreadable>"
	}
	switch t.Size() {
	case 4:
		return fmt.Sprintf("%g", math.Float32frombits(uint32(v)))
	case 8:
		return fmt.Sprintf("%g", math.Float64frombits(v))
	}
	return "<unreadable>"
}

func renderPointer(mem memReader, t *types.Type, addr gimli.Addr, maxString int) string {
	ptr, ok := readUint(mem, addr, types.PointerSize)
	if !ok {
		return "<unreadable>"
	}
	if ptr == 0 {
		return "(nil)"
	}
	if target := t.Target(); target != nil {
		if r := target.Resolve(); r != nil && r.Kind() == types.Integer &&
			r.Encoding().Format&types.IntChar != 0 {
			s := mem.ReadString(gimli.Addr(ptr))
			return fmt.Sprintf("0x%x %q", ptr, str.Clean(stringClip(s, maxString)))
		}
	}
	return fmt.Sprintf("0x%x", ptr)
}

func stringClip(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func renderArray(mem memReader, t *types.Type, addr gimli.Addr, maxString int, depth int) string {
	info, ok := t.Arinfo()
	if !ok || info.Contents == nil {
		return "<optimized out>"
	}

	// character arrays read as strings
	if r := info.Contents.Resolve(); r != nil && r.Kind() == types.Integer &&
		r.Encoding().Format&types.IntChar != 0 {
		buf := make([]byte, info.Nelems)
		n := mem.ReadMem(addr, buf)
		if n == 0 {
			return "<unreadable>"
		}
		s := string(buf[:n])
		if nul := strings.IndexByte(s, 0); nul >= 0 {
			s = s[:nul]
		}
		return fmt.Sprintf("%q", stringClip(s, maxString))
	}

	if depth >= maxRenderDepth {
		return "[...]"
	}

	elemSize := info.Contents.Size()
	var parts []string
	n := info.Nelems
	truncated := false
	if n > maxArrayElems {
		n = maxArrayElems
		truncated = true
	}
	for i := uint32(0); i < n; i++ {
		parts = append(parts, renderValueDepth(mem, info.Contents,
			addr+gimli.Addr(uint64(i)*elemSize), maxString, depth+1))
	}
	if truncated {
		parts = append(parts, "...")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderAggregate(mem memReader, t *types.Type, addr gimli.Addr, maxString int, depth int) string {
	if depth >= maxRenderDepth {
		return "{...}"
	}
	var parts []string
	for _, m := range t.Members() {
		var rendered string
		if bits, isBitfield := m.IsBitfield(); isBitfield {
			rendered = renderBitfield(mem, m, addr, bits)
		} else {
			rendered = renderValueDepth(mem, m.Type, addr+gimli.Addr(m.Offset/8), maxString, depth+1)
		}
		parts = append(parts, fmt.Sprintf("%s = %s", m.Name, rendered))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// renderBitfield extracts a bit-field from its storage unit. Offsets follow
// the little-endian data-bit-offset convention.
func renderBitfield(mem memReader, m types.Member, base gimli.Addr, bits uint32) string {
	byteOff := m.Offset / 8
	bitOff := uint32(m.Offset % 8)
	span := (uint64(bitOff) + uint64(bits) + 7) / 8
	if span > 8 {
		return "<unreadable>"
	}

	v, ok := readUint(mem, base+gimli.Addr(byteOff), span)
	if !ok {
		return "<unreadable>"
	}
	v >>= bitOff
	if bits < 64 {
		v &= (1 << bits) - 1
	}

	enc := m.Type.Encoding()
	enc.Bits = bits
	return formatInteger(v, enc)
}

// indent produces the leading whitespace for nested trace lines.
func indent(depth int) string {
	return str.PadLeft("", " ", depth*4)
}
