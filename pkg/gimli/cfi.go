package gimli

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// This file evaluates call-frame information (.debug_frame / .eh_frame
// unwind tables) to a register-rule row for a given PC. The byte-level
// details follow the DWARF CFI encoding; expressions are not evaluated. A CFA
// expression fails the whole row, and a register expression leaves that
// register's rule undefined. A failed row, or an undefined return-address
// rule, drops the unwinder into its frame-pointer fallback; other registers
// with an undefined rule keep their current value.

const (
	ruleUnset = iota
	ruleUndefined
	ruleSame
	ruleOffset
	ruleRegister
)

type cfiRule struct {
	kind int
	off  int64
	reg  int
}

// cfiRow is the unwind row in effect at one PC: how to compute the caller's
// CFA and where each callee-saved register was stored.
type cfiRow struct {
	cfaReg int
	cfaOff int64
	cfaSet bool
	regs   map[int]cfiRule
	raCol  int
}

type cfiCIE struct {
	codeAlign uint64
	dataAlign int64
	raCol     int
	initial   []byte
	fdeEnc    byte
	hasAug    bool
}

type cfiFDE struct {
	lo, hi uint64
	cie    *cfiCIE
	instr  []byte
}

// cfiTable holds the parsed FDEs of one object, addressed in link-time
// terms; callers relocate the query PC by the object's base address.
type cfiTable struct {
	fdes []cfiFDE
}

// DW_EH_PE pointer encodings.
const (
	pePtr     = 0x00
	peULEB    = 0x01
	peUdata2  = 0x02
	peUdata4  = 0x03
	peUdata8  = 0x04
	peSLEB    = 0x09
	peSdata2  = 0x0a
	peSdata4  = 0x0b
	peSdata8  = 0x0c
	pePCRel   = 0x10
	peDataRel = 0x30
	peOmit    = 0xff
)

type cfiReader struct {
	data []byte
	pos  int
	// sectionAddr is the link-time address of the section, needed by
	// pc-relative pointer encodings in .eh_frame.
	sectionAddr uint64
}

var errCFI = errors.New("malformed call frame information")

func (r *cfiReader) remaining() int { return len(r.data) - r.pos }

func (r *cfiReader) u8() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errCFI
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *cfiReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errCFI
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *cfiReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *cfiReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *cfiReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *cfiReader) uleb() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, errCFI
		}
	}
}

func (r *cfiReader) sleb() (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= 64 {
			return 0, errCFI
		}
	}
}

// encodedPtr decodes a pointer with a DW_EH_PE encoding.
func (r *cfiReader) encodedPtr(enc byte) (uint64, error) {
	if enc == peOmit {
		return 0, nil
	}
	fieldAddr := r.sectionAddr + uint64(r.pos)

	var val uint64
	var err error
	switch enc & 0x0f {
	case pePtr, peUdata8:
		val, err = r.u64()
	case peULEB:
		val, err = r.uleb()
	case peUdata2:
		var v uint16
		v, err = r.u16()
		val = uint64(v)
	case peUdata4:
		var v uint32
		v, err = r.u32()
		val = uint64(v)
	case peSLEB:
		var v int64
		v, err = r.sleb()
		val = uint64(v)
	case peSdata2:
		var v uint16
		v, err = r.u16()
		val = uint64(int64(int16(v)))
	case peSdata4:
		var v uint32
		v, err = r.u32()
		val = uint64(int64(int32(v)))
	case peSdata8:
		val, err = r.u64()
	default:
		return 0, fmt.Errorf("unsupported pointer encoding 0x%x", enc)
	}
	if err != nil {
		return 0, err
	}

	switch enc & 0x70 {
	case 0x00:
	case pePCRel:
		val += fieldAddr
	case peDataRel:
		val += r.sectionAddr
	default:
		return 0, fmt.Errorf("unsupported pointer application 0x%x", enc)
	}
	if enc&0x80 != 0 {
		return 0, errors.New("indirect pointer encoding not supported")
	}
	return val, nil
}

// parseCFI parses a .debug_frame or .eh_frame section into a table of FDEs
// sorted by initial location.
func parseCFI(data []byte, sectionAddr uint64, isEH bool) (*cfiTable, error) {
	r := &cfiReader{data: data, sectionAddr: sectionAddr}
	cies := map[int]*cfiCIE{}
	table := &cfiTable{}

	for r.remaining() > 4 {
		start := r.pos
		length, err := r.u32()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			// eh_frame terminator
			break
		}
		is64 := false
		entryLen := uint64(length)
		if length == 0xffffffff {
			is64 = true
			if entryLen, err = r.u64(); err != nil {
				return nil, err
			}
		}
		bodyStart := r.pos
		end := bodyStart + int(entryLen)
		if end > len(r.data) || end < bodyStart {
			return nil, errCFI
		}

		var id uint64
		if is64 {
			id, err = r.u64()
		} else {
			var v uint32
			v, err = r.u32()
			id = uint64(v)
		}
		if err != nil {
			return nil, err
		}

		isCIE := id == 0xffffffff
		if isEH {
			isCIE = id == 0
		}

		if isCIE {
			cie, err := parseCIE(r, end, isEH)
			if err != nil {
				return nil, err
			}
			cies[start] = cie
		} else {
			var cie *cfiCIE
			if isEH {
				// id is a back-reference from the id field itself
				ciePos := bodyStart - int(id)
				cie = cies[ciePos]
			} else {
				cie = cies[int(id)]
			}
			if cie == nil {
				return nil, errCFI
			}
			fde, err := parseFDE(r, end, cie)
			if err != nil {
				return nil, err
			}
			table.fdes = append(table.fdes, fde)
		}
		r.pos = end
	}

	sort.Slice(table.fdes, func(i, j int) bool {
		return table.fdes[i].lo < table.fdes[j].lo
	})
	return table, nil
}

func parseCIE(r *cfiReader, end int, isEH bool) (*cfiCIE, error) {
	cie := &cfiCIE{fdeEnc: pePtr}

	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version != 1 && version != 3 && version != 4 {
		return nil, fmt.Errorf("unsupported CIE version %d", version)
	}

	var aug []byte
	for {
		b, err := r.u8()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			break
		}
		aug = append(aug, b)
	}

	if version == 4 {
		// address size and segment selector size
		if _, err := r.bytes(2); err != nil {
			return nil, err
		}
	}

	if cie.codeAlign, err = r.uleb(); err != nil {
		return nil, err
	}
	if cie.dataAlign, err = r.sleb(); err != nil {
		return nil, err
	}
	if version == 1 {
		b, err := r.u8()
		if err != nil {
			return nil, err
		}
		cie.raCol = int(b)
	} else {
		ra, err := r.uleb()
		if err != nil {
			return nil, err
		}
		cie.raCol = int(ra)
	}

	if len(aug) > 0 && aug[0] == 'z' {
		cie.hasAug = true
		augLen, err := r.uleb()
		if err != nil {
			return nil, err
		}
		augEnd := r.pos + int(augLen)
		for _, a := range aug[1:] {
			switch a {
			case 'R':
				if cie.fdeEnc, err = r.u8(); err != nil {
					return nil, err
				}
			case 'P':
				penc, err := r.u8()
				if err != nil {
					return nil, err
				}
				if _, err := r.encodedPtr(penc); err != nil {
					return nil, err
				}
			case 'L':
				if _, err := r.u8(); err != nil {
					return nil, err
				}
			case 'S':
				// signal frame marker; no payload
			}
		}
		if augEnd > len(r.data) || r.pos > augEnd {
			return nil, errCFI
		}
		r.pos = augEnd
	} else if len(aug) > 0 && !isEH {
		return nil, fmt.Errorf("unsupported CIE augmentation %q", string(aug))
	}

	init, err := r.bytes(end - r.pos)
	if err != nil {
		return nil, err
	}
	cie.initial = init
	return cie, nil
}

func parseFDE(r *cfiReader, end int, cie *cfiCIE) (cfiFDE, error) {
	fde := cfiFDE{cie: cie}

	lo, err := r.encodedPtr(cie.fdeEnc)
	if err != nil {
		return fde, err
	}
	// the range uses only the size portion of the encoding
	rng, err := r.encodedPtr(cie.fdeEnc & 0x0f)
	if err != nil {
		return fde, err
	}
	fde.lo = lo
	fde.hi = lo + rng

	if cie.hasAug {
		augLen, err := r.uleb()
		if err != nil {
			return fde, err
		}
		if _, err := r.bytes(int(augLen)); err != nil {
			return fde, err
		}
	}

	instr, err := r.bytes(end - r.pos)
	if err != nil {
		return fde, err
	}
	fde.instr = instr
	return fde, nil
}

// rowFor evaluates the unwind row in effect at pc (link-time address).
func (t *cfiTable) rowFor(pc uint64) (*cfiRow, bool) {
	if t == nil || len(t.fdes) == 0 {
		return nil, false
	}
	i := sort.Search(len(t.fdes), func(i int) bool {
		return t.fdes[i].hi > pc
	})
	if i >= len(t.fdes) || pc < t.fdes[i].lo {
		return nil, false
	}
	fde := &t.fdes[i]

	row := &cfiRow{regs: map[int]cfiRule{}, raCol: fde.cie.raCol}
	if err := row.run(fde.cie.initial, fde, pc, nil); err != nil {
		return nil, false
	}
	initial := row.snapshot()
	if err := row.run(fde.instr, fde, pc, initial); err != nil {
		return nil, false
	}
	if !row.cfaSet {
		return nil, false
	}
	return row, true
}

func (row *cfiRow) snapshot() map[int]cfiRule {
	snap := make(map[int]cfiRule, len(row.regs))
	for k, v := range row.regs {
		snap[k] = v
	}
	return snap
}

// run interprets CFI instructions until the virtual location passes pc.
func (row *cfiRow) run(instr []byte, fde *cfiFDE, pc uint64, initial map[int]cfiRule) error {
	r := &cfiReader{data: instr}
	loc := fde.lo
	type state struct {
		regs   map[int]cfiRule
		cfaReg int
		cfaOff int64
		cfaSet bool
	}
	var stack []state

	advance := func(delta uint64) bool {
		loc += delta * fde.cie.codeAlign
		return loc > pc
	}

	for r.remaining() > 0 {
		op, err := r.u8()
		if err != nil {
			return err
		}

		switch {
		case op&0xc0 == 0x40: // DW_CFA_advance_loc
			if advance(uint64(op & 0x3f)) {
				return nil
			}
			continue
		case op&0xc0 == 0x80: // DW_CFA_offset
			off, err := r.uleb()
			if err != nil {
				return err
			}
			row.regs[int(op&0x3f)] = cfiRule{kind: ruleOffset, off: int64(off) * fde.cie.dataAlign}
			continue
		case op&0xc0 == 0xc0: // DW_CFA_restore
			col := int(op & 0x3f)
			if initial != nil {
				if rule, ok := initial[col]; ok {
					row.regs[col] = rule
				} else {
					delete(row.regs, col)
				}
			}
			continue
		}

		switch op {
		case 0x00: // DW_CFA_nop
		case 0x01: // DW_CFA_set_loc
			next, err := r.encodedPtr(fde.cie.fdeEnc)
			if err != nil {
				return err
			}
			loc = next
			if loc > pc {
				return nil
			}
		case 0x02: // DW_CFA_advance_loc1
			d, err := r.u8()
			if err != nil {
				return err
			}
			if advance(uint64(d)) {
				return nil
			}
		case 0x03: // DW_CFA_advance_loc2
			d, err := r.u16()
			if err != nil {
				return err
			}
			if advance(uint64(d)) {
				return nil
			}
		case 0x04: // DW_CFA_advance_loc4
			d, err := r.u32()
			if err != nil {
				return err
			}
			if advance(uint64(d)) {
				return nil
			}
		case 0x05: // DW_CFA_offset_extended
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleOffset, off: int64(off) * fde.cie.dataAlign}
		case 0x06: // DW_CFA_restore_extended
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if initial != nil {
				if rule, ok := initial[int(reg)]; ok {
					row.regs[int(reg)] = rule
				} else {
					delete(row.regs, int(reg))
				}
			}
		case 0x07: // DW_CFA_undefined
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleUndefined}
		case 0x08: // DW_CFA_same_value
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleSame}
		case 0x09: // DW_CFA_register
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			src, err := r.uleb()
			if err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleRegister, reg: int(src)}
		case 0x0a: // DW_CFA_remember_state
			stack = append(stack, state{
				regs:   row.snapshot(),
				cfaReg: row.cfaReg,
				cfaOff: row.cfaOff,
				cfaSet: row.cfaSet,
			})
		case 0x0b: // DW_CFA_restore_state
			if len(stack) == 0 {
				return errCFI
			}
			s := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			row.regs = s.regs
			row.cfaReg, row.cfaOff, row.cfaSet = s.cfaReg, s.cfaOff, s.cfaSet
		case 0x0c: // DW_CFA_def_cfa
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			row.cfaReg, row.cfaOff, row.cfaSet = int(reg), int64(off), true
		case 0x0d: // DW_CFA_def_cfa_register
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			row.cfaReg = int(reg)
			row.cfaSet = true
		case 0x0e: // DW_CFA_def_cfa_offset
			off, err := r.uleb()
			if err != nil {
				return err
			}
			row.cfaOff = int64(off)
		case 0x0f: // DW_CFA_def_cfa_expression
			return errors.New("cfa expressions not supported")
		case 0x10, 0x16: // DW_CFA_expression, DW_CFA_val_expression
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			n, err := r.uleb()
			if err != nil {
				return err
			}
			if _, err := r.bytes(int(n)); err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleUndefined}
		case 0x11: // DW_CFA_offset_extended_sf
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			row.regs[int(reg)] = cfiRule{kind: ruleOffset, off: off * fde.cie.dataAlign}
		case 0x12: // DW_CFA_def_cfa_sf
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			row.cfaReg, row.cfaOff, row.cfaSet = int(reg), off*fde.cie.dataAlign, true
		case 0x13: // DW_CFA_def_cfa_offset_sf
			off, err := r.sleb()
			if err != nil {
				return err
			}
			row.cfaOff = off * fde.cie.dataAlign
		case 0x2e: // DW_CFA_GNU_args_size
			if _, err := r.uleb(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported CFI opcode 0x%x", op)
		}
	}
	return nil
}
