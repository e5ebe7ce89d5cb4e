package values

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Type-directed codec for constants and stored resources. Integers are
// little-endian at their declared width, vectors carry a u32 length prefix,
// struct fields follow declaration order, and enum values carry a u16 variant
// tag before the variant's fields. Signers travel as their address.

const codecMaxDepth = 128

func encErr(format string, args ...any) error {
	return vmerr.Newf(vmerr.StatusValueSerialization, format, args...)
}

func decErr(format string, args ...any) error {
	return vmerr.Newf(vmerr.StatusValueDeserialization, format, args...)
}

// Serialize encodes a value against its declared type. A value that does not
// match the type means VM state is corrupt, so the failure is an invariant
// violation.
func Serialize(v Value, t *bytecode.Type) ([]byte, error) {
	buf, err := encodeValue(nil, &v, t, 0)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeValue(buf []byte, v *Value, t *bytecode.Type, depth int) ([]byte, error) {
	if depth > codecMaxDepth {
		return nil, encErr("value deeper than %d", codecMaxDepth)
	}
	switch t.Kind {
	case bytecode.TypeBool:
		if v.kind != KindBool {
			return nil, encErr("have %s, want bool", v.kind)
		}
		if v.b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case bytecode.TypeU8:
		if v.kind != KindU8 {
			return nil, encErr("have %s, want u8", v.kind)
		}
		return append(buf, uint8(v.n)), nil
	case bytecode.TypeU16:
		if v.kind != KindU16 {
			return nil, encErr("have %s, want u16", v.kind)
		}
		return binary.LittleEndian.AppendUint16(buf, uint16(v.n)), nil
	case bytecode.TypeU32:
		if v.kind != KindU32 {
			return nil, encErr("have %s, want u32", v.kind)
		}
		return binary.LittleEndian.AppendUint32(buf, uint32(v.n)), nil
	case bytecode.TypeU64:
		if v.kind != KindU64 {
			return nil, encErr("have %s, want u64", v.kind)
		}
		return binary.LittleEndian.AppendUint64(buf, v.n), nil
	case bytecode.TypeU128:
		if v.kind != KindU128 {
			return nil, encErr("have %s, want u128", v.kind)
		}
		return appendWide(buf, v.wide, 16), nil
	case bytecode.TypeU256:
		if v.kind != KindU256 {
			return nil, encErr("have %s, want u256", v.kind)
		}
		return appendWide(buf, v.wide, 32), nil
	case bytecode.TypeAddress:
		if v.kind != KindAddress {
			return nil, encErr("have %s, want address", v.kind)
		}
		return append(buf, v.addr[:]...), nil
	case bytecode.TypeSigner:
		if v.kind != KindStruct || len(v.elems) != 1 || v.elems[0].kind != KindAddress {
			return nil, encErr("have %s, want signer", v.kind)
		}
		return append(buf, v.elems[0].addr[:]...), nil
	case bytecode.TypeVector:
		if v.kind != KindVector {
			return nil, encErr("have %s, want vector", v.kind)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.elems)))
		var err error
		for _, cell := range v.elems {
			buf, err = encodeValue(buf, cell, t.Elem, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case bytecode.TypeDatatype, bytecode.TypeDatatypeInst:
		return encodeDatatype(buf, v, t, depth)
	default:
		return nil, encErr("type %s is not serializable", t)
	}
}

func encodeDatatype(buf []byte, v *Value, t *bytecode.Type, depth int) ([]byte, error) {
	def := t.Def
	if def.IsEnum() {
		if v.kind != KindVariant {
			return nil, encErr("have %s, want %s", v.kind, def.QualifiedName())
		}
		if int(v.tag) >= len(def.Variants) {
			return nil, encErr("variant tag %d out of range for %s", v.tag, def.QualifiedName())
		}
		buf = binary.LittleEndian.AppendUint16(buf, v.tag)
		return encodeFields(buf, v, def.Variants[v.tag].Fields, t, depth)
	}
	if v.kind != KindStruct {
		return nil, encErr("have %s, want %s", v.kind, def.QualifiedName())
	}
	return encodeFields(buf, v, def.Fields, t, depth)
}

func encodeFields(buf []byte, v *Value, fields []bytecode.Field, t *bytecode.Type, depth int) ([]byte, error) {
	if len(v.elems) != len(fields) {
		return nil, encErr("%s has %d fields, value has %d",
			t.Def.QualifiedName(), len(fields), len(v.elems))
	}
	var err error
	for i, f := range fields {
		ft := f.Type
		if t.Kind == bytecode.TypeDatatypeInst {
			ft, err = ft.Subst(t.TypeArgs)
			if err != nil {
				return nil, err
			}
		}
		buf, err = encodeValue(buf, v.elems[i], ft, depth+1)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendWide(buf []byte, w *uint256.Int, size int) []byte {
	var raw [32]byte
	w.WriteToArray32(&raw)
	// WriteToArray32 is big-endian; flip to little-endian and truncate.
	for i := 0; i < size; i++ {
		buf = append(buf, raw[31-i])
	}
	return buf
}

// Deserialize decodes a value against its declared type. All input bytes must
// be consumed.
func Deserialize(data []byte, t *bytecode.Type) (Value, error) {
	r := &reader{data: data}
	v, err := decodeValue(r, t, 0)
	if err != nil {
		return Value{}, err
	}
	if r.off != len(data) {
		return Value{}, decErr("%d trailing bytes", len(data)-r.off)
	}
	return v, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, decErr("unexpected end of input at offset %d", r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func decodeValue(r *reader, t *bytecode.Type, depth int) (Value, error) {
	if depth > codecMaxDepth {
		return Value{}, decErr("value deeper than %d", codecMaxDepth)
	}
	switch t.Kind {
	case bytecode.TypeBool:
		b, err := r.take(1)
		if err != nil {
			return Value{}, err
		}
		switch b[0] {
		case 0:
			return NewBool(false), nil
		case 1:
			return NewBool(true), nil
		default:
			return Value{}, decErr("invalid bool byte 0x%02x", b[0])
		}
	case bytecode.TypeU8:
		b, err := r.take(1)
		if err != nil {
			return Value{}, err
		}
		return NewU8(b[0]), nil
	case bytecode.TypeU16:
		b, err := r.take(2)
		if err != nil {
			return Value{}, err
		}
		return NewU16(binary.LittleEndian.Uint16(b)), nil
	case bytecode.TypeU32:
		b, err := r.take(4)
		if err != nil {
			return Value{}, err
		}
		return NewU32(binary.LittleEndian.Uint32(b)), nil
	case bytecode.TypeU64:
		b, err := r.take(8)
		if err != nil {
			return Value{}, err
		}
		return NewU64(binary.LittleEndian.Uint64(b)), nil
	case bytecode.TypeU128:
		w, err := takeWide(r, 16)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindU128, wide: w}, nil
	case bytecode.TypeU256:
		w, err := takeWide(r, 32)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindU256, wide: w}, nil
	case bytecode.TypeAddress:
		b, err := r.take(types.AddressSize)
		if err != nil {
			return Value{}, err
		}
		var a types.Address
		copy(a[:], b)
		return NewAddress(a), nil
	case bytecode.TypeSigner:
		b, err := r.take(types.AddressSize)
		if err != nil {
			return Value{}, err
		}
		var a types.Address
		copy(a[:], b)
		return NewSigner(a), nil
	case bytecode.TypeVector:
		b, err := r.take(4)
		if err != nil {
			return Value{}, err
		}
		n := int(binary.LittleEndian.Uint32(b))
		// Cap the preallocation: a corrupt length cannot force a huge alloc
		// because every element consumes at least one byte.
		hint := n
		if hint > r.remaining() {
			hint = r.remaining()
		}
		elems := make([]*Value, 0, hint)
		for i := 0; i < n; i++ {
			ev, err := decodeValue(r, t.Elem, depth+1)
			if err != nil {
				return Value{}, err
			}
			cell := new(Value)
			*cell = ev
			elems = append(elems, cell)
		}
		return Value{kind: KindVector, elems: elems}, nil
	case bytecode.TypeDatatype, bytecode.TypeDatatypeInst:
		return decodeDatatype(r, t, depth)
	default:
		return Value{}, decErr("type %s is not serializable", t)
	}
}

func decodeDatatype(r *reader, t *bytecode.Type, depth int) (Value, error) {
	def := t.Def
	if def.IsEnum() {
		b, err := r.take(2)
		if err != nil {
			return Value{}, err
		}
		tag := binary.LittleEndian.Uint16(b)
		if int(tag) >= len(def.Variants) {
			return Value{}, decErr("variant tag %d out of range for %s", tag, def.QualifiedName())
		}
		elems, err := decodeFields(r, def.Variants[tag].Fields, t, depth)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindVariant, tag: tag, elems: elems}, nil
	}
	elems, err := decodeFields(r, def.Fields, t, depth)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: KindStruct, elems: elems}, nil
}

func decodeFields(r *reader, fields []bytecode.Field, t *bytecode.Type, depth int) ([]*Value, error) {
	elems := make([]*Value, 0, len(fields))
	for _, f := range fields {
		ft := f.Type
		if t.Kind == bytecode.TypeDatatypeInst {
			var err error
			ft, err = ft.Subst(t.TypeArgs)
			if err != nil {
				return nil, err
			}
		}
		fv, err := decodeValue(r, ft, depth+1)
		if err != nil {
			return nil, err
		}
		cell := new(Value)
		*cell = fv
		elems = append(elems, cell)
	}
	return elems, nil
}

func takeWide(r *reader, size int) (*uint256.Int, error) {
	b, err := r.take(size)
	if err != nil {
		return nil, err
	}
	var be [32]byte
	for i := 0; i < size; i++ {
		be[31-i] = b[i]
	}
	return new(uint256.Int).SetBytes(be[:]), nil
}
