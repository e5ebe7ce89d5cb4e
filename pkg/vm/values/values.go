// Package values implements the Ember VM's runtime values: primitives,
// structs, enum variants, vectors, references, function locals, and global
// storage slots, plus the serialization used for constants and resources.
//
// Values in locals, struct fields, and vector elements live in heap cells
// (*Value) so references alias correctly: a reference is a pointer to the
// cell it was borrowed from. Copying is deep and allocates fresh cells;
// moving transfers the cell's content and leaves the invalid value behind.
// The borrow discipline itself is the verifier's job and is not re-checked
// here; the checks that remain guard against toolchain bugs and report
// invariant violations.
package values

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Kind discriminates runtime values. The zero value of Value is KindInvalid,
// which is what a moved-out local slot holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindAddress
	KindStruct
	KindVariant
	KindVector
	KindRef
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindBool:
		return "bool"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindU128:
		return "u128"
	case KindU256:
		return "u256"
	case KindAddress:
		return "address"
	case KindStruct:
		return "struct"
	case KindVariant:
		return "variant"
	case KindVector:
		return "vector"
	case KindRef:
		return "reference"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one runtime value. Containers hold their children in cells so
// borrowed references stay valid across mutation.
type Value struct {
	kind  Kind
	b     bool
	n     uint64
	wide  *uint256.Int
	addr  types.Address
	elems []*Value
	tag   uint16
	ref   refImpl
}

type refImpl struct {
	cell *Value
	mut  bool
}

// Invalid returns the invalid value.
func Invalid() Value {
	return Value{}
}

// NewBool returns a bool value.
func NewBool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// NewU8 returns a u8 value.
func NewU8(v uint8) Value {
	return Value{kind: KindU8, n: uint64(v)}
}

// NewU16 returns a u16 value.
func NewU16(v uint16) Value {
	return Value{kind: KindU16, n: uint64(v)}
}

// NewU32 returns a u32 value.
func NewU32(v uint32) Value {
	return Value{kind: KindU32, n: uint64(v)}
}

// NewU64 returns a u64 value.
func NewU64(v uint64) Value {
	return Value{kind: KindU64, n: v}
}

// NewU128 returns a u128 value. The input is copied. Inputs wider than 128
// bits are an invariant violation.
func NewU128(v *uint256.Int) (Value, error) {
	if v.BitLen() > 128 {
		return Value{}, vmerr.Newf(vmerr.StatusTypeMismatch, "u128 literal wider than 128 bits")
	}
	return Value{kind: KindU128, wide: new(uint256.Int).Set(v)}, nil
}

// U128FromUint64 returns a u128 value from a small literal.
func U128FromUint64(v uint64) Value {
	return Value{kind: KindU128, wide: uint256.NewInt(v)}
}

// NewU256 returns a u256 value. The input is copied.
func NewU256(v *uint256.Int) Value {
	return Value{kind: KindU256, wide: new(uint256.Int).Set(v)}
}

// U256FromUint64 returns a u256 value from a small literal.
func U256FromUint64(v uint64) Value {
	return Value{kind: KindU256, wide: uint256.NewInt(v)}
}

// NewAddress returns an address value.
func NewAddress(a types.Address) Value {
	return Value{kind: KindAddress, addr: a}
}

// NewStruct returns a struct with the given fields, each moved into a fresh
// cell.
func NewStruct(fields []Value) Value {
	return Value{kind: KindStruct, elems: toCells(fields)}
}

// NewSigner returns the signer for an address: a one-field struct holding it.
func NewSigner(a types.Address) Value {
	return NewStruct([]Value{NewAddress(a)})
}

// NewVariant returns an enum variant with the given tag and fields.
func NewVariant(tag uint16, fields []Value) Value {
	return Value{kind: KindVariant, tag: tag, elems: toCells(fields)}
}

// NewVector builds a vector from elems, checking each element against the
// declared element type. A mismatch is an invariant violation.
func NewVector(elemTy *bytecode.Type, elems []Value) (Value, error) {
	for i := range elems {
		if err := checkElemKind(elemTy, &elems[i]); err != nil {
			return Value{}, err
		}
	}
	return Value{kind: KindVector, elems: toCells(elems)}, nil
}

func toCells(vals []Value) []*Value {
	cells := make([]*Value, len(vals))
	for i := range vals {
		v := vals[i]
		cells[i] = &v
	}
	return cells
}

func checkElemKind(ty *bytecode.Type, v *Value) error {
	want := KindInvalid
	switch ty.Kind {
	case bytecode.TypeBool:
		want = KindBool
	case bytecode.TypeU8:
		want = KindU8
	case bytecode.TypeU16:
		want = KindU16
	case bytecode.TypeU32:
		want = KindU32
	case bytecode.TypeU64:
		want = KindU64
	case bytecode.TypeU128:
		want = KindU128
	case bytecode.TypeU256:
		want = KindU256
	case bytecode.TypeAddress:
		want = KindAddress
	case bytecode.TypeSigner:
		want = KindStruct
	case bytecode.TypeVector:
		want = KindVector
	case bytecode.TypeDatatype, bytecode.TypeDatatypeInst:
		if ty.Def != nil && ty.Def.IsEnum() {
			want = KindVariant
		} else {
			want = KindStruct
		}
	default:
		return vmerr.Newf(vmerr.StatusUnresolvedTypeParameter,
			"vector element type %s is not runtime-concrete", ty)
	}
	if v.kind != want {
		return vmerr.Newf(vmerr.StatusTypeMismatch,
			"vector element is %s, element type wants %s", v.kind, want)
	}
	return nil
}

// Kind returns the value's kind.
func (v *Value) Kind() Kind {
	return v.kind
}

// IsInvalid reports whether the value is the invalid marker.
func (v *Value) IsInvalid() bool {
	return v.kind == KindInvalid
}

// AsBool returns the bool payload.
func (v *Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, typeMismatch(KindBool, v.kind)
	}
	return v.b, nil
}

// AsU8 returns the u8 payload. Shift amounts arrive this way.
func (v *Value) AsU8() (uint8, error) {
	if v.kind != KindU8 {
		return 0, typeMismatch(KindU8, v.kind)
	}
	return uint8(v.n), nil
}

// AsU64 returns the u64 payload.
func (v *Value) AsU64() (uint64, error) {
	if v.kind != KindU64 {
		return 0, typeMismatch(KindU64, v.kind)
	}
	return v.n, nil
}

// AsAddress returns the address payload.
func (v *Value) AsAddress() (types.Address, error) {
	if v.kind != KindAddress {
		return types.Address{}, typeMismatch(KindAddress, v.kind)
	}
	return v.addr, nil
}

// AsU128 returns a copy of the u128 payload.
func (v *Value) AsU128() (*uint256.Int, error) {
	if v.kind != KindU128 {
		return nil, typeMismatch(KindU128, v.kind)
	}
	return new(uint256.Int).Set(v.wide), nil
}

// AsU256 returns a copy of the u256 payload.
func (v *Value) AsU256() (*uint256.Int, error) {
	if v.kind != KindU256 {
		return nil, typeMismatch(KindU256, v.kind)
	}
	return new(uint256.Int).Set(v.wide), nil
}

func typeMismatch(want, got Kind) error {
	return vmerr.Newf(vmerr.StatusTypeMismatch, "expected %s, found %s", want, got)
}

// Copy returns a deep copy. Container children land in fresh cells;
// references copy shallowly (same target). Copying the invalid value is an
// invariant violation.
func (v *Value) Copy() (Value, error) {
	switch v.kind {
	case KindInvalid:
		return Value{}, vmerr.Newf(vmerr.StatusInvalidLocal, "copy of invalid value")
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindAddress, KindRef:
		return *v, nil
	case KindU128, KindU256:
		return Value{kind: v.kind, wide: new(uint256.Int).Set(v.wide)}, nil
	case KindStruct, KindVariant, KindVector:
		elems := make([]*Value, len(v.elems))
		for i, cell := range v.elems {
			c, err := cell.Copy()
			if err != nil {
				return Value{}, err
			}
			elems[i] = &c
		}
		return Value{kind: v.kind, tag: v.tag, elems: elems}, nil
	default:
		return Value{}, vmerr.Newf(vmerr.StatusUnknownInvariantViolation, "copy of %s", v.kind)
	}
}

// Equals compares two values structurally. References compare their
// referents. Comparing values of different shapes is an invariant violation.
func (v *Value) Equals(o *Value) (bool, error) {
	if v.kind == KindRef && o.kind == KindRef {
		return v.ref.cell.Equals(o.ref.cell)
	}
	if v.kind != o.kind {
		return false, vmerr.Newf(vmerr.StatusTypeMismatch,
			"cannot compare %s with %s", v.kind, o.kind)
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b, nil
	case KindU8, KindU16, KindU32, KindU64:
		return v.n == o.n, nil
	case KindU128, KindU256:
		return v.wide.Eq(o.wide), nil
	case KindAddress:
		return v.addr == o.addr, nil
	case KindStruct, KindVector, KindVariant:
		if v.kind == KindVariant && v.tag != o.tag {
			return false, nil
		}
		if len(v.elems) != len(o.elems) {
			if v.kind == KindVector {
				return false, nil
			}
			return false, vmerr.Newf(vmerr.StatusTypeMismatch,
				"cannot compare %s values of %d and %d fields", v.kind, len(v.elems), len(o.elems))
		}
		for i := range v.elems {
			eq, err := v.elems[i].Equals(o.elems[i])
			if err != nil {
				return false, err
			}
			if !eq {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, vmerr.Newf(vmerr.StatusTypeMismatch, "cannot compare %s values", v.kind)
	}
}

// AbstractSize is the gas-facing size of a value in abstract units.
func (v *Value) AbstractSize() uint64 {
	switch v.kind {
	case KindBool, KindU8:
		return 1
	case KindU16:
		return 2
	case KindU32:
		return 4
	case KindU64, KindRef:
		return 8
	case KindU128:
		return 16
	case KindU256, KindAddress:
		return 32
	case KindStruct, KindVariant, KindVector:
		size := uint64(8)
		for _, cell := range v.elems {
			size += cell.AbstractSize()
		}
		return size
	default:
		return 1
	}
}

// BorrowField returns a reference to field off of a struct.
func (v *Value) BorrowField(off uint16, mut bool) (Value, error) {
	if v.kind != KindStruct {
		return Value{}, typeMismatch(KindStruct, v.kind)
	}
	if int(off) >= len(v.elems) {
		return Value{}, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"field offset %d out of range (%d fields)", off, len(v.elems))
	}
	return Value{kind: KindRef, ref: refImpl{cell: v.elems[off], mut: mut}}, nil
}

// Unpack moves a struct's fields out, in declaration order.
func (v *Value) Unpack() ([]Value, error) {
	if v.kind != KindStruct {
		return nil, typeMismatch(KindStruct, v.kind)
	}
	return takeElems(v.elems), nil
}

// VariantTag returns the variant's tag.
func (v *Value) VariantTag() (uint16, error) {
	if v.kind != KindVariant {
		return 0, typeMismatch(KindVariant, v.kind)
	}
	return v.tag, nil
}

// VariantUnpack checks the tag and moves the variant's fields out.
// A tag mismatch is a runtime execution error, not an invariant violation:
// the verifier cannot know tags statically.
func (v *Value) VariantUnpack(want uint16) ([]Value, error) {
	if v.kind != KindVariant {
		return nil, typeMismatch(KindVariant, v.kind)
	}
	if v.tag != want {
		return nil, vmerr.Newf(vmerr.StatusVariantTagMismatch,
			"variant tag is %d, unpack wants %d", v.tag, want)
	}
	return takeElems(v.elems), nil
}

// VariantBorrowAll checks the tag and returns references to every field.
func (v *Value) VariantBorrowAll(want uint16, mut bool) ([]Value, error) {
	if v.kind != KindVariant {
		return nil, typeMismatch(KindVariant, v.kind)
	}
	if v.tag != want {
		return nil, vmerr.Newf(vmerr.StatusVariantTagMismatch,
			"variant tag is %d, unpack wants %d", v.tag, want)
	}
	refs := make([]Value, len(v.elems))
	for i, cell := range v.elems {
		refs[i] = Value{kind: KindRef, ref: refImpl{cell: cell, mut: mut}}
	}
	return refs, nil
}

func takeElems(cells []*Value) []Value {
	vals := make([]Value, len(cells))
	for i, cell := range cells {
		vals[i] = *cell
		*cell = Value{}
	}
	return vals
}

// IsRef reports whether the value is a reference.
func (v *Value) IsRef() bool {
	return v.kind == KindRef
}

// RefTarget returns the referenced cell. Used by global and local plumbing.
func (v *Value) RefTarget() (*Value, error) {
	if v.kind != KindRef {
		return nil, typeMismatch(KindRef, v.kind)
	}
	return v.ref.cell, nil
}

// MutRefTarget returns the referenced cell of a mutable reference.
func (v *Value) MutRefTarget() (*Value, error) {
	if v.kind != KindRef {
		return nil, typeMismatch(KindRef, v.kind)
	}
	if !v.ref.mut {
		return nil, vmerr.Newf(vmerr.StatusTypeMismatch, "mutation through immutable reference")
	}
	return v.ref.cell, nil
}

// ReadRef dereferences and deep-copies the target.
func (v *Value) ReadRef() (Value, error) {
	if v.kind != KindRef {
		return Value{}, typeMismatch(KindRef, v.kind)
	}
	return v.ref.cell.Copy()
}

// WriteRef overwrites the target through a mutable reference. Writing a
// reference or the invalid value into a cell is an invariant violation.
func (v *Value) WriteRef(nv Value) error {
	if v.kind != KindRef {
		return typeMismatch(KindRef, v.kind)
	}
	if !v.ref.mut {
		return vmerr.Newf(vmerr.StatusTypeMismatch, "write through immutable reference")
	}
	if nv.kind == KindRef || nv.kind == KindInvalid {
		return vmerr.Newf(vmerr.StatusTypeMismatch, "cannot store %s through a reference", nv.kind)
	}
	*v.ref.cell = nv
	return nil
}

// Freeze converts a mutable reference into an immutable one. The referent is
// untouched.
func (v *Value) Freeze() (Value, error) {
	if v.kind != KindRef {
		return Value{}, typeMismatch(KindRef, v.kind)
	}
	return Value{kind: KindRef, ref: refImpl{cell: v.ref.cell, mut: false}}, nil
}

// NewRefTo returns a reference to an existing cell. The cell must outlive
// the reference; callers hand out cells they own.
func NewRefTo(cell *Value, mut bool) Value {
	return Value{kind: KindRef, ref: refImpl{cell: cell, mut: mut}}
}

// String renders the value for diagnostics.
func (v *Value) String() string {
	switch v.kind {
	case KindInvalid:
		return "(invalid)"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindU8, KindU16, KindU32, KindU64:
		return fmt.Sprintf("%d%s", v.n, v.kind)
	case KindU128, KindU256:
		return fmt.Sprintf("%s%s", v.wide.Dec(), v.kind)
	case KindAddress:
		return v.addr.String()
	case KindStruct:
		return "struct" + elemsString(v.elems)
	case KindVariant:
		return fmt.Sprintf("variant#%d%s", v.tag, elemsString(v.elems))
	case KindVector:
		return "vector" + elemsString(v.elems)
	case KindRef:
		mut := "&"
		if v.ref.mut {
			mut = "&mut "
		}
		return mut + v.ref.cell.String()
	default:
		return fmt.Sprintf("(%s)", v.kind)
	}
}

func elemsString(cells []*Value) string {
	var b strings.Builder
	b.WriteString("{")
	for i, cell := range cells {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(cell.String())
	}
	b.WriteString("}")
	return b.String()
}
