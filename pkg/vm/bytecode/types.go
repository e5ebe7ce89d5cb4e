package bytecode

import (
	"strconv"
	"strings"

	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// TypeKind discriminates runtime type descriptors.
type TypeKind uint8

const (
	TypeBool TypeKind = iota
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeU256
	TypeAddress
	TypeSigner
	TypeVector
	TypeReference
	TypeMutReference
	TypeDatatype
	TypeDatatypeInst
	TypeParam
)

// Type is a runtime type descriptor. Types are immutable once built; the
// primitive singletons below are shared freely.
type Type struct {
	Kind     TypeKind
	Elem     *Type       // vector element, reference target
	Def      *StructDef  // TypeDatatype, TypeDatatypeInst
	TypeArgs []*Type     // TypeDatatypeInst
	Param    uint16      // TypeParam index
}

// Primitive singletons.
var (
	BoolType    = &Type{Kind: TypeBool}
	U8Type      = &Type{Kind: TypeU8}
	U16Type     = &Type{Kind: TypeU16}
	U32Type     = &Type{Kind: TypeU32}
	U64Type     = &Type{Kind: TypeU64}
	U128Type    = &Type{Kind: TypeU128}
	U256Type    = &Type{Kind: TypeU256}
	AddressType = &Type{Kind: TypeAddress}
	SignerType  = &Type{Kind: TypeSigner}
)

// NewVectorType returns vector<elem>.
func NewVectorType(elem *Type) *Type {
	return &Type{Kind: TypeVector, Elem: elem}
}

// NewRefType returns &inner.
func NewRefType(inner *Type) *Type {
	return &Type{Kind: TypeReference, Elem: inner}
}

// NewMutRefType returns &mut inner.
func NewMutRefType(inner *Type) *Type {
	return &Type{Kind: TypeMutReference, Elem: inner}
}

// NewDatatype returns the type of a non-generic struct or enum definition.
func NewDatatype(def *StructDef) *Type {
	return &Type{Kind: TypeDatatype, Def: def}
}

// NewDatatypeInst returns def<targs...>.
func NewDatatypeInst(def *StructDef, targs []*Type) *Type {
	return &Type{Kind: TypeDatatypeInst, Def: def, TypeArgs: targs}
}

// NewTypeParam returns the placeholder for type parameter idx.
func NewTypeParam(idx uint16) *Type {
	return &Type{Kind: TypeParam, Param: idx}
}

// IsReference reports whether the type is a reference of either mutability.
func (t *Type) IsReference() bool {
	return t.Kind == TypeReference || t.Kind == TypeMutReference
}

// Subst replaces type parameters with the given arguments, recursing through
// vectors, references, and instantiations. An out-of-range parameter index is
// an invariant violation.
func (t *Type) Subst(targs []*Type) (*Type, error) {
	switch t.Kind {
	case TypeParam:
		if int(t.Param) >= len(targs) {
			return nil, vmerr.Newf(vmerr.StatusUnresolvedTypeParameter,
				"type parameter %d out of range (%d arguments)", t.Param, len(targs))
		}
		return targs[t.Param], nil
	case TypeVector, TypeReference, TypeMutReference:
		elem, err := t.Elem.Subst(targs)
		if err != nil {
			return nil, err
		}
		if elem == t.Elem {
			return t, nil
		}
		return &Type{Kind: t.Kind, Elem: elem}, nil
	case TypeDatatypeInst:
		changed := false
		sub := make([]*Type, len(t.TypeArgs))
		for i, ta := range t.TypeArgs {
			s, err := ta.Subst(targs)
			if err != nil {
				return nil, err
			}
			sub[i] = s
			if s != ta {
				changed = true
			}
		}
		if !changed {
			return t, nil
		}
		return &Type{Kind: TypeDatatypeInst, Def: t.Def, TypeArgs: sub}, nil
	default:
		return t, nil
	}
}

// NumNodes counts descriptor nodes; the loader bounds instantiations with it.
func (t *Type) NumNodes() int {
	n := 1
	if t.Elem != nil {
		n += t.Elem.NumNodes()
	}
	for _, ta := range t.TypeArgs {
		n += ta.NumNodes()
	}
	return n
}

// ContainsParams reports whether any type parameter placeholder remains.
func (t *Type) ContainsParams() bool {
	switch t.Kind {
	case TypeParam:
		return true
	case TypeVector, TypeReference, TypeMutReference:
		return t.Elem.ContainsParams()
	case TypeDatatypeInst:
		for _, ta := range t.TypeArgs {
			if ta.ContainsParams() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Tag returns the canonical storage identity of a fully instantiated,
// non-reference type: "u64", "vector<u8>", "0x01::coin::Coin<u64>".
// References and type parameters have no storage identity.
func (t *Type) Tag() (string, error) {
	var b strings.Builder
	if err := t.writeTag(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *Type) writeTag(b *strings.Builder) error {
	switch t.Kind {
	case TypeBool:
		b.WriteString("bool")
	case TypeU8:
		b.WriteString("u8")
	case TypeU16:
		b.WriteString("u16")
	case TypeU32:
		b.WriteString("u32")
	case TypeU64:
		b.WriteString("u64")
	case TypeU128:
		b.WriteString("u128")
	case TypeU256:
		b.WriteString("u256")
	case TypeAddress:
		b.WriteString("address")
	case TypeSigner:
		b.WriteString("signer")
	case TypeVector:
		b.WriteString("vector<")
		if err := t.Elem.writeTag(b); err != nil {
			return err
		}
		b.WriteString(">")
	case TypeDatatype:
		b.WriteString(t.Def.QualifiedName())
	case TypeDatatypeInst:
		b.WriteString(t.Def.QualifiedName())
		b.WriteString("<")
		for i, ta := range t.TypeArgs {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := ta.writeTag(b); err != nil {
				return err
			}
		}
		b.WriteString(">")
	case TypeReference, TypeMutReference:
		return vmerr.Newf(vmerr.StatusTypeMismatch, "reference type has no storage identity")
	case TypeParam:
		return vmerr.Newf(vmerr.StatusUnresolvedTypeParameter,
			"type parameter %d in a runtime type", t.Param)
	default:
		return vmerr.Newf(vmerr.StatusUnknownInvariantViolation, "unknown type kind %d", t.Kind)
	}
	return nil
}

// String renders the type for diagnostics, including forms Tag rejects.
func (t *Type) String() string {
	switch t.Kind {
	case TypeReference:
		return "&" + t.Elem.String()
	case TypeMutReference:
		return "&mut " + t.Elem.String()
	case TypeParam:
		return "T#" + strconv.Itoa(int(t.Param))
	default:
		tag, err := t.Tag()
		if err != nil {
			return "<invalid>"
		}
		return tag
	}
}
