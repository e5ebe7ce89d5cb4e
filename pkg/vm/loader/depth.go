package loader

import (
	"math"

	"github.com/fortiblox/ember/pkg/vm/bytecode"
)

// ensureDepthFormulas derives and caches the depth formula of every datatype
// the module defines. Formulas of datatypes referenced across modules are
// derived on demand and memoized on their definitions.
func ensureDepthFormulas(m *bytecode.Module) error {
	visiting := make(map[*bytecode.StructDef]bool)
	for _, d := range m.Structs {
		if _, err := deriveDepth(d, visiting); err != nil {
			return err
		}
	}
	return nil
}

// deriveDepth computes the formula of one definition: one more than the
// deepest field across the struct's fields or all variants' fields. A
// definition reached while its own formula is still being derived has a
// recursive layout, which verified bytecode cannot contain.
func deriveDepth(d *bytecode.StructDef, visiting map[*bytecode.StructDef]bool) (bytecode.DepthFormula, error) {
	if d.Depth != nil {
		return *d.Depth, nil
	}
	if visiting[d] {
		return bytecode.DepthFormula{}, linkErr("recursive layout through %s", d.QualifiedName())
	}
	visiting[d] = true
	defer delete(visiting, d)

	formulas := []bytecode.DepthFormula{bytecode.ConstantDepth(0)}
	collect := func(fields []bytecode.Field) error {
		for _, f := range fields {
			sub, err := typeFormula(f.Type, visiting)
			if err != nil {
				return err
			}
			formulas = append(formulas, sub)
		}
		return nil
	}
	if err := collect(d.Fields); err != nil {
		return bytecode.DepthFormula{}, err
	}
	for _, v := range d.Variants {
		if err := collect(v.Fields); err != nil {
			return bytecode.DepthFormula{}, err
		}
	}

	formula := bytecode.NormalizeDepths(formulas).Add(1)
	d.Depth = &formula
	return formula, nil
}

func typeFormula(t *bytecode.Type, visiting map[*bytecode.StructDef]bool) (bytecode.DepthFormula, error) {
	switch t.Kind {
	case bytecode.TypeBool, bytecode.TypeU8, bytecode.TypeU16, bytecode.TypeU32,
		bytecode.TypeU64, bytecode.TypeU128, bytecode.TypeU256,
		bytecode.TypeAddress, bytecode.TypeSigner:
		return bytecode.ConstantDepth(1), nil
	case bytecode.TypeParam:
		return bytecode.ParamDepth(t.Param), nil
	case bytecode.TypeVector:
		elem, err := typeFormula(t.Elem, visiting)
		if err != nil {
			return bytecode.DepthFormula{}, err
		}
		return elem.Add(1), nil
	case bytecode.TypeDatatype:
		return deriveDepth(t.Def, visiting)
	case bytecode.TypeDatatypeInst:
		inner, err := deriveDepth(t.Def, visiting)
		if err != nil {
			return bytecode.DepthFormula{}, err
		}
		args := make(map[uint16]bytecode.DepthFormula, len(t.TypeArgs))
		for i, ta := range t.TypeArgs {
			sub, err := typeFormula(ta, visiting)
			if err != nil {
				return bytecode.DepthFormula{}, err
			}
			args[uint16(i)] = sub
		}
		return inner.Subst(args)
	default:
		return bytecode.DepthFormula{}, linkErr("field type %s has no depth", t)
	}
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
