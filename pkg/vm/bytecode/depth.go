package bytecode

import (
	"math"
	"sort"

	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// DepthTerm contributes depth(type argument Param) + Offset to a formula.
type DepthTerm struct {
	Param  uint16
	Offset uint64
}

// DepthFormula is the cached depth bound of a struct or enum definition: the
// maximum of a constant (depth ignoring type parameters) and one term per
// type parameter that actually occurs in a field. Solving against the depths
// of concrete type arguments bounds any instantiation without walking field
// types again.
type DepthFormula struct {
	Terms       []DepthTerm
	Constant    uint64
	HasConstant bool
}

// ConstantDepth returns the formula of a type with no parameters.
func ConstantDepth(c uint64) DepthFormula {
	return DepthFormula{Constant: c, HasConstant: true}
}

// ParamDepth returns the formula of a bare type parameter.
func ParamDepth(idx uint16) DepthFormula {
	return DepthFormula{Terms: []DepthTerm{{Param: idx}}}
}

// NormalizeDepths merges formulas by taking, per type parameter and for the
// constant, the maximum contribution.
func NormalizeDepths(formulas []DepthFormula) DepthFormula {
	var out DepthFormula
	byParam := make(map[uint16]uint64)
	for _, f := range formulas {
		if f.HasConstant && (!out.HasConstant || f.Constant > out.Constant) {
			out.Constant = f.Constant
			out.HasConstant = true
		}
		for _, t := range f.Terms {
			if cur, ok := byParam[t.Param]; !ok || t.Offset > cur {
				byParam[t.Param] = t.Offset
			}
		}
	}
	if len(byParam) > 0 {
		out.Terms = make([]DepthTerm, 0, len(byParam))
		for p, off := range byParam {
			out.Terms = append(out.Terms, DepthTerm{Param: p, Offset: off})
		}
		sort.Slice(out.Terms, func(i, j int) bool { return out.Terms[i].Param < out.Terms[j].Param })
	}
	return out
}

// Add returns the formula shifted by c with saturation.
func (f DepthFormula) Add(c uint64) DepthFormula {
	out := DepthFormula{HasConstant: f.HasConstant}
	if f.HasConstant {
		out.Constant = saturatingAdd(f.Constant, c)
	}
	if len(f.Terms) > 0 {
		out.Terms = make([]DepthTerm, len(f.Terms))
		for i, t := range f.Terms {
			out.Terms[i] = DepthTerm{Param: t.Param, Offset: saturatingAdd(t.Offset, c)}
		}
	}
	return out
}

// Subst replaces each term's type parameter with that parameter's own
// formula. Every referenced parameter must be present.
func (f DepthFormula) Subst(args map[uint16]DepthFormula) (DepthFormula, error) {
	merged := make([]DepthFormula, 0, len(f.Terms)+1)
	if f.HasConstant {
		merged = append(merged, ConstantDepth(f.Constant))
	}
	for _, t := range f.Terms {
		sub, ok := args[t.Param]
		if !ok {
			return DepthFormula{}, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
				"depth substitution missing type parameter %d", t.Param)
		}
		merged = append(merged, sub.Add(t.Offset))
	}
	return NormalizeDepths(merged), nil
}

// Solve evaluates the formula against concrete type argument depths.
func (f DepthFormula) Solve(depths []uint64) (uint64, error) {
	var max uint64
	if f.HasConstant {
		max = f.Constant
	}
	for _, t := range f.Terms {
		if int(t.Param) >= len(depths) {
			return 0, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
				"depth solve missing type argument %d (%d given)", t.Param, len(depths))
		}
		if d := saturatingAdd(depths[t.Param], t.Offset); d > max {
			max = d
		}
	}
	return max, nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
