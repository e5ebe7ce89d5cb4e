package loader

import (
	"strings"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Resolver is the view of one module's operand tables the interpreter
// executes against. Indexes come straight from instruction operands; an
// out-of-range index means the code was not verified against this module.
type Resolver struct {
	loader *Loader
	module *bytecode.Module
}

// ResolverFor returns the resolver for a registered module.
func (l *Loader) ResolverFor(id types.ModuleID) (*Resolver, error) {
	m, err := l.Module(id)
	if err != nil {
		return nil, err
	}
	return &Resolver{loader: l, module: m}, nil
}

// ResolverForFunction returns the resolver for the function's defining
// module. Frames resolve through this without a registry lookup.
func (l *Loader) ResolverForFunction(f *bytecode.Function) (*Resolver, error) {
	if f.Parent == nil {
		return nil, vmerr.Newf(vmerr.StatusFunctionResolutionFailure,
			"function %s is not linked", f.Name)
	}
	return &Resolver{loader: l, module: f.Parent}, nil
}

// Module returns the module this resolver reads.
func (r *Resolver) Module() *bytecode.Module {
	return r.module
}

// FunctionAt returns the call target at a function ref index.
func (r *Resolver) FunctionAt(idx uint16) (*bytecode.Function, error) {
	if int(idx) >= len(r.module.FunctionRefs) {
		return nil, vmerr.Newf(vmerr.StatusFunctionResolutionFailure,
			"%s: function ref %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.FunctionRefs[idx], nil
}

// FunctionInstAt returns the generic call target at an instantiation index.
func (r *Resolver) FunctionInstAt(idx uint16) (*bytecode.FunctionInst, error) {
	if int(idx) >= len(r.module.FunctionInsts) {
		return nil, vmerr.Newf(vmerr.StatusFunctionResolutionFailure,
			"%s: function instantiation %d out of range", r.module.ID.ShortString(), idx)
	}
	return &r.module.FunctionInsts[idx], nil
}

// InstantiateCall resolves a generic call's type arguments against the
// calling frame's. The results are fully concrete.
func (r *Resolver) InstantiateCall(inst *bytecode.FunctionInst, callerArgs []*bytecode.Type) ([]*bytecode.Type, error) {
	out := make([]*bytecode.Type, len(inst.TypeArgs))
	for i, ta := range inst.TypeArgs {
		t, err := r.loader.Instantiate(ta, callerArgs)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// ConstantAt returns the pooled constant at an index.
func (r *Resolver) ConstantAt(idx uint16) (*bytecode.Constant, error) {
	if int(idx) >= len(r.module.Constants) {
		return nil, linkErr("%s: constant %d out of range", r.module.ID.ShortString(), idx)
	}
	return &r.module.Constants[idx], nil
}

// StructAt returns the datatype definition at a definition index.
func (r *Resolver) StructAt(idx uint16) (*bytecode.StructDef, error) {
	if int(idx) >= len(r.module.Structs) {
		return nil, linkErr("%s: datatype %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.Structs[idx], nil
}

// StructInstAt returns the generic datatype operand at an instantiation
// index.
func (r *Resolver) StructInstAt(idx uint16) (*bytecode.StructInst, error) {
	if int(idx) >= len(r.module.StructInsts) {
		return nil, linkErr("%s: struct instantiation %d out of range", r.module.ID.ShortString(), idx)
	}
	return &r.module.StructInsts[idx], nil
}

// StructType returns the runtime type of a non-generic definition.
func (r *Resolver) StructType(def *bytecode.StructDef) *bytecode.Type {
	return bytecode.NewDatatype(def)
}

// StructInstType builds the concrete runtime type of a generic datatype
// operand under the calling frame's type arguments.
func (r *Resolver) StructInstType(inst *bytecode.StructInst, callerArgs []*bytecode.Type) (*bytecode.Type, error) {
	return r.loader.Instantiate(bytecode.NewDatatypeInst(inst.Def, inst.TypeArgs), callerArgs)
}

// FieldHandleAt returns the field operand at a handle index.
func (r *Resolver) FieldHandleAt(idx uint16) (bytecode.FieldHandle, error) {
	if int(idx) >= len(r.module.FieldHandles) {
		return bytecode.FieldHandle{}, linkErr("%s: field handle %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.FieldHandles[idx], nil
}

// FieldInstAt returns the generic field operand at an instantiation index.
func (r *Resolver) FieldInstAt(idx uint16) (bytecode.FieldInst, error) {
	if int(idx) >= len(r.module.FieldInsts) {
		return bytecode.FieldInst{}, linkErr("%s: field instantiation %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.FieldInsts[idx], nil
}

// VariantHandleAt returns the variant operand at a handle index.
func (r *Resolver) VariantHandleAt(idx uint16) (bytecode.VariantHandle, error) {
	if int(idx) >= len(r.module.VariantHandles) {
		return bytecode.VariantHandle{}, linkErr("%s: variant handle %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.VariantHandles[idx], nil
}

// VariantInstAt returns the generic variant operand at an instantiation
// index.
func (r *Resolver) VariantInstAt(idx uint16) (bytecode.VariantInst, error) {
	if int(idx) >= len(r.module.VariantInsts) {
		return bytecode.VariantInst{}, linkErr("%s: variant instantiation %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.VariantInsts[idx], nil
}

// SignatureAt returns the pooled single type at a signature index. Vector
// instructions name their element type this way; the result may still
// mention the enclosing function's type parameters.
func (r *Resolver) SignatureAt(idx uint16) (*bytecode.Type, error) {
	if int(idx) >= len(r.module.Signatures) {
		return nil, linkErr("%s: signature %d out of range", r.module.ID.ShortString(), idx)
	}
	return r.module.Signatures[idx], nil
}

// SignatureInstType resolves a pooled single type against the calling
// frame's type arguments.
func (r *Resolver) SignatureInstType(idx uint16, callerArgs []*bytecode.Type) (*bytecode.Type, error) {
	t, err := r.SignatureAt(idx)
	if err != nil {
		return nil, err
	}
	return r.loader.Instantiate(t, callerArgs)
}

// Instantiate substitutes type parameters and returns a bounded concrete
// type. Types with no parameters pass through untouched; built results are
// cached, so repeated instantiations in hot code share one descriptor.
func (l *Loader) Instantiate(t *bytecode.Type, targs []*bytecode.Type) (*bytecode.Type, error) {
	if !t.ContainsParams() {
		return t, nil
	}
	key := instKey(t, targs)
	if cached, ok := l.insts.Get(key); ok {
		return cached.(*bytecode.Type), nil
	}
	out, err := t.Subst(targs)
	if err != nil {
		return nil, err
	}
	if n := out.NumNodes(); n > l.opts.MaxTypeNodes {
		return nil, vmerr.Newf(vmerr.StatusTypeResolutionFailure,
			"instantiation of %s builds %d type nodes (limit %d)", t, n, l.opts.MaxTypeNodes)
	}
	l.insts.Add(key, out)
	return out, nil
}

// TypeDepth returns the value-nesting depth bound of a concrete type,
// solving cached formulas for datatypes.
func (l *Loader) TypeDepth(t *bytecode.Type) (uint64, error) {
	switch t.Kind {
	case bytecode.TypeBool, bytecode.TypeU8, bytecode.TypeU16, bytecode.TypeU32,
		bytecode.TypeU64, bytecode.TypeU128, bytecode.TypeU256,
		bytecode.TypeAddress, bytecode.TypeSigner:
		return 1, nil
	case bytecode.TypeVector:
		elem, err := l.TypeDepth(t.Elem)
		if err != nil {
			return 0, err
		}
		return satAdd(elem, 1), nil
	case bytecode.TypeDatatype:
		formula, err := deriveDepth(t.Def, make(map[*bytecode.StructDef]bool))
		if err != nil {
			return 0, err
		}
		return formula.Solve(nil)
	case bytecode.TypeDatatypeInst:
		depths := make([]uint64, len(t.TypeArgs))
		for i, ta := range t.TypeArgs {
			d, err := l.TypeDepth(ta)
			if err != nil {
				return 0, err
			}
			depths[i] = d
		}
		formula, err := deriveDepth(t.Def, make(map[*bytecode.StructDef]bool))
		if err != nil {
			return 0, err
		}
		return formula.Solve(depths)
	case bytecode.TypeParam:
		return 0, vmerr.Newf(vmerr.StatusUnresolvedTypeParameter,
			"type parameter %d reached depth measurement", t.Param)
	default:
		return 0, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"type %s has no value depth", t)
	}
}

// instKey renders a deterministic cache key. Datatype names are
// module-qualified, so distinct types never collide.
func instKey(t *bytecode.Type, targs []*bytecode.Type) string {
	var b strings.Builder
	b.WriteString(t.String())
	b.WriteByte('|')
	for i, ta := range targs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ta.String())
	}
	return b.String()
}
