package loader

import (
	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
)

// Record is the flat, storable form of a module. Every cross-reference goes
// by module id and name instead of a pointer, so records gob-encode cleanly
// and relink against whatever is registered when they are loaded.
type Record struct {
	ID types.ModuleID

	Structs   []StructRec
	Functions []FunctionRec
	Constants []ConstantRec

	FunctionRefs   []FuncRefRec
	FunctionInsts  []FuncInstRec
	StructInsts    []StructInstRec
	FieldHandles   []FieldHandleRec
	FieldInsts     []FieldInstRec
	VariantHandles []VariantHandleRec
	VariantInsts   []VariantInstRec
	Signatures     []TypeRec
}

// TypeRec is the flat form of a runtime type.
type TypeRec struct {
	Kind     bytecode.TypeKind
	Elem     *TypeRec
	Module   types.ModuleID
	Struct   string
	TypeArgs []TypeRec
	Param    uint16
}

// FieldRec is the flat form of a field.
type FieldRec struct {
	Name string
	Type TypeRec
}

// VariantRec is the flat form of an enum variant.
type VariantRec struct {
	Name   string
	Tag    uint16
	Fields []FieldRec
}

// StructRec is the flat form of a datatype definition.
type StructRec struct {
	Name           string
	TypeParamCount uint16
	Fields         []FieldRec
	Variants       []VariantRec
}

// FunctionRec is the flat form of a function definition. Instructions are
// flat already and embed as-is.
type FunctionRec struct {
	Name           string
	ParamCount     uint16
	ReturnCount    uint16
	LocalCount     uint16
	TypeParamCount uint16
	IsNative       bool
	Code           []bytecode.Instruction
	JumpTables     [][]uint16
}

// ConstantRec is the flat form of a pooled constant.
type ConstantRec struct {
	Type TypeRec
	Data []byte
}

// FuncRefRec names a call target.
type FuncRefRec struct {
	Module types.ModuleID
	Name   string
}

// FuncInstRec names a generic call target with its type arguments.
type FuncInstRec struct {
	Module   types.ModuleID
	Name     string
	TypeArgs []TypeRec
}

// StructInstRec names a generic datatype operand.
type StructInstRec struct {
	Module   types.ModuleID
	Struct   string
	TypeArgs []TypeRec
}

// FieldHandleRec names a field operand.
type FieldHandleRec struct {
	Module types.ModuleID
	Struct string
	Offset uint16
}

// FieldInstRec names a generic field operand.
type FieldInstRec struct {
	Module   types.ModuleID
	Struct   string
	Offset   uint16
	TypeArgs []TypeRec
}

// VariantHandleRec names a variant operand.
type VariantHandleRec struct {
	Module types.ModuleID
	Struct string
	Tag    uint16
}

// VariantInstRec names a generic variant operand.
type VariantInstRec struct {
	Module   types.ModuleID
	Struct   string
	Tag      uint16
	TypeArgs []TypeRec
}

// RecordOf flattens a linked module. The module's own functions must carry
// their parent and every operand table entry must be resolved, which holds
// for any registered module.
func RecordOf(m *bytecode.Module) (*Record, error) {
	rec := &Record{ID: m.ID}

	for _, d := range m.Structs {
		sr := StructRec{Name: d.Name, TypeParamCount: d.TypeParamCount}
		fields, err := fieldRecs(d.Fields)
		if err != nil {
			return nil, err
		}
		sr.Fields = fields
		for _, v := range d.Variants {
			vf, err := fieldRecs(v.Fields)
			if err != nil {
				return nil, err
			}
			sr.Variants = append(sr.Variants, VariantRec{Name: v.Name, Tag: v.Tag, Fields: vf})
		}
		rec.Structs = append(rec.Structs, sr)
	}

	for _, f := range m.Functions {
		rec.Functions = append(rec.Functions, FunctionRec{
			Name:           f.Name,
			ParamCount:     f.ParamCount,
			ReturnCount:    f.ReturnCount,
			LocalCount:     f.LocalCount,
			TypeParamCount: f.TypeParamCount,
			IsNative:       f.IsNative,
			Code:           f.Code,
			JumpTables:     f.JumpTables,
		})
	}

	for _, c := range m.Constants {
		tr, err := typeRec(c.Type)
		if err != nil {
			return nil, err
		}
		rec.Constants = append(rec.Constants, ConstantRec{Type: tr, Data: c.Data})
	}

	for _, ref := range m.FunctionRefs {
		if ref.Parent == nil {
			return nil, linkErr("%s: function ref %s is not linked", m.ID, ref.Name)
		}
		rec.FunctionRefs = append(rec.FunctionRefs, FuncRefRec{Module: ref.Parent.ID, Name: ref.Name})
	}
	for _, inst := range m.FunctionInsts {
		if inst.Target.Parent == nil {
			return nil, linkErr("%s: function instantiation %s is not linked", m.ID, inst.Target.Name)
		}
		targs, err := typeRecs(inst.TypeArgs)
		if err != nil {
			return nil, err
		}
		rec.FunctionInsts = append(rec.FunctionInsts, FuncInstRec{
			Module: inst.Target.Parent.ID, Name: inst.Target.Name, TypeArgs: targs,
		})
	}
	for _, inst := range m.StructInsts {
		targs, err := typeRecs(inst.TypeArgs)
		if err != nil {
			return nil, err
		}
		rec.StructInsts = append(rec.StructInsts, StructInstRec{
			Module: inst.Def.Module, Struct: inst.Def.Name, TypeArgs: targs,
		})
	}
	for _, h := range m.FieldHandles {
		rec.FieldHandles = append(rec.FieldHandles, FieldHandleRec{
			Module: h.Def.Module, Struct: h.Def.Name, Offset: h.Offset,
		})
	}
	for _, h := range m.FieldInsts {
		targs, err := typeRecs(h.TypeArgs)
		if err != nil {
			return nil, err
		}
		rec.FieldInsts = append(rec.FieldInsts, FieldInstRec{
			Module: h.Def.Module, Struct: h.Def.Name, Offset: h.Offset, TypeArgs: targs,
		})
	}
	for _, h := range m.VariantHandles {
		rec.VariantHandles = append(rec.VariantHandles, VariantHandleRec{
			Module: h.Def.Module, Struct: h.Def.Name, Tag: h.Tag,
		})
	}
	for _, h := range m.VariantInsts {
		targs, err := typeRecs(h.TypeArgs)
		if err != nil {
			return nil, err
		}
		rec.VariantInsts = append(rec.VariantInsts, VariantInstRec{
			Module: h.Def.Module, Struct: h.Def.Name, Tag: h.Tag, TypeArgs: targs,
		})
	}
	for _, t := range m.Signatures {
		tr, err := typeRec(t)
		if err != nil {
			return nil, err
		}
		rec.Signatures = append(rec.Signatures, tr)
	}
	return rec, nil
}

func typeRec(t *bytecode.Type) (TypeRec, error) {
	out := TypeRec{Kind: t.Kind, Param: t.Param}
	switch t.Kind {
	case bytecode.TypeVector, bytecode.TypeReference, bytecode.TypeMutReference:
		elem, err := typeRec(t.Elem)
		if err != nil {
			return TypeRec{}, err
		}
		out.Elem = &elem
	case bytecode.TypeDatatype, bytecode.TypeDatatypeInst:
		if t.Def == nil {
			return TypeRec{}, linkErr("datatype reference is not linked")
		}
		out.Module = t.Def.Module
		out.Struct = t.Def.Name
		targs, err := typeRecs(t.TypeArgs)
		if err != nil {
			return TypeRec{}, err
		}
		out.TypeArgs = targs
	}
	return out, nil
}

func typeRecs(ts []*bytecode.Type) ([]TypeRec, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	out := make([]TypeRec, len(ts))
	for i, t := range ts {
		tr, err := typeRec(t)
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

func fieldRecs(fields []bytecode.Field) ([]FieldRec, error) {
	var out []FieldRec
	for _, f := range fields {
		tr, err := typeRec(f.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, FieldRec{Name: f.Name, Type: tr})
	}
	return out, nil
}

// RegisterRecords links a batch of records and registers the resulting
// modules. Records may reference each other and anything already registered;
// a reference satisfied by neither fails the whole batch.
func (l *Loader) RegisterRecords(recs ...*Record) error {
	if len(recs) == 0 {
		return nil
	}

	// First pass: skeleton modules, so name lookups inside the batch resolve
	// before any table is built.
	batch := make(map[types.ModuleID]*bytecode.Module, len(recs))
	ordered := make([]*bytecode.Module, 0, len(recs))
	for _, rec := range recs {
		if _, ok := batch[rec.ID]; ok {
			return linkErr("duplicate record for %s", rec.ID)
		}
		m := &bytecode.Module{ID: rec.ID}
		for _, sr := range rec.Structs {
			d := &bytecode.StructDef{
				Module:         rec.ID,
				Name:           sr.Name,
				TypeParamCount: sr.TypeParamCount,
			}
			for _, vr := range sr.Variants {
				d.Variants = append(d.Variants, &bytecode.VariantDef{Name: vr.Name, Tag: vr.Tag})
			}
			m.Structs = append(m.Structs, d)
		}
		for _, fr := range rec.Functions {
			m.Functions = append(m.Functions, &bytecode.Function{
				Name:           fr.Name,
				ParamCount:     fr.ParamCount,
				ReturnCount:    fr.ReturnCount,
				LocalCount:     fr.LocalCount,
				TypeParamCount: fr.TypeParamCount,
				IsNative:       fr.IsNative,
				Code:           fr.Code,
				JumpTables:     fr.JumpTables,
				Parent:         m,
			})
		}
		batch[rec.ID] = m
		ordered = append(ordered, m)
	}

	ln := &linker{loader: l, batch: batch}

	// Second pass: field types and operand tables, resolving names across
	// the batch and the registry.
	for i, rec := range recs {
		if err := ln.fill(ordered[i], rec); err != nil {
			return err
		}
	}

	return l.registerLinked(ordered)
}

type linker struct {
	loader *Loader
	batch  map[types.ModuleID]*bytecode.Module
}

func (ln *linker) moduleNamed(id types.ModuleID) (*bytecode.Module, error) {
	if m, ok := ln.batch[id]; ok {
		return m, nil
	}
	return ln.loader.Module(id)
}

func (ln *linker) structNamed(id types.ModuleID, name string) (*bytecode.StructDef, error) {
	m, err := ln.moduleNamed(id)
	if err != nil {
		return nil, linkErr("unresolved datatype %s::%s: %v", id.ShortString(), name, err)
	}
	d, ok := m.StructNamed(name)
	if !ok {
		return nil, linkErr("unresolved datatype %s::%s", id.ShortString(), name)
	}
	return d, nil
}

func (ln *linker) functionNamed(id types.ModuleID, name string) (*bytecode.Function, error) {
	m, err := ln.moduleNamed(id)
	if err != nil {
		return nil, linkErr("unresolved function %s::%s: %v", id.ShortString(), name, err)
	}
	f, ok := m.FunctionNamed(name)
	if !ok {
		return nil, linkErr("unresolved function %s::%s", id.ShortString(), name)
	}
	return f, nil
}

func (ln *linker) fill(m *bytecode.Module, rec *Record) error {
	for i, sr := range rec.Structs {
		d := m.Structs[i]
		fields, err := ln.linkFields(sr.Fields)
		if err != nil {
			return err
		}
		d.Fields = fields
		for j, vr := range sr.Variants {
			vf, err := ln.linkFields(vr.Fields)
			if err != nil {
				return err
			}
			d.Variants[j].Fields = vf
		}
	}

	for _, cr := range rec.Constants {
		t, err := ln.linkType(cr.Type)
		if err != nil {
			return err
		}
		m.Constants = append(m.Constants, bytecode.Constant{Type: t, Data: cr.Data})
	}

	for _, ref := range rec.FunctionRefs {
		f, err := ln.functionNamed(ref.Module, ref.Name)
		if err != nil {
			return err
		}
		m.FunctionRefs = append(m.FunctionRefs, f)
	}
	for _, inst := range rec.FunctionInsts {
		f, err := ln.functionNamed(inst.Module, inst.Name)
		if err != nil {
			return err
		}
		targs, err := ln.linkTypes(inst.TypeArgs)
		if err != nil {
			return err
		}
		m.FunctionInsts = append(m.FunctionInsts, bytecode.FunctionInst{Target: f, TypeArgs: targs})
	}
	for _, inst := range rec.StructInsts {
		d, err := ln.structNamed(inst.Module, inst.Struct)
		if err != nil {
			return err
		}
		targs, err := ln.linkTypes(inst.TypeArgs)
		if err != nil {
			return err
		}
		m.StructInsts = append(m.StructInsts, bytecode.StructInst{Def: d, TypeArgs: targs})
	}
	for _, h := range rec.FieldHandles {
		d, err := ln.structNamed(h.Module, h.Struct)
		if err != nil {
			return err
		}
		m.FieldHandles = append(m.FieldHandles, bytecode.FieldHandle{Def: d, Offset: h.Offset})
	}
	for _, h := range rec.FieldInsts {
		d, err := ln.structNamed(h.Module, h.Struct)
		if err != nil {
			return err
		}
		targs, err := ln.linkTypes(h.TypeArgs)
		if err != nil {
			return err
		}
		m.FieldInsts = append(m.FieldInsts, bytecode.FieldInst{Def: d, Offset: h.Offset, TypeArgs: targs})
	}
	for _, h := range rec.VariantHandles {
		d, err := ln.structNamed(h.Module, h.Struct)
		if err != nil {
			return err
		}
		m.VariantHandles = append(m.VariantHandles, bytecode.VariantHandle{Def: d, Tag: h.Tag})
	}
	for _, h := range rec.VariantInsts {
		d, err := ln.structNamed(h.Module, h.Struct)
		if err != nil {
			return err
		}
		targs, err := ln.linkTypes(h.TypeArgs)
		if err != nil {
			return err
		}
		m.VariantInsts = append(m.VariantInsts, bytecode.VariantInst{Def: d, Tag: h.Tag, TypeArgs: targs})
	}
	for _, tr := range rec.Signatures {
		t, err := ln.linkType(tr)
		if err != nil {
			return err
		}
		m.Signatures = append(m.Signatures, t)
	}
	return nil
}

func (ln *linker) linkFields(frs []FieldRec) ([]bytecode.Field, error) {
	var out []bytecode.Field
	for _, fr := range frs {
		t, err := ln.linkType(fr.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, bytecode.Field{Name: fr.Name, Type: t})
	}
	return out, nil
}

func (ln *linker) linkType(tr TypeRec) (*bytecode.Type, error) {
	switch tr.Kind {
	case bytecode.TypeBool:
		return bytecode.BoolType, nil
	case bytecode.TypeU8:
		return bytecode.U8Type, nil
	case bytecode.TypeU16:
		return bytecode.U16Type, nil
	case bytecode.TypeU32:
		return bytecode.U32Type, nil
	case bytecode.TypeU64:
		return bytecode.U64Type, nil
	case bytecode.TypeU128:
		return bytecode.U128Type, nil
	case bytecode.TypeU256:
		return bytecode.U256Type, nil
	case bytecode.TypeAddress:
		return bytecode.AddressType, nil
	case bytecode.TypeSigner:
		return bytecode.SignerType, nil
	case bytecode.TypeParam:
		return bytecode.NewTypeParam(tr.Param), nil
	case bytecode.TypeVector, bytecode.TypeReference, bytecode.TypeMutReference:
		if tr.Elem == nil {
			return nil, linkErr("type kind %d without an element", tr.Kind)
		}
		elem, err := ln.linkType(*tr.Elem)
		if err != nil {
			return nil, err
		}
		return &bytecode.Type{Kind: tr.Kind, Elem: elem}, nil
	case bytecode.TypeDatatype:
		d, err := ln.structNamed(tr.Module, tr.Struct)
		if err != nil {
			return nil, err
		}
		return bytecode.NewDatatype(d), nil
	case bytecode.TypeDatatypeInst:
		d, err := ln.structNamed(tr.Module, tr.Struct)
		if err != nil {
			return nil, err
		}
		targs, err := ln.linkTypes(tr.TypeArgs)
		if err != nil {
			return nil, err
		}
		return bytecode.NewDatatypeInst(d, targs), nil
	default:
		return nil, linkErr("unknown type kind %d in record", tr.Kind)
	}
}

func (ln *linker) linkTypes(trs []TypeRec) ([]*bytecode.Type, error) {
	if len(trs) == 0 {
		return nil, nil
	}
	out := make([]*bytecode.Type, len(trs))
	for i, tr := range trs {
		t, err := ln.linkType(tr)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
