package bytecode

import (
	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Field is one field of a struct or variant.
type Field struct {
	Name string
	Type *Type
}

// VariantDef is one variant of an enum definition.
type VariantDef struct {
	Name   string
	Tag    uint16
	Fields []Field
}

// StructDef defines a struct or enum. Enums have Variants set and an empty
// Fields slice. Depth is the cached depth formula, computed when the module
// is registered with a loader.
type StructDef struct {
	Module         types.ModuleID
	Name           string
	TypeParamCount uint16
	Fields         []Field
	Variants       []*VariantDef
	Depth          *DepthFormula
}

// IsEnum reports whether the definition declares variants.
func (d *StructDef) IsEnum() bool {
	return len(d.Variants) > 0
}

// QualifiedName returns "0x01::module::Name".
func (d *StructDef) QualifiedName() string {
	return d.Module.ShortString() + "::" + d.Name
}

// VariantAt returns the variant with the given tag.
func (d *StructDef) VariantAt(tag uint16) (*VariantDef, error) {
	if int(tag) >= len(d.Variants) {
		return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"variant tag %d out of range for %s", tag, d.QualifiedName())
	}
	return d.Variants[tag], nil
}

// Constant is a pooled constant: codec bytes plus the declared type.
type Constant struct {
	Type *Type
	Data []byte
}

// Function is a loaded function definition. LocalCount covers the parameter
// slots plus declared locals; Code is nil for natives. JumpTables back
// VariantSwitch: table[variantTag] is the target code offset.
type Function struct {
	Name           string
	ParamCount     uint16
	ReturnCount    uint16
	LocalCount     uint16
	TypeParamCount uint16
	IsNative       bool
	Code           []Instruction
	JumpTables     [][]uint16
	Parent         *Module
}

// ModuleID returns the defining module's id.
func (f *Function) ModuleID() types.ModuleID {
	if f.Parent == nil {
		return types.ModuleID{}
	}
	return f.Parent.ID
}

// QualifiedName returns "0x01::module::name" for diagnostics.
func (f *Function) QualifiedName() string {
	if f.Parent == nil {
		return "<unlinked>::" + f.Name
	}
	return f.Parent.ID.ShortString() + "::" + f.Name
}

// FunctionInst is a CallGeneric operand: the target plus type arguments,
// which may still mention the caller's type parameters.
type FunctionInst struct {
	Target   *Function
	TypeArgs []*Type
}

// StructInst is a generic struct operand (PackGeneric, MoveToGeneric, ...).
type StructInst struct {
	Def      *StructDef
	TypeArgs []*Type
}

// FieldHandle names a field of a non-generic struct by offset.
type FieldHandle struct {
	Def    *StructDef
	Offset uint16
}

// FieldInst names a field of a generic struct instantiation.
type FieldInst struct {
	Def      *StructDef
	Offset   uint16
	TypeArgs []*Type
}

// VariantHandle names one variant of a non-generic enum.
type VariantHandle struct {
	Def *StructDef
	Tag uint16
}

// VariantInst names one variant of a generic enum instantiation.
type VariantInst struct {
	Def      *StructDef
	Tag      uint16
	TypeArgs []*Type
}

// Module is the loaded, linked form the interpreter executes against. The
// operand tables hold resolved pointers; the loader builds them when a module
// record is registered.
type Module struct {
	ID        types.ModuleID
	Structs   []*StructDef
	Functions []*Function
	Constants []Constant

	// Operand tables.
	FunctionRefs   []*Function
	FunctionInsts  []FunctionInst
	StructInsts    []StructInst
	FieldHandles   []FieldHandle
	FieldInsts     []FieldInst
	VariantHandles []VariantHandle
	VariantInsts   []VariantInst
	Signatures     []*Type
}

// FunctionNamed returns the defined function with the given name.
func (m *Module) FunctionNamed(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// StructNamed returns the defined struct or enum with the given name.
func (m *Module) StructNamed(name string) (*StructDef, bool) {
	for _, d := range m.Structs {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
