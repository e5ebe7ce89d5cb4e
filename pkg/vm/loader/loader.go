// Package loader links and resolves Ember modules for execution.
//
// A Loader holds the set of registered modules and hands out Resolvers, the
// per-module view the interpreter reads operand tables through. Registration
// validates a module's tables, stamps back-pointers, and computes the depth
// formula of every datatype it defines. Generic instantiations are built
// through the loader so results are bounded and cached.
//
// Modules persist as flat Records in a bbolt-backed ModStore; Publish writes
// the record alongside registration and LoadStored relinks everything at
// startup.
package loader

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

var (
	// ErrModuleExists is returned when registering an id that is already
	// registered.
	ErrModuleExists = errors.New("module already registered")

	// ErrModuleNotFound is returned when a module id is not registered.
	ErrModuleNotFound = errors.New("module not found")

	// ErrFunctionNotFound is returned when a module has no function with the
	// requested name.
	ErrFunctionNotFound = errors.New("function not found")
)

// Default bounds for Opts.
const (
	// DefaultInstCacheSize is the entry bound of the instantiation cache.
	DefaultInstCacheSize = 1024

	// DefaultMaxTypeNodes caps the node count of an instantiated type.
	DefaultMaxTypeNodes = 256
)

// Opts configures a Loader.
type Opts struct {
	// InstCacheSize bounds the generic instantiation cache.
	InstCacheSize int

	// MaxTypeNodes caps how large a type an instantiation may build.
	MaxTypeNodes int

	// Store, when set, persists published modules and backs LoadStored.
	Store *ModStore
}

// DefaultOpts returns the default loader configuration with no store.
func DefaultOpts() Opts {
	return Opts{
		InstCacheSize: DefaultInstCacheSize,
		MaxTypeNodes:  DefaultMaxTypeNodes,
	}
}

// Loader links modules and resolves functions, types, and instantiations for
// the interpreter. Safe for concurrent use; executions share one loader.
type Loader struct {
	mu      sync.RWMutex
	modules map[types.ModuleID]*bytecode.Module

	insts *lru.Cache
	opts  Opts
}

// New returns a loader with the given options. Zero or negative bounds fall
// back to the defaults.
func New(opts Opts) *Loader {
	if opts.InstCacheSize <= 0 {
		opts.InstCacheSize = DefaultInstCacheSize
	}
	if opts.MaxTypeNodes <= 0 {
		opts.MaxTypeNodes = DefaultMaxTypeNodes
	}
	insts, _ := lru.New(opts.InstCacheSize) // size is positive, cannot fail
	return &Loader{
		modules: make(map[types.ModuleID]*bytecode.Module),
		insts:   insts,
		opts:    opts,
	}
}

// Register links and installs an in-memory module. The module's operand
// tables must already hold resolved pointers; Register validates them, sets
// function and datatype back-references, and computes depth formulas.
func (l *Loader) Register(m *bytecode.Module) error {
	return l.registerLinked([]*bytecode.Module{m})
}

// registerLinked validates a batch and installs it atomically: a bad module
// anywhere in the batch registers nothing.
func (l *Loader) registerLinked(ms []*bytecode.Module) error {
	for _, m := range ms {
		if err := validateModule(m); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range ms {
		if _, ok := l.modules[m.ID]; ok {
			return fmt.Errorf("%w: %s", ErrModuleExists, m.ID)
		}
	}
	for _, m := range ms {
		for _, f := range m.Functions {
			f.Parent = m
		}
		for _, d := range m.Structs {
			d.Module = m.ID
		}
	}
	for _, m := range ms {
		if err := ensureDepthFormulas(m); err != nil {
			return err
		}
	}
	for _, m := range ms {
		l.modules[m.ID] = m
	}
	return nil
}

// Publish registers the module and, when a store is configured, persists its
// record.
func (l *Loader) Publish(m *bytecode.Module) error {
	if err := l.Register(m); err != nil {
		return err
	}
	if l.opts.Store == nil {
		return nil
	}
	rec, err := RecordOf(m)
	if err != nil {
		return fmt.Errorf("record %s: %w", m.ID, err)
	}
	if err := l.opts.Store.Put(rec); err != nil {
		return fmt.Errorf("persist %s: %w", m.ID, err)
	}
	return nil
}

// LoadStored links and registers every module in the configured store,
// returning how many were loaded. Without a store it is a no-op.
func (l *Loader) LoadStored() (int, error) {
	if l.opts.Store == nil {
		return 0, nil
	}
	ids, err := l.opts.Store.List()
	if err != nil {
		return 0, err
	}
	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if l.has(id) {
			continue
		}
		rec, err := l.opts.Store.Get(id)
		if err != nil {
			return 0, err
		}
		recs = append(recs, rec)
	}
	if err := l.RegisterRecords(recs...); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Module returns the registered module with the given id.
func (l *Loader) Module(id types.ModuleID) (*bytecode.Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return m, nil
}

// Function returns a function defined by a registered module.
func (l *Loader) Function(id types.ModuleID, name string) (*bytecode.Function, error) {
	m, err := l.Module(id)
	if err != nil {
		return nil, err
	}
	f, ok := m.FunctionNamed(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s::%s", ErrFunctionNotFound, id.ShortString(), name)
	}
	return f, nil
}

// ModuleCount returns the number of registered modules.
func (l *Loader) ModuleCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.modules)
}

func (l *Loader) has(id types.ModuleID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.modules[id]
	return ok
}

// validateModule checks the shape the interpreter relies on: named defs,
// resolved operand tables, in-range offsets and tags. It does not verify
// bytecode.
func validateModule(m *bytecode.Module) error {
	if m == nil {
		return linkErr("nil module")
	}
	if m.ID.Name == "" {
		return linkErr("module without a name")
	}

	structs := make(map[string]bool, len(m.Structs))
	for _, d := range m.Structs {
		if d == nil || d.Name == "" {
			return linkErr("%s: unnamed datatype", m.ID)
		}
		if structs[d.Name] {
			return linkErr("%s: duplicate datatype %s", m.ID, d.Name)
		}
		structs[d.Name] = true
		if len(d.Fields) > 0 && len(d.Variants) > 0 {
			return linkErr("%s::%s: both fields and variants", m.ID.ShortString(), d.Name)
		}
		for i, v := range d.Variants {
			if v == nil {
				return linkErr("%s::%s: nil variant", m.ID.ShortString(), d.Name)
			}
			if int(v.Tag) != i {
				return linkErr("%s::%s: variant %s has tag %d at position %d",
					m.ID.ShortString(), d.Name, v.Name, v.Tag, i)
			}
		}
		if err := validateFields(d, d.Fields); err != nil {
			return err
		}
		for _, v := range d.Variants {
			if err := validateFields(d, v.Fields); err != nil {
				return err
			}
		}
	}

	funcs := make(map[string]bool, len(m.Functions))
	for _, f := range m.Functions {
		if f == nil || f.Name == "" {
			return linkErr("%s: unnamed function", m.ID)
		}
		if funcs[f.Name] {
			return linkErr("%s: duplicate function %s", m.ID, f.Name)
		}
		funcs[f.Name] = true
		if f.IsNative {
			if len(f.Code) > 0 {
				return linkErr("%s::%s: native function with code", m.ID.ShortString(), f.Name)
			}
		} else if len(f.Code) == 0 {
			return linkErr("%s::%s: function without code", m.ID.ShortString(), f.Name)
		}
		if f.LocalCount < f.ParamCount {
			return linkErr("%s::%s: %d locals for %d parameters",
				m.ID.ShortString(), f.Name, f.LocalCount, f.ParamCount)
		}
	}

	for i, ref := range m.FunctionRefs {
		if ref == nil {
			return linkErr("%s: unresolved function ref %d", m.ID, i)
		}
	}
	for i, inst := range m.FunctionInsts {
		if inst.Target == nil {
			return linkErr("%s: unresolved function instantiation %d", m.ID, i)
		}
		if err := validateTypeArgs(m, inst.TypeArgs); err != nil {
			return err
		}
	}
	for i, inst := range m.StructInsts {
		if inst.Def == nil {
			return linkErr("%s: unresolved struct instantiation %d", m.ID, i)
		}
		if err := validateTypeArgs(m, inst.TypeArgs); err != nil {
			return err
		}
	}
	for i, h := range m.FieldHandles {
		if h.Def == nil {
			return linkErr("%s: unresolved field handle %d", m.ID, i)
		}
		if int(h.Offset) >= len(h.Def.Fields) {
			return linkErr("%s: field handle %d offset %d out of range for %s",
				m.ID, i, h.Offset, h.Def.Name)
		}
	}
	for i, h := range m.FieldInsts {
		if h.Def == nil {
			return linkErr("%s: unresolved field instantiation %d", m.ID, i)
		}
		if int(h.Offset) >= len(h.Def.Fields) {
			return linkErr("%s: field instantiation %d offset %d out of range for %s",
				m.ID, i, h.Offset, h.Def.Name)
		}
	}
	for i, h := range m.VariantHandles {
		if h.Def == nil {
			return linkErr("%s: unresolved variant handle %d", m.ID, i)
		}
		if int(h.Tag) >= len(h.Def.Variants) {
			return linkErr("%s: variant handle %d tag %d out of range for %s",
				m.ID, i, h.Tag, h.Def.Name)
		}
	}
	for i, h := range m.VariantInsts {
		if h.Def == nil {
			return linkErr("%s: unresolved variant instantiation %d", m.ID, i)
		}
		if int(h.Tag) >= len(h.Def.Variants) {
			return linkErr("%s: variant instantiation %d tag %d out of range for %s",
				m.ID, i, h.Tag, h.Def.Name)
		}
	}
	for i, t := range m.Signatures {
		if t == nil {
			return linkErr("%s: nil signature %d", m.ID, i)
		}
	}
	for i, c := range m.Constants {
		if c.Type == nil {
			return linkErr("%s: constant %d without a type", m.ID, i)
		}
	}
	return nil
}

func validateFields(d *bytecode.StructDef, fields []bytecode.Field) error {
	for _, f := range fields {
		if f.Type == nil {
			return linkErr("%s: field %s without a type", d.Name, f.Name)
		}
		if err := validateFieldType(d, f.Type); err != nil {
			return err
		}
	}
	return nil
}

func validateFieldType(d *bytecode.StructDef, t *bytecode.Type) error {
	switch t.Kind {
	case bytecode.TypeReference, bytecode.TypeMutReference:
		return linkErr("%s: reference field type", d.Name)
	case bytecode.TypeParam:
		if t.Param >= d.TypeParamCount {
			return linkErr("%s: field type parameter %d out of range", d.Name, t.Param)
		}
		return nil
	case bytecode.TypeVector:
		return validateFieldType(d, t.Elem)
	case bytecode.TypeDatatype:
		if t.Def == nil {
			return linkErr("%s: field datatype unresolved", d.Name)
		}
		return nil
	case bytecode.TypeDatatypeInst:
		if t.Def == nil {
			return linkErr("%s: field datatype unresolved", d.Name)
		}
		for _, ta := range t.TypeArgs {
			if err := validateFieldType(d, ta); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func validateTypeArgs(m *bytecode.Module, targs []*bytecode.Type) error {
	for _, ta := range targs {
		if ta == nil {
			return linkErr("%s: nil type argument", m.ID)
		}
	}
	return nil
}

func linkErr(format string, args ...any) error {
	return vmerr.Newf(vmerr.StatusLinkerError, format, args...)
}
