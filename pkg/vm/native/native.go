// Package native implements the host function bridge.
//
// Natives are host functions callable from bytecode like any other function.
// Each implementation is keyed by its defining module and name; the
// interpreter pops the declared arguments off the operand stack and invokes
// the implementation directly, without building a frame. A native reports
// its own gas cost in its Result together with either return values or an
// abort code. A plain Go error from a native means the host wiring itself is
// broken and surfaces as an invariant violation, not as contract failure.
package native

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/values"
)

var (
	// ErrAlreadyRegistered is returned when the same module::name pair is
	// registered twice.
	ErrAlreadyRegistered = errors.New("native already registered")
)

// Gas charged by the stdlib natives, in base units.
const (
	CostHashBase      = uint64(85)
	CostHashPerByte   = uint64(1)
	CostVerifyBase    = uint64(510)
	CostVerifyPerByte = uint64(1)
	CostEmitBase      = uint64(52)
	CostEmitPerByte   = uint64(1)
	CostDebugPrint    = uint64(10)
)

// Function implements one native. Type arguments arrive fully concrete and
// args in declaration order; the callee owns them. A returned error is
// treated as an invariant violation by the interpreter.
type Function func(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error)

// Result is the outcome of a native call. Cost is charged to the gas meter
// after the call returns, for aborts and successes alike.
type Result struct {
	Cost      uint64
	Values    []values.Value
	Aborted   bool
	AbortCode uint64
}

// Ok builds a successful result.
func Ok(cost uint64, vals ...values.Value) Result {
	return Result{Cost: cost, Values: vals}
}

// Abort builds an aborting result carrying a module-defined code.
func Abort(cost, code uint64) Result {
	return Result{Cost: cost, Aborted: true, AbortCode: code}
}

// Machine is the slice of the running interpreter natives may look at.
type Machine interface {
	// StackTrace renders the current call stack, innermost frame last.
	StackTrace() string

	// RemainingGas reports the unspent gas balance.
	RemainingGas() uint64
}

// Context carries per-call host state into a native.
type Context struct {
	// Machine is the interpreter executing the call. Nil when a native is
	// invoked outside an execution, as direct tests do.
	Machine Machine

	// Extensions is the session's extension bag.
	Extensions *Extensions

	// Logger receives debug-native output.
	Logger *zap.Logger
}

// NewContext builds a context, defaulting nil extensions and logger so
// natives never have to nil-check them.
func NewContext(machine Machine, exts *Extensions, logger *zap.Logger) *Context {
	if exts == nil {
		exts = NewExtensions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{Machine: machine, Extensions: exts, Logger: logger}
}

type key struct {
	module types.ModuleID
	name   string
}

// Registry maps module::name to native implementations. Populate it before
// execution starts; lookups are not synchronized.
type Registry struct {
	fns map[key]Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[key]Function)}
}

// Register adds one implementation.
func (r *Registry) Register(id types.ModuleID, name string, fn Function) error {
	k := key{module: id, name: name}
	if _, ok := r.fns[k]; ok {
		return fmt.Errorf("%w: %s::%s", ErrAlreadyRegistered, id.ShortString(), name)
	}
	r.fns[k] = fn
	return nil
}

// Get looks up the implementation of a native function.
func (r *Registry) Get(id types.ModuleID, name string) (Function, bool) {
	fn, ok := r.fns[key{module: id, name: name}]
	return fn, ok
}

// Count returns the number of registered natives.
func (r *Registry) Count() int {
	return len(r.fns)
}
