// Package interp implements the Ember bytecode interpreter.
//
// The machine runs one verified function call to completion against a shared
// operand stack, a bounded call stack, a gas meter, a global-storage view,
// and the native function bridge. Bytecode reaching it is assumed verified;
// the checks performed here are the dynamic ones verification cannot do
// (arithmetic, gas, limits, storage state, instantiation depth) plus
// invariant checks whose failure indicates a broken toolchain. Invariant
// violations are logged at error severity and, when enabled, carry a full
// machine-state dump.
package interp

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/gas"
	"github.com/fortiblox/ember/pkg/vm/loader"
	"github.com/fortiblox/ember/pkg/vm/native"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// DataStore is the global-storage view an execution runs against. Every
// (address, type) slot is cached: repeat loads return the same GlobalValue
// and report fresh=false at no byte cost. store.TxStore implements it.
type DataStore interface {
	LoadResource(addr types.Address, ty *bytecode.Type) (gv *values.GlobalValue, bytesLoaded int, fresh bool, err error)
}

// Options configures an interpreter.
type Options struct {
	// Limits are the hard execution bounds. The zero value means
	// vm.DefaultLimits().
	Limits vm.RuntimeLimits

	// Natives resolves native function implementations. Nil means an empty
	// registry; calling any native then fails as a missing implementation.
	Natives *native.Registry

	// Extensions is the session state bag handed to natives. Nil means an
	// empty bag.
	Extensions *native.Extensions

	// Logger receives invariant-violation reports and debug-native output.
	// Nil means no logging.
	Logger *zap.Logger

	// DumpOnViolation attaches a machine-state dump to invariant-violation
	// logs.
	DumpOnViolation bool

	// ImplicitReturn treats running off the end of a code body as Return
	// instead of a pc-overflow error. Test harnesses execute instruction
	// fragments with it; production executions leave it off.
	ImplicitReturn bool
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{Limits: vm.DefaultLimits()}
}

// exitKind says how a frame's code handed control back to the loop.
type exitKind uint8

const (
	exitReturn exitKind = iota
	exitCall
	exitCallGeneric
)

type exit struct {
	kind exitKind
	idx  uint16
}

// Interpreter executes one function call. An instance runs a single
// execution; build a fresh one per call.
type Interpreter struct {
	operands *Stack
	frames   *CallStack
	loader   *loader.Loader
	store    DataStore
	meter    gas.Meter
	natives  *native.Registry
	exts     *native.Extensions
	limits   vm.RuntimeLimits
	logger   *zap.Logger
	opts     Options
	used     bool
}

// New builds an interpreter over a loader, a data store, and a gas meter.
func New(ld *loader.Loader, store DataStore, meter gas.Meter, opts Options) *Interpreter {
	if opts.Limits == (vm.RuntimeLimits{}) {
		opts.Limits = vm.DefaultLimits()
	}
	natives := opts.Natives
	if natives == nil {
		natives = native.NewRegistry()
	}
	exts := opts.Extensions
	if exts == nil {
		exts = native.NewExtensions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		operands: NewStack(opts.Limits.OperandStackLimit),
		frames:   NewCallStack(opts.Limits.CallStackLimit),
		loader:   ld,
		store:    store,
		meter:    meter,
		natives:  natives,
		exts:     exts,
		limits:   opts.Limits,
		logger:   logger,
		opts:     opts,
	}
}

// Execute runs a function call to completion and returns the values left on
// the operand stack. typeArgs must be concrete; args are owned by the
// machine. Errors carry the failing function and code offset, and data-store
// errors propagate unchanged.
func (ip *Interpreter) Execute(fn *bytecode.Function, typeArgs []*bytecode.Type, args []values.Value) ([]values.Value, error) {
	if ip.used {
		return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"interpreter reused; one instance runs one execution")
	}
	ip.used = true

	if len(args) != int(fn.ParamCount) {
		return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"%s takes %d arguments, got %d", fn.QualifiedName(), fn.ParamCount, len(args))
	}
	if len(typeArgs) != int(fn.TypeParamCount) {
		return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"%s takes %d type arguments, got %d", fn.QualifiedName(), fn.TypeParamCount, len(typeArgs))
	}
	for i, ta := range typeArgs {
		if ta.ContainsParams() {
			return nil, vmerr.Newf(vmerr.StatusUnresolvedTypeParameter,
				"type argument %d of %s is not concrete", i, fn.QualifiedName())
		}
	}

	if err := ip.chargeCall(fn, len(typeArgs) > 0, len(typeArgs)); err != nil {
		return nil, ip.finishError(err, fn)
	}

	if fn.IsNative {
		if err := ip.meter.ChargeNativeBefore(args); err != nil {
			return nil, ip.finishError(err, fn)
		}
		res, err := ip.invokeNative(fn, typeArgs, args)
		if err != nil {
			return nil, ip.finishError(err, fn)
		}
		return res, nil
	}

	frame, err := ip.newFrame(fn, typeArgs, args)
	if err != nil {
		return nil, ip.finishError(err, fn)
	}
	if err := ip.frames.Push(frame); err != nil {
		return nil, ip.finishError(err, fn)
	}
	if err := ip.run(); err != nil {
		return nil, ip.finishError(err, fn)
	}
	return ip.operands.Drain(), nil
}

func (ip *Interpreter) chargeCall(fn *bytecode.Function, generic bool, typeArgCount int) error {
	if generic {
		return ip.meter.ChargeCallGeneric(typeArgCount, int(fn.ParamCount), int(fn.LocalCount))
	}
	return ip.meter.ChargeCall(int(fn.ParamCount), int(fn.LocalCount))
}

func (ip *Interpreter) newFrame(fn *bytecode.Function, typeArgs []*bytecode.Type, args []values.Value) (*Frame, error) {
	res, err := ip.loader.ResolverForFunction(fn)
	if err != nil {
		return nil, err
	}
	locals := values.NewLocals(int(fn.LocalCount))
	for i, a := range args {
		if err := locals.StoreLoc(i, a); err != nil {
			return nil, err
		}
	}
	return &Frame{fn: fn, locals: locals, typeArgs: typeArgs, resolver: res}, nil
}

// run drives the frame loop until the root frame returns or an error stops
// the machine.
func (ip *Interpreter) run() error {
	for {
		fr := ip.frames.Top()
		ex, err := ip.runFrame(fr)
		if err != nil {
			return locate(err, fr)
		}

		switch ex.kind {
		case exitReturn:
			if err := ip.meter.ChargeDropFrame(droppedLocals(fr.locals)); err != nil {
				return locate(err, fr)
			}
			ip.frames.Pop()
			if ip.frames.Depth() == 0 {
				return nil
			}
			// Resume the caller past its call instruction.
			ip.frames.Top().pc++

		case exitCall:
			callee, err := fr.resolver.FunctionAt(ex.idx)
			if err != nil {
				return locate(err, fr)
			}
			if err := ip.call(fr, callee, nil, false, 0); err != nil {
				return locate(err, fr)
			}

		case exitCallGeneric:
			inst, err := fr.resolver.FunctionInstAt(ex.idx)
			if err != nil {
				return locate(err, fr)
			}
			targs, err := fr.resolver.InstantiateCall(inst, fr.typeArgs)
			if err != nil {
				return locate(err, fr)
			}
			if err := ip.call(fr, inst.Target, targs, true, len(targs)); err != nil {
				return locate(err, fr)
			}
		}
	}
}

// runFrame executes the current frame from its pc until it exits.
func (ip *Interpreter) runFrame(fr *Frame) (exit, error) {
	code := fr.fn.Code
	for {
		if int(fr.pc) >= len(code) {
			if ip.opts.ImplicitReturn {
				if err := ip.meter.ChargeSimpleInstr(gas.SimpleRet); err != nil {
					return exit{}, err
				}
				return exit{kind: exitReturn}, nil
			}
			return exit{}, vmerr.Newf(vmerr.StatusPCOverflow,
				"pc %d past the end of %s", fr.pc, fr.fn.QualifiedName())
		}

		ex, branched, err := ip.step(fr, code[fr.pc])
		if err != nil {
			return exit{}, err
		}
		if ex != nil {
			return *ex, nil
		}
		if !branched {
			fr.pc++
		}
	}
}

// call resolves one Call or CallGeneric out of the caller's frame: natives
// run inline on the caller's operands, everything else becomes a new frame.
func (ip *Interpreter) call(caller *Frame, callee *bytecode.Function, typeArgs []*bytecode.Type, generic bool, typeArgCount int) error {
	if err := ip.chargeCall(callee, generic, typeArgCount); err != nil {
		return err
	}

	if callee.IsNative {
		if err := ip.bridgeNative(callee, typeArgs); err != nil {
			return err
		}
		caller.pc++
		return nil
	}

	// The frame is built before the push is attempted, so a call-stack
	// overflow surfaces with the arguments already off the operand stack.
	args, err := ip.operands.PopN(int(callee.ParamCount))
	if err != nil {
		return err
	}
	frame, err := ip.newFrame(callee, typeArgs, args)
	if err != nil {
		return err
	}
	return ip.frames.Push(frame)
}

// bridgeNative runs a native callee against the shared operand stack.
func (ip *Interpreter) bridgeNative(callee *bytecode.Function, typeArgs []*bytecode.Type) error {
	argc := int(callee.ParamCount)
	views, err := ip.operands.Last(argc)
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeNativeBefore(views); err != nil {
		return err
	}
	args, err := ip.operands.PopN(argc)
	if err != nil {
		return err
	}
	res, err := ip.invokeNative(callee, typeArgs, args)
	if err != nil {
		return err
	}
	for _, v := range res {
		if err := ip.operands.Push(v); err != nil {
			return err
		}
	}
	return nil
}

// invokeNative charges for and runs a native implementation. The native's
// reported cost is charged after the call, for aborts and successes alike;
// out-of-gas beats returning results.
func (ip *Interpreter) invokeNative(callee *bytecode.Function, typeArgs []*bytecode.Type, args []values.Value) ([]values.Value, error) {
	impl, ok := ip.natives.Get(callee.ModuleID(), callee.Name)
	if !ok {
		return nil, vmerr.Newf(vmerr.StatusMissingNative,
			"no implementation registered for %s", callee.QualifiedName())
	}

	ctx := native.NewContext(ip, ip.exts, ip.logger)
	res, err := impl(ctx, typeArgs, args)
	if err != nil {
		if cerr := ip.meter.ChargeNative(res.Cost); cerr != nil {
			return nil, cerr
		}
		var e *vmerr.VMError
		if !errors.As(err, &e) {
			return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
				"native %s: %v", callee.QualifiedName(), err)
		}
		return nil, err
	}
	if err := ip.meter.ChargeNative(res.Cost); err != nil {
		return nil, err
	}
	if res.Aborted {
		return nil, vmerr.Newf(vmerr.StatusAborted, "native %s aborted", callee.QualifiedName()).
			WithSubStatus(res.AbortCode)
	}
	if len(res.Values) != int(callee.ReturnCount) {
		return nil, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"native %s returned %d values, want %d", callee.QualifiedName(), len(res.Values), callee.ReturnCount)
	}
	return res.Values, nil
}

// droppedLocals filters a torn-down frame's locals to the values frame-drop
// gas is charged for. References cost nothing to drop.
func droppedLocals(l *values.Locals) []values.Value {
	var out []values.Value
	for _, v := range l.TakeAll() {
		if !v.IsRef() {
			out = append(out, v)
		}
	}
	return out
}

// locate stamps a machine error with the frame it surfaced in. Inner
// locations win; non-VM errors (the data store's) pass through untouched.
func locate(err error, fr *Frame) error {
	var e *vmerr.VMError
	if errors.As(err, &e) {
		e.At(fr.fn.Name, fr.pc)
		e.InModule(fr.fn.ModuleID())
	}
	return err
}

// finishError classifies an execution error on the way out: verification
// statuses surfacing at runtime become invariant violations, and invariant
// violations are logged with an optional state dump.
func (ip *Interpreter) finishError(err error, entry *bytecode.Function) error {
	err = remapForRuntime(err)
	if vmerr.IsInvariantViolation(err) {
		fields := []zap.Field{zap.Error(err), zap.String("entry", entry.QualifiedName())}
		var e *vmerr.VMError
		if errors.As(err, &e) {
			fields = append(fields, zap.Stringer("status", e.Code()))
			if e.Located() {
				fn, pc := e.Location()
				fields = append(fields, zap.String("function", fn), zap.Uint16("pc", pc))
			}
		}
		if ip.opts.DumpOnViolation {
			fields = append(fields, zap.String("state", ip.stateDump()))
		}
		ip.logger.Error("invariant violation", fields...)
	}
	return err
}

// remapForRuntime converts verification-class statuses to an invariant
// violation. Verified code must not trip them; at runtime they mean the
// loader handed out a broken module.
func remapForRuntime(err error) error {
	var e *vmerr.VMError
	if !errors.As(err, &e) || e.StatusType() != vmerr.StatusTypeVerification {
		return err
	}
	out := vmerr.Newf(vmerr.StatusVerificationError,
		"%s surfaced during execution: %s", e.Code(), e.Message())
	if e.Located() {
		fn, pc := e.Location()
		out.At(fn, pc)
	}
	if id, ok := e.Module(); ok {
		out.InModule(id)
	}
	return out
}

// StackTrace renders the call stack for debugging natives, outermost frame
// first.
func (ip *Interpreter) StackTrace() string {
	var b strings.Builder
	for i, fr := range ip.frames.frames {
		fmt.Fprintf(&b, "#%d %s pc %d\n", i, fr.fn.QualifiedName(), fr.pc)
	}
	return b.String()
}

// RemainingGas reports the meter's unspent balance, for natives that budget
// their own work.
func (ip *Interpreter) RemainingGas() uint64 {
	return ip.meter.RemainingGas()
}

// stateDump renders the full machine state: every frame with its pc and
// locals, then the operand stack top-down.
func (ip *Interpreter) stateDump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "call stack (%d frames):\n", ip.frames.Depth())
	for i, fr := range ip.frames.frames {
		fmt.Fprintf(&b, "#%d %s pc %d\n", i, fr.fn.QualifiedName(), fr.pc)
		for j := 0; j < fr.locals.Count(); j++ {
			fmt.Fprintf(&b, "    local %d: %s\n", j, fr.locals.Peek(j))
		}
	}
	fmt.Fprintf(&b, "operand stack (%d values):\n", ip.operands.Len())
	for i := ip.operands.Len() - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "    %s\n", ip.operands.vals[i].String())
	}
	return b.String()
}
