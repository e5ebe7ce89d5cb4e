package native

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// StdAddress returns the address the platform stdlib publishes under, 0x1.
func StdAddress() types.Address {
	var a types.Address
	a[types.AddressSize-1] = 1
	return a
}

// HashModuleID identifies the stdlib hash module.
func HashModuleID() types.ModuleID {
	return types.NewModuleID(StdAddress(), "hash")
}

// Ed25519ModuleID identifies the stdlib signature module.
func Ed25519ModuleID() types.ModuleID {
	return types.NewModuleID(StdAddress(), "ed25519")
}

// EventModuleID identifies the stdlib event module.
func EventModuleID() types.ModuleID {
	return types.NewModuleID(StdAddress(), "event")
}

// DebugModuleID identifies the stdlib debug module.
func DebugModuleID() types.ModuleID {
	return types.NewModuleID(StdAddress(), "debug")
}

// StdlibModules returns the bytecode definitions of the platform stdlib.
// Every function is native; the modules register and link like any other.
func StdlibModules() []*bytecode.Module {
	hash := &bytecode.Module{
		ID: HashModuleID(),
		Functions: []*bytecode.Function{
			nativeDef("sha2_256", 1, 1, 0),
			nativeDef("keccak256", 1, 1, 0),
			nativeDef("blake3", 1, 1, 0),
		},
	}
	ed := &bytecode.Module{
		ID: Ed25519ModuleID(),
		Functions: []*bytecode.Function{
			nativeDef("verify", 3, 1, 0),
		},
	}
	event := &bytecode.Module{
		ID: EventModuleID(),
		Functions: []*bytecode.Function{
			nativeDef("emit", 1, 0, 1),
		},
	}
	debug := &bytecode.Module{
		ID: DebugModuleID(),
		Functions: []*bytecode.Function{
			nativeDef("print", 1, 0, 1),
			nativeDef("print_stack_trace", 0, 0, 0),
		},
	}
	return []*bytecode.Module{hash, ed, event, debug}
}

func nativeDef(name string, params, returns, typeParams uint16) *bytecode.Function {
	return &bytecode.Function{
		Name:           name,
		ParamCount:     params,
		LocalCount:     params,
		ReturnCount:    returns,
		TypeParamCount: typeParams,
		IsNative:       true,
	}
}

// InstallStdlib registers every stdlib native implementation.
func InstallStdlib(r *Registry) error {
	impls := []struct {
		id   types.ModuleID
		name string
		fn   Function
	}{
		{HashModuleID(), "sha2_256", hashSha256},
		{HashModuleID(), "keccak256", hashKeccak256},
		{HashModuleID(), "blake3", hashBlake3},
		{Ed25519ModuleID(), "verify", ed25519Verify},
		{EventModuleID(), "emit", eventEmit},
		{DebugModuleID(), "print", debugPrint},
		{DebugModuleID(), "print_stack_trace", debugStackTrace},
	}
	for _, impl := range impls {
		if err := r.Register(impl.id, impl.name, impl.fn); err != nil {
			return err
		}
	}
	return nil
}

func wantArgs(name string, args []values.Value, n int) error {
	if len(args) != n {
		return vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"%s: got %d arguments, want %d", name, len(args), n)
	}
	return nil
}

func hashCost(n int) uint64 {
	return CostHashBase + CostHashPerByte*uint64(n)
}

func hashSha256(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("hash::sha2_256", args, 1); err != nil {
		return Result{}, err
	}
	data, err := args[0].AsBytes()
	if err != nil {
		return Result{}, err
	}
	sum := sha256.Sum256(data)
	return Ok(hashCost(len(data)), values.BytesVector(sum[:])), nil
}

func hashKeccak256(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("hash::keccak256", args, 1); err != nil {
		return Result{}, err
	}
	data, err := args[0].AsBytes()
	if err != nil {
		return Result{}, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return Ok(hashCost(len(data)), values.BytesVector(h.Sum(nil))), nil
}

func hashBlake3(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("hash::blake3", args, 1); err != nil {
		return Result{}, err
	}
	data, err := args[0].AsBytes()
	if err != nil {
		return Result{}, err
	}
	sum := blake3.Sum256(data)
	return Ok(hashCost(len(data)), values.BytesVector(sum[:])), nil
}

// ed25519Verify checks a signature over a message. Malformed keys and
// signatures verify as false rather than failing the call.
func ed25519Verify(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("ed25519::verify", args, 3); err != nil {
		return Result{}, err
	}
	sig, err := args[0].AsBytes()
	if err != nil {
		return Result{}, err
	}
	pub, err := args[1].AsBytes()
	if err != nil {
		return Result{}, err
	}
	msg, err := args[2].AsBytes()
	if err != nil {
		return Result{}, err
	}
	cost := CostVerifyBase + CostVerifyPerByte*uint64(len(msg))
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return Ok(cost, values.NewBool(false)), nil
	}
	ok := ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
	return Ok(cost, values.NewBool(ok)), nil
}

func eventEmit(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("event::emit", args, 1); err != nil {
		return Result{}, err
	}
	if len(typeArgs) != 1 {
		return Result{}, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"event::emit: got %d type arguments, want 1", len(typeArgs))
	}
	tag, err := typeArgs[0].Tag()
	if err != nil {
		return Result{}, err
	}
	data, err := values.Serialize(args[0], typeArgs[0])
	if err != nil {
		return Result{}, err
	}
	cost := CostEmitBase + CostEmitPerByte*uint64(len(data))
	if len(data) > MaxEventData {
		return Abort(cost, AbortEventTooLarge), nil
	}
	store, ok := ctx.Extensions.EventStore()
	if !ok {
		return Result{}, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"event::emit: event store extension is not installed")
	}
	if err := store.Append(Event{Type: tag, Data: data}); err != nil {
		return Abort(cost, AbortTooManyEvents), nil
	}
	return Ok(cost), nil
}

func debugPrint(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	if err := wantArgs("debug::print", args, 1); err != nil {
		return Result{}, err
	}
	ctx.Logger.Info("debug print", zap.String("value", args[0].String()))
	return Ok(CostDebugPrint), nil
}

func debugStackTrace(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
	trace := "<no machine>"
	if ctx.Machine != nil {
		trace = ctx.Machine.StackTrace()
	}
	ctx.Logger.Info("stack trace", zap.String("trace", trace))
	return Ok(CostDebugPrint), nil
}
