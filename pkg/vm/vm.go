// Package vm implements the Ember virtual machine, the execution core of the
// Ember smart-contract platform.
//
// The VM interprets verified Ember bytecode against:
//   - a shared operand stack (callees consume arguments from and leave
//     results on the caller's operands),
//   - a bounded call stack of frames,
//   - global storage keyed by (address, type), reached through a caching
//     data store,
//   - a gas meter charged per operation,
//   - a native-function bridge for platform-provided functions.
//
// Subpackages:
//   - bytecode: instruction set, module/function/datatype definitions,
//     runtime types and depth formulas
//   - values: runtime values, locals, global slots, serialization
//   - gas: the metering protocol and the table-driven meter
//   - loader: module resolution and generic instantiation
//   - native: native function registry, context, and the platform stdlib
//   - interp: the interpreter itself
//   - runtime: the execution session tying the pieces together
//
// Bytecode reaching the interpreter is assumed verified. The checks that
// remain at runtime are the dynamic ones verification cannot do (arithmetic,
// gas, limits, storage state, instantiation depth) plus invariant checks
// whose failure indicates a broken toolchain rather than a bad program.
package vm

// Hard execution limits.
const (
	// OperandStackLimit is the maximum number of values on the shared
	// operand stack.
	OperandStackLimit = uint64(1024)

	// CallStackLimit is the maximum number of frames on the call stack.
	CallStackLimit = uint64(1024)

	// ValueDepthDefault bounds the nesting depth of any runtime value and of
	// any fully instantiated type.
	ValueDepthDefault = uint64(128)

	// VecLenDefault is the maximum element count of a runtime vector.
	VecLenDefault = uint64(262_144)
)

// RuntimeLimits carries the execution bounds enforced by the interpreter.
type RuntimeLimits struct {
	// OperandStackLimit is the operand stack slot bound.
	OperandStackLimit uint64

	// CallStackLimit is the frame count bound.
	CallStackLimit uint64

	// MaxValueDepth bounds value nesting and instantiated type depth.
	// Zero disables the check.
	MaxValueDepth uint64

	// MaxVecLen bounds vector growth through VecPushBack.
	MaxVecLen uint64
}

// DefaultLimits returns the platform limits.
func DefaultLimits() RuntimeLimits {
	return RuntimeLimits{
		OperandStackLimit: OperandStackLimit,
		CallStackLimit:    CallStackLimit,
		MaxValueDepth:     ValueDepthDefault,
		MaxVecLen:         VecLenDefault,
	}
}
