// Package gas meters execution cost. The interpreter reports every unit of
// work to a Meter before (or, for storage outcomes, after) performing it;
// the meter either accepts the charge or stops the program with an
// out-of-gas error.
//
// Status is the standard meter with a fixed schedule. Unmetered returns one
// that accepts everything, for tests and read-only introspection.
package gas

import (
	"github.com/fortiblox/ember/pkg/vm/values"
)

// Gas cost constants.
const (
	// Instruction costs
	CostSimpleInstr = uint64(1) // Flat cost for basic instructions
	CostSizeUnit    = uint64(1) // Per abstract size unit copied or compared

	// Call costs
	CostCallBase       = uint64(10) // Frame setup
	CostCallPerArg     = uint64(1)  // Per argument moved into the frame
	CostCallPerLocal   = uint64(1)  // Per local slot allocated
	CostCallPerTypeArg = uint64(5)  // Per type argument instantiated

	// Constant loading
	CostLdConstBase    = uint64(4) // Base cost before decoding
	CostLdConstPerByte = uint64(1) // Per byte of constant data

	// Struct, variant, and vector costs
	CostPackBase      = uint64(2) // Pack and Unpack base
	CostPackPerField  = uint64(1) // Per field packed or unpacked
	CostGenericExtra  = uint64(2) // Surcharge for generic forms
	CostVariantSwitch = uint64(2) // Jump table dispatch
	CostVecBase       = uint64(2) // Vector operation base
	CostVecPerElem    = uint64(1) // Per element packed or unpacked

	// Global storage costs
	CostGlobalOpBase        = uint64(10)  // BorrowGlobal, Exists, MoveFrom, MoveTo base
	CostLoadResourceBase    = uint64(300) // First touch of an (address, type) slot
	CostLoadResourcePerByte = uint64(1)   // Per byte fetched from storage

	// Native function costs
	CostNativeBase = uint64(50) // Dispatch overhead before the native runs

	// Budget bounds
	BudgetDefault = uint64(1_000_000)   // Default budget per execution
	BudgetMax     = uint64(100_000_000) // Hard ceiling per execution
)

// SimpleInstr identifies an instruction with a static cost. The interpreter
// translates opcodes to these so meters never see raw bytecode.
type SimpleInstr uint8

const (
	SimpleNop SimpleInstr = iota
	SimpleRet
	SimpleBrTrue
	SimpleBrFalse
	SimpleBranch
	SimpleLdU8
	SimpleLdU16
	SimpleLdU32
	SimpleLdU64
	SimpleLdU128
	SimpleLdU256
	SimpleLdTrue
	SimpleLdFalse
	SimpleImmBorrowLoc
	SimpleMutBorrowLoc
	SimpleImmBorrowField
	SimpleMutBorrowField
	SimpleImmBorrowVariantField
	SimpleMutBorrowVariantField
	SimpleFreezeRef
	SimpleCastU8
	SimpleCastU16
	SimpleCastU32
	SimpleCastU64
	SimpleCastU128
	SimpleCastU256
	SimpleAdd
	SimpleSub
	SimpleMul
	SimpleMod
	SimpleDiv
	SimpleBitOr
	SimpleBitAnd
	SimpleXor
	SimpleShl
	SimpleShr
	SimpleOr
	SimpleAnd
	SimpleNot
	SimpleLt
	SimpleGt
	SimpleLe
	SimpleGe
	SimpleAbort
)

// Meter receives a charge for every unit of work the interpreter performs.
// Storage charges carry the operation's outcome so schedules can price
// failed probes differently from successful ones. Value arguments may be nil
// when the charged operation failed before producing one.
type Meter interface {
	ChargeSimpleInstr(i SimpleInstr) error
	ChargePop(v *values.Value) error

	ChargeCall(argCount, localCount int) error
	ChargeCallGeneric(typeArgCount, argCount, localCount int) error
	ChargeDropFrame(locals []values.Value) error

	ChargeLdConst(size int) error
	ChargeLdConstAfter(v *values.Value) error

	ChargeCopyLoc(v *values.Value) error
	ChargeMoveLoc(v *values.Value) error
	ChargeStoreLoc(v *values.Value) error

	ChargePack(generic bool, fieldCount int) error
	ChargeUnpack(generic bool, fieldCount int) error
	ChargeVariantSwitch(v *values.Value) error

	ChargeReadRef(v *values.Value) error
	ChargeWriteRef(v *values.Value) error
	ChargeEq(a, b *values.Value) error
	ChargeNeq(a, b *values.Value) error

	ChargeBorrowGlobal(mut, generic, success bool) error
	ChargeExists(generic, exists bool) error
	ChargeMoveFrom(generic bool, v *values.Value) error
	ChargeMoveTo(generic bool, v *values.Value, success bool) error
	ChargeLoadResource(bytesLoaded int, exists bool) error

	ChargeVecPack(elemCount int) error
	ChargeVecLen() error
	ChargeVecBorrow(mut, success bool) error
	ChargeVecPushBack(v *values.Value) error
	ChargeVecPopBack(v *values.Value) error
	ChargeVecUnpack(elemCount int) error
	ChargeVecSwap() error

	ChargeNativeBefore(args []values.Value) error
	ChargeNative(amount uint64) error

	RemainingGas() uint64
}
