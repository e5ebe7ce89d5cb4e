package bytecode

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Instruction is one decoded instruction. Operand meaning depends on the
// opcode: Idx names an entry in one of the enclosing module's tables (or a
// local slot), Off is a branch target, Num is a count or small immediate,
// Wide holds u128/u256 immediates.
type Instruction struct {
	Op   Opcode
	Idx  uint16
	Off  uint16
	Num  uint64
	Wide *uint256.Int
}

// String renders the instruction for traces and state dumps.
func (i Instruction) String() string {
	switch i.Op {
	case OpBrTrue, OpBrFalse, OpBranch:
		return fmt.Sprintf("%s(%d)", i.Op, i.Off)
	case OpLdU8, OpLdU16, OpLdU32, OpLdU64:
		return fmt.Sprintf("%s(%d)", i.Op, i.Num)
	case OpLdU128, OpLdU256:
		return fmt.Sprintf("%s(%s)", i.Op, i.Wide)
	case OpVecPack, OpVecUnpack:
		return fmt.Sprintf("%s(%d, %d)", i.Op, i.Idx, i.Num)
	case OpLdConst, OpCopyLoc, OpMoveLoc, OpStLoc, OpImmBorrowLoc, OpMutBorrowLoc,
		OpImmBorrowField, OpMutBorrowField, OpImmBorrowFieldGeneric, OpMutBorrowFieldGeneric,
		OpCall, OpCallGeneric,
		OpPack, OpPackGeneric, OpUnpack, OpUnpackGeneric,
		OpPackVariant, OpPackVariantGeneric, OpUnpackVariant, OpUnpackVariantGeneric,
		OpUnpackVariantImmRef, OpUnpackVariantMutRef,
		OpUnpackVariantGenericImmRef, OpUnpackVariantGenericMutRef, OpVariantSwitch,
		OpExists, OpExistsGeneric, OpMoveFrom, OpMoveFromGeneric, OpMoveTo, OpMoveToGeneric,
		OpImmBorrowGlobal, OpImmBorrowGlobalGeneric, OpMutBorrowGlobal, OpMutBorrowGlobalGeneric,
		OpVecLen, OpVecImmBorrow, OpVecMutBorrow, OpVecPushBack, OpVecPopBack, OpVecSwap:
		return fmt.Sprintf("%s(%d)", i.Op, i.Idx)
	default:
		return i.Op.String()
	}
}

// Constructors. Code in tests and tools reads better as
// []Instruction{CopyLoc(0), CopyLoc(1), Add(), Ret()} than as struct
// literals.

func Nop() Instruction  { return Instruction{Op: OpNop} }
func Pop() Instruction  { return Instruction{Op: OpPop} }
func Ret() Instruction  { return Instruction{Op: OpRet} }
func Abort() Instruction { return Instruction{Op: OpAbort} }

func BrTrue(target uint16) Instruction  { return Instruction{Op: OpBrTrue, Off: target} }
func BrFalse(target uint16) Instruction { return Instruction{Op: OpBrFalse, Off: target} }
func Branch(target uint16) Instruction  { return Instruction{Op: OpBranch, Off: target} }

func LdU8(v uint8) Instruction   { return Instruction{Op: OpLdU8, Num: uint64(v)} }
func LdU16(v uint16) Instruction { return Instruction{Op: OpLdU16, Num: uint64(v)} }
func LdU32(v uint32) Instruction { return Instruction{Op: OpLdU32, Num: uint64(v)} }
func LdU64(v uint64) Instruction { return Instruction{Op: OpLdU64, Num: v} }

func LdU128(v *uint256.Int) Instruction { return Instruction{Op: OpLdU128, Wide: v} }
func LdU256(v *uint256.Int) Instruction { return Instruction{Op: OpLdU256, Wide: v} }

func LdTrue() Instruction            { return Instruction{Op: OpLdTrue} }
func LdFalse() Instruction           { return Instruction{Op: OpLdFalse} }
func LdConst(idx uint16) Instruction { return Instruction{Op: OpLdConst, Idx: idx} }

func CastU8() Instruction   { return Instruction{Op: OpCastU8} }
func CastU16() Instruction  { return Instruction{Op: OpCastU16} }
func CastU32() Instruction  { return Instruction{Op: OpCastU32} }
func CastU64() Instruction  { return Instruction{Op: OpCastU64} }
func CastU128() Instruction { return Instruction{Op: OpCastU128} }
func CastU256() Instruction { return Instruction{Op: OpCastU256} }

func Add() Instruction    { return Instruction{Op: OpAdd} }
func Sub() Instruction    { return Instruction{Op: OpSub} }
func Mul() Instruction    { return Instruction{Op: OpMul} }
func Mod() Instruction    { return Instruction{Op: OpMod} }
func Div() Instruction    { return Instruction{Op: OpDiv} }
func BitOr() Instruction  { return Instruction{Op: OpBitOr} }
func BitAnd() Instruction { return Instruction{Op: OpBitAnd} }
func Xor() Instruction    { return Instruction{Op: OpXor} }
func Shl() Instruction    { return Instruction{Op: OpShl} }
func Shr() Instruction    { return Instruction{Op: OpShr} }
func Or() Instruction     { return Instruction{Op: OpOr} }
func And() Instruction    { return Instruction{Op: OpAnd} }
func Not() Instruction    { return Instruction{Op: OpNot} }
func Lt() Instruction     { return Instruction{Op: OpLt} }
func Gt() Instruction     { return Instruction{Op: OpGt} }
func Le() Instruction     { return Instruction{Op: OpLe} }
func Ge() Instruction     { return Instruction{Op: OpGe} }
func Eq() Instruction     { return Instruction{Op: OpEq} }
func Neq() Instruction    { return Instruction{Op: OpNeq} }

func CopyLoc(idx uint16) Instruction      { return Instruction{Op: OpCopyLoc, Idx: idx} }
func MoveLoc(idx uint16) Instruction      { return Instruction{Op: OpMoveLoc, Idx: idx} }
func StLoc(idx uint16) Instruction        { return Instruction{Op: OpStLoc, Idx: idx} }
func ImmBorrowLoc(idx uint16) Instruction { return Instruction{Op: OpImmBorrowLoc, Idx: idx} }
func MutBorrowLoc(idx uint16) Instruction { return Instruction{Op: OpMutBorrowLoc, Idx: idx} }

func ImmBorrowField(idx uint16) Instruction { return Instruction{Op: OpImmBorrowField, Idx: idx} }
func MutBorrowField(idx uint16) Instruction { return Instruction{Op: OpMutBorrowField, Idx: idx} }
func ImmBorrowFieldGeneric(idx uint16) Instruction {
	return Instruction{Op: OpImmBorrowFieldGeneric, Idx: idx}
}
func MutBorrowFieldGeneric(idx uint16) Instruction {
	return Instruction{Op: OpMutBorrowFieldGeneric, Idx: idx}
}

func FreezeRef() Instruction { return Instruction{Op: OpFreezeRef} }
func ReadRef() Instruction   { return Instruction{Op: OpReadRef} }
func WriteRef() Instruction  { return Instruction{Op: OpWriteRef} }

func Call(idx uint16) Instruction        { return Instruction{Op: OpCall, Idx: idx} }
func CallGeneric(idx uint16) Instruction { return Instruction{Op: OpCallGeneric, Idx: idx} }

func Pack(idx uint16) Instruction          { return Instruction{Op: OpPack, Idx: idx} }
func PackGeneric(idx uint16) Instruction   { return Instruction{Op: OpPackGeneric, Idx: idx} }
func Unpack(idx uint16) Instruction        { return Instruction{Op: OpUnpack, Idx: idx} }
func UnpackGeneric(idx uint16) Instruction { return Instruction{Op: OpUnpackGeneric, Idx: idx} }

func PackVariant(idx uint16) Instruction { return Instruction{Op: OpPackVariant, Idx: idx} }
func PackVariantGeneric(idx uint16) Instruction {
	return Instruction{Op: OpPackVariantGeneric, Idx: idx}
}
func UnpackVariant(idx uint16) Instruction { return Instruction{Op: OpUnpackVariant, Idx: idx} }
func UnpackVariantGeneric(idx uint16) Instruction {
	return Instruction{Op: OpUnpackVariantGeneric, Idx: idx}
}
func UnpackVariantImmRef(idx uint16) Instruction {
	return Instruction{Op: OpUnpackVariantImmRef, Idx: idx}
}
func UnpackVariantMutRef(idx uint16) Instruction {
	return Instruction{Op: OpUnpackVariantMutRef, Idx: idx}
}
func UnpackVariantGenericImmRef(idx uint16) Instruction {
	return Instruction{Op: OpUnpackVariantGenericImmRef, Idx: idx}
}
func UnpackVariantGenericMutRef(idx uint16) Instruction {
	return Instruction{Op: OpUnpackVariantGenericMutRef, Idx: idx}
}
func VariantSwitch(idx uint16) Instruction { return Instruction{Op: OpVariantSwitch, Idx: idx} }

func Exists(idx uint16) Instruction        { return Instruction{Op: OpExists, Idx: idx} }
func ExistsGeneric(idx uint16) Instruction { return Instruction{Op: OpExistsGeneric, Idx: idx} }
func MoveFrom(idx uint16) Instruction      { return Instruction{Op: OpMoveFrom, Idx: idx} }
func MoveFromGeneric(idx uint16) Instruction {
	return Instruction{Op: OpMoveFromGeneric, Idx: idx}
}
func MoveTo(idx uint16) Instruction        { return Instruction{Op: OpMoveTo, Idx: idx} }
func MoveToGeneric(idx uint16) Instruction { return Instruction{Op: OpMoveToGeneric, Idx: idx} }
func ImmBorrowGlobal(idx uint16) Instruction {
	return Instruction{Op: OpImmBorrowGlobal, Idx: idx}
}
func ImmBorrowGlobalGeneric(idx uint16) Instruction {
	return Instruction{Op: OpImmBorrowGlobalGeneric, Idx: idx}
}
func MutBorrowGlobal(idx uint16) Instruction {
	return Instruction{Op: OpMutBorrowGlobal, Idx: idx}
}
func MutBorrowGlobalGeneric(idx uint16) Instruction {
	return Instruction{Op: OpMutBorrowGlobalGeneric, Idx: idx}
}

func VecPack(sig uint16, n uint64) Instruction {
	return Instruction{Op: OpVecPack, Idx: sig, Num: n}
}
func VecLen(sig uint16) Instruction       { return Instruction{Op: OpVecLen, Idx: sig} }
func VecImmBorrow(sig uint16) Instruction { return Instruction{Op: OpVecImmBorrow, Idx: sig} }
func VecMutBorrow(sig uint16) Instruction { return Instruction{Op: OpVecMutBorrow, Idx: sig} }
func VecPushBack(sig uint16) Instruction  { return Instruction{Op: OpVecPushBack, Idx: sig} }
func VecPopBack(sig uint16) Instruction   { return Instruction{Op: OpVecPopBack, Idx: sig} }
func VecUnpack(sig uint16, n uint64) Instruction {
	return Instruction{Op: OpVecUnpack, Idx: sig, Num: n}
}
func VecSwap(sig uint16) Instruction { return Instruction{Op: OpVecSwap, Idx: sig} }
