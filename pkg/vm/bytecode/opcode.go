// Package bytecode defines the Ember instruction set and the loaded form of
// modules: functions, datatype definitions, constants, link tables, runtime
// types, and the depth formulas that bound generic instantiation.
//
// Everything here is the already-verified, already-linked representation the
// interpreter executes. There is no binary wire format at this layer; the
// loader materializes these structures from the module store.
package bytecode

import "fmt"

// Opcode identifies an instruction. The set is closed; the interpreter
// dispatches with an exhaustive switch.
type Opcode uint8

// Stack and control flow.
const (
	OpNop Opcode = iota
	OpPop
	OpRet
	OpBrTrue
	OpBrFalse
	OpBranch
	OpAbort
)

// Constants.
const (
	OpLdU8 Opcode = iota + 16
	OpLdU16
	OpLdU32
	OpLdU64
	OpLdU128
	OpLdU256
	OpLdTrue
	OpLdFalse
	OpLdConst
)

// Integer casts.
const (
	OpCastU8 Opcode = iota + 32
	OpCastU16
	OpCastU32
	OpCastU64
	OpCastU128
	OpCastU256
)

// Arithmetic, bitwise, boolean, comparison.
const (
	OpAdd Opcode = iota + 48
	OpSub
	OpMul
	OpMod
	OpDiv
	OpBitOr
	OpBitAnd
	OpXor
	OpShl
	OpShr
	OpOr
	OpAnd
	OpNot
	OpLt
	OpGt
	OpLe
	OpGe
	OpEq
	OpNeq
)

// Locals and references.
const (
	OpCopyLoc Opcode = iota + 80
	OpMoveLoc
	OpStLoc
	OpImmBorrowLoc
	OpMutBorrowLoc
	OpImmBorrowField
	OpMutBorrowField
	OpImmBorrowFieldGeneric
	OpMutBorrowFieldGeneric
	OpFreezeRef
	OpReadRef
	OpWriteRef
)

// Calls.
const (
	OpCall Opcode = iota + 96
	OpCallGeneric
)

// Structs and variants.
const (
	OpPack Opcode = iota + 104
	OpPackGeneric
	OpUnpack
	OpUnpackGeneric
	OpPackVariant
	OpPackVariantGeneric
	OpUnpackVariant
	OpUnpackVariantGeneric
	OpUnpackVariantImmRef
	OpUnpackVariantMutRef
	OpUnpackVariantGenericImmRef
	OpUnpackVariantGenericMutRef
	OpVariantSwitch
)

// Global storage.
const (
	OpExists Opcode = iota + 120
	OpExistsGeneric
	OpMoveFrom
	OpMoveFromGeneric
	OpMoveTo
	OpMoveToGeneric
	OpImmBorrowGlobal
	OpImmBorrowGlobalGeneric
	OpMutBorrowGlobal
	OpMutBorrowGlobalGeneric
)

// Vectors. The Idx operand names a single-type signature; VecPack and
// VecUnpack carry an element count in Num.
const (
	OpVecPack Opcode = iota + 136
	OpVecLen
	OpVecImmBorrow
	OpVecMutBorrow
	OpVecPushBack
	OpVecPopBack
	OpVecUnpack
	OpVecSwap
)

var opcodeNames = map[Opcode]string{
	OpNop:                        "Nop",
	OpPop:                        "Pop",
	OpRet:                        "Ret",
	OpBrTrue:                     "BrTrue",
	OpBrFalse:                    "BrFalse",
	OpBranch:                     "Branch",
	OpAbort:                      "Abort",
	OpLdU8:                       "LdU8",
	OpLdU16:                      "LdU16",
	OpLdU32:                      "LdU32",
	OpLdU64:                      "LdU64",
	OpLdU128:                     "LdU128",
	OpLdU256:                     "LdU256",
	OpLdTrue:                     "LdTrue",
	OpLdFalse:                    "LdFalse",
	OpLdConst:                    "LdConst",
	OpCastU8:                     "CastU8",
	OpCastU16:                    "CastU16",
	OpCastU32:                    "CastU32",
	OpCastU64:                    "CastU64",
	OpCastU128:                   "CastU128",
	OpCastU256:                   "CastU256",
	OpAdd:                        "Add",
	OpSub:                        "Sub",
	OpMul:                        "Mul",
	OpMod:                        "Mod",
	OpDiv:                        "Div",
	OpBitOr:                      "BitOr",
	OpBitAnd:                     "BitAnd",
	OpXor:                        "Xor",
	OpShl:                        "Shl",
	OpShr:                        "Shr",
	OpOr:                         "Or",
	OpAnd:                        "And",
	OpNot:                        "Not",
	OpLt:                         "Lt",
	OpGt:                         "Gt",
	OpLe:                         "Le",
	OpGe:                         "Ge",
	OpEq:                         "Eq",
	OpNeq:                        "Neq",
	OpCopyLoc:                    "CopyLoc",
	OpMoveLoc:                    "MoveLoc",
	OpStLoc:                      "StLoc",
	OpImmBorrowLoc:               "ImmBorrowLoc",
	OpMutBorrowLoc:               "MutBorrowLoc",
	OpImmBorrowField:             "ImmBorrowField",
	OpMutBorrowField:             "MutBorrowField",
	OpImmBorrowFieldGeneric:      "ImmBorrowFieldGeneric",
	OpMutBorrowFieldGeneric:      "MutBorrowFieldGeneric",
	OpFreezeRef:                  "FreezeRef",
	OpReadRef:                    "ReadRef",
	OpWriteRef:                   "WriteRef",
	OpCall:                       "Call",
	OpCallGeneric:                "CallGeneric",
	OpPack:                       "Pack",
	OpPackGeneric:                "PackGeneric",
	OpUnpack:                     "Unpack",
	OpUnpackGeneric:              "UnpackGeneric",
	OpPackVariant:                "PackVariant",
	OpPackVariantGeneric:         "PackVariantGeneric",
	OpUnpackVariant:              "UnpackVariant",
	OpUnpackVariantGeneric:       "UnpackVariantGeneric",
	OpUnpackVariantImmRef:        "UnpackVariantImmRef",
	OpUnpackVariantMutRef:        "UnpackVariantMutRef",
	OpUnpackVariantGenericImmRef: "UnpackVariantGenericImmRef",
	OpUnpackVariantGenericMutRef: "UnpackVariantGenericMutRef",
	OpVariantSwitch:              "VariantSwitch",
	OpExists:                     "Exists",
	OpExistsGeneric:              "ExistsGeneric",
	OpMoveFrom:                   "MoveFrom",
	OpMoveFromGeneric:            "MoveFromGeneric",
	OpMoveTo:                     "MoveTo",
	OpMoveToGeneric:              "MoveToGeneric",
	OpImmBorrowGlobal:            "ImmBorrowGlobal",
	OpImmBorrowGlobalGeneric:     "ImmBorrowGlobalGeneric",
	OpMutBorrowGlobal:            "MutBorrowGlobal",
	OpMutBorrowGlobalGeneric:     "MutBorrowGlobalGeneric",
	OpVecPack:                    "VecPack",
	OpVecLen:                     "VecLen",
	OpVecImmBorrow:               "VecImmBorrow",
	OpVecMutBorrow:               "VecMutBorrow",
	OpVecPushBack:                "VecPushBack",
	OpVecPopBack:                 "VecPopBack",
	OpVecUnpack:                  "VecUnpack",
	OpVecSwap:                    "VecSwap",
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(op))
}
