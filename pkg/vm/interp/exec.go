package interp

import (
	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/gas"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// step executes one instruction. It returns a non-nil exit when the frame
// hands control back to the loop, and branched=true when the instruction set
// the pc itself. Gas is charged before an instruction's effect becomes
// visible; storage and vector probes charge once their outcome is known,
// before the error (if any) propagates.
func (ip *Interpreter) step(fr *Frame, ins bytecode.Instruction) (*exit, bool, error) {
	switch ins.Op {

	// Stack and control flow.

	case bytecode.OpNop:
		return nil, false, ip.meter.ChargeSimpleInstr(gas.SimpleNop)

	case bytecode.OpPop:
		v, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.meter.ChargePop(&v)

	case bytecode.OpRet:
		if err := ip.meter.ChargeSimpleInstr(gas.SimpleRet); err != nil {
			return nil, false, err
		}
		return &exit{kind: exitReturn}, false, nil

	case bytecode.OpBrTrue:
		taken, err := ip.branchCond(gas.SimpleBrTrue)
		if err != nil {
			return nil, false, err
		}
		if taken {
			fr.pc = ins.Off
			return nil, true, nil
		}
		return nil, false, nil

	case bytecode.OpBrFalse:
		taken, err := ip.branchCond(gas.SimpleBrFalse)
		if err != nil {
			return nil, false, err
		}
		if !taken {
			fr.pc = ins.Off
			return nil, true, nil
		}
		return nil, false, nil

	case bytecode.OpBranch:
		if err := ip.meter.ChargeSimpleInstr(gas.SimpleBranch); err != nil {
			return nil, false, err
		}
		fr.pc = ins.Off
		return nil, true, nil

	case bytecode.OpAbort:
		if err := ip.meter.ChargeSimpleInstr(gas.SimpleAbort); err != nil {
			return nil, false, err
		}
		code, err := ip.popU64()
		if err != nil {
			return nil, false, err
		}
		return nil, false, vmerr.Newf(vmerr.StatusAborted,
			"%s aborted at offset %d", fr.fn.QualifiedName(), fr.pc).WithSubStatus(code)

	// Constants.

	case bytecode.OpLdU8:
		return nil, false, ip.pushLiteral(gas.SimpleLdU8, values.NewU8(uint8(ins.Num)))
	case bytecode.OpLdU16:
		return nil, false, ip.pushLiteral(gas.SimpleLdU16, values.NewU16(uint16(ins.Num)))
	case bytecode.OpLdU32:
		return nil, false, ip.pushLiteral(gas.SimpleLdU32, values.NewU32(uint32(ins.Num)))
	case bytecode.OpLdU64:
		return nil, false, ip.pushLiteral(gas.SimpleLdU64, values.NewU64(ins.Num))

	case bytecode.OpLdU128:
		if ins.Wide == nil {
			return nil, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation, "LdU128 without immediate")
		}
		v, err := values.NewU128(ins.Wide)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.pushLiteral(gas.SimpleLdU128, v)

	case bytecode.OpLdU256:
		if ins.Wide == nil {
			return nil, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation, "LdU256 without immediate")
		}
		return nil, false, ip.pushLiteral(gas.SimpleLdU256, values.NewU256(ins.Wide))

	case bytecode.OpLdTrue:
		return nil, false, ip.pushLiteral(gas.SimpleLdTrue, values.NewBool(true))
	case bytecode.OpLdFalse:
		return nil, false, ip.pushLiteral(gas.SimpleLdFalse, values.NewBool(false))

	case bytecode.OpLdConst:
		return nil, false, ip.loadConstant(fr, ins.Idx)

	// Integer casts.

	case bytecode.OpCastU8:
		return nil, false, ip.castOp(gas.SimpleCastU8, values.KindU8)
	case bytecode.OpCastU16:
		return nil, false, ip.castOp(gas.SimpleCastU16, values.KindU16)
	case bytecode.OpCastU32:
		return nil, false, ip.castOp(gas.SimpleCastU32, values.KindU32)
	case bytecode.OpCastU64:
		return nil, false, ip.castOp(gas.SimpleCastU64, values.KindU64)
	case bytecode.OpCastU128:
		return nil, false, ip.castOp(gas.SimpleCastU128, values.KindU128)
	case bytecode.OpCastU256:
		return nil, false, ip.castOp(gas.SimpleCastU256, values.KindU256)

	// Arithmetic, bitwise, boolean, comparison.

	case bytecode.OpAdd:
		return nil, false, ip.binaryOp(gas.SimpleAdd, values.AddChecked)
	case bytecode.OpSub:
		return nil, false, ip.binaryOp(gas.SimpleSub, values.SubChecked)
	case bytecode.OpMul:
		return nil, false, ip.binaryOp(gas.SimpleMul, values.MulChecked)
	case bytecode.OpMod:
		return nil, false, ip.binaryOp(gas.SimpleMod, values.ModChecked)
	case bytecode.OpDiv:
		return nil, false, ip.binaryOp(gas.SimpleDiv, values.DivChecked)
	case bytecode.OpBitOr:
		return nil, false, ip.binaryOp(gas.SimpleBitOr, values.BitOr)
	case bytecode.OpBitAnd:
		return nil, false, ip.binaryOp(gas.SimpleBitAnd, values.BitAnd)
	case bytecode.OpXor:
		return nil, false, ip.binaryOp(gas.SimpleXor, values.BitXor)

	case bytecode.OpShl:
		return nil, false, ip.shiftOp(gas.SimpleShl, values.ShlChecked)
	case bytecode.OpShr:
		return nil, false, ip.shiftOp(gas.SimpleShr, values.ShrChecked)

	case bytecode.OpOr:
		return nil, false, ip.boolOp(gas.SimpleOr, func(a, b bool) bool { return a || b })
	case bytecode.OpAnd:
		return nil, false, ip.boolOp(gas.SimpleAnd, func(a, b bool) bool { return a && b })

	case bytecode.OpNot:
		if err := ip.meter.ChargeSimpleInstr(gas.SimpleNot); err != nil {
			return nil, false, err
		}
		b, err := ip.popBool()
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.operands.Push(values.NewBool(!b))

	case bytecode.OpLt:
		return nil, false, ip.compareOp(gas.SimpleLt, func(c int) bool { return c < 0 })
	case bytecode.OpGt:
		return nil, false, ip.compareOp(gas.SimpleGt, func(c int) bool { return c > 0 })
	case bytecode.OpLe:
		return nil, false, ip.compareOp(gas.SimpleLe, func(c int) bool { return c <= 0 })
	case bytecode.OpGe:
		return nil, false, ip.compareOp(gas.SimpleGe, func(c int) bool { return c >= 0 })

	case bytecode.OpEq:
		return nil, false, ip.equalityOp(false)
	case bytecode.OpNeq:
		return nil, false, ip.equalityOp(true)

	// Locals and references.

	case bytecode.OpCopyLoc:
		v, err := fr.locals.CopyLoc(int(ins.Idx))
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeCopyLoc(&v); err != nil {
			return nil, false, err
		}
		return nil, false, ip.operands.Push(v)

	case bytecode.OpMoveLoc:
		v, err := fr.locals.MoveLoc(int(ins.Idx))
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeMoveLoc(&v); err != nil {
			return nil, false, err
		}
		return nil, false, ip.operands.Push(v)

	case bytecode.OpStLoc:
		v, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeStoreLoc(&v); err != nil {
			return nil, false, err
		}
		return nil, false, fr.locals.StoreLoc(int(ins.Idx), v)

	case bytecode.OpImmBorrowLoc:
		return nil, false, ip.borrowLocal(fr, gas.SimpleImmBorrowLoc, ins.Idx, false)
	case bytecode.OpMutBorrowLoc:
		return nil, false, ip.borrowLocal(fr, gas.SimpleMutBorrowLoc, ins.Idx, true)

	case bytecode.OpImmBorrowField:
		h, err := fr.resolver.FieldHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowField(gas.SimpleImmBorrowField, h.Offset, false)
	case bytecode.OpMutBorrowField:
		h, err := fr.resolver.FieldHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowField(gas.SimpleMutBorrowField, h.Offset, true)
	case bytecode.OpImmBorrowFieldGeneric:
		fi, err := fr.resolver.FieldInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowField(gas.SimpleImmBorrowField, fi.Offset, false)
	case bytecode.OpMutBorrowFieldGeneric:
		fi, err := fr.resolver.FieldInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowField(gas.SimpleMutBorrowField, fi.Offset, true)

	case bytecode.OpFreezeRef:
		if err := ip.meter.ChargeSimpleInstr(gas.SimpleFreezeRef); err != nil {
			return nil, false, err
		}
		ref, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		frozen, err := ref.Freeze()
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.operands.Push(frozen)

	case bytecode.OpReadRef:
		ref, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		target, err := ref.RefTarget()
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeReadRef(target); err != nil {
			return nil, false, err
		}
		v, err := ref.ReadRef()
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.operands.Push(v)

	case bytecode.OpWriteRef:
		ref, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		v, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeWriteRef(&v); err != nil {
			return nil, false, err
		}
		return nil, false, ref.WriteRef(v)

	// Calls. The loop charges and dispatches; pc stays on the call
	// instruction until the callee returns.

	case bytecode.OpCall:
		return &exit{kind: exitCall, idx: ins.Idx}, false, nil
	case bytecode.OpCallGeneric:
		return &exit{kind: exitCallGeneric, idx: ins.Idx}, false, nil

	// Structs and variants.

	case bytecode.OpPack:
		def, err := fr.resolver.StructAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.packStruct(fr.resolver.StructType(def), len(def.Fields), false)

	case bytecode.OpPackGeneric:
		inst, err := fr.resolver.StructInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		ty, err := fr.resolver.StructInstType(inst, fr.typeArgs)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.packStruct(ty, len(inst.Def.Fields), true)

	case bytecode.OpUnpack:
		def, err := fr.resolver.StructAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.unpackStruct(len(def.Fields), false)

	case bytecode.OpUnpackGeneric:
		inst, err := fr.resolver.StructInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.unpackStruct(len(inst.Def.Fields), true)

	case bytecode.OpPackVariant:
		h, err := fr.resolver.VariantHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		variant, err := h.Def.VariantAt(h.Tag)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.packVariant(fr.resolver.StructType(h.Def), h.Tag, len(variant.Fields), false)

	case bytecode.OpPackVariantGeneric:
		vi, err := fr.resolver.VariantInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		variant, err := vi.Def.VariantAt(vi.Tag)
		if err != nil {
			return nil, false, err
		}
		si := bytecode.StructInst{Def: vi.Def, TypeArgs: vi.TypeArgs}
		ty, err := fr.resolver.StructInstType(&si, fr.typeArgs)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.packVariant(ty, vi.Tag, len(variant.Fields), true)

	case bytecode.OpUnpackVariant:
		h, err := fr.resolver.VariantHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		variant, err := h.Def.VariantAt(h.Tag)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.unpackVariant(h.Tag, len(variant.Fields), false)

	case bytecode.OpUnpackVariantGeneric:
		vi, err := fr.resolver.VariantInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		variant, err := vi.Def.VariantAt(vi.Tag)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.unpackVariant(vi.Tag, len(variant.Fields), true)

	case bytecode.OpUnpackVariantImmRef:
		h, err := fr.resolver.VariantHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowVariantFields(gas.SimpleImmBorrowVariantField, h.Tag, false)
	case bytecode.OpUnpackVariantMutRef:
		h, err := fr.resolver.VariantHandleAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowVariantFields(gas.SimpleMutBorrowVariantField, h.Tag, true)
	case bytecode.OpUnpackVariantGenericImmRef:
		vi, err := fr.resolver.VariantInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowVariantFields(gas.SimpleImmBorrowVariantField, vi.Tag, false)
	case bytecode.OpUnpackVariantGenericMutRef:
		vi, err := fr.resolver.VariantInstAt(ins.Idx)
		if err != nil {
			return nil, false, err
		}
		return nil, false, ip.borrowVariantFields(gas.SimpleMutBorrowVariantField, vi.Tag, true)

	case bytecode.OpVariantSwitch:
		ref, err := ip.operands.Pop()
		if err != nil {
			return nil, false, err
		}
		target, err := ref.RefTarget()
		if err != nil {
			return nil, false, err
		}
		if err := ip.meter.ChargeVariantSwitch(target); err != nil {
			return nil, false, err
		}
		tag, err := target.VariantTag()
		if err != nil {
			return nil, false, err
		}
		if int(ins.Idx) >= len(fr.fn.JumpTables) {
			return nil, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
				"jump table %d out of range in %s", ins.Idx, fr.fn.QualifiedName())
		}
		table := fr.fn.JumpTables[ins.Idx]
		if int(tag) >= len(table) {
			return nil, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
				"variant tag %d outside jump table of %d entries", tag, len(table))
		}
		fr.pc = table[tag]
		return nil, true, nil

	// Global storage.

	case bytecode.OpExists:
		return nil, false, ip.opExists(fr, ins.Idx, false)
	case bytecode.OpExistsGeneric:
		return nil, false, ip.opExists(fr, ins.Idx, true)
	case bytecode.OpMoveFrom:
		return nil, false, ip.opMoveFrom(fr, ins.Idx, false)
	case bytecode.OpMoveFromGeneric:
		return nil, false, ip.opMoveFrom(fr, ins.Idx, true)
	case bytecode.OpMoveTo:
		return nil, false, ip.opMoveTo(fr, ins.Idx, false)
	case bytecode.OpMoveToGeneric:
		return nil, false, ip.opMoveTo(fr, ins.Idx, true)
	case bytecode.OpImmBorrowGlobal:
		return nil, false, ip.opBorrowGlobal(fr, ins.Idx, false, false)
	case bytecode.OpImmBorrowGlobalGeneric:
		return nil, false, ip.opBorrowGlobal(fr, ins.Idx, false, true)
	case bytecode.OpMutBorrowGlobal:
		return nil, false, ip.opBorrowGlobal(fr, ins.Idx, true, false)
	case bytecode.OpMutBorrowGlobalGeneric:
		return nil, false, ip.opBorrowGlobal(fr, ins.Idx, true, true)

	// Vectors.

	case bytecode.OpVecPack:
		return nil, false, ip.opVecPack(fr, ins.Idx, ins.Num)
	case bytecode.OpVecLen:
		return nil, false, ip.opVecLen()
	case bytecode.OpVecImmBorrow:
		return nil, false, ip.opVecBorrow(false)
	case bytecode.OpVecMutBorrow:
		return nil, false, ip.opVecBorrow(true)
	case bytecode.OpVecPushBack:
		return nil, false, ip.opVecPushBack(fr, ins.Idx)
	case bytecode.OpVecPopBack:
		return nil, false, ip.opVecPopBack()
	case bytecode.OpVecUnpack:
		return nil, false, ip.opVecUnpack(ins.Num)
	case bytecode.OpVecSwap:
		return nil, false, ip.opVecSwap()

	default:
		return nil, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"unknown opcode %s at offset %d in %s", ins.Op, fr.pc, fr.fn.QualifiedName())
	}
}

// Typed pops.

func (ip *Interpreter) popBool() (bool, error) {
	v, err := ip.operands.Pop()
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

func (ip *Interpreter) popU64() (uint64, error) {
	v, err := ip.operands.Pop()
	if err != nil {
		return 0, err
	}
	return v.AsU64()
}

func (ip *Interpreter) popAddress() (types.Address, error) {
	v, err := ip.operands.Pop()
	if err != nil {
		return types.Address{}, err
	}
	return v.AsAddress()
}

// pushLiteral charges a load instruction and pushes its immediate.
func (ip *Interpreter) pushLiteral(si gas.SimpleInstr, v values.Value) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	return ip.operands.Push(v)
}

// loadConstant charges by constant size, decodes, charges for the decoded
// value, and pushes it. Pooled constants were validated at publish time, so a
// decode failure here is an invariant violation.
func (ip *Interpreter) loadConstant(fr *Frame, idx uint16) error {
	c, err := fr.resolver.ConstantAt(idx)
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeLdConst(len(c.Data)); err != nil {
		return err
	}
	v, err := values.Deserialize(c.Data, c.Type)
	if err != nil {
		return vmerr.Newf(vmerr.StatusMalformedConstant, "constant %d: %v", idx, err)
	}
	if err := ip.meter.ChargeLdConstAfter(&v); err != nil {
		return err
	}
	return ip.operands.Push(v)
}

func (ip *Interpreter) castOp(si gas.SimpleInstr, to values.Kind) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	v, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	out, err := values.CastChecked(v, to)
	if err != nil {
		return err
	}
	return ip.operands.Push(out)
}

func (ip *Interpreter) binaryOp(si gas.SimpleInstr, f func(a, b values.Value) (values.Value, error)) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	b, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	a, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	out, err := f(a, b)
	if err != nil {
		return err
	}
	return ip.operands.Push(out)
}

func (ip *Interpreter) shiftOp(si gas.SimpleInstr, f func(v values.Value, amount uint8) (values.Value, error)) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	av, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	amount, err := av.AsU8()
	if err != nil {
		return err
	}
	v, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	out, err := f(v, amount)
	if err != nil {
		return err
	}
	return ip.operands.Push(out)
}

func (ip *Interpreter) boolOp(si gas.SimpleInstr, f func(a, b bool) bool) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	b, err := ip.popBool()
	if err != nil {
		return err
	}
	a, err := ip.popBool()
	if err != nil {
		return err
	}
	return ip.operands.Push(values.NewBool(f(a, b)))
}

func (ip *Interpreter) compareOp(si gas.SimpleInstr, accept func(c int) bool) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	b, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	a, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	c, err := values.Cmp(a, b)
	if err != nil {
		return err
	}
	return ip.operands.Push(values.NewBool(accept(c)))
}

func (ip *Interpreter) equalityOp(negate bool) error {
	b, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	a, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	if negate {
		err = ip.meter.ChargeNeq(&a, &b)
	} else {
		err = ip.meter.ChargeEq(&a, &b)
	}
	if err != nil {
		return err
	}
	eq, err := a.Equals(&b)
	if err != nil {
		return err
	}
	if negate {
		eq = !eq
	}
	return ip.operands.Push(values.NewBool(eq))
}

// branchCond charges a conditional branch and pops its condition.
func (ip *Interpreter) branchCond(si gas.SimpleInstr) (bool, error) {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return false, err
	}
	return ip.popBool()
}

func (ip *Interpreter) borrowLocal(fr *Frame, si gas.SimpleInstr, idx uint16, mut bool) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	ref, err := fr.locals.BorrowLoc(int(idx), mut)
	if err != nil {
		return err
	}
	return ip.operands.Push(ref)
}

// borrowField pops a struct reference and pushes a reference to one field.
// A mutable field borrow requires a mutable struct reference.
func (ip *Interpreter) borrowField(si gas.SimpleInstr, offset uint16, mut bool) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	var target *values.Value
	if mut {
		target, err = ref.MutRefTarget()
	} else {
		target, err = ref.RefTarget()
	}
	if err != nil {
		return err
	}
	field, err := target.BorrowField(offset, mut)
	if err != nil {
		return err
	}
	return ip.operands.Push(field)
}

// packStruct depth-checks the built type before any operand is consumed, so
// an oversized instantiation fails with the fields still on the stack.
func (ip *Interpreter) packStruct(ty *bytecode.Type, fieldCount int, generic bool) error {
	if err := ip.checkDepth(ty); err != nil {
		return err
	}
	if err := ip.meter.ChargePack(generic, fieldCount); err != nil {
		return err
	}
	fields, err := ip.operands.PopN(fieldCount)
	if err != nil {
		return err
	}
	return ip.operands.Push(values.NewStruct(fields))
}

func (ip *Interpreter) packVariant(ty *bytecode.Type, tag uint16, fieldCount int, generic bool) error {
	if err := ip.checkDepth(ty); err != nil {
		return err
	}
	if err := ip.meter.ChargePack(generic, fieldCount); err != nil {
		return err
	}
	fields, err := ip.operands.PopN(fieldCount)
	if err != nil {
		return err
	}
	return ip.operands.Push(values.NewVariant(tag, fields))
}

func (ip *Interpreter) unpackStruct(fieldCount int, generic bool) error {
	v, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeUnpack(generic, fieldCount); err != nil {
		return err
	}
	fields, err := v.Unpack()
	if err != nil {
		return err
	}
	for i := range fields {
		if err := ip.operands.Push(fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (ip *Interpreter) unpackVariant(tag uint16, fieldCount int, generic bool) error {
	v, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeUnpack(generic, fieldCount); err != nil {
		return err
	}
	fields, err := v.VariantUnpack(tag)
	if err != nil {
		return err
	}
	for i := range fields {
		if err := ip.operands.Push(fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// borrowVariantFields pops a variant reference, checks the tag, and pushes a
// reference to every field of the active variant.
func (ip *Interpreter) borrowVariantFields(si gas.SimpleInstr, tag uint16, mut bool) error {
	if err := ip.meter.ChargeSimpleInstr(si); err != nil {
		return err
	}
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	var target *values.Value
	if mut {
		target, err = ref.MutRefTarget()
	} else {
		target, err = ref.RefTarget()
	}
	if err != nil {
		return err
	}
	refs, err := target.VariantBorrowAll(tag, mut)
	if err != nil {
		return err
	}
	for i := range refs {
		if err := ip.operands.Push(refs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Global storage.

// globalType resolves the resource type a storage instruction names.
func (ip *Interpreter) globalType(fr *Frame, idx uint16, generic bool) (*bytecode.Type, error) {
	if !generic {
		def, err := fr.resolver.StructAt(idx)
		if err != nil {
			return nil, err
		}
		return fr.resolver.StructType(def), nil
	}
	inst, err := fr.resolver.StructInstAt(idx)
	if err != nil {
		return nil, err
	}
	return fr.resolver.StructInstType(inst, fr.typeArgs)
}

// loadGlobal resolves the slot through the data store and charges the first
// touch of an (address, type) pair. Store errors are the embedder's and pass
// through unchanged.
func (ip *Interpreter) loadGlobal(addr types.Address, ty *bytecode.Type) (*values.GlobalValue, error) {
	gv, bytesLoaded, fresh, err := ip.store.LoadResource(addr, ty)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := ip.meter.ChargeLoadResource(bytesLoaded, gv.Exists()); err != nil {
			return nil, err
		}
	}
	return gv, nil
}

func (ip *Interpreter) opExists(fr *Frame, idx uint16, generic bool) error {
	addr, err := ip.popAddress()
	if err != nil {
		return err
	}
	ty, err := ip.globalType(fr, idx, generic)
	if err != nil {
		return err
	}
	gv, err := ip.loadGlobal(addr, ty)
	if err != nil {
		return err
	}
	exists := gv.Exists()
	if err := ip.meter.ChargeExists(generic, exists); err != nil {
		return err
	}
	return ip.operands.Push(values.NewBool(exists))
}

func (ip *Interpreter) opBorrowGlobal(fr *Frame, idx uint16, mut, generic bool) error {
	addr, err := ip.popAddress()
	if err != nil {
		return err
	}
	ty, err := ip.globalType(fr, idx, generic)
	if err != nil {
		return err
	}
	gv, err := ip.loadGlobal(addr, ty)
	if err != nil {
		return err
	}
	ref, berr := gv.Borrow(mut)
	if err := ip.meter.ChargeBorrowGlobal(mut, generic, berr == nil); err != nil {
		return err
	}
	if berr != nil {
		return berr
	}
	return ip.operands.Push(ref)
}

func (ip *Interpreter) opMoveFrom(fr *Frame, idx uint16, generic bool) error {
	addr, err := ip.popAddress()
	if err != nil {
		return err
	}
	ty, err := ip.globalType(fr, idx, generic)
	if err != nil {
		return err
	}
	gv, err := ip.loadGlobal(addr, ty)
	if err != nil {
		return err
	}
	v, merr := gv.MoveFrom()
	var view *values.Value
	if merr == nil {
		view = &v
	}
	if err := ip.meter.ChargeMoveFrom(generic, view); err != nil {
		return err
	}
	if merr != nil {
		return merr
	}
	return ip.operands.Push(v)
}

func (ip *Interpreter) opMoveTo(fr *Frame, idx uint16, generic bool) error {
	res, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	sref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	addr, err := signerAddress(sref)
	if err != nil {
		return err
	}
	ty, err := ip.globalType(fr, idx, generic)
	if err != nil {
		return err
	}
	gv, err := ip.loadGlobal(addr, ty)
	if err != nil {
		return err
	}
	merr := gv.MoveTo(res)
	if err := ip.meter.ChargeMoveTo(generic, &res, merr == nil); err != nil {
		return err
	}
	return merr
}

// signerAddress reads the target address out of a signer reference. A signer
// is a struct whose only field is the address it stands for.
func signerAddress(sref values.Value) (types.Address, error) {
	target, err := sref.RefTarget()
	if err != nil {
		return types.Address{}, err
	}
	fieldRef, err := target.BorrowField(0, false)
	if err != nil {
		return types.Address{}, err
	}
	addrVal, err := fieldRef.ReadRef()
	if err != nil {
		return types.Address{}, err
	}
	return addrVal.AsAddress()
}

// Vectors.

func (ip *Interpreter) opVecPack(fr *Frame, idx uint16, n uint64) error {
	elemTy, err := fr.resolver.SignatureInstType(idx, fr.typeArgs)
	if err != nil {
		return err
	}
	if err := ip.checkDepth(bytecode.NewVectorType(elemTy)); err != nil {
		return err
	}
	if err := ip.meter.ChargeVecPack(int(n)); err != nil {
		return err
	}
	elems, err := ip.operands.PopN(int(n))
	if err != nil {
		return err
	}
	v, err := values.NewVector(elemTy, elems)
	if err != nil {
		return err
	}
	return ip.operands.Push(v)
}

func (ip *Interpreter) opVecLen() error {
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	target, err := ref.RefTarget()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeVecLen(); err != nil {
		return err
	}
	n, err := target.VectorLen()
	if err != nil {
		return err
	}
	return ip.operands.Push(values.NewU64(n))
}

func (ip *Interpreter) opVecBorrow(mut bool) error {
	idx, err := ip.popU64()
	if err != nil {
		return err
	}
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	var target *values.Value
	if mut {
		target, err = ref.MutRefTarget()
	} else {
		target, err = ref.RefTarget()
	}
	if err != nil {
		return err
	}
	elemRef, berr := target.VectorBorrow(idx, mut)
	if err := ip.meter.ChargeVecBorrow(mut, berr == nil); err != nil {
		return err
	}
	if berr != nil {
		return berr
	}
	return ip.operands.Push(elemRef)
}

func (ip *Interpreter) opVecPushBack(fr *Frame, idx uint16) error {
	elemTy, err := fr.resolver.SignatureInstType(idx, fr.typeArgs)
	if err != nil {
		return err
	}
	elem, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	target, err := ref.MutRefTarget()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeVecPushBack(&elem); err != nil {
		return err
	}
	return target.VectorPush(elem, elemTy, ip.limits.MaxVecLen)
}

func (ip *Interpreter) opVecPopBack() error {
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	target, err := ref.MutRefTarget()
	if err != nil {
		return err
	}
	v, perr := target.VectorPop()
	var view *values.Value
	if perr == nil {
		view = &v
	}
	if err := ip.meter.ChargeVecPopBack(view); err != nil {
		return err
	}
	if perr != nil {
		return perr
	}
	return ip.operands.Push(v)
}

func (ip *Interpreter) opVecUnpack(n uint64) error {
	v, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeVecUnpack(int(n)); err != nil {
		return err
	}
	elems, err := v.VectorUnpack(n)
	if err != nil {
		return err
	}
	for i := range elems {
		if err := ip.operands.Push(elems[i]); err != nil {
			return err
		}
	}
	return nil
}

func (ip *Interpreter) opVecSwap() error {
	j, err := ip.popU64()
	if err != nil {
		return err
	}
	i, err := ip.popU64()
	if err != nil {
		return err
	}
	ref, err := ip.operands.Pop()
	if err != nil {
		return err
	}
	target, err := ref.MutRefTarget()
	if err != nil {
		return err
	}
	if err := ip.meter.ChargeVecSwap(); err != nil {
		return err
	}
	return target.VectorSwap(i, j)
}

// checkDepth bounds the nesting of a fully instantiated type. Zero disables
// the check.
func (ip *Interpreter) checkDepth(ty *bytecode.Type) error {
	if ip.limits.MaxValueDepth == 0 {
		return nil
	}
	d, err := ip.loader.TypeDepth(ty)
	if err != nil {
		return err
	}
	if d > ip.limits.MaxValueDepth {
		return vmerr.Newf(vmerr.StatusDepthLimitExceeded,
			"value of type %s nests %d deep (limit %d)", ty, d, ip.limits.MaxValueDepth)
	}
	return nil
}
