package gas

import (
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Status is the standard meter. It runs a fixed schedule against a budget
// and refuses further work once the budget is gone. The VM is single
// threaded per execution, so balances are plain fields.
type Status struct {
	balance  uint64
	consumed uint64
	limit    uint64
	charging bool
}

var _ Meter = (*Status)(nil)

// NewStatus creates a meter with the given budget, clamped to BudgetMax.
func NewStatus(budget uint64) *Status {
	if budget > BudgetMax {
		budget = BudgetMax
	}
	return &Status{
		balance:  budget,
		limit:    budget,
		charging: true,
	}
}

// Unmetered creates a meter that accepts every charge. For tests and
// read-only introspection.
func Unmetered() *Status {
	return &Status{charging: false}
}

func (s *Status) consume(cost uint64) error {
	if !s.charging {
		return nil
	}
	if s.balance < cost {
		s.consumed += s.balance
		s.balance = 0
		return vmerr.Newf(vmerr.StatusOutOfGas, "gas budget %d exhausted", s.limit)
	}
	s.balance -= cost
	s.consumed += cost
	return nil
}

// RemainingGas returns the unspent balance.
func (s *Status) RemainingGas() uint64 {
	if !s.charging {
		return BudgetMax
	}
	return s.balance
}

// GasUsed returns the total consumed so far.
func (s *Status) GasUsed() uint64 {
	return s.consumed
}

// Limit returns the starting budget.
func (s *Status) Limit() uint64 {
	return s.limit
}

// Reset restores the meter to its starting budget.
func (s *Status) Reset() {
	s.balance = s.limit
	s.consumed = 0
}

func (s *Status) ChargeSimpleInstr(i SimpleInstr) error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargePop(v *values.Value) error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargeCall(argCount, localCount int) error {
	return s.consume(CostCallBase +
		CostCallPerArg*uint64(argCount) +
		CostCallPerLocal*uint64(localCount))
}

func (s *Status) ChargeCallGeneric(typeArgCount, argCount, localCount int) error {
	return s.consume(CostCallBase +
		CostCallPerTypeArg*uint64(typeArgCount) +
		CostCallPerArg*uint64(argCount) +
		CostCallPerLocal*uint64(localCount))
}

func (s *Status) ChargeDropFrame(locals []values.Value) error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargeLdConst(size int) error {
	return s.consume(CostLdConstBase + CostLdConstPerByte*uint64(size))
}

func (s *Status) ChargeLdConstAfter(v *values.Value) error {
	return s.consume(CostSizeUnit * v.AbstractSize())
}

func (s *Status) ChargeCopyLoc(v *values.Value) error {
	return s.consume(CostSimpleInstr + CostSizeUnit*v.AbstractSize())
}

func (s *Status) ChargeMoveLoc(v *values.Value) error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargeStoreLoc(v *values.Value) error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargePack(generic bool, fieldCount int) error {
	cost := CostPackBase + CostPackPerField*uint64(fieldCount)
	if generic {
		cost += CostGenericExtra
	}
	return s.consume(cost)
}

func (s *Status) ChargeUnpack(generic bool, fieldCount int) error {
	cost := CostPackBase + CostPackPerField*uint64(fieldCount)
	if generic {
		cost += CostGenericExtra
	}
	return s.consume(cost)
}

func (s *Status) ChargeVariantSwitch(v *values.Value) error {
	return s.consume(CostVariantSwitch)
}

func (s *Status) ChargeReadRef(v *values.Value) error {
	return s.consume(CostSimpleInstr + CostSizeUnit*v.AbstractSize())
}

func (s *Status) ChargeWriteRef(v *values.Value) error {
	return s.consume(CostSimpleInstr + CostSizeUnit*v.AbstractSize())
}

func (s *Status) ChargeEq(a, b *values.Value) error {
	return s.consume(CostSimpleInstr + CostSizeUnit*(a.AbstractSize()+b.AbstractSize()))
}

func (s *Status) ChargeNeq(a, b *values.Value) error {
	return s.ChargeEq(a, b)
}

func (s *Status) ChargeBorrowGlobal(mut, generic, success bool) error {
	return s.consume(CostGlobalOpBase)
}

func (s *Status) ChargeExists(generic, exists bool) error {
	return s.consume(CostGlobalOpBase)
}

func (s *Status) ChargeMoveFrom(generic bool, v *values.Value) error {
	cost := CostGlobalOpBase
	if v != nil {
		cost += CostSizeUnit * v.AbstractSize()
	}
	return s.consume(cost)
}

func (s *Status) ChargeMoveTo(generic bool, v *values.Value, success bool) error {
	return s.consume(CostGlobalOpBase + CostSizeUnit*v.AbstractSize())
}

func (s *Status) ChargeLoadResource(bytesLoaded int, exists bool) error {
	return s.consume(CostLoadResourceBase + CostLoadResourcePerByte*uint64(bytesLoaded))
}

func (s *Status) ChargeVecPack(elemCount int) error {
	return s.consume(CostVecBase + CostVecPerElem*uint64(elemCount))
}

func (s *Status) ChargeVecLen() error {
	return s.consume(CostSimpleInstr)
}

func (s *Status) ChargeVecBorrow(mut, success bool) error {
	return s.consume(CostVecBase)
}

func (s *Status) ChargeVecPushBack(v *values.Value) error {
	return s.consume(CostVecBase + CostSizeUnit*v.AbstractSize())
}

func (s *Status) ChargeVecPopBack(v *values.Value) error {
	return s.consume(CostVecBase)
}

func (s *Status) ChargeVecUnpack(elemCount int) error {
	return s.consume(CostVecBase + CostVecPerElem*uint64(elemCount))
}

func (s *Status) ChargeVecSwap() error {
	return s.consume(CostVecBase)
}

func (s *Status) ChargeNativeBefore(args []values.Value) error {
	cost := CostNativeBase
	for i := range args {
		cost += CostSizeUnit * args[i].AbstractSize()
	}
	return s.consume(cost)
}

func (s *Status) ChargeNative(amount uint64) error {
	return s.consume(amount)
}
