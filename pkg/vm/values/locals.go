package values

import (
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Locals is a frame's local variable array. Each slot is a heap cell so
// borrowed references stay valid while the frame runs. Slots that have not
// been assigned hold the invalid value.
type Locals struct {
	slots []*Value
}

// NewLocals returns a locals array with n unset slots.
func NewLocals(n int) *Locals {
	slots := make([]*Value, n)
	for i := range slots {
		slots[i] = &Value{}
	}
	return &Locals{slots: slots}
}

// Count returns the number of slots.
func (l *Locals) Count() int {
	return len(l.slots)
}

func (l *Locals) slot(idx int) (*Value, error) {
	if idx < 0 || idx >= len(l.slots) {
		return nil, vmerr.Newf(vmerr.StatusInvalidLocal,
			"local index %d out of range [0, %d)", idx, len(l.slots))
	}
	return l.slots[idx], nil
}

// CopyLoc returns a deep copy of the value in a slot.
func (l *Locals) CopyLoc(idx int) (Value, error) {
	cell, err := l.slot(idx)
	if err != nil {
		return Value{}, err
	}
	if cell.kind == KindInvalid {
		return Value{}, vmerr.Newf(vmerr.StatusInvalidLocal, "copy of unset local %d", idx)
	}
	return cell.Copy()
}

// MoveLoc takes the value out of a slot and leaves the invalid value behind,
// so a later store can refill the slot.
func (l *Locals) MoveLoc(idx int) (Value, error) {
	cell, err := l.slot(idx)
	if err != nil {
		return Value{}, err
	}
	if cell.kind == KindInvalid {
		return Value{}, vmerr.Newf(vmerr.StatusInvalidLocal, "move of unset local %d", idx)
	}
	out := *cell
	*cell = Value{}
	return out, nil
}

// StoreLoc puts a value into a slot. The slot becomes a fresh cell; the
// previous content is dropped.
func (l *Locals) StoreLoc(idx int, v Value) error {
	if idx < 0 || idx >= len(l.slots) {
		return vmerr.Newf(vmerr.StatusInvalidLocal,
			"local index %d out of range [0, %d)", idx, len(l.slots))
	}
	if v.kind == KindInvalid {
		return vmerr.Newf(vmerr.StatusInvalidLocal, "store of invalid value into local %d", idx)
	}
	cell := new(Value)
	*cell = v
	l.slots[idx] = cell
	return nil
}

// BorrowLoc returns a reference to a slot's cell.
func (l *Locals) BorrowLoc(idx int, mut bool) (Value, error) {
	cell, err := l.slot(idx)
	if err != nil {
		return Value{}, err
	}
	if cell.kind == KindInvalid {
		return Value{}, vmerr.Newf(vmerr.StatusInvalidLocal, "borrow of unset local %d", idx)
	}
	return NewRefTo(cell, mut), nil
}

// Peek returns a slot's cell for diagnostics, nil when idx is out of range.
// Unset slots render as the invalid value.
func (l *Locals) Peek(idx int) *Value {
	if idx < 0 || idx >= len(l.slots) {
		return nil
	}
	return l.slots[idx]
}

// TakeAll drains every live slot, leaving invalid values behind, and returns
// what was taken. Used when a frame is torn down.
func (l *Locals) TakeAll() []Value {
	var out []Value
	for _, cell := range l.slots {
		if cell.kind == KindInvalid {
			continue
		}
		out = append(out, *cell)
		*cell = Value{}
	}
	return out
}
