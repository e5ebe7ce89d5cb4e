package values

import (
	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// GlobalStatus tracks what has happened to one (address, type) resource slot
// during a transaction.
type GlobalStatus uint8

const (
	// GlobalNone means no resource exists at the slot.
	GlobalNone GlobalStatus = iota
	// GlobalFresh means the resource was published in this transaction.
	GlobalFresh
	// GlobalCached means the resource was loaded from storage.
	GlobalCached
	// GlobalDeleted means a loaded resource was moved out.
	GlobalDeleted
)

func (s GlobalStatus) String() string {
	switch s {
	case GlobalNone:
		return "none"
	case GlobalFresh:
		return "fresh"
	case GlobalCached:
		return "cached"
	case GlobalDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// GlobalEffect is the storage operation a slot has pending at commit time.
type GlobalEffect uint8

const (
	EffectNone GlobalEffect = iota
	EffectNew
	EffectModify
	EffectDelete
)

// GlobalValue is one resource slot. It starts either empty or cached from
// storage and moves through the status transitions as the program publishes,
// borrows, and removes the resource. A mutable borrow marks a cached slot
// dirty; the load fingerprint lets the store skip writes whose bytes did not
// actually change.
type GlobalValue struct {
	status GlobalStatus
	cell   *Value
	dirty  bool
	fp     types.Hash
	hasFP  bool
}

// NewGlobalNone returns an empty slot.
func NewGlobalNone() *GlobalValue {
	return &GlobalValue{status: GlobalNone}
}

// NewGlobalCached returns a slot holding a resource loaded from storage.
// The fingerprint is the hash of the stored bytes the value came from.
func NewGlobalCached(v Value, fp types.Hash) (*GlobalValue, error) {
	if v.kind != KindStruct && v.kind != KindVariant {
		return nil, vmerr.Newf(vmerr.StatusTypeMismatch, "cached resource is %s, want struct", v.kind)
	}
	cell := new(Value)
	*cell = v
	return &GlobalValue{status: GlobalCached, cell: cell, fp: fp, hasFP: true}, nil
}

// Status returns the slot's current status.
func (g *GlobalValue) Status() GlobalStatus {
	return g.status
}

// Exists reports whether a resource currently occupies the slot.
func (g *GlobalValue) Exists() bool {
	return g.status == GlobalFresh || g.status == GlobalCached
}

// Borrow returns a reference to the resource. A mutable borrow of a cached
// resource marks the slot dirty.
func (g *GlobalValue) Borrow(mut bool) (Value, error) {
	switch g.status {
	case GlobalFresh, GlobalCached:
		if mut && g.status == GlobalCached {
			g.dirty = true
		}
		return NewRefTo(g.cell, mut), nil
	default:
		return Value{}, vmerr.Newf(vmerr.StatusMissingData, "borrow of absent resource")
	}
}

// MoveFrom takes the resource out of the slot. A fresh resource reverts the
// slot to empty; a cached one marks it deleted.
func (g *GlobalValue) MoveFrom() (Value, error) {
	switch g.status {
	case GlobalFresh:
		g.status = GlobalNone
	case GlobalCached:
		g.status = GlobalDeleted
	default:
		return Value{}, vmerr.Newf(vmerr.StatusMissingData, "move from absent resource")
	}
	out := *g.cell
	*g.cell = Value{}
	g.cell = nil
	return out, nil
}

// MoveTo publishes a resource into the slot. Publishing over an existing
// resource fails; republishing after a delete turns the slot back into a
// dirty cached value.
func (g *GlobalValue) MoveTo(v Value) error {
	if v.kind != KindStruct && v.kind != KindVariant {
		return vmerr.Newf(vmerr.StatusTypeMismatch, "published resource is %s, want struct", v.kind)
	}
	switch g.status {
	case GlobalNone:
		g.status = GlobalFresh
	case GlobalDeleted:
		g.status = GlobalCached
		g.dirty = true
	default:
		return vmerr.Newf(vmerr.StatusResourceAlreadyExists, "resource already exists")
	}
	cell := new(Value)
	*cell = v
	g.cell = cell
	return nil
}

// Effect returns the storage operation the slot has pending.
func (g *GlobalValue) Effect() GlobalEffect {
	switch g.status {
	case GlobalFresh:
		return EffectNew
	case GlobalCached:
		if g.dirty {
			return EffectModify
		}
		return EffectNone
	case GlobalDeleted:
		return EffectDelete
	default:
		return EffectNone
	}
}

// Snapshot returns a deep copy of the resource for serialization.
func (g *GlobalValue) Snapshot() (Value, error) {
	if !g.Exists() {
		return Value{}, vmerr.Newf(vmerr.StatusMissingData, "snapshot of absent resource")
	}
	return g.cell.Copy()
}

// Fingerprint returns the hash of the bytes the slot was loaded from, if it
// was loaded from storage at all.
func (g *GlobalValue) Fingerprint() (types.Hash, bool) {
	return g.fp, g.hasFP
}
