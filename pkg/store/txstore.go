package store

import (
	"errors"
	"fmt"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// WriteOp classifies one committed storage change.
type WriteOp uint8

const (
	WriteNew WriteOp = iota
	WriteModify
	WriteDelete
)

func (op WriteOp) String() string {
	switch op {
	case WriteNew:
		return "new"
	case WriteModify:
		return "modify"
	case WriteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WriteEffect is one storage change produced by a commit. Data is nil for
// deletes.
type WriteEffect struct {
	Key  GlobalKey
	Op   WriteOp
	Data []byte
}

// TxStore is the global-storage view one execution runs against. Every
// touched (address, type) slot is pulled from the backend once, cached as a
// GlobalValue, and handed to the interpreter by reference; Commit turns the
// slots back into storage writes.
type TxStore struct {
	backend Backend
	slots   map[GlobalKey]*txSlot
	order   []GlobalKey
}

type txSlot struct {
	gv *values.GlobalValue
	ty *bytecode.Type
}

// NewTxStore creates an execution view over a backend.
func NewTxStore(backend Backend) *TxStore {
	return &TxStore{
		backend: backend,
		slots:   make(map[GlobalKey]*txSlot),
	}
}

// LoadResource returns the slot for (addr, ty), pulling it from the backend
// on first touch. bytesLoaded reports the stored size on that first pull,
// zero when the slot is empty; fresh is false for repeat touches, which cost
// nothing.
func (s *TxStore) LoadResource(addr types.Address, ty *bytecode.Type) (gv *values.GlobalValue, bytesLoaded int, fresh bool, err error) {
	tag, err := ty.Tag()
	if err != nil {
		return nil, 0, false, err
	}
	key := GlobalKey{Address: addr, Tag: tag}

	if slot, ok := s.slots[key]; ok {
		return slot.gv, 0, false, nil
	}

	data, err := s.backend.GetResource(key)
	switch {
	case errors.Is(err, ErrResourceNotFound):
		gv = values.NewGlobalNone()
	case err != nil:
		return nil, 0, false, vmerr.Newf(vmerr.StatusUnknownInvariantViolation,
			"load resource %s: %v", key, err)
	default:
		v, derr := values.Deserialize(data, ty)
		if derr != nil {
			return nil, 0, false, derr
		}
		gv, err = values.NewGlobalCached(v, types.ComputeHash(data))
		if err != nil {
			return nil, 0, false, err
		}
		bytesLoaded = len(data)
	}

	s.slots[key] = &txSlot{gv: gv, ty: ty}
	s.order = append(s.order, key)
	return gv, bytesLoaded, true, nil
}

// Touched returns how many slots this execution has loaded.
func (s *TxStore) Touched() int {
	return len(s.slots)
}

// Commit turns every touched slot into its storage write and applies it to
// the backend, in first-touch order. Modifies whose serialized bytes hash to
// the load fingerprint are dropped. The store is empty afterwards.
func (s *TxStore) Commit() ([]WriteEffect, error) {
	var effects []WriteEffect
	for _, key := range s.order {
		slot := s.slots[key]
		switch slot.gv.Effect() {
		case values.EffectNone:
			continue

		case values.EffectNew:
			data, err := s.serializeSlot(slot)
			if err != nil {
				return effects, err
			}
			if err := s.backend.SetResource(key, data); err != nil {
				return effects, fmt.Errorf("commit %s: %w", key, err)
			}
			effects = append(effects, WriteEffect{Key: key, Op: WriteNew, Data: data})

		case values.EffectModify:
			data, err := s.serializeSlot(slot)
			if err != nil {
				return effects, err
			}
			if fp, ok := slot.gv.Fingerprint(); ok && types.ComputeHash(data) == fp {
				continue
			}
			if err := s.backend.SetResource(key, data); err != nil {
				return effects, fmt.Errorf("commit %s: %w", key, err)
			}
			effects = append(effects, WriteEffect{Key: key, Op: WriteModify, Data: data})

		case values.EffectDelete:
			if err := s.backend.DeleteResource(key); err != nil {
				return effects, fmt.Errorf("commit %s: %w", key, err)
			}
			effects = append(effects, WriteEffect{Key: key, Op: WriteDelete})
		}
	}
	s.Discard()
	return effects, nil
}

func (s *TxStore) serializeSlot(slot *txSlot) ([]byte, error) {
	snap, err := slot.gv.Snapshot()
	if err != nil {
		return nil, err
	}
	return values.Serialize(snap, slot.ty)
}

// Discard drops every cached slot without writing.
func (s *TxStore) Discard() {
	s.slots = make(map[GlobalKey]*txSlot)
	s.order = nil
}
