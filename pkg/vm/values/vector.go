package values

import (
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Vector operations. The bounds and emptiness failures are runtime execution
// errors with a vector sub-status; shape failures are invariant violations.

// VectorLen returns the element count.
func (v *Value) VectorLen() (uint64, error) {
	if v.kind != KindVector {
		return 0, typeMismatch(KindVector, v.kind)
	}
	return uint64(len(v.elems)), nil
}

// VectorBorrow returns a reference to element idx.
func (v *Value) VectorBorrow(idx uint64, mut bool) (Value, error) {
	if v.kind != KindVector {
		return Value{}, typeMismatch(KindVector, v.kind)
	}
	if idx >= uint64(len(v.elems)) {
		return Value{}, vmerr.Newf(vmerr.StatusVectorError,
			"index %d out of bounds (len %d)", idx, len(v.elems)).
			WithSubStatus(vmerr.VecErrIndexOutOfBounds)
	}
	return Value{kind: KindRef, ref: refImpl{cell: v.elems[idx], mut: mut}}, nil
}

// VectorPush appends an element, checking it against the element type and
// the growth limit. Zero capacity disables the limit.
func (v *Value) VectorPush(e Value, elemTy *bytecode.Type, capacity uint64) error {
	if v.kind != KindVector {
		return typeMismatch(KindVector, v.kind)
	}
	if err := checkElemKind(elemTy, &e); err != nil {
		return err
	}
	if capacity > 0 && uint64(len(v.elems)) >= capacity {
		return vmerr.Newf(vmerr.StatusVectorError, "vector size limit is %d", capacity).
			WithSubStatus(vmerr.VecErrLenLimit)
	}
	v.elems = append(v.elems, &e)
	return nil
}

// VectorPop removes and returns the last element.
func (v *Value) VectorPop() (Value, error) {
	if v.kind != KindVector {
		return Value{}, typeMismatch(KindVector, v.kind)
	}
	if len(v.elems) == 0 {
		return Value{}, vmerr.Newf(vmerr.StatusVectorError, "pop of empty vector").
			WithSubStatus(vmerr.VecErrPopEmpty)
	}
	last := v.elems[len(v.elems)-1]
	v.elems[len(v.elems)-1] = nil
	v.elems = v.elems[:len(v.elems)-1]
	return *last, nil
}

// VectorSwap exchanges elements i and j.
func (v *Value) VectorSwap(i, j uint64) error {
	if v.kind != KindVector {
		return typeMismatch(KindVector, v.kind)
	}
	n := uint64(len(v.elems))
	if i >= n || j >= n {
		return vmerr.Newf(vmerr.StatusVectorError,
			"swap indices %d, %d out of bounds (len %d)", i, j, n).
			WithSubStatus(vmerr.VecErrIndexOutOfBounds)
	}
	v.elems[i], v.elems[j] = v.elems[j], v.elems[i]
	return nil
}

// VectorUnpack moves all elements out. The declared count must match the
// actual length exactly.
func (v *Value) VectorUnpack(expected uint64) ([]Value, error) {
	if v.kind != KindVector {
		return nil, typeMismatch(KindVector, v.kind)
	}
	if uint64(len(v.elems)) != expected {
		return nil, vmerr.Newf(vmerr.StatusVectorError,
			"vector of length %d unpacked as %d", len(v.elems), expected).
			WithSubStatus(vmerr.VecErrUnpackMismatch)
	}
	return takeElems(v.elems), nil
}

// AsBytes copies a vector<u8> out as raw bytes. Natives take byte input this
// way.
func (v *Value) AsBytes() ([]byte, error) {
	if v.kind != KindVector {
		return nil, typeMismatch(KindVector, v.kind)
	}
	out := make([]byte, len(v.elems))
	for i, cell := range v.elems {
		if cell.kind != KindU8 {
			return nil, typeMismatch(KindU8, cell.kind)
		}
		out[i] = uint8(cell.n)
	}
	return out, nil
}

// BytesVector builds a vector<u8> from raw bytes.
func BytesVector(data []byte) Value {
	elems := make([]*Value, len(data))
	for i, b := range data {
		e := NewU8(b)
		elems[i] = &e
	}
	return Value{kind: KindVector, elems: elems}
}
