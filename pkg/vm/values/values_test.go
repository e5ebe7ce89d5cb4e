package values

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

func wantCode(t *testing.T, err error, code vmerr.StatusCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	got, ok := vmerr.Code(err)
	if !ok {
		t.Fatalf("error %v carries no status code", err)
	}
	if got != code {
		t.Fatalf("status = %s, want %s", got, code)
	}
}

func mustEqual(t *testing.T, a, b *Value) {
	t.Helper()
	eq, err := a.Equals(b)
	if err != nil {
		t.Fatalf("Equals failed: %v", err)
	}
	if !eq {
		t.Fatalf("values differ: %s vs %s", a, b)
	}
}

func TestCopyIsDeep(t *testing.T) {
	inner, err := NewVector(bytecode.U64Type, []Value{NewU64(1), NewU64(2)})
	if err != nil {
		t.Fatalf("NewVector failed: %v", err)
	}
	original := NewStruct([]Value{NewU64(7), inner})

	clone, err := original.Copy()
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	mustEqual(t, &original, &clone)

	// Mutate the original through a field reference.
	fieldRef, err := original.BorrowField(0, true)
	if err != nil {
		t.Fatalf("BorrowField failed: %v", err)
	}
	if err := fieldRef.WriteRef(NewU64(99)); err != nil {
		t.Fatalf("WriteRef failed: %v", err)
	}

	eq, err := original.Equals(&clone)
	if err != nil {
		t.Fatalf("Equals failed: %v", err)
	}
	if eq {
		t.Error("copy changed when the original was mutated")
	}
	cloneField, err := clone.BorrowField(0, false)
	if err != nil {
		t.Fatalf("BorrowField on copy failed: %v", err)
	}
	got, err := cloneField.ReadRef()
	if err != nil {
		t.Fatalf("ReadRef failed: %v", err)
	}
	if n, _ := got.AsU64(); n != 7 {
		t.Errorf("copy field = %d, want 7", n)
	}
}

func TestCopyInvalid(t *testing.T) {
	v := Invalid()
	if _, err := v.Copy(); err == nil {
		t.Fatal("copy of invalid value should fail")
	} else {
		wantCode(t, err, vmerr.StatusInvalidLocal)
	}
}

func TestEquals(t *testing.T) {
	addr1, _ := types.AddressFromHex("0x1")
	addr2, _ := types.AddressFromHex("0x2")
	vec12, _ := NewVector(bytecode.U8Type, []Value{NewU8(1), NewU8(2)})
	vec12b, _ := NewVector(bytecode.U8Type, []Value{NewU8(1), NewU8(2)})
	vec1, _ := NewVector(bytecode.U8Type, []Value{NewU8(1)})
	wide, _ := NewU128(uint256.NewInt(500))

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"bools equal", NewBool(true), NewBool(true), true},
		{"bools differ", NewBool(true), NewBool(false), false},
		{"u64 equal", NewU64(10), NewU64(10), true},
		{"u64 differ", NewU64(10), NewU64(11), false},
		{"u128 equal", U128FromUint64(500), wide, true},
		{"addresses differ", NewAddress(addr1), NewAddress(addr2), false},
		{"vectors equal", vec12, vec12b, true},
		{"vector length differs", vec12, vec1, false},
		{"structs equal", NewStruct([]Value{NewU64(1)}), NewStruct([]Value{NewU64(1)}), true},
		{"variant tags differ", NewVariant(0, nil), NewVariant(1, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Equals(&tt.b)
			if err != nil {
				t.Fatalf("Equals failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Equals = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualsKindMismatch(t *testing.T) {
	a := NewU64(1)
	b := NewBool(true)
	if _, err := a.Equals(&b); err == nil {
		t.Fatal("comparing u64 with bool should fail")
	} else {
		wantCode(t, err, vmerr.StatusTypeMismatch)
	}
}

func TestReferencesCompareReferents(t *testing.T) {
	cellA := new(Value)
	*cellA = NewU64(42)
	cellB := new(Value)
	*cellB = NewU64(42)

	refA := NewRefTo(cellA, false)
	refB := NewRefTo(cellB, true)
	mustEqual(t, &refA, &refB)
}

func TestWriteThroughImmutableRef(t *testing.T) {
	cell := new(Value)
	*cell = NewU64(1)
	ref := NewRefTo(cell, false)
	if err := ref.WriteRef(NewU64(2)); err == nil {
		t.Fatal("write through immutable reference should fail")
	} else {
		wantCode(t, err, vmerr.StatusTypeMismatch)
	}
}

func TestFreeze(t *testing.T) {
	cell := new(Value)
	*cell = NewU64(1)
	ref := NewRefTo(cell, true)

	frozen, err := ref.Freeze()
	if err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if err := frozen.WriteRef(NewU64(2)); err == nil {
		t.Fatal("write through frozen reference should fail")
	}
	// The original target is untouched and still readable.
	got, err := frozen.ReadRef()
	if err != nil {
		t.Fatalf("ReadRef failed: %v", err)
	}
	if n, _ := got.AsU64(); n != 1 {
		t.Errorf("referent = %d, want 1", n)
	}
}

func TestStructUnpack(t *testing.T) {
	s := NewStruct([]Value{NewU64(1), NewBool(true)})
	fields, err := s.Unpack()
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("unpacked %d fields, want 2", len(fields))
	}
	if n, _ := fields[0].AsU64(); n != 1 {
		t.Errorf("field 0 = %d, want 1", n)
	}
	if b, _ := fields[1].AsBool(); !b {
		t.Error("field 1 = false, want true")
	}
}

func TestSignerShape(t *testing.T) {
	addr, _ := types.AddressFromHex("0xab")
	s := NewSigner(addr)

	// A signer is a one field struct holding the address, so borrowing
	// field 0 yields the address.
	ref, err := s.BorrowField(0, false)
	if err != nil {
		t.Fatalf("BorrowField failed: %v", err)
	}
	got, err := ref.ReadRef()
	if err != nil {
		t.Fatalf("ReadRef failed: %v", err)
	}
	a, err := got.AsAddress()
	if err != nil {
		t.Fatalf("AsAddress failed: %v", err)
	}
	if !a.Equals(addr) {
		t.Errorf("signer address = %s, want %s", a, addr)
	}
}

func TestVariantUnpack(t *testing.T) {
	v := NewVariant(2, []Value{NewU64(5)})

	tag, err := v.VariantTag()
	if err != nil {
		t.Fatalf("VariantTag failed: %v", err)
	}
	if tag != 2 {
		t.Fatalf("tag = %d, want 2", tag)
	}

	if _, err := v.VariantUnpack(1); err == nil {
		t.Fatal("unpack with wrong tag should fail")
	} else {
		wantCode(t, err, vmerr.StatusVariantTagMismatch)
	}

	fields, err := v.VariantUnpack(2)
	if err != nil {
		t.Fatalf("VariantUnpack failed: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("unpacked %d fields, want 1", len(fields))
	}
	if n, _ := fields[0].AsU64(); n != 5 {
		t.Errorf("field = %d, want 5", n)
	}
}

func TestVariantBorrowAll(t *testing.T) {
	v := NewVariant(0, []Value{NewU64(3), NewU64(4)})
	refs, err := v.VariantBorrowAll(0, true)
	if err != nil {
		t.Fatalf("VariantBorrowAll failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if err := refs[1].WriteRef(NewU64(40)); err != nil {
		t.Fatalf("WriteRef failed: %v", err)
	}
	want := NewVariant(0, []Value{NewU64(3), NewU64(40)})
	mustEqual(t, &v, &want)
}

func TestAbstractSize(t *testing.T) {
	vec, _ := NewVector(bytecode.U64Type, []Value{NewU64(1), NewU64(2)})
	tests := []struct {
		name string
		v    Value
		want uint64
	}{
		{"bool", NewBool(true), 1},
		{"u8", NewU8(1), 1},
		{"u16", NewU16(1), 2},
		{"u32", NewU32(1), 4},
		{"u64", NewU64(1), 8},
		{"u128", U128FromUint64(1), 16},
		{"u256", U256FromUint64(1), 32},
		{"address", NewAddress(types.Address{}), 32},
		{"vector of two u64", vec, 8 + 8 + 8},
		{"struct", NewStruct([]Value{NewBool(true), NewU64(1)}), 8 + 1 + 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.AbstractSize(); got != tt.want {
				t.Errorf("AbstractSize = %d, want %d", got, tt.want)
			}
		})
	}
}
