package vmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fortiblox/ember/internal/types"
)

func TestStatusTypeBands(t *testing.T) {
	tests := []struct {
		name string
		code StatusCode
		want StatusType
	}{
		{name: "linker error", code: StatusLinkerError, want: StatusTypeVerification},
		{name: "empty stack", code: StatusEmptyOperandStack, want: StatusTypeInvariantViolation},
		{name: "aborted", code: StatusAborted, want: StatusTypeExecution},
		{name: "out of gas", code: StatusOutOfGas, want: StatusTypeExecution},
		{name: "out of band", code: StatusCode(9999), want: StatusTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.Type(); got != tt.want {
				t.Errorf("Type() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocationFirstWins(t *testing.T) {
	e := New(StatusAborted).WithSubStatus(7).At("inner", 3).At("outer", 9)
	fn, pc := e.Location()
	if fn != "inner" || pc != 3 {
		t.Errorf("Location() = (%q, %d), want (inner, 3)", fn, pc)
	}

	inner := types.NewModuleID(types.StdlibAddr, "a")
	outer := types.NewModuleID(types.StdlibAddr, "b")
	e.InModule(inner).InModule(outer)
	id, ok := e.Module()
	if !ok || id != inner {
		t.Errorf("Module() = (%v, %v), want (%v, true)", id, ok, inner)
	}
}

func TestCodeThroughWrapping(t *testing.T) {
	base := New(StatusOutOfGas)
	wrapped := fmt.Errorf("during call: %w", base)

	code, ok := Code(wrapped)
	if !ok || code != StatusOutOfGas {
		t.Errorf("Code() = (%v, %v), want (OUT_OF_GAS, true)", code, ok)
	}
	if _, ok := Code(errors.New("backend timeout")); ok {
		t.Error("Code() recognized a non-VM error")
	}
}

func TestAbortCode(t *testing.T) {
	e := New(StatusAborted).WithSubStatus(42)
	if code, ok := AbortCode(e); !ok || code != 42 {
		t.Errorf("AbortCode() = (%d, %v), want (42, true)", code, ok)
	}
	if _, ok := AbortCode(New(StatusOutOfGas)); ok {
		t.Error("AbortCode() matched a non-abort error")
	}
	if _, ok := AbortCode(New(StatusAborted)); ok {
		t.Error("AbortCode() matched an abort without sub-status")
	}
}

func TestIsInvariantViolation(t *testing.T) {
	if !IsInvariantViolation(New(StatusTypeMismatch)) {
		t.Error("TYPE_MISMATCH not classified as invariant violation")
	}
	if IsInvariantViolation(New(StatusAborted)) {
		t.Error("ABORTED classified as invariant violation")
	}
}

func TestErrorString(t *testing.T) {
	e := Newf(StatusAborted, "abort in script").WithSubStatus(5).At("main", 12)
	got := e.Error()
	want := "ABORTED sub-status 5: abort in script (at main pc 12)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
