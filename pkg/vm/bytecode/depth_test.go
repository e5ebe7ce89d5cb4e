package bytecode

import (
	"math"
	"testing"
)

func TestDepthFormulaSolve(t *testing.T) {
	tests := []struct {
		name    string
		formula DepthFormula
		depths  []uint64
		want    uint64
		wantErr bool
	}{
		{
			name:    "constant only",
			formula: ConstantDepth(3),
			depths:  nil,
			want:    3,
		},
		{
			name:    "term dominates constant",
			formula: NormalizeDepths([]DepthFormula{ConstantDepth(2), ParamDepth(0).Add(4)}),
			depths:  []uint64{5},
			want:    9,
		},
		{
			name:    "constant dominates term",
			formula: NormalizeDepths([]DepthFormula{ConstantDepth(10), ParamDepth(0).Add(1)}),
			depths:  []uint64{2},
			want:    10,
		},
		{
			name:    "picks max term",
			formula: NormalizeDepths([]DepthFormula{ParamDepth(0).Add(1), ParamDepth(1).Add(2)}),
			depths:  []uint64{7, 3},
			want:    8,
		},
		{
			name:    "saturates",
			formula: ParamDepth(0).Add(5),
			depths:  []uint64{math.MaxUint64 - 2},
			want:    math.MaxUint64,
		},
		{
			name:    "missing argument",
			formula: ParamDepth(1),
			depths:  []uint64{4},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.formula.Solve(tt.depths)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Solve() = %d, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Solve(): %v", err)
			}
			if got != tt.want {
				t.Errorf("Solve() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDepthFormulaNormalizeMergesPerParam(t *testing.T) {
	f := NormalizeDepths([]DepthFormula{
		ParamDepth(0).Add(2),
		ParamDepth(0).Add(5),
		ConstantDepth(1),
		ConstantDepth(4),
	})
	if !f.HasConstant || f.Constant != 4 {
		t.Errorf("constant = (%d, %v), want (4, true)", f.Constant, f.HasConstant)
	}
	if len(f.Terms) != 1 || f.Terms[0].Param != 0 || f.Terms[0].Offset != 5 {
		t.Errorf("terms = %+v, want one term param 0 offset 5", f.Terms)
	}
}

func TestDepthFormulaSubst(t *testing.T) {
	// Outer<T> has depth max(2, depth(T)+1). Substituting T -> Inner with
	// depth 3 must give max(2, 4) = 4.
	outer := NormalizeDepths([]DepthFormula{ConstantDepth(2), ParamDepth(0).Add(1)})
	sub, err := outer.Subst(map[uint16]DepthFormula{0: ConstantDepth(3)})
	if err != nil {
		t.Fatalf("Subst(): %v", err)
	}
	got, err := sub.Solve(nil)
	if err != nil {
		t.Fatalf("Solve(): %v", err)
	}
	if got != 4 {
		t.Errorf("solved depth = %d, want 4", got)
	}

	if _, err := outer.Subst(map[uint16]DepthFormula{}); err == nil {
		t.Error("Subst() with missing parameter succeeded, want error")
	}
}
