package values

import (
	"github.com/holiman/uint256"

	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Checked integer arithmetic. Both operands must be integers of the same
// width (the verifier guarantees it; a mismatch is an invariant violation).
// Overflow, underflow, division by zero, and oversized shifts are runtime
// arithmetic errors.

var u128Mask = func() *uint256.Int {
	x := new(uint256.Int)
	x.SetAllOne()
	return x.Rsh(x, 128)
}()

func isInteger(k Kind) bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindU256:
		return true
	default:
		return false
	}
}

func isNarrow(k Kind) bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64:
		return true
	default:
		return false
	}
}

func narrowBits(k Kind) uint {
	switch k {
	case KindU8:
		return 8
	case KindU16:
		return 16
	case KindU32:
		return 32
	default:
		return 64
	}
}

func narrowMax(k Kind) uint64 {
	if k == KindU64 {
		return ^uint64(0)
	}
	return (uint64(1) << narrowBits(k)) - 1
}

func sameIntKinds(a, b *Value) (Kind, error) {
	if !isInteger(a.kind) || !isInteger(b.kind) || a.kind != b.kind {
		return KindInvalid, vmerr.Newf(vmerr.StatusTypeMismatch,
			"integer operation on %s and %s", a.kind, b.kind)
	}
	return a.kind, nil
}

func arithErr(format string, args ...any) error {
	return vmerr.Newf(vmerr.StatusArithmeticError, format, args...)
}

// AddChecked returns a + b or an arithmetic error on overflow.
func AddChecked(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		r := a.n + b.n
		if r < a.n || r > narrowMax(k) {
			return Value{}, arithErr("%s addition overflow", k)
		}
		return Value{kind: k, n: r}, nil
	}
	r, carry := new(uint256.Int).AddOverflow(a.wide, b.wide)
	if carry || (k == KindU128 && r.BitLen() > 128) {
		return Value{}, arithErr("%s addition overflow", k)
	}
	return Value{kind: k, wide: r}, nil
}

// SubChecked returns a - b or an arithmetic error on underflow.
func SubChecked(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		if a.n < b.n {
			return Value{}, arithErr("%s subtraction underflow", k)
		}
		return Value{kind: k, n: a.n - b.n}, nil
	}
	if a.wide.Lt(b.wide) {
		return Value{}, arithErr("%s subtraction underflow", k)
	}
	return Value{kind: k, wide: new(uint256.Int).Sub(a.wide, b.wide)}, nil
}

// MulChecked returns a * b or an arithmetic error on overflow.
func MulChecked(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		if k == KindU64 {
			if a.n != 0 && b.n > ^uint64(0)/a.n {
				return Value{}, arithErr("u64 multiplication overflow")
			}
			return Value{kind: k, n: a.n * b.n}, nil
		}
		r := a.n * b.n
		if r > narrowMax(k) {
			return Value{}, arithErr("%s multiplication overflow", k)
		}
		return Value{kind: k, n: r}, nil
	}
	r, overflow := new(uint256.Int).MulOverflow(a.wide, b.wide)
	if overflow || (k == KindU128 && r.BitLen() > 128) {
		return Value{}, arithErr("%s multiplication overflow", k)
	}
	return Value{kind: k, wide: r}, nil
}

// DivChecked returns a / b or an arithmetic error when b is zero.
func DivChecked(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		if b.n == 0 {
			return Value{}, arithErr("%s division by zero", k)
		}
		return Value{kind: k, n: a.n / b.n}, nil
	}
	if b.wide.IsZero() {
		return Value{}, arithErr("%s division by zero", k)
	}
	return Value{kind: k, wide: new(uint256.Int).Div(a.wide, b.wide)}, nil
}

// ModChecked returns a % b or an arithmetic error when b is zero.
func ModChecked(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		if b.n == 0 {
			return Value{}, arithErr("%s remainder by zero", k)
		}
		return Value{kind: k, n: a.n % b.n}, nil
	}
	if b.wide.IsZero() {
		return Value{}, arithErr("%s remainder by zero", k)
	}
	return Value{kind: k, wide: new(uint256.Int).Mod(a.wide, b.wide)}, nil
}

// BitOr returns a | b.
func BitOr(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		return Value{kind: k, n: a.n | b.n}, nil
	}
	return Value{kind: k, wide: new(uint256.Int).Or(a.wide, b.wide)}, nil
}

// BitAnd returns a & b.
func BitAnd(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		return Value{kind: k, n: a.n & b.n}, nil
	}
	return Value{kind: k, wide: new(uint256.Int).And(a.wide, b.wide)}, nil
}

// BitXor returns a ^ b.
func BitXor(a, b Value) (Value, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return Value{}, err
	}
	if isNarrow(k) {
		return Value{kind: k, n: a.n ^ b.n}, nil
	}
	return Value{kind: k, wide: new(uint256.Int).Xor(a.wide, b.wide)}, nil
}

// ShlChecked returns v << amount, truncated to the width. A shift amount of
// the width or more is an arithmetic error.
func ShlChecked(v Value, amount uint8) (Value, error) {
	if !isInteger(v.kind) {
		return Value{}, vmerr.Newf(vmerr.StatusTypeMismatch, "shift of %s", v.kind)
	}
	if isNarrow(v.kind) {
		bits := narrowBits(v.kind)
		if uint(amount) >= bits {
			return Value{}, arithErr("%s shift amount %d out of range", v.kind, amount)
		}
		return Value{kind: v.kind, n: (v.n << amount) & narrowMax(v.kind)}, nil
	}
	width := uint(256)
	if v.kind == KindU128 {
		width = 128
	}
	if uint(amount) >= width {
		return Value{}, arithErr("%s shift amount %d out of range", v.kind, amount)
	}
	r := new(uint256.Int).Lsh(v.wide, uint(amount))
	if v.kind == KindU128 {
		r.And(r, u128Mask)
	}
	return Value{kind: v.kind, wide: r}, nil
}

// ShrChecked returns v >> amount. A shift amount of the width or more is an
// arithmetic error.
func ShrChecked(v Value, amount uint8) (Value, error) {
	if !isInteger(v.kind) {
		return Value{}, vmerr.Newf(vmerr.StatusTypeMismatch, "shift of %s", v.kind)
	}
	if isNarrow(v.kind) {
		bits := narrowBits(v.kind)
		if uint(amount) >= bits {
			return Value{}, arithErr("%s shift amount %d out of range", v.kind, amount)
		}
		return Value{kind: v.kind, n: v.n >> amount}, nil
	}
	width := uint(256)
	if v.kind == KindU128 {
		width = 128
	}
	if uint(amount) >= width {
		return Value{}, arithErr("%s shift amount %d out of range", v.kind, amount)
	}
	return Value{kind: v.kind, wide: new(uint256.Int).Rsh(v.wide, uint(amount))}, nil
}

// Cmp compares two integers of the same width: -1, 0, or 1.
func Cmp(a, b Value) (int, error) {
	k, err := sameIntKinds(&a, &b)
	if err != nil {
		return 0, err
	}
	if isNarrow(k) {
		switch {
		case a.n < b.n:
			return -1, nil
		case a.n > b.n:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return a.wide.Cmp(b.wide), nil
}

// CastChecked converts an integer to another integer width. Narrowing casts
// that lose bits are arithmetic errors.
func CastChecked(v Value, to Kind) (Value, error) {
	if !isInteger(v.kind) || !isInteger(to) {
		return Value{}, vmerr.Newf(vmerr.StatusTypeMismatch, "cast %s to %s", v.kind, to)
	}
	var wide *uint256.Int
	if isNarrow(v.kind) {
		wide = uint256.NewInt(v.n)
	} else {
		wide = v.wide
	}
	switch to {
	case KindU8, KindU16, KindU32, KindU64:
		if !wide.IsUint64() || wide.Uint64() > narrowMax(to) {
			return Value{}, arithErr("cast to %s out of range", to)
		}
		return Value{kind: to, n: wide.Uint64()}, nil
	case KindU128:
		if wide.BitLen() > 128 {
			return Value{}, arithErr("cast to u128 out of range")
		}
		return Value{kind: KindU128, wide: new(uint256.Int).Set(wide)}, nil
	default:
		return Value{kind: KindU256, wide: new(uint256.Int).Set(wide)}, nil
	}
}
