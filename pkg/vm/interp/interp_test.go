package interp

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/store"
	"github.com/fortiblox/ember/pkg/vm"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/gas"
	"github.com/fortiblox/ember/pkg/vm/loader"
	"github.com/fortiblox/ember/pkg/vm/native"
	"github.com/fortiblox/ember/pkg/vm/values"
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

func testAddr(b byte) types.Address {
	var a types.Address
	a[types.AddressSize-1] = b
	return a
}

// countingMeter accepts every charge and records what was charged, so tests
// can assert the exact metering protocol of an execution.
type countingMeter struct {
	simple map[gas.SimpleInstr]int
	n      map[string]int

	calls    [][2]int // argCount, localCount per ChargeCall
	drops    []int    // non-reference local count per ChargeDropFrame
	loads    [][2]int // bytesLoaded, exists(0/1) per ChargeLoadResource
	borrowOK []bool
	moveHit  []bool // view != nil per ChargeMoveFrom
	moveToOK []bool
	existsAt []bool
	natives  []uint64
}

func newCountingMeter() *countingMeter {
	return &countingMeter{
		simple: make(map[gas.SimpleInstr]int),
		n:      make(map[string]int),
	}
}

func (m *countingMeter) bump(k string) error { m.n[k]++; return nil }

func (m *countingMeter) ChargeSimpleInstr(i gas.SimpleInstr) error {
	m.simple[i]++
	return m.bump("simple")
}
func (m *countingMeter) ChargePop(v *values.Value) error { return m.bump("pop") }
func (m *countingMeter) ChargeCall(argCount, localCount int) error {
	m.calls = append(m.calls, [2]int{argCount, localCount})
	return m.bump("call")
}
func (m *countingMeter) ChargeCallGeneric(typeArgCount, argCount, localCount int) error {
	return m.bump("callGeneric")
}
func (m *countingMeter) ChargeDropFrame(locals []values.Value) error {
	m.drops = append(m.drops, len(locals))
	return m.bump("dropFrame")
}
func (m *countingMeter) ChargeLdConst(size int) error            { return m.bump("ldConst") }
func (m *countingMeter) ChargeLdConstAfter(v *values.Value) error { return m.bump("ldConstAfter") }
func (m *countingMeter) ChargeCopyLoc(v *values.Value) error     { return m.bump("copyLoc") }
func (m *countingMeter) ChargeMoveLoc(v *values.Value) error     { return m.bump("moveLoc") }
func (m *countingMeter) ChargeStoreLoc(v *values.Value) error    { return m.bump("storeLoc") }
func (m *countingMeter) ChargePack(generic bool, fieldCount int) error   { return m.bump("pack") }
func (m *countingMeter) ChargeUnpack(generic bool, fieldCount int) error { return m.bump("unpack") }
func (m *countingMeter) ChargeVariantSwitch(v *values.Value) error       { return m.bump("variantSwitch") }
func (m *countingMeter) ChargeReadRef(v *values.Value) error             { return m.bump("readRef") }
func (m *countingMeter) ChargeWriteRef(v *values.Value) error            { return m.bump("writeRef") }
func (m *countingMeter) ChargeEq(a, b *values.Value) error               { return m.bump("eq") }
func (m *countingMeter) ChargeNeq(a, b *values.Value) error              { return m.bump("neq") }
func (m *countingMeter) ChargeBorrowGlobal(mut, generic, success bool) error {
	m.borrowOK = append(m.borrowOK, success)
	return m.bump("borrowGlobal")
}
func (m *countingMeter) ChargeExists(generic, exists bool) error {
	m.existsAt = append(m.existsAt, exists)
	return m.bump("exists")
}
func (m *countingMeter) ChargeMoveFrom(generic bool, v *values.Value) error {
	m.moveHit = append(m.moveHit, v != nil)
	return m.bump("moveFrom")
}
func (m *countingMeter) ChargeMoveTo(generic bool, v *values.Value, success bool) error {
	m.moveToOK = append(m.moveToOK, success)
	return m.bump("moveTo")
}
func (m *countingMeter) ChargeLoadResource(bytesLoaded int, exists bool) error {
	e := 0
	if exists {
		e = 1
	}
	m.loads = append(m.loads, [2]int{bytesLoaded, e})
	return m.bump("loadResource")
}
func (m *countingMeter) ChargeVecPack(elemCount int) error        { return m.bump("vecPack") }
func (m *countingMeter) ChargeVecLen() error                      { return m.bump("vecLen") }
func (m *countingMeter) ChargeVecBorrow(mut, success bool) error  { return m.bump("vecBorrow") }
func (m *countingMeter) ChargeVecPushBack(v *values.Value) error  { return m.bump("vecPushBack") }
func (m *countingMeter) ChargeVecPopBack(v *values.Value) error   { return m.bump("vecPopBack") }
func (m *countingMeter) ChargeVecUnpack(elemCount int) error      { return m.bump("vecUnpack") }
func (m *countingMeter) ChargeVecSwap() error                     { return m.bump("vecSwap") }
func (m *countingMeter) ChargeNativeBefore(args []values.Value) error { return m.bump("nativeBefore") }
func (m *countingMeter) ChargeNative(amount uint64) error {
	m.natives = append(m.natives, amount)
	return m.bump("native")
}
func (m *countingMeter) RemainingGas() uint64 { return gas.BudgetMax }

var _ gas.Meter = (*countingMeter)(nil)

func newLoader(t *testing.T, mods ...*bytecode.Module) *loader.Loader {
	t.Helper()
	l := loader.New(loader.DefaultOpts())
	for _, m := range mods {
		if err := l.Register(m); err != nil {
			t.Fatalf("Register %s failed: %v", m.ID.Name, err)
		}
	}
	return l
}

func newStore() *store.TxStore {
	return store.NewTxStore(store.NewMemBackend())
}

// addModule defines fun add(a: u64, b: u64): u64 { a + b }.
func addModule() *bytecode.Module {
	add := &bytecode.Function{
		Name:       "add",
		ParamCount: 2, ReturnCount: 1, LocalCount: 2,
		Code: []bytecode.Instruction{
			bytecode.CopyLoc(0), bytecode.CopyLoc(1), bytecode.Add(), bytecode.Ret(),
		},
	}
	return &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "math"),
		Functions: []*bytecode.Function{add},
	}
}

func TestAddExactCharges(t *testing.T) {
	m := addModule()
	l := newLoader(t, m)
	fn, _ := m.FunctionNamed("add")

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{})
	out, err := ip.Execute(fn, nil, []values.Value{values.NewU64(7), values.NewU64(5)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("got %d results, want 1", len(out))
	}
	got, err := out[0].AsU64()
	if err != nil || got != 12 {
		t.Fatalf("add(7, 5) = %v (%v), want 12", got, err)
	}

	// One call charge for the entry frame, a copy per argument read, one
	// simple charge each for Add and Ret, one frame drop covering both
	// locals. Nothing else.
	if m := meter.n; m["call"] != 1 || m["copyLoc"] != 2 || m["simple"] != 2 || m["dropFrame"] != 1 {
		t.Fatalf("charge counts = %v", m)
	}
	if meter.calls[0] != [2]int{2, 2} {
		t.Fatalf("ChargeCall got %v, want {2 2}", meter.calls[0])
	}
	if meter.simple[gas.SimpleAdd] != 1 || meter.simple[gas.SimpleRet] != 1 {
		t.Fatalf("simple charges = %v", meter.simple)
	}
	if meter.drops[0] != 2 {
		t.Fatalf("frame drop saw %d locals, want 2", meter.drops[0])
	}
}

func TestNestedCall(t *testing.T) {
	m := addModule()
	add, _ := m.FunctionNamed("add")
	outer := &bytecode.Function{
		Name:       "sum3",
		ParamCount: 3, ReturnCount: 1, LocalCount: 3,
		Code: []bytecode.Instruction{
			bytecode.CopyLoc(0), bytecode.CopyLoc(1),
			bytecode.Call(0),
			bytecode.CopyLoc(2),
			bytecode.Call(0),
			bytecode.Ret(),
		},
	}
	m.Functions = append(m.Functions, outer)
	m.FunctionRefs = []*bytecode.Function{add}
	l := newLoader(t, m)

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{})
	out, err := ip.Execute(outer, nil, []values.Value{
		values.NewU64(1), values.NewU64(2), values.NewU64(3),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := out[0].AsU64(); got != 6 {
		t.Fatalf("sum3 = %d, want 6", got)
	}
	// Entry plus two inner calls, three frame drops.
	if meter.n["call"] != 3 || meter.n["dropFrame"] != 3 {
		t.Fatalf("charge counts = %v", meter.n)
	}
}

func TestCallGeneric(t *testing.T) {
	ident := &bytecode.Function{
		Name:       "ident",
		ParamCount: 1, ReturnCount: 1, LocalCount: 1, TypeParamCount: 1,
		Code: []bytecode.Instruction{bytecode.MoveLoc(0), bytecode.Ret()},
	}
	wrap := &bytecode.Function{
		Name:       "wrap",
		ParamCount: 1, ReturnCount: 1, LocalCount: 1,
		Code: []bytecode.Instruction{
			bytecode.MoveLoc(0), bytecode.CallGeneric(0), bytecode.Ret(),
		},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "generics"),
		Functions: []*bytecode.Function{ident, wrap},
		FunctionInsts: []bytecode.FunctionInst{
			{Target: ident, TypeArgs: []*bytecode.Type{bytecode.U64Type}},
		},
	}
	l := newLoader(t, m)

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{})
	out, err := ip.Execute(wrap, nil, []values.Value{values.NewU64(9)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := out[0].AsU64(); got != 9 {
		t.Fatalf("wrap(9) = %d, want 9", got)
	}
	if meter.n["call"] != 1 || meter.n["callGeneric"] != 1 {
		t.Fatalf("charge counts = %v", meter.n)
	}
}

func TestCallStackOverflow(t *testing.T) {
	loop := &bytecode.Function{
		Name: "loop",
		Code: []bytecode.Instruction{bytecode.Call(0), bytecode.Ret()},
	}
	m := &bytecode.Module{
		ID:           types.NewModuleID(testAddr(1), "rec"),
		Functions:    []*bytecode.Function{loop},
		FunctionRefs: []*bytecode.Function{loop},
	}
	l := newLoader(t, m)

	st := newStore()
	ip := New(l, st, gas.Unmetered(), Options{})
	_, err := ip.Execute(loop, nil, nil)
	wantCode(t, err, vmerr.StatusCallStackOverflow)

	// The stack filled to the limit, the overflowing frame was never
	// pushed, and nothing touched storage.
	if d := ip.frames.Depth(); d != int(vm.CallStackLimit) {
		t.Fatalf("depth at overflow = %d, want %d", d, vm.CallStackLimit)
	}
	if st.Touched() != 0 {
		t.Fatalf("recursion touched %d slots", st.Touched())
	}

	// Same failure point every run.
	ip2 := New(l, newStore(), gas.Unmetered(), Options{})
	_, err2 := ip2.Execute(loop, nil, nil)
	wantCode(t, err2, vmerr.StatusCallStackOverflow)
	if ip2.frames.Depth() != ip.frames.Depth() {
		t.Fatalf("overflow depth differs across runs")
	}
}

func TestOperandStackOverflow(t *testing.T) {
	code := make([]bytecode.Instruction, 0, vm.OperandStackLimit+2)
	for i := uint64(0); i <= vm.OperandStackLimit; i++ {
		code = append(code, bytecode.LdTrue())
	}
	code = append(code, bytecode.Ret())
	fill := &bytecode.Function{Name: "fill", Code: code}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "flood"),
		Functions: []*bytecode.Function{fill},
	}
	l := newLoader(t, m)

	ip := New(l, newStore(), gas.Unmetered(), Options{})
	_, err := ip.Execute(fill, nil, nil)
	wantCode(t, err, vmerr.StatusOperandStackOverflow)
	if n := ip.operands.Len(); n != int(vm.OperandStackLimit) {
		t.Fatalf("operand stack at overflow = %d, want %d", n, vm.OperandStackLimit)
	}
}

func TestImplicitReturn(t *testing.T) {
	frag := &bytecode.Function{
		Name: "frag", ReturnCount: 1,
		Code: []bytecode.Instruction{bytecode.LdU64(3)},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "frag"),
		Functions: []*bytecode.Function{frag},
	}
	l := newLoader(t, m)

	ip := New(l, newStore(), gas.Unmetered(), Options{ImplicitReturn: true})
	out, err := ip.Execute(frag, nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := out[0].AsU64(); got != 3 {
		t.Fatalf("fragment result = %d, want 3", got)
	}

	ip2 := New(l, newStore(), gas.Unmetered(), Options{})
	_, err = ip2.Execute(frag, nil, nil)
	wantCode(t, err, vmerr.StatusPCOverflow)
}

func TestExecuteValidation(t *testing.T) {
	m := addModule()
	l := newLoader(t, m)
	fn, _ := m.FunctionNamed("add")

	// Wrong argument count.
	ip := New(l, newStore(), gas.Unmetered(), Options{})
	_, err := ip.Execute(fn, nil, []values.Value{values.NewU64(7)})
	wantCode(t, err, vmerr.StatusUnknownInvariantViolation)

	// Wrong type-argument count.
	ip = New(l, newStore(), gas.Unmetered(), Options{})
	_, err = ip.Execute(fn, []*bytecode.Type{bytecode.U64Type},
		[]values.Value{values.NewU64(7), values.NewU64(5)})
	wantCode(t, err, vmerr.StatusUnknownInvariantViolation)

	// One interpreter runs one execution.
	ip = New(l, newStore(), gas.Unmetered(), Options{})
	if _, err := ip.Execute(fn, nil, []values.Value{values.NewU64(7), values.NewU64(5)}); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	_, err = ip.Execute(fn, nil, []values.Value{values.NewU64(7), values.NewU64(5)})
	wantCode(t, err, vmerr.StatusUnknownInvariantViolation)
}

func TestExecuteRejectsOpenTypeArgs(t *testing.T) {
	ident := &bytecode.Function{
		Name:       "ident",
		ParamCount: 1, ReturnCount: 1, LocalCount: 1, TypeParamCount: 1,
		Code: []bytecode.Instruction{bytecode.MoveLoc(0), bytecode.Ret()},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "generics"),
		Functions: []*bytecode.Function{ident},
	}
	l := newLoader(t, m)

	ip := New(l, newStore(), gas.Unmetered(), Options{})
	_, err := ip.Execute(ident, []*bytecode.Type{bytecode.NewTypeParam(0)},
		[]values.Value{values.NewU64(1)})
	wantCode(t, err, vmerr.StatusUnresolvedTypeParameter)
}

func TestVerificationStatusRemap(t *testing.T) {
	// Call names a function ref the module does not have. The resolver
	// failure is a linkage status; surfacing mid-execution it must come out
	// as an invariant violation, still locating the faulty code.
	broken := &bytecode.Function{
		Name: "broken",
		Code: []bytecode.Instruction{bytecode.Call(5), bytecode.Ret()},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "torn"),
		Functions: []*bytecode.Function{broken},
	}
	l := newLoader(t, m)

	ip := New(l, newStore(), gas.Unmetered(), Options{})
	_, err := ip.Execute(broken, nil, nil)
	wantCode(t, err, vmerr.StatusVerificationError)

	var e *vmerr.VMError
	if !errors.As(err, &e) {
		t.Fatalf("error is not a VMError: %v", err)
	}
	if !e.Located() {
		t.Fatalf("remapped error lost its location")
	}
	fn, pc := e.Location()
	if fn != "broken" || pc != 0 {
		t.Fatalf("location = %s pc %d, want broken pc 0", fn, pc)
	}
}

func TestOutOfGas(t *testing.T) {
	m := addModule()
	l := newLoader(t, m)
	fn, _ := m.FunctionNamed("add")

	meter := gas.NewStatus(5)
	ip := New(l, newStore(), meter, Options{})
	_, err := ip.Execute(fn, nil, []values.Value{values.NewU64(7), values.NewU64(5)})
	wantCode(t, err, vmerr.StatusOutOfGas)
	if meter.RemainingGas() != 0 {
		t.Fatalf("remaining gas = %d after exhaustion", meter.RemainingGas())
	}
}

func TestFreezeRefLeavesValueUnchanged(t *testing.T) {
	fn := &bytecode.Function{
		Name:       "peek",
		ParamCount: 1, ReturnCount: 1, LocalCount: 1,
		Code: []bytecode.Instruction{
			bytecode.MutBorrowLoc(0),
			bytecode.FreezeRef(),
			bytecode.ReadRef(),
			bytecode.Ret(),
		},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "freeze"),
		Functions: []*bytecode.Function{fn},
	}
	l := newLoader(t, m)

	ip := New(l, newStore(), gas.Unmetered(), Options{})
	out, err := ip.Execute(fn, nil, []values.Value{values.NewU64(41)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := out[0].AsU64(); got != 41 {
		t.Fatalf("frozen read = %d, want 41", got)
	}
}

// nativeFixture builds a host module with one native and a caller module
// invoking it through Call(0).
func nativeFixture(t *testing.T, returns uint16, impl native.Function) (*loader.Loader, *bytecode.Function, *native.Registry) {
	t.Helper()
	dbl := &bytecode.Function{
		Name:       "double",
		ParamCount: 1, ReturnCount: returns, LocalCount: 1,
		IsNative: true,
	}
	host := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(2), "host"),
		Functions: []*bytecode.Function{dbl},
	}
	caller := &bytecode.Function{
		Name:        "run",
		ReturnCount: returns,
		Code: []bytecode.Instruction{
			bytecode.LdU64(21), bytecode.Call(0), bytecode.Ret(),
		},
	}
	m := &bytecode.Module{
		ID:           types.NewModuleID(testAddr(1), "caller"),
		Functions:    []*bytecode.Function{caller},
		FunctionRefs: []*bytecode.Function{dbl},
	}
	l := newLoader(t, host, m)

	reg := native.NewRegistry()
	if impl != nil {
		if err := reg.Register(host.ID, "double", impl); err != nil {
			t.Fatalf("Register native failed: %v", err)
		}
	}
	return l, caller, reg
}

func TestNativeCall(t *testing.T) {
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		x, err := args[0].AsU64()
		if err != nil {
			return native.Result{}, err
		}
		return native.Ok(30, values.NewU64(2*x)), nil
	}
	l, caller, reg := nativeFixture(t, 1, impl)

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{Natives: reg})
	out, err := ip.Execute(caller, nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, _ := out[0].AsU64(); got != 42 {
		t.Fatalf("native double(21) = %d, want 42", got)
	}
	if meter.n["nativeBefore"] != 1 || meter.n["native"] != 1 {
		t.Fatalf("native charges = %v", meter.n)
	}
	if meter.natives[0] != 30 {
		t.Fatalf("native cost charged = %d, want 30", meter.natives[0])
	}
}

func TestNativeEntryFunction(t *testing.T) {
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		x, err := args[0].AsU64()
		if err != nil {
			return native.Result{}, err
		}
		return native.Ok(30, values.NewU64(2*x)), nil
	}
	l, _, reg := nativeFixture(t, 1, impl)
	dbl, err := l.Function(types.NewModuleID(testAddr(2), "host"), "double")
	if err != nil {
		t.Fatalf("resolve native: %v", err)
	}

	// A native as the root function runs the bridge once, no frame.
	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{Natives: reg})
	out, err := ip.Execute(dbl, nil, []values.Value{values.NewU64(21)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("results = %d, want 1", len(out))
	}
	if got, _ := out[0].AsU64(); got != 42 {
		t.Fatalf("double(21) = %d, want 42", got)
	}
	if meter.n["call"] != 1 || meter.n["nativeBefore"] != 1 || meter.n["native"] != 1 {
		t.Fatalf("entry charges = %v", meter.n)
	}
}

func TestNativeAbortLocatedAtCaller(t *testing.T) {
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		return native.Abort(5, 99), nil
	}
	l, caller, reg := nativeFixture(t, 1, impl)

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{Natives: reg})
	_, err := ip.Execute(caller, nil, nil)
	wantCode(t, err, vmerr.StatusAborted)

	code, ok := vmerr.AbortCode(err)
	if !ok || code != 99 {
		t.Fatalf("abort code = %d (%v), want 99", code, ok)
	}
	var e *vmerr.VMError
	errors.As(err, &e)
	fn, pc := e.Location()
	if fn != "run" || pc != 1 {
		t.Fatalf("abort located at %s pc %d, want run pc 1", fn, pc)
	}
	// The declared cost is still charged on the abort path.
	if meter.natives[0] != 5 {
		t.Fatalf("native cost charged = %d, want 5", meter.natives[0])
	}
}

func TestNativeArityMismatch(t *testing.T) {
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		return native.Ok(1), nil // declared one return, produced none
	}
	l, caller, reg := nativeFixture(t, 1, impl)

	ip := New(l, newStore(), gas.Unmetered(), Options{Natives: reg})
	_, err := ip.Execute(caller, nil, nil)
	wantCode(t, err, vmerr.StatusUnknownInvariantViolation)
}

func TestNativeMissingImplementation(t *testing.T) {
	l, caller, reg := nativeFixture(t, 1, nil)

	ip := New(l, newStore(), gas.Unmetered(), Options{Natives: reg})
	_, err := ip.Execute(caller, nil, nil)
	wantCode(t, err, vmerr.StatusMissingNative)
}

func TestNativeGoErrorIsInvariant(t *testing.T) {
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		return native.Result{Cost: 7}, errors.New("host wiring broke")
	}
	l, caller, reg := nativeFixture(t, 1, impl)

	meter := newCountingMeter()
	ip := New(l, newStore(), meter, Options{Natives: reg})
	_, err := ip.Execute(caller, nil, nil)
	wantCode(t, err, vmerr.StatusUnknownInvariantViolation)
	if meter.natives[0] != 7 {
		t.Fatalf("native cost charged = %d, want 7", meter.natives[0])
	}
}

func TestNativeStackTrace(t *testing.T) {
	var trace string
	impl := func(ctx *native.Context, typeArgs []*bytecode.Type, args []values.Value) (native.Result, error) {
		trace = ctx.Machine.StackTrace()
		return native.Ok(1, args[0]), nil
	}
	l, caller, reg := nativeFixture(t, 1, impl)

	ip := New(l, newStore(), gas.Unmetered(), Options{Natives: reg})
	if _, err := ip.Execute(caller, nil, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(trace, "caller::run pc 1") {
		t.Fatalf("stack trace missing caller frame:\n%s", trace)
	}
}

func TestInvariantViolationLogged(t *testing.T) {
	// Pop on an empty operand stack is a state verified code cannot reach.
	bad := &bytecode.Function{
		Name: "bad",
		Code: []bytecode.Instruction{bytecode.Pop(), bytecode.Ret()},
	}
	m := &bytecode.Module{
		ID:        types.NewModuleID(testAddr(1), "broken"),
		Functions: []*bytecode.Function{bad},
	}
	l := newLoader(t, m)

	core, logs := observer.New(zapcore.ErrorLevel)
	ip := New(l, newStore(), gas.Unmetered(), Options{
		Logger:          zap.New(core),
		DumpOnViolation: true,
	})
	_, err := ip.Execute(bad, nil, nil)
	wantCode(t, err, vmerr.StatusEmptyOperandStack)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Message != "invariant violation" {
		t.Fatalf("log message = %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["function"] != "bad" {
		t.Fatalf("log fields = %v", fields)
	}
	dump, ok := fields["state"].(string)
	if !ok || !strings.Contains(dump, "call stack") {
		t.Fatalf("state dump missing: %v", fields["state"])
	}
}

func TestExecutionErrorNotLogged(t *testing.T) {
	// Plain program failures are outcomes, not operator events.
	m := addModule()
	l := newLoader(t, m)
	fn, _ := m.FunctionNamed("add")

	core, logs := observer.New(zapcore.ErrorLevel)
	ip := New(l, newStore(), gas.NewStatus(5), Options{Logger: zap.New(core)})
	_, err := ip.Execute(fn, nil, []values.Value{values.NewU64(1), values.NewU64(2)})
	wantCode(t, err, vmerr.StatusOutOfGas)
	if n := len(logs.All()); n != 0 {
		t.Fatalf("execution error produced %d log entries", n)
	}
}
