package runtime

import (
	"errors"
	"testing"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/store"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
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

// ledgerModule defines a Coin resource with mint and balance entry points,
// plus a function that writes and then aborts.
func ledgerModule() *bytecode.Module {
	id := types.NewModuleID(testAddr(1), "ledger")
	coin := &bytecode.StructDef{
		Module: id,
		Name:   "Coin",
		Fields: []bytecode.Field{{Name: "amount", Type: bytecode.U64Type}},
	}
	mint := &bytecode.Function{
		Name:       "mint",
		ParamCount: 2, LocalCount: 2,
		Code: []bytecode.Instruction{
			bytecode.ImmBorrowLoc(0),
			bytecode.CopyLoc(1),
			bytecode.Pack(0),
			bytecode.MoveTo(0),
			bytecode.Ret(),
		},
	}
	balance := &bytecode.Function{
		Name:       "balance",
		ParamCount: 1, ReturnCount: 1, LocalCount: 1,
		Code: []bytecode.Instruction{
			bytecode.MoveLoc(0),
			bytecode.ImmBorrowGlobal(0),
			bytecode.ImmBorrowField(0),
			bytecode.ReadRef(),
			bytecode.Ret(),
		},
	}
	mintBoom := &bytecode.Function{
		Name:       "mint_boom",
		ParamCount: 1, LocalCount: 1,
		Code: []bytecode.Instruction{
			bytecode.ImmBorrowLoc(0),
			bytecode.LdU64(1),
			bytecode.Pack(0),
			bytecode.MoveTo(0),
			bytecode.LdU64(13),
			bytecode.Abort(),
		},
	}
	return &bytecode.Module{
		ID:           id,
		Structs:      []*bytecode.StructDef{coin},
		Functions:    []*bytecode.Function{mint, balance, mintBoom},
		FieldHandles: []bytecode.FieldHandle{{Def: coin, Offset: 0}},
	}
}

type ledgerEnv struct {
	l       *loader.Loader
	backend *store.MemBackend
	mod     *bytecode.Module
}

func newLedger(t *testing.T) *ledgerEnv {
	t.Helper()
	l := loader.New(loader.DefaultOpts())
	mod := ledgerModule()
	if err := l.Register(mod); err != nil {
		t.Fatalf("register ledger: %v", err)
	}
	return &ledgerEnv{l: l, backend: store.NewMemBackend(), mod: mod}
}

func (e *ledgerEnv) coinType(t *testing.T) *bytecode.Type {
	t.Helper()
	def, ok := e.mod.StructNamed("Coin")
	if !ok {
		t.Fatal("ledger module has no Coin struct")
	}
	return bytecode.NewDatatype(def)
}

func TestSessionRunCommits(t *testing.T) {
	e := newLedger(t)
	owner := testAddr(9)

	s := NewSession(e.l, e.backend, DefaultConfig())
	res, err := s.Run(e.mod.ID, "mint", nil, []values.Value{
		values.NewSigner(owner), values.NewU64(25),
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if len(res.Values) != 0 {
		t.Fatalf("mint returned %d values, want 0", len(res.Values))
	}
	if len(res.Effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(res.Effects))
	}
	eff := res.Effects[0]
	if eff.Op != store.WriteNew {
		t.Fatalf("effect op = %v, want WriteNew", eff.Op)
	}
	if eff.Key.Address != owner {
		t.Fatalf("effect owner = %s, want %s", eff.Key.Address, owner)
	}
	stored, err := values.Deserialize(eff.Data, e.coinType(t))
	if err != nil {
		t.Fatalf("decode effect data: %v", err)
	}
	want := values.NewStruct([]values.Value{values.NewU64(25)})
	if eq, err := stored.Equals(&want); err != nil || !eq {
		t.Fatalf("stored coin = %v (eq err %v), want amount 25", stored, err)
	}
	if ok, err := e.backend.HasResource(eff.Key); err != nil || !ok {
		t.Fatalf("backend missing committed resource (err %v)", err)
	}

	// A fresh session over the same backend reads the committed state.
	s2 := NewSession(e.l, e.backend, DefaultConfig())
	res2, err := s2.Run(e.mod.ID, "balance", nil, []values.Value{values.NewAddress(owner)})
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if len(res2.Values) != 1 {
		t.Fatalf("balance returned %d values, want 1", len(res2.Values))
	}
	got, err := res2.Values[0].AsU64()
	if err != nil || got != 25 {
		t.Fatalf("balance = %d (err %v), want 25", got, err)
	}
	if len(res2.Effects) != 0 {
		t.Fatalf("read-only run produced %d effects", len(res2.Effects))
	}
}

func TestSessionDiscardOnFailure(t *testing.T) {
	e := newLedger(t)
	s := NewSession(e.l, e.backend, DefaultConfig())

	_, err := s.Run(e.mod.ID, "mint_boom", nil, []values.Value{values.NewSigner(testAddr(4))})
	wantCode(t, err, vmerr.StatusAborted)
	if code, ok := vmerr.AbortCode(err); !ok || code != 13 {
		t.Fatalf("abort code = %d (ok %v), want 13", code, ok)
	}

	// The pending write never reached the backend.
	count, err := e.backend.ResourceCount()
	if err != nil || count != 0 {
		t.Fatalf("backend holds %d resources after discard (err %v)", count, err)
	}

	// The failed run settled the session.
	if _, err := s.Call(e.mod.ID, "mint", nil, nil); !errors.Is(err, ErrSessionSettled) {
		t.Fatalf("call after discard = %v, want ErrSessionSettled", err)
	}
}

func TestSessionMultiCall(t *testing.T) {
	e := newLedger(t)
	owner := testAddr(3)
	s := NewSession(e.l, e.backend, DefaultConfig())

	if _, err := s.Call(e.mod.ID, "mint", nil, []values.Value{
		values.NewSigner(owner), values.NewU64(40),
	}); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	// The second call sees the first call's write before any commit.
	out, err := s.Call(e.mod.ID, "balance", nil, []values.Value{values.NewAddress(owner)})
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if got, err := out[0].AsU64(); err != nil || got != 40 {
		t.Fatalf("balance = %d (err %v), want 40", got, err)
	}
	if count, _ := e.backend.ResourceCount(); count != 0 {
		t.Fatal("write reached the backend before commit")
	}

	res, err := s.Commit()
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if len(res.Effects) != 1 || res.Effects[0].Op != store.WriteNew {
		t.Fatalf("effects = %+v, want one WriteNew", res.Effects)
	}
	if res.GasUsed != 0 {
		t.Fatalf("unmetered session reports gas used %d", res.GasUsed)
	}
}

func TestSessionArityChecks(t *testing.T) {
	e := newLedger(t)
	s := NewSession(e.l, e.backend, DefaultConfig())

	_, err := s.Call(e.mod.ID, "mint", nil, nil)
	if !errors.Is(err, ErrArgumentCount) {
		t.Fatalf("missing args = %v, want ErrArgumentCount", err)
	}

	_, err = s.Call(e.mod.ID, "balance",
		[]*bytecode.Type{bytecode.U64Type},
		[]values.Value{values.NewAddress(testAddr(2))})
	if !errors.Is(err, ErrTypeArgCount) {
		t.Fatalf("stray type args = %v, want ErrTypeArgCount", err)
	}

	// Precheck failures do not settle the session; the next call still
	// reaches the machine.
	_, err = s.Call(e.mod.ID, "balance", nil, []values.Value{values.NewAddress(testAddr(2))})
	wantCode(t, err, vmerr.StatusMissingData)
}

func TestSessionFunctionNotFound(t *testing.T) {
	e := newLedger(t)
	s := NewSession(e.l, e.backend, DefaultConfig())
	_, err := s.Call(e.mod.ID, "burn", nil, nil)
	if !errors.Is(err, loader.ErrFunctionNotFound) {
		t.Fatalf("unknown function = %v, want ErrFunctionNotFound", err)
	}
}

func TestSessionSettlement(t *testing.T) {
	e := newLedger(t)
	s := NewSession(e.l, e.backend, DefaultConfig())

	res, err := s.Commit()
	if err != nil {
		t.Fatalf("empty commit failed: %v", err)
	}
	if len(res.Effects) != 0 {
		t.Fatalf("empty session committed %d effects", len(res.Effects))
	}
	if _, err := s.Commit(); !errors.Is(err, ErrSessionSettled) {
		t.Fatalf("second commit = %v, want ErrSessionSettled", err)
	}
	s.Discard()
}

func TestSessionGasBudget(t *testing.T) {
	e := newLedger(t)
	owner := testAddr(5)
	args := []values.Value{values.NewSigner(owner), values.NewU64(1)}

	s := NewSession(e.l, e.backend, Config{Budget: 3})
	_, err := s.Run(e.mod.ID, "mint", nil, args)
	wantCode(t, err, vmerr.StatusOutOfGas)
	if count, _ := e.backend.ResourceCount(); count != 0 {
		t.Fatal("out-of-gas run left a write behind")
	}

	s2 := NewSession(e.l, e.backend, Config{Budget: 1_000_000})
	res, err := s2.Run(e.mod.ID, "mint", nil, args)
	if err != nil {
		t.Fatalf("budgeted mint failed: %v", err)
	}
	if res.GasUsed == 0 || res.GasUsed > 1_000_000 {
		t.Fatalf("gas used = %d, want within (0, budget]", res.GasUsed)
	}
}

// emitterModule calls event::emit through a generic call site.
func emitterModule(emit *bytecode.Function) *bytecode.Module {
	id := types.NewModuleID(testAddr(2), "emitter")
	return &bytecode.Module{
		ID: id,
		Functions: []*bytecode.Function{{
			Name: "emit_val",
			Code: []bytecode.Instruction{
				bytecode.LdU64(7),
				bytecode.CallGeneric(0),
				bytecode.Ret(),
			},
		}},
		FunctionInsts: []bytecode.FunctionInst{
			{Target: emit, TypeArgs: []*bytecode.Type{bytecode.U64Type}},
		},
	}
}

func TestSessionEvents(t *testing.T) {
	l := loader.New(loader.DefaultOpts())
	reg := native.NewRegistry()
	if err := RegisterStdlib(l, reg); err != nil {
		t.Fatalf("register stdlib: %v", err)
	}
	emit, err := l.Function(native.EventModuleID(), "emit")
	if err != nil {
		t.Fatalf("resolve event::emit: %v", err)
	}
	mod := emitterModule(emit)
	if err := l.Register(mod); err != nil {
		t.Fatalf("register emitter: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Natives = reg
	s := NewSession(l, store.NewMemBackend(), cfg)
	res, err := s.Run(mod.ID, "emit_val", nil, nil)
	if err != nil {
		t.Fatalf("emit_val failed: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.Type != "u64" {
		t.Fatalf("event type = %q, want u64", ev.Type)
	}
	payload, err := values.Deserialize(ev.Data, bytecode.U64Type)
	if err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if got, err := payload.AsU64(); err != nil || got != 7 {
		t.Fatalf("event payload = %d (err %v), want 7", got, err)
	}
}

func TestRegisterStdlib(t *testing.T) {
	l := loader.New(loader.DefaultOpts())
	r := native.NewRegistry()
	if err := RegisterStdlib(l, r); err != nil {
		t.Fatalf("register stdlib: %v", err)
	}
	if _, err := l.Function(native.HashModuleID(), "sha2_256"); err != nil {
		t.Fatalf("hash module not loaded: %v", err)
	}
	if _, ok := r.Get(native.HashModuleID(), "sha2_256"); !ok {
		t.Fatal("sha2_256 implementation not installed")
	}
	if err := RegisterStdlib(l, r); err == nil {
		t.Fatal("second stdlib install succeeded")
	}
}
