package native

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// stdlibCall registers the stdlib and invokes one native directly.
func stdlibCall(t *testing.T, ctx *Context, id types.ModuleID, name string, typeArgs []*bytecode.Type, args []values.Value) Result {
	t.Helper()
	r := NewRegistry()
	if err := InstallStdlib(r); err != nil {
		t.Fatalf("install stdlib: %v", err)
	}
	fn, ok := r.Get(id, name)
	if !ok {
		t.Fatalf("%s::%s is not registered", id.ShortString(), name)
	}
	res, err := fn(ctx, typeArgs, args)
	if err != nil {
		t.Fatalf("%s::%s: %v", id.ShortString(), name, err)
	}
	return res
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	id := types.NewModuleID(StdAddress(), "custom")
	fn := func(ctx *Context, typeArgs []*bytecode.Type, args []values.Value) (Result, error) {
		return Ok(1), nil
	}
	if err := r.Register(id, "noop", fn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := r.Get(id, "noop"); !ok {
		t.Fatal("registered native not found")
	}
	if _, ok := r.Get(id, "missing"); ok {
		t.Fatal("lookup of unregistered native succeeded")
	}
	err := r.Register(id, "noop", fn)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate register = %v, want ErrAlreadyRegistered", err)
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestStdlibModuleShapes(t *testing.T) {
	r := NewRegistry()
	if err := InstallStdlib(r); err != nil {
		t.Fatalf("install stdlib: %v", err)
	}
	if r.Count() != 7 {
		t.Fatalf("registered %d natives, want 7", r.Count())
	}
	mods := StdlibModules()
	if len(mods) != 4 {
		t.Fatalf("got %d stdlib modules, want 4", len(mods))
	}
	for _, m := range mods {
		if m.ID.Address != StdAddress() {
			t.Fatalf("module %s published under %s, want the stdlib address", m.ID.Name, m.ID.Address)
		}
		for _, f := range m.Functions {
			if !f.IsNative {
				t.Fatalf("%s::%s is not marked native", m.ID.Name, f.Name)
			}
			if f.LocalCount != f.ParamCount {
				t.Fatalf("%s::%s declares %d locals for %d params", m.ID.Name, f.Name, f.LocalCount, f.ParamCount)
			}
			if len(f.Code) != 0 {
				t.Fatalf("%s::%s carries bytecode", m.ID.Name, f.Name)
			}
			if _, ok := r.Get(m.ID, f.Name); !ok {
				t.Fatalf("%s::%s has no registered implementation", m.ID.Name, f.Name)
			}
		}
	}
}

func TestHashNatives(t *testing.T) {
	ctx := NewContext(nil, nil, nil)

	input := []byte("abc")
	res := stdlibCall(t, ctx, HashModuleID(), "sha2_256", nil, []values.Value{values.BytesVector(input)})
	got, err := res.Values[0].AsBytes()
	if err != nil {
		t.Fatalf("result is not a byte vector: %v", err)
	}
	want := mustHex(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	if !bytes.Equal(got, want) {
		t.Fatalf("sha2_256(abc) = %x, want %x", got, want)
	}
	if res.Cost != CostHashBase+3*CostHashPerByte {
		t.Fatalf("sha2_256 cost = %d, want %d", res.Cost, CostHashBase+3*CostHashPerByte)
	}

	res = stdlibCall(t, ctx, HashModuleID(), "keccak256", nil, []values.Value{values.BytesVector(nil)})
	got, err = res.Values[0].AsBytes()
	if err != nil {
		t.Fatalf("result is not a byte vector: %v", err)
	}
	want = mustHex(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if !bytes.Equal(got, want) {
		t.Fatalf("keccak256() = %x, want %x", got, want)
	}
	if res.Cost != CostHashBase {
		t.Fatalf("keccak256 cost = %d, want %d", res.Cost, CostHashBase)
	}

	// The node hashes blocks with the same function, so the two must agree.
	res = stdlibCall(t, ctx, HashModuleID(), "blake3", nil, []values.Value{values.BytesVector(input)})
	got, err = res.Values[0].AsBytes()
	if err != nil {
		t.Fatalf("result is not a byte vector: %v", err)
	}
	ref := types.ComputeHash(input)
	if !bytes.Equal(got, ref[:]) {
		t.Fatalf("blake3(abc) = %x, want %x", got, ref[:])
	}
}

func TestHashRejectsNonBytes(t *testing.T) {
	r := NewRegistry()
	if err := InstallStdlib(r); err != nil {
		t.Fatalf("install stdlib: %v", err)
	}
	fn, _ := r.Get(HashModuleID(), "sha2_256")
	_, err := fn(NewContext(nil, nil, nil), nil, []values.Value{values.NewU64(7)})
	if err == nil {
		t.Fatal("hashing a u64 succeeded")
	}
}

func TestEd25519Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("stratus attests this payload")
	sig := ed25519.Sign(priv, msg)
	ctx := NewContext(nil, nil, nil)

	verify := func(sig, pub, msg []byte) Result {
		return stdlibCall(t, ctx, Ed25519ModuleID(), "verify", nil, []values.Value{
			values.BytesVector(sig), values.BytesVector(pub), values.BytesVector(msg),
		})
	}

	res := verify(sig, pub, msg)
	if ok, _ := res.Values[0].AsBool(); !ok {
		t.Fatal("valid signature did not verify")
	}
	if res.Cost != CostVerifyBase+uint64(len(msg))*CostVerifyPerByte {
		t.Fatalf("verify cost = %d, want %d", res.Cost, CostVerifyBase+uint64(len(msg))*CostVerifyPerByte)
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 1
	res = verify(sig, pub, tampered)
	if ok, _ := res.Values[0].AsBool(); ok {
		t.Fatal("tampered message verified")
	}

	// Malformed keys answer false instead of failing the call.
	res = verify(sig, pub[:5], msg)
	if ok, _ := res.Values[0].AsBool(); ok {
		t.Fatal("truncated public key verified")
	}
}

func TestEventEmit(t *testing.T) {
	exts := NewExtensions()
	exts.SetEventStore(NewEventStore(2))
	ctx := NewContext(nil, exts, nil)

	res := stdlibCall(t, ctx, EventModuleID(), "emit", []*bytecode.Type{bytecode.U64Type}, []values.Value{values.NewU64(7)})
	if res.Aborted {
		t.Fatalf("emit aborted with code %d", res.AbortCode)
	}
	if res.Cost != CostEmitBase+8*CostEmitPerByte {
		t.Fatalf("emit cost = %d, want %d", res.Cost, CostEmitBase+8*CostEmitPerByte)
	}
	store, _ := exts.EventStore()
	if store.Len() != 1 {
		t.Fatalf("store holds %d events, want 1", store.Len())
	}
	ev := store.Events()[0]
	if ev.Type != "u64" {
		t.Fatalf("event type = %q, want %q", ev.Type, "u64")
	}
	want := []byte{7, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(ev.Data, want) {
		t.Fatalf("event data = %x, want %x", ev.Data, want)
	}

	stdlibCall(t, ctx, EventModuleID(), "emit", []*bytecode.Type{bytecode.U64Type}, []values.Value{values.NewU64(8)})
	res = stdlibCall(t, ctx, EventModuleID(), "emit", []*bytecode.Type{bytecode.U64Type}, []values.Value{values.NewU64(9)})
	if !res.Aborted || res.AbortCode != AbortTooManyEvents {
		t.Fatalf("emit past the cap = %+v, want abort %d", res, AbortTooManyEvents)
	}
	if store.Len() != 2 {
		t.Fatalf("store holds %d events after the cap, want 2", store.Len())
	}
}

func TestEventEmitTooLarge(t *testing.T) {
	exts := NewExtensions()
	exts.SetEventStore(NewEventStore(0))
	ctx := NewContext(nil, exts, nil)

	payload := values.BytesVector(make([]byte, MaxEventData))
	vecU8 := bytecode.NewVectorType(bytecode.U8Type)
	// The length prefix pushes the serialized form past the cap.
	res := stdlibCall(t, ctx, EventModuleID(), "emit", []*bytecode.Type{vecU8}, []values.Value{payload})
	if !res.Aborted || res.AbortCode != AbortEventTooLarge {
		t.Fatalf("oversized emit = %+v, want abort %d", res, AbortEventTooLarge)
	}
	store, _ := exts.EventStore()
	if store.Len() != 0 {
		t.Fatalf("oversized event was recorded")
	}
}

func TestEventEmitWithoutStore(t *testing.T) {
	r := NewRegistry()
	if err := InstallStdlib(r); err != nil {
		t.Fatalf("install stdlib: %v", err)
	}
	fn, _ := r.Get(EventModuleID(), "emit")
	_, err := fn(NewContext(nil, nil, nil), []*bytecode.Type{bytecode.U64Type}, []values.Value{values.NewU64(1)})
	if err == nil {
		t.Fatal("emit without an event store succeeded")
	}
	code, ok := vmerr.Code(err)
	if !ok {
		t.Fatalf("error %v carries no status code", err)
	}
	if code != vmerr.StatusUnknownInvariantViolation {
		t.Fatalf("status = %s, want %s", code, vmerr.StatusUnknownInvariantViolation)
	}
}

type fakeMachine struct{ trace string }

func (m *fakeMachine) StackTrace() string { return m.trace }

func (m *fakeMachine) RemainingGas() uint64 { return 0 }

func TestDebugNatives(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := NewContext(&fakeMachine{trace: "main::run\nmain::helper"}, nil, zap.New(core))

	res := stdlibCall(t, ctx, DebugModuleID(), "print", []*bytecode.Type{bytecode.U64Type}, []values.Value{values.NewU64(9)})
	if res.Cost != CostDebugPrint {
		t.Fatalf("print cost = %d, want %d", res.Cost, CostDebugPrint)
	}
	entries := logs.FilterMessage("debug print").All()
	if len(entries) != 1 {
		t.Fatalf("print logged %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["value"]; got != "9u64" {
		t.Fatalf("print logged value %v, want 9u64", got)
	}

	stdlibCall(t, ctx, DebugModuleID(), "print_stack_trace", nil, nil)
	entries = logs.FilterMessage("stack trace").All()
	if len(entries) != 1 {
		t.Fatalf("print_stack_trace logged %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["trace"]; got != "main::run\nmain::helper" {
		t.Fatalf("print_stack_trace logged %v", got)
	}
}

func TestDebugPrintFollowsReferences(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := NewContext(nil, nil, zap.New(core))

	cell := values.NewU64(41)
	ref := values.NewRefTo(&cell, false)
	stdlibCall(t, ctx, DebugModuleID(), "print", []*bytecode.Type{bytecode.U64Type}, []values.Value{ref})
	entries := logs.FilterMessage("debug print").All()
	if len(entries) != 1 {
		t.Fatalf("print logged %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["value"]; got != "&41u64" {
		t.Fatalf("print logged value %v, want &41u64", got)
	}
}

func TestNewContextDefaults(t *testing.T) {
	ctx := NewContext(nil, nil, nil)
	if ctx.Extensions == nil {
		t.Fatal("extensions defaulted to nil")
	}
	if ctx.Logger == nil {
		t.Fatal("logger defaulted to nil")
	}
}

func TestEventStoreDefaults(t *testing.T) {
	s := NewEventStore(0)
	for i := 0; i < DefaultMaxEvents; i++ {
		if err := s.Append(Event{Type: "u8", Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.Append(Event{Type: "u8", Data: []byte{0}}); err == nil {
		t.Fatal("append past the default cap succeeded")
	}
	if s.Len() != DefaultMaxEvents {
		t.Fatalf("len = %d, want %d", s.Len(), DefaultMaxEvents)
	}
	if s.Events()[3].Data[0] != 3 {
		t.Fatal("events are not in emission order")
	}
}
