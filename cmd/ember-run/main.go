// ember-run: development runner for the Ember VM
//
// ember-run executes one entry function from a published module store
// against a resource store and prints the results, emitted events, and
// storage effects. Writes reach the resource store only when execution
// succeeds.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/store"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/loader"
	"github.com/fortiblox/ember/pkg/vm/native"
	"github.com/fortiblox/ember/pkg/vm/runtime"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	modulePath  = flag.String("modules", "ember-modules.db", "Module store path (BoltDB)")
	dataDir     = flag.String("data-dir", "", "Resource store directory (BadgerDB); empty runs in memory")
	entry       = flag.String("entry", "", "Entry function: <address>::<module>::<function>")
	argSpec     = flag.String("args", "", "Comma-separated arguments, e.g. signer:0x2,u64:7,addr:0x3")
	typeSpec    = flag.String("type-args", "", "Comma-separated type arguments, e.g. u64,vector<u8>")
	budget      = flag.Uint64("budget", 0, "Gas budget (0 = unmetered)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	dumpState   = flag.Bool("dump-state", false, "Attach machine state dumps to invariant violation logs")
	listModules = flag.Bool("list", false, "List stored modules and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("ember-run %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	logger := buildLogger(*logLevel)
	defer logger.Sync()

	ms, err := loader.OpenModStore(loader.DefaultModStoreConfig(*modulePath))
	if err != nil {
		logger.Fatal("open module store", zap.String("path", *modulePath), zap.Error(err))
	}
	defer ms.Close()

	opts := loader.DefaultOpts()
	opts.Store = ms
	ld := loader.New(opts)

	// Stdlib first: stored modules may link against it.
	reg := native.NewRegistry()
	if err := runtime.RegisterStdlib(ld, reg); err != nil {
		logger.Fatal("install stdlib", zap.Error(err))
	}

	loaded, err := ld.LoadStored()
	if err != nil {
		logger.Fatal("load stored modules", zap.Error(err))
	}
	logger.Info("module store loaded",
		zap.String("path", *modulePath), zap.Int("modules", loaded))

	if *listModules {
		ids, err := ms.List()
		if err != nil {
			logger.Fatal("list modules", zap.Error(err))
		}
		for _, id := range ids {
			fmt.Println(id.ShortString())
		}
		return
	}

	if *entry == "" {
		fmt.Fprintln(os.Stderr, "missing -entry")
		flag.Usage()
		os.Exit(2)
	}
	id, fnName, err := parseEntry(*entry)
	if err != nil {
		logger.Fatal("parse entry", zap.String("entry", *entry), zap.Error(err))
	}
	typeArgs, err := parseTypeArgs(ld, *typeSpec)
	if err != nil {
		logger.Fatal("parse type arguments", zap.Error(err))
	}
	args, err := parseArgs(*argSpec)
	if err != nil {
		logger.Fatal("parse arguments", zap.Error(err))
	}

	backend, err := openBackend(*dataDir)
	if err != nil {
		logger.Fatal("open resource store", zap.String("dir", *dataDir), zap.Error(err))
	}
	defer backend.Close()

	cfg := runtime.DefaultConfig()
	cfg.Budget = *budget
	cfg.Natives = reg
	cfg.Logger = logger
	cfg.DumpOnViolation = *dumpState

	session := runtime.NewSession(ld, backend, cfg)
	res, err := session.Run(id, fnName, typeArgs, args)
	if err != nil {
		reportFailure(err)
		os.Exit(1)
	}
	report(res)
}

// buildLogger constructs the production logger at the requested level.
func buildLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", level)
		os.Exit(2)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(2)
	}
	return logger
}

// openBackend picks the resource store: BadgerDB under dir, or memory when
// no directory is given.
func openBackend(dir string) (store.Backend, error) {
	if dir == "" {
		return store.NewMemBackend(), nil
	}
	return store.NewBadgerBackend(store.DefaultBadgerConfig(dir))
}

// parseEntry splits "<address>::<module>::<function>".
func parseEntry(s string) (types.ModuleID, string, error) {
	idx := strings.LastIndex(s, "::")
	if idx <= 0 || idx+2 >= len(s) {
		return types.ModuleID{}, "", fmt.Errorf("want <address>::<module>::<function>, got %q", s)
	}
	id, err := types.ParseModuleID(s[:idx])
	if err != nil {
		return types.ModuleID{}, "", err
	}
	return id, s[idx+2:], nil
}

func parseArgs(spec string) ([]values.Value, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	args := make([]values.Value, 0, len(parts))
	for _, part := range parts {
		v, err := parseValue(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// parseValue builds one argument from its kind:payload form.
func parseValue(spec string) (values.Value, error) {
	kind, payload, ok := strings.Cut(spec, ":")
	if !ok {
		return values.Value{}, fmt.Errorf("argument %q: want kind:payload", spec)
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewBool(b), nil
	case "u8":
		n, err := strconv.ParseUint(payload, 0, 8)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU8(uint8(n)), nil
	case "u16":
		n, err := strconv.ParseUint(payload, 0, 16)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU16(uint16(n)), nil
	case "u32":
		n, err := strconv.ParseUint(payload, 0, 32)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU32(uint32(n)), nil
	case "u64":
		n, err := strconv.ParseUint(payload, 0, 64)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU64(n), nil
	case "u128":
		n, err := parseWide(payload)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU128(n)
	case "u256":
		n, err := parseWide(payload)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewU256(n), nil
	case "addr", "address":
		a, err := parseAddr(payload)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewAddress(a), nil
	case "signer":
		a, err := parseAddr(payload)
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.NewSigner(a), nil
	case "bytes":
		data, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
		if err != nil {
			return values.Value{}, fmt.Errorf("argument %q: %w", spec, err)
		}
		return values.BytesVector(data), nil
	}
	return values.Value{}, fmt.Errorf("argument %q: unknown kind %q", spec, kind)
}

func parseWide(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "0x") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

func parseAddr(s string) (types.Address, error) {
	if strings.HasPrefix(s, "0x") {
		return types.AddressFromHex(s)
	}
	return types.AddressFromBase58(s)
}

func parseTypeArgs(ld *loader.Loader, spec string) ([]*bytecode.Type, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	targs := make([]*bytecode.Type, 0, len(parts))
	for _, part := range parts {
		t, err := parseTypeTag(ld, part)
		if err != nil {
			return nil, err
		}
		targs = append(targs, t)
	}
	return targs, nil
}

// parseTypeTag resolves one type argument. Vector tags nest; datatype tags
// name a registered non-generic struct or enum.
func parseTypeTag(ld *loader.Loader, s string) (*bytecode.Type, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "bool":
		return bytecode.BoolType, nil
	case "u8":
		return bytecode.U8Type, nil
	case "u16":
		return bytecode.U16Type, nil
	case "u32":
		return bytecode.U32Type, nil
	case "u64":
		return bytecode.U64Type, nil
	case "u128":
		return bytecode.U128Type, nil
	case "u256":
		return bytecode.U256Type, nil
	case "address":
		return bytecode.AddressType, nil
	case "signer":
		return bytecode.SignerType, nil
	}
	if inner, ok := strings.CutPrefix(s, "vector<"); ok {
		inner, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return nil, fmt.Errorf("type %q: unterminated vector", s)
		}
		elem, err := parseTypeTag(ld, inner)
		if err != nil {
			return nil, err
		}
		return bytecode.NewVectorType(elem), nil
	}
	idx := strings.LastIndex(s, "::")
	if idx <= 0 || idx+2 >= len(s) {
		return nil, fmt.Errorf("unknown type %q", s)
	}
	id, err := types.ParseModuleID(s[:idx])
	if err != nil {
		return nil, fmt.Errorf("type %q: %w", s, err)
	}
	m, err := ld.Module(id)
	if err != nil {
		return nil, fmt.Errorf("type %q: %w", s, err)
	}
	def, ok := m.StructNamed(s[idx+2:])
	if !ok {
		return nil, fmt.Errorf("type %q: no such datatype", s)
	}
	if def.TypeParamCount != 0 {
		return nil, fmt.Errorf("type %q: generic datatypes need instantiated arguments", s)
	}
	return bytecode.NewDatatype(def), nil
}

// reportFailure prints an execution failure with whatever status detail the
// error carries.
func reportFailure(err error) {
	fmt.Fprintf(os.Stderr, "execution failed: %v\n", err)
	if code, ok := vmerr.AbortCode(err); ok {
		fmt.Fprintf(os.Stderr, "abort code: %d\n", code)
	}
	var ve *vmerr.VMError
	if errors.As(err, &ve) && ve.Located() {
		fn, pc := ve.Location()
		fmt.Fprintf(os.Stderr, "at: %s pc %d\n", fn, pc)
	}
}

// report prints the settled result.
func report(res *runtime.Result) {
	if *budget > 0 {
		fmt.Printf("gas used: %d of %d\n", res.GasUsed, *budget)
	}
	for i, v := range res.Values {
		fmt.Printf("result[%d] = %s\n", i, v.String())
	}
	for _, ev := range res.Events {
		fmt.Printf("event %s: 0x%s\n", ev.Type, hex.EncodeToString(ev.Data))
	}
	if len(res.Effects) == 0 {
		fmt.Println("no storage effects")
		return
	}
	for _, eff := range res.Effects {
		if eff.Op == store.WriteDelete {
			fmt.Printf("%s %s\n", eff.Op, eff.Key)
			continue
		}
		fmt.Printf("%s %s (%d bytes)\n", eff.Op, eff.Key, len(eff.Data))
	}
}
