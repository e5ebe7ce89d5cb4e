// Package runtime drives transaction-scoped execution sessions over the
// Ember VM.
//
// A Session owns the pieces one transaction needs:
//   - entry resolution through the module loader
//   - a gas meter derived from the session budget
//   - a transaction-scoped resource view over a storage backend
//   - the native extension bag, event store included
//   - the commit/discard boundary: writes reach the backend only on Commit
//
// A session is single-threaded and runs to a single settlement; storage
// backends are safe to share across sessions, a session is not.
package runtime

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/ember/internal/types"
	"github.com/fortiblox/ember/pkg/store"
	"github.com/fortiblox/ember/pkg/vm"
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/gas"
	"github.com/fortiblox/ember/pkg/vm/interp"
	"github.com/fortiblox/ember/pkg/vm/loader"
	"github.com/fortiblox/ember/pkg/vm/native"
	"github.com/fortiblox/ember/pkg/vm/values"
)

// TxStore is the session's resource view and implements the interpreter's
// storage dependency.
var _ interp.DataStore = (*store.TxStore)(nil)

// Session errors.
var (
	ErrSessionSettled = errors.New("session already settled")
	ErrArgumentCount  = errors.New("argument count mismatch")
	ErrTypeArgCount   = errors.New("type argument count mismatch")
)

// Config configures a session.
type Config struct {
	// Budget is the gas budget for the whole session. Zero runs unmetered.
	Budget uint64

	// MaxEvents caps emitted events. Non-positive uses the platform
	// default.
	MaxEvents int

	// Limits bounds the machine. The zero value means vm.DefaultLimits().
	Limits vm.RuntimeLimits

	// Natives resolves native calls. Nil means an empty registry.
	Natives *native.Registry

	// Meter overrides the budget-derived meter when set.
	Meter gas.Meter

	// Logger receives invariant-violation reports. Nil means no logging.
	Logger *zap.Logger

	// DumpOnViolation attaches a machine state dump to those reports.
	DumpOnViolation bool
}

// DefaultConfig returns an unmetered config with the platform event cap.
func DefaultConfig() Config {
	return Config{MaxEvents: native.DefaultMaxEvents}
}

// Result is the settled outcome of a session.
type Result struct {
	// Values holds the entry function's results (Run only).
	Values []values.Value

	// GasUsed is the gas consumed across the session's calls. Zero when
	// the session ran unmetered.
	GasUsed uint64

	// Events holds the events emitted during the session, in order.
	Events []native.Event

	// Effects holds the storage writes the commit applied.
	Effects []store.WriteEffect
}

// Session executes entry functions against a transaction-scoped view of a
// resource backend.
type Session struct {
	loader  *loader.Loader
	tx      *store.TxStore
	meter   gas.Meter
	exts    *native.Extensions
	events  *native.EventStore
	cfg     Config
	settled bool
}

// NewSession opens a session over a backend. Nothing is written to the
// backend until Commit.
func NewSession(l *loader.Loader, backend store.Backend, cfg Config) *Session {
	meter := cfg.Meter
	if meter == nil {
		if cfg.Budget > 0 {
			meter = gas.NewStatus(cfg.Budget)
		} else {
			meter = gas.Unmetered()
		}
	}
	events := native.NewEventStore(cfg.MaxEvents)
	exts := native.NewExtensions()
	exts.SetEventStore(events)
	return &Session{
		loader: l,
		tx:     store.NewTxStore(backend),
		meter:  meter,
		exts:   exts,
		events: events,
		cfg:    cfg,
	}
}

// Call executes one entry function against the session state. Storage writes
// stay in the transaction view until Commit; several calls may share one
// session. The returned error carries the VM status for execution failures.
func (s *Session) Call(id types.ModuleID, name string, typeArgs []*bytecode.Type, args []values.Value) ([]values.Value, error) {
	if s.settled {
		return nil, ErrSessionSettled
	}
	fn, err := s.loader.Function(id, name)
	if err != nil {
		return nil, err
	}
	if len(args) != int(fn.ParamCount) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d",
			ErrArgumentCount, fn.QualifiedName(), fn.ParamCount, len(args))
	}
	if len(typeArgs) != int(fn.TypeParamCount) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d",
			ErrTypeArgCount, fn.QualifiedName(), fn.TypeParamCount, len(typeArgs))
	}

	// One interpreter instance runs one execution; the meter and the
	// transaction view carry state across calls.
	ip := interp.New(s.loader, s.tx, s.meter, interp.Options{
		Limits:          s.cfg.Limits,
		Natives:         s.cfg.Natives,
		Extensions:      s.exts,
		Logger:          s.cfg.Logger,
		DumpOnViolation: s.cfg.DumpOnViolation,
	})
	return ip.Execute(fn, typeArgs, args)
}

// Commit settles the session, applying the transaction view to the backend.
// Clean slots write nothing.
func (s *Session) Commit() (*Result, error) {
	if s.settled {
		return nil, ErrSessionSettled
	}
	s.settled = true
	effects, err := s.tx.Commit()
	if err != nil {
		return nil, err
	}
	return &Result{
		GasUsed: s.gasUsed(),
		Events:  s.events.Events(),
		Effects: effects,
	}, nil
}

// Discard settles the session, dropping every pending change.
func (s *Session) Discard() {
	if s.settled {
		return
	}
	s.settled = true
	s.tx.Discard()
}

// Run executes a single entry function and settles the session: commit on
// success, discard on failure.
func (s *Session) Run(id types.ModuleID, name string, typeArgs []*bytecode.Type, args []values.Value) (*Result, error) {
	vals, err := s.Call(id, name, typeArgs, args)
	if err != nil {
		s.Discard()
		return nil, err
	}
	res, err := s.Commit()
	if err != nil {
		return nil, err
	}
	res.Values = vals
	return res, nil
}

// GasUsed reports the gas consumed so far.
func (s *Session) GasUsed() uint64 {
	return s.gasUsed()
}

func (s *Session) gasUsed() uint64 {
	if g, ok := s.meter.(interface{ GasUsed() uint64 }); ok {
		return g.GasUsed()
	}
	return 0
}

// RegisterStdlib wires the platform stdlib into a loader and registry pair:
// the native module definitions into the loader, the implementations into
// the registry. Call it once per loader.
func RegisterStdlib(l *loader.Loader, r *native.Registry) error {
	for _, m := range native.StdlibModules() {
		if err := l.Register(m); err != nil {
			return err
		}
	}
	return native.InstallStdlib(r)
}
