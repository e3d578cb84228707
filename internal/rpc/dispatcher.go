package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type Convention string

const (
	ConventionWrapper Convention = "wrapper"
	ConventionDirect  Convention = "direct"
	ConventionLegacy  Convention = "legacy"
)

// Call describes one procedure invocation under every convention the client
// knows. Payload is the wrapper form; DirectArgs the richer positional form;
// LegacyArgs the oldest, narrowest form. Conventions with a nil shape are
// skipped during negotiation.
type Call struct {
	Name       string
	Payload    map[string]any
	DirectArgs []any
	LegacyArgs []any
}

// WrapperProbe reports whether the wrapper procedures are known to be
// generally deployed on the connected backend.
type WrapperProbe interface {
	Deployed(ctx context.Context) bool
}

// Dispatcher issues remote calls, negotiating between the calling conventions
// different backend revisions expose. The first convention that succeeds for
// a procedure is memoized for the rest of the process lifetime; backends do
// not change conventions within a session.
type Dispatcher struct {
	backend Backend
	probe   WrapperProbe
	logger  *zap.Logger

	mu    sync.Mutex
	modes map[string]Convention

	// strict is set once a probe confirms wrapper deployment: from then on
	// only the wrapper convention is attempted, with a single schema-refresh
	// retry on not-found.
	strict atomic.Bool
}

func NewDispatcher(backend Backend, probe WrapperProbe, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		probe:   probe,
		logger:  logger,
		modes:   make(map[string]Convention),
	}
}

// Mode returns the memoized convention for a procedure, if any.
func (d *Dispatcher) Mode(name string) (Convention, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode, ok := d.modes[name]
	return mode, ok
}

func (d *Dispatcher) Strict() bool {
	return d.strict.Load()
}

func (d *Dispatcher) cacheMode(name string, mode Convention) {
	d.mu.Lock()
	d.modes[name] = mode
	d.mu.Unlock()
}

func (d *Dispatcher) clearMode(name string) {
	d.mu.Lock()
	delete(d.modes, name)
	d.mu.Unlock()
}

// Call invokes the procedure, negotiating the calling convention. A
// duplicate-key failure is returned as success: the operation already took
// effect under its idempotency key.
func (d *Dispatcher) Call(ctx context.Context, call Call) (json.RawMessage, error) {
	result, err := d.call(ctx, call)
	if err != nil && IsDuplicateKey(err) {
		d.logger.Info("duplicate key treated as applied",
			zap.String("procedure", call.Name))
		return nil, nil
	}
	return result, err
}

func (d *Dispatcher) call(ctx context.Context, call Call) (json.RawMessage, error) {
	if mode, ok := d.Mode(call.Name); ok {
		result, err := d.attempt(ctx, call, mode)
		if err == nil || !IsNotFound(err, call.Name) {
			return result, err
		}
		// The cached convention disappeared; renegotiate from scratch.
		d.logger.Warn("cached convention no longer accepted",
			zap.String("procedure", call.Name), zap.String("mode", string(mode)))
		d.clearMode(call.Name)
	}

	if d.strict.Load() {
		return d.callStrict(ctx, call)
	}

	result, err := d.attempt(ctx, call, ConventionWrapper)
	if err == nil {
		d.cacheMode(call.Name, ConventionWrapper)
		if d.probe != nil && d.probe.Deployed(ctx) {
			d.strict.Store(true)
		}
		return result, nil
	}
	if !IsNotFound(err, call.Name) {
		return nil, err
	}

	if refreshErr := d.backend.RefreshSchema(ctx); refreshErr != nil {
		d.logger.Warn("schema refresh failed", zap.Error(refreshErr))
	} else {
		result, err = d.attempt(ctx, call, ConventionWrapper)
		if err == nil {
			d.cacheMode(call.Name, ConventionWrapper)
			return result, nil
		}
		if !IsNotFound(err, call.Name) {
			return nil, err
		}
	}

	if call.DirectArgs != nil {
		result, derr := d.attempt(ctx, call, ConventionDirect)
		if derr == nil {
			d.cacheMode(call.Name, ConventionDirect)
			return result, nil
		}
		if !IsNotFound(derr, call.Name) {
			return nil, derr
		}
		err = derr
	}

	if call.LegacyArgs != nil {
		result, lerr := d.attempt(ctx, call, ConventionLegacy)
		if lerr == nil {
			d.cacheMode(call.Name, ConventionLegacy)
			return result, nil
		}
		err = lerr
	}

	return nil, err
}

// callStrict attempts only the wrapper convention, allowing one schema-cache
// refresh on not-found. No positional fallback: the wrapper deployment has
// already been confirmed.
func (d *Dispatcher) callStrict(ctx context.Context, call Call) (json.RawMessage, error) {
	result, err := d.attempt(ctx, call, ConventionWrapper)
	if err == nil {
		d.cacheMode(call.Name, ConventionWrapper)
		return result, nil
	}
	if !IsNotFound(err, call.Name) {
		return nil, err
	}

	if refreshErr := d.backend.RefreshSchema(ctx); refreshErr != nil {
		d.logger.Warn("schema refresh failed", zap.Error(refreshErr))
		return nil, err
	}

	result, err = d.attempt(ctx, call, ConventionWrapper)
	if err == nil {
		d.cacheMode(call.Name, ConventionWrapper)
	}
	return result, err
}

func (d *Dispatcher) attempt(ctx context.Context, call Call, mode Convention) (json.RawMessage, error) {
	switch mode {
	case ConventionDirect:
		return d.backend.InvokePositional(ctx, call.Name, call.DirectArgs)
	case ConventionLegacy:
		return d.backend.InvokePositional(ctx, call.Name, call.LegacyArgs)
	default:
		return d.backend.Invoke(ctx, call.Name, call.Payload)
	}
}
