package testutil

import (
	"context"
	"encoding/json"
	"sync"
)

// BackendCall records one invocation against the fake backend.
type BackendCall struct {
	Kind    string // "invoke", "positional", "table", "refresh"
	Name    string
	Payload any
	Args    []any
}

// FakeBackend is a scriptable rpc.Backend for tests. Unset funcs succeed
// with an empty result.
type FakeBackend struct {
	mu    sync.Mutex
	calls []BackendCall

	InvokeFunc     func(name string, payload any) (json.RawMessage, error)
	PositionalFunc func(name string, args []any) (json.RawMessage, error)
	TableFunc      func(table string, payload json.RawMessage) error
	RefreshErr     error
}

func (b *FakeBackend) record(call BackendCall) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *FakeBackend) Invoke(_ context.Context, name string, payload any) (json.RawMessage, error) {
	b.record(BackendCall{Kind: "invoke", Name: name, Payload: payload})
	if b.InvokeFunc != nil {
		return b.InvokeFunc(name, payload)
	}
	return nil, nil
}

func (b *FakeBackend) InvokePositional(_ context.Context, name string, args []any) (json.RawMessage, error) {
	b.record(BackendCall{Kind: "positional", Name: name, Args: args})
	if b.PositionalFunc != nil {
		return b.PositionalFunc(name, args)
	}
	return nil, nil
}

func (b *FakeBackend) TableOp(_ context.Context, table string, payload json.RawMessage) error {
	b.record(BackendCall{Kind: "table", Name: table})
	if b.TableFunc != nil {
		return b.TableFunc(table, payload)
	}
	return nil
}

func (b *FakeBackend) RefreshSchema(context.Context) error {
	b.record(BackendCall{Kind: "refresh"})
	return b.RefreshErr
}

// Calls returns a snapshot of everything recorded so far.
func (b *FakeBackend) Calls() []BackendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BackendCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsNamed filters the recorded calls by procedure name.
func (b *FakeBackend) CallsNamed(name string) []BackendCall {
	var out []BackendCall
	for _, call := range b.Calls() {
		if call.Name == name {
			out = append(out, call)
		}
	}
	return out
}
