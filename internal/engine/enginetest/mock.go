// Package enginetest provides test helpers for the engine package.
package enginetest

import (
	"context"
	"sync"

	"github.com/flemzord/tierllm/internal/engine"
)

// MockEngine is a configurable test double for engine.Engine.
// A nil LoadFunc succeeds; a nil CompleteFunc panics on call.
// All methods are safe for concurrent use.
type MockEngine struct {
	LoadFunc     func(ctx context.Context, opts engine.LoadOptions) error
	CompleteFunc func(ctx context.Context, req engine.Request) (string, error)

	mu            sync.Mutex
	loaded        bool
	LoadCalls     int
	CompleteCalls int
	UnloadCalls   int
	LastLoad      engine.LoadOptions
	Requests      []engine.Request
}

// Name implements engine.Engine.
func (m *MockEngine) Name() string { return "mock" }

// Load delegates to LoadFunc and tracks call count.
func (m *MockEngine) Load(ctx context.Context, opts engine.LoadOptions) error {
	m.mu.Lock()
	m.LoadCalls++
	m.LastLoad = opts
	fn := m.LoadFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, opts); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Complete delegates to CompleteFunc and records the request.
func (m *MockEngine) Complete(ctx context.Context, req engine.Request) (string, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Loaded implements engine.Engine.
func (m *MockEngine) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Unload implements engine.Engine.
func (m *MockEngine) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UnloadCalls++
	m.loaded = false
	return nil
}

// Counts returns the load and complete call counts.
func (m *MockEngine) Counts() (loads, completes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoadCalls, m.CompleteCalls
}

// LastRequest returns the most recent completion request.
func (m *MockEngine) LastRequest() (engine.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return engine.Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

// Interface guard.
var _ engine.Engine = (*MockEngine)(nil)
