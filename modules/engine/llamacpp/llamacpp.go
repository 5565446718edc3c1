// Package llamacpp drives an external llama.cpp server over HTTP. The
// server owns the model file and its native settings; Load waits for it to
// report healthy.
package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/engine"
)

func init() {
	core.RegisterModule(&Engine{})
}

// Engine is an engine.Engine backed by a llama.cpp server.
type Engine struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	opts   engine.LoadOptions
}

// ModuleInfo implements core.Module.
func (e *Engine) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.llamacpp",
		New: func() core.Module { return &Engine{} },
	}
}

// Configure implements core.Configurable.
func (e *Engine) Configure(node *yaml.Node) error {
	return node.Decode(&e.config)
}

// Provision implements core.Provisioner.
func (e *Engine) Provision(ctx *core.AppContext) error {
	e.config.defaults()
	e.logger = ctx.Logger
	e.client = &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: e.config.Timeout,
		},
	}
	ctx.RegisterService("engine", engine.Engine(e))
	return nil
}

// Validate implements core.Validator.
func (e *Engine) Validate() error {
	return e.config.validate()
}

// Stop implements core.Stopper.
func (e *Engine) Stop(context.Context) error {
	return e.Unload()
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "llamacpp" }

// Loaded implements engine.Engine.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Unload implements engine.Engine. The server keeps its model; the engine
// only stops accepting completions.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	return nil
}

// Load implements engine.Engine. It polls /health until the server is ready
// or LoadTimeout passes.
func (e *Engine) Load(ctx context.Context, opts engine.LoadOptions) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.LoadTimeout)
	defer cancel()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = e.HealthCheck(ctx); lastErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: server not ready: %w", engine.ErrUnavailable, lastErr)
		case <-ticker.C:
		}
	}

	if nctx, err := e.serverContext(ctx); err == nil && nctx > 0 && nctx < opts.ContextWindow {
		e.log().Warn("server context smaller than requested",
			"server_n_ctx", nctx, "context_window", opts.ContextWindow)
	}

	e.mu.Lock()
	e.loaded = true
	e.opts = opts
	e.mu.Unlock()
	e.log().Info("engine ready", "base_url", e.config.BaseURL, "context_window", opts.ContextWindow)
	return nil
}

// HealthCheck verifies the server is reachable and has a model loaded.
func (e *Engine) HealthCheck(ctx context.Context) error {
	req, err := e.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", engine.ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// serverContext reads the server's context size from /props.
func (e *Engine) serverContext(ctx context.Context) (int, error) {
	req, err := e.newRequest(ctx, http.MethodGet, "/props", nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("props: HTTP %d", resp.StatusCode)
	}
	var props propsResponse
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return 0, err
	}
	return props.DefaultGenerationSettings.NCtx, nil
}

// Complete implements engine.Engine.
func (e *Engine) Complete(ctx context.Context, req engine.Request) (string, error) {
	if !e.Loaded() {
		return "", engine.ErrNotLoaded
	}

	resp, err := e.doRequest(ctx, buildRequest(req, *e.config.CachePrompt))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return "", handleErrorResponse(resp)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Truncated {
		e.log().Debug("server truncated prompt", "tokens_evaluated", out.TokensEvaluated)
	}
	text, _ := engine.CutAtStop(out.Content, req.Stop)
	return text, nil
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// Compile-time interface assertions.
var (
	_ core.Module       = (*Engine)(nil)
	_ core.Configurable = (*Engine)(nil)
	_ core.Provisioner  = (*Engine)(nil)
	_ core.Validator    = (*Engine)(nil)
	_ core.Stopper      = (*Engine)(nil)
	_ engine.Engine     = (*Engine)(nil)
)
