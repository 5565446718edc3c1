// Package yzma runs GGUF models in-process through llama.cpp, loaded at
// runtime with hybridgroup/yzma (no cgo).
package yzma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/engine"
)

func init() {
	core.RegisterModule(&Engine{})
}

// The shared libraries are process-global: load them once.
var (
	libOnce sync.Once
	libErr  error
)

func loadLibrary(path string) error {
	libOnce.Do(func() {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if err := llama.Load(abs); err != nil {
			libErr = fmt.Errorf("engine.yzma: load llama.cpp libraries from %s: %w", abs, err)
			return
		}
		llama.Init()
	})
	return libErr
}

// Engine is an in-process llama.cpp engine. The model stays loaded between
// requests; each completion gets a fresh context sized by the load options.
type Engine struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	model llama.Model
	vocab llama.Vocab
	opts  engine.LoadOptions
	ready bool
}

// ModuleInfo implements core.Module.
func (e *Engine) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.yzma",
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
	ctx.RegisterService("engine", engine.Engine(e))
	return nil
}

// Validate implements core.Validator.
func (e *Engine) Validate() error {
	return e.config.validate()
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// Stop implements core.Stopper.
func (e *Engine) Stop(context.Context) error {
	return e.Unload()
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "yzma" }

// Loaded implements engine.Engine.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Load implements engine.Engine. A failed load leaves the engine unloaded.
func (e *Engine) Load(ctx context.Context, opts engine.LoadOptions) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, statErr := os.Stat(opts.ModelPath); statErr != nil {
		return fmt.Errorf("%w: %s", engine.ErrModelNotFound, opts.ModelPath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := loadLibrary(e.config.LibPath); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine.yzma: native load panicked: %v", r)
		}
	}()

	if e.ready {
		llama.ModelFree(e.model)
		e.ready = false
	}

	params := llama.ModelDefaultParams()
	params.NGpuLayers = int32(e.config.GPULayers)
	model, err := llama.ModelLoadFromFile(opts.ModelPath, params)
	if err != nil {
		return fmt.Errorf("engine.yzma: load model: %w", err)
	}

	e.model = model
	e.vocab = llama.ModelGetVocab(model)
	e.opts = opts
	e.ready = true
	e.log().Info("model loaded",
		"model_path", opts.ModelPath,
		"context_window", opts.ContextWindow,
		"threads", opts.Threads,
		"batch_size", opts.BatchSize,
		"gpu_layers", e.config.GPULayers,
	)
	e.noteCacheSize(opts)
	return nil
}

// noteCacheSize records that a requested prompt cache is not used. Each
// Complete call builds a fresh context, so nothing survives between calls.
func (e *Engine) noteCacheSize(opts engine.LoadOptions) {
	if opts.CacheBytes > 0 {
		e.log().Debug("prompt cache not supported, ignoring cache size", "cache_bytes", opts.CacheBytes)
	}
}

// Unload implements engine.Engine.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil
	}
	llama.ModelFree(e.model)
	e.ready = false
	return nil
}

// Complete implements engine.Engine. It decodes the prompt in batches,
// then samples one token at a time until an end-of-generation token, a
// stop sequence or MaxTokens.
func (e *Engine) Complete(ctx context.Context, req engine.Request) (text string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return "", engine.ErrNotLoaded
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine.yzma: native generation panicked: %v", r)
		}
	}()

	cp := llama.ContextDefaultParams()
	cp.Embeddings = 0
	cp.NCtx = uint32(e.opts.ContextWindow)
	batchSize := max(e.opts.BatchSize, 1)
	cp.NBatch = uint32(batchSize)
	if e.opts.Threads > 0 {
		cp.NThreads = int32(e.opts.Threads)
		cp.NThreadsBatch = int32(e.opts.Threads)
	}
	lctx, err := llama.InitFromModel(e.model, cp)
	if err != nil {
		return "", fmt.Errorf("engine.yzma: create context: %w", err)
	}
	defer llama.Free(lctx)

	tokens := llama.Tokenize(e.vocab, req.Prompt, true, true)
	if len(tokens) == 0 {
		return "", errors.New("engine.yzma: prompt produced no tokens")
	}
	if len(tokens)+req.MaxTokens > e.opts.ContextWindow {
		return "", fmt.Errorf("%w: %d prompt tokens + %d response tokens > %d",
			engine.ErrContextLength, len(tokens), req.MaxTokens, e.opts.ContextWindow)
	}

	for start := 0; start < len(tokens); start += batchSize {
		end := min(start+batchSize, len(tokens))
		if _, err := llama.Decode(lctx, llama.BatchGetOne(tokens[start:end])); err != nil {
			return "", fmt.Errorf("engine.yzma: prompt decode: %w", err)
		}
	}

	sp := llama.DefaultSamplerParams()
	sp.Temp = float32(req.Temperature)
	sp.TopP = float32(req.TopP)
	sp.TopK = int32(req.TopK)
	sp.PenaltyRepeat = float32(req.RepeatPenalty)
	if e.config.Seed != 0 {
		sp.Seed = e.config.Seed
	}
	sampler := llama.NewSampler(e.model, llama.DefaultSamplers, sp)
	defer llama.SamplerFree(sampler)

	var out strings.Builder
	buf := make([]byte, 256)
	for range req.MaxTokens {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		token := llama.SamplerSample(sampler, lctx, -1)
		if llama.VocabIsEOG(e.vocab, token) {
			break
		}
		if n := llama.TokenToPiece(e.vocab, token, buf, 0, true); n > 0 {
			out.Write(buf[:n])
		}
		if cut, found := engine.CutAtStop(out.String(), req.Stop); found {
			return cut, nil
		}
		if _, err := llama.Decode(lctx, llama.BatchGetOne([]llama.Token{token})); err != nil {
			return out.String(), fmt.Errorf("engine.yzma: decode: %w", err)
		}
	}
	return out.String(), nil
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
