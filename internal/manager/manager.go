// Package manager composes memory monitoring, adaptive parameters, session
// history, prompt building, inference and post-processing behind a small
// API that never returns errors to its caller: every failure becomes a
// fixed, polite reply.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/engine"
	"github.com/flemzord/tierllm/internal/history"
	"github.com/flemzord/tierllm/internal/postprocess"
	"github.com/flemzord/tierllm/internal/prompt"
	"github.com/flemzord/tierllm/internal/resource"
)

// User-facing replies.
const (
	MsgEmergency        = "I'm currently running low on system resources. Please try again with a shorter message."
	MsgUnavailable      = "I'm currently unavailable due to system constraints. Please try again shortly."
	MsgGenerationFailed = "I apologize, but I'm experiencing high system load right now. Please try again in a moment."
)

// IsFallback reports whether reply is one of the fixed user-facing replies
// rather than model output.
func IsFallback(reply string) bool {
	switch reply {
	case MsgEmergency, MsgUnavailable, MsgGenerationFailed:
		return true
	}
	return false
}

// DefaultMode is the model mode used when none is requested.
const DefaultMode = "default"

// ErrInsufficientMemory is recorded when available memory is below the
// profile's load floor.
var ErrInsufficientMemory = errors.New("insufficient memory to load AI model")

var tracer = otel.Tracer("github.com/flemzord/tierllm/internal/manager")

type initState int

const (
	stateIdle initState = iota
	stateInitializing
	stateReady
	stateFailed
)

func (s initState) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Options configures a Manager. Engine, Monitor, Profile and Dialect are
// required.
type Options struct {
	Engine  engine.Engine
	Monitor *resource.Monitor
	Profile adaptive.Profile
	Dialect prompt.Dialect

	ModelPath    string
	SystemPrompt string
	// Modes maps a model mode to its system prompt. The "default" mode
	// falls back to SystemPrompt.
	Modes map[string]string

	// Estimator sizes prompts against the token budget. Nil counts four
	// characters per token.
	Estimator prompt.TokenEstimator
	// History reads persisted exchanges for LoadHistory. Optional.
	History history.Source

	// SerializeGeneration holds a per-model lock around every completion.
	SerializeGeneration bool
	// ReloadOnRetune reloads the engine when a retune changes native
	// settings.
	ReloadOnRetune bool

	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Manager is the process-wide model lifecycle manager. It is safe for
// concurrent use.
type Manager struct {
	opts     Options
	logger   *slog.Logger
	engine   engine.Engine
	monitor  *resource.Monitor
	tuner    *adaptive.Tuner
	store    *history.Store
	builder  *prompt.Builder
	stripper *postprocess.Stripper
	repairer postprocess.Repairer
	metrics  *Metrics
	modes    map[string]string

	loadGroup singleflight.Group
	// engineMu is held for writing across a reload and for reading across
	// a completion.
	engineMu sync.RWMutex
	genMu    sync.Mutex

	mu        sync.Mutex
	state     initState
	initErr   string
	initAt    time.Time
	loaded    adaptive.Params
	hasLoaded bool
}

// New builds a manager. It does not load the model.
func New(opts Options) (*Manager, error) {
	var errs []error
	if opts.Engine == nil {
		errs = append(errs, errors.New("engine is required"))
	}
	if opts.Monitor == nil {
		errs = append(errs, errors.New("monitor is required"))
	}
	if opts.Dialect == nil {
		errs = append(errs, errors.New("dialect is required"))
	}
	if err := opts.Profile.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("component", "manager")

	m := &Manager{
		opts:     opts,
		logger:   logger,
		engine:   opts.Engine,
		monitor:  opts.Monitor,
		metrics:  opts.Metrics,
		stripper: postprocess.NewStripper(opts.Dialect.ControlTokens()),
		builder:  prompt.NewBuilder(opts.Dialect, opts.Estimator, opts.Logger),
	}

	m.modes = make(map[string]string, len(opts.Modes)+1)
	for k, v := range opts.Modes {
		m.modes[k] = v
	}
	if _, ok := m.modes[DefaultMode]; !ok {
		m.modes[DefaultMode] = opts.SystemPrompt
	}

	p := opts.Profile
	m.tuner = adaptive.NewTuner(p.Table, opts.Monitor, adaptive.TunerOptions{
		Interval:   p.RetuneInterval,
		Hysteresis: p.Hysteresis,
		Logger:     opts.Logger,
		Now:        opts.Now,
	})
	m.store = history.NewStore(history.Options{
		MaxMessages: func() int {
			_, params := m.tuner.Current()
			return params.MaxHistoryMessages
		},
		Pressure:         opts.Monitor,
		ContinuityWindow: p.History.ContinuityWindow,
		CollectEvery:     p.History.CollectEvery,
		CollectInterval:  p.History.CollectInterval,
		Logger:           opts.Logger,
		Now:              opts.Now,
	})

	if p.Repair {
		m.repairer = postprocess.NewHeuristicRepairer(m.engine, m.stripper, m.monitor.IsEmergency, p.Reflow, opts.Logger)
	} else {
		m.repairer = postprocess.Nop{}
	}
	return m, nil
}

// Initialize loads the model. It returns true when the model is ready,
// and false immediately when another caller is already loading it or when
// the load fails.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	switch m.state {
	case stateReady:
		m.mu.Unlock()
		return true
	case stateInitializing:
		m.mu.Unlock()
		return false
	}
	m.state = stateInitializing
	m.mu.Unlock()

	_, err, _ := m.loadGroup.Do("load", func() (any, error) {
		return nil, m.load(ctx)
	})
	return err == nil
}

// IsInitialized reports whether the model is loaded and ready.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateReady
}

// ensureReady loads the model if needed. Unlike Initialize it waits for a
// load already in progress and reuses its result.
func (m *Manager) ensureReady(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateReady:
		m.mu.Unlock()
		return nil
	case stateIdle, stateFailed:
		m.state = stateInitializing
	}
	m.mu.Unlock()

	_, err, _ := m.loadGroup.Do("load", func() (any, error) {
		return nil, m.load(ctx)
	})
	return err
}

// load performs one load attempt and records its outcome. Callers must
// have moved the state to initializing.
func (m *Manager) load(ctx context.Context) (err error) {
	m.mu.Lock()
	if m.state == stateReady {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "manager.load")
	defer span.End()

	start := m.opts.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("manager: model load panicked: %v", r)
		}
		m.finishLoad(err)
		m.metrics.observeLoad(err, m.opts.Now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	snap := m.monitor.Refresh()
	floor := m.opts.Profile.LoadFloorGB
	if !(snap.Stale && snap.AvailableBytes == 0) && snap.AvailableGB() < floor {
		m.logger.Error("model load refused",
			"available_gb", snap.AvailableGB(),
			"load_floor_gb", floor,
			"pressure", snap.Level.String(),
		)
		return ErrInsufficientMemory
	}

	params, _ := m.tuner.Force()
	tier, _ := m.tuner.Current()
	opts := engine.LoadOptions{
		ModelPath:     m.opts.ModelPath,
		ContextWindow: params.ContextWindow,
		Threads:       params.Threads,
		BatchSize:     params.BatchSize,
		CacheBytes:    params.CacheBytes(),
	}
	span.SetAttributes(
		attribute.String("tier", tier.String()),
		attribute.Int("context_window", opts.ContextWindow),
		attribute.Int("threads", opts.Threads),
	)
	m.logger.Info("loading model",
		"engine", m.engine.Name(),
		"model_path", opts.ModelPath,
		"tier", tier.String(),
		"context_window", opts.ContextWindow,
		"threads", opts.Threads,
		"batch_size", opts.BatchSize,
		"available_gb", snap.AvailableGB(),
	)
	if err := m.engine.Load(ctx, opts); err != nil {
		m.logger.Error("model load failed", "error", err)
		return fmt.Errorf("manager: load model: %w", err)
	}

	m.mu.Lock()
	m.loaded = params
	m.hasLoaded = true
	m.mu.Unlock()
	m.logger.Info("model loaded", "elapsed", m.opts.Now().Sub(start))
	return nil
}

func (m *Manager) finishLoad(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initAt = m.opts.Now()
	if err != nil {
		m.state = stateFailed
		m.initErr = err.Error()
		return
	}
	m.state = stateReady
	m.initErr = ""
}

// retune re-evaluates the adaptive parameters and, when configured,
// reloads the engine for new native settings.
func (m *Manager) retune(ctx context.Context) (adaptive.Params, bool) {
	params, changed := m.tuner.Reevaluate()
	if !changed {
		return params, false
	}
	m.metrics.observeRetune()

	m.mu.Lock()
	reload := m.opts.ReloadOnRetune && m.state == stateReady && adaptive.NativeChanged(m.loaded, params)
	m.mu.Unlock()
	if reload {
		m.reload(ctx)
	}
	return params, true
}

// reload unloads the engine and loads it again with the current tier's
// native settings. No completion runs while it is in progress.
func (m *Manager) reload(ctx context.Context) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		return
	}
	m.state = stateInitializing
	m.mu.Unlock()

	m.logger.Info("reloading model for new native parameters")
	if err := m.engine.Unload(); err != nil {
		m.logger.Warn("model unload failed", "error", err)
	}
	_, _, _ = m.loadGroup.Do("load", func() (any, error) {
		return nil, m.load(ctx)
	})
}

// effectiveParams caps the tier's parameters to what the loaded engine
// can serve: a context window larger than the loaded one only takes effect
// after a reload.
func (m *Manager) effectiveParams(p adaptive.Params) adaptive.Params {
	m.mu.Lock()
	loaded, ok := m.loaded, m.hasLoaded
	m.mu.Unlock()
	if !ok || p.ContextWindow <= loaded.ContextWindow {
		return p
	}
	p.ContextWindow = loaded.ContextWindow
	p.MaxResponseTokens = min(p.MaxResponseTokens, loaded.MaxResponseTokens)
	return p
}

// Close unloads the model.
func (m *Manager) Close() error {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	m.mu.Lock()
	m.state = stateIdle
	m.hasLoaded = false
	m.mu.Unlock()

	if err := m.engine.Unload(); err != nil {
		return fmt.Errorf("manager: unload model: %w", err)
	}
	return nil
}
