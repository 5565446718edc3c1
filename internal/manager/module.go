package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/cron"
	"github.com/flemzord/tierllm/internal/engine"
	"github.com/flemzord/tierllm/internal/history"
	"github.com/flemzord/tierllm/internal/prompt"
	"github.com/flemzord/tierllm/internal/resource"
)

// Service names shared through the AppContext.
const (
	ServiceName       = "model.manager"
	EngineService     = "engine"
	HistoryService    = "history.source"
	MetricsRegisterer = "metrics.registerer"
)

func init() {
	core.RegisterModule(&Module{})
}

// Module wires a Manager into the application. It must be loaded after
// the engine module, and after the chat log module when one is used.
type Module struct {
	config    Config
	logger    *slog.Logger
	manager   *Manager
	scheduler *cron.Scheduler
	cancel    context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ServiceName,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner. It builds the manager from the
// engine registered by an engine module.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	eng, ok := core.ServiceAs[engine.Engine](ctx, EngineService)
	if !ok {
		return errors.New("manager: no engine module loaded")
	}
	profile, err := m.config.ResolveProfile()
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	dialect, err := prompt.LookupDialect(m.config.Dialect)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	sampler, err := resource.NewProcSampler(m.config.ProcMount, m.config.SysMount)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}

	var metrics *Metrics
	if reg, ok := core.ServiceAs[prometheus.Registerer](ctx, MetricsRegisterer); ok {
		metrics = NewMetrics(reg)
	}
	source, _ := core.ServiceAs[history.Source](ctx, HistoryService)

	m.manager, err = New(Options{
		Engine:              eng,
		Monitor:             resource.NewMonitor(profile.Resource, sampler, resource.WithLogger(ctx.Logger)),
		Profile:             profile,
		Dialect:             dialect,
		ModelPath:           m.config.ModelPath,
		SystemPrompt:        m.config.SystemPrompt,
		Modes:               m.config.Modes,
		Estimator:           prompt.NewCharEstimator(m.config.CharsPerToken),
		History:             source,
		SerializeGeneration: *m.config.SerializeGeneration,
		ReloadOnRetune:      m.config.ReloadOnRetune,
		Metrics:             metrics,
		Logger:              ctx.Logger,
	})
	if err != nil {
		return err
	}

	m.scheduler = cron.NewScheduler(ctx.Logger)
	jobs := []cron.Job{
		&cron.RetuneJob{Retuner: m.manager, Logger: ctx.Logger, ScheduleExpr: m.config.Schedules.Retune},
		&cron.StatusLogJob{Status: m.manager, ScheduleExpr: m.config.Schedules.StatusLog},
	}
	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return fmt.Errorf("manager: %w", err)
		}
	}

	ctx.RegisterService(ServiceName, m.manager)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	return nil
}

// Start implements core.Starter. With warmup enabled the model loads in
// the background so start-up is not held up by it.
func (m *Module) Start() error {
	if err := m.scheduler.Start(); err != nil {
		return err
	}
	if m.config.Warmup {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go func() {
			if !m.manager.Initialize(ctx) {
				m.logger.Warn("model warmup did not complete", "status", m.manager.Status().Initialization.Error)
			}
		}()
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	var errs []error
	if m.scheduler != nil {
		errs = append(errs, m.scheduler.Stop(ctx))
	}
	if m.manager != nil {
		errs = append(errs, m.manager.Close())
	}
	return errors.Join(errs...)
}

// Manager returns the provisioned manager.
func (m *Module) Manager() *Manager {
	return m.manager
}
