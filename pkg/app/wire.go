package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/tierllm/internal/config"
	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/gateway"
	"github.com/flemzord/tierllm/internal/manager"
	chatlog "github.com/flemzord/tierllm/modules/chatlog/sqlite"
)

// Runtime is a provisioned, not yet started application.
type Runtime struct {
	App        *core.App
	Config     *config.Config
	ConfigPath string
	ModuleIDs  []string
	Logger     *slog.Logger
	Registry   *prometheus.Registry

	shutdownTracing func(context.Context) error
}

// Build loads and validates configuration, then provisions every
// configured module. Nothing is started and the model is not loaded.
func Build(ctx context.Context, params RunParams) (*Runtime, error) {
	cfgPath, err := ResolveConfigPath(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	shutdown, err := setupTracing(ctx, cfg.Telemetry, params.Version)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry != nil {
		logger.Info("tracing enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_ratio", cfg.Telemetry.Ratio())
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(manager.MetricsRegisterer, prometheus.Registerer(registry))
	appCtx.RegisterService(gateway.MetricsGathererService, prometheus.Gatherer(registry))
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}

	return &Runtime{
		App:             application,
		Config:          cfg,
		ConfigPath:      cfgPath,
		ModuleIDs:       ids,
		Logger:          logger,
		Registry:        registry,
		shutdownTracing: shutdown,
	}, nil
}

// Manager returns the provisioned model manager.
func (r *Runtime) Manager() (*manager.Manager, error) {
	m, ok := core.ServiceAs[*manager.Manager](r.App.Context(), manager.ServiceName)
	if !ok {
		return nil, fmt.Errorf("app: %s service not registered", manager.ServiceName)
	}
	return m, nil
}

// Recorder returns the chat log recorder when chatlog.sqlite is configured.
func (r *Runtime) Recorder() (chatlog.Recorder, bool) {
	return core.ServiceAs[chatlog.Recorder](r.App.Context(), chatlog.RecorderService)
}

// Close stops every live module and flushes pending spans.
func (r *Runtime) Close() {
	r.App.Stop()
	if err := r.shutdownTracing(context.Background()); err != nil {
		r.Logger.Warn("tracer shutdown failed", "error", err)
	}
}
