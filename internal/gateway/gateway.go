// Package gateway serves the read-only introspection endpoints of a
// running tierllm: /health, /status and /metrics. It has no chat routes.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/manager"
)

// Service names resolved from the registry.
const (
	ManagerService         = manager.ServiceName
	RegistererService      = manager.MetricsRegisterer
	MetricsGathererService = "metrics.gatherer"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// StatusProvider is the slice of the model manager the gateway reports on.
// *manager.Manager satisfies it.
type StatusProvider interface {
	Status() manager.Status
	Healthy() bool
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *httpMetrics
	startedAt time.Time

	// Resolved lazily at Start() via service registry.
	status   StatusProvider
	gatherer prometheus.Gatherer
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	if reg, ok := core.ServiceAs[prometheus.Registerer](ctx, RegistererService); ok {
		g.metrics = newHTTPMetrics(reg)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if g.appCtx != nil {
		if sp, ok := core.ServiceAs[StatusProvider](g.appCtx, ManagerService); ok {
			g.status = sp
		}
		if gatherer, ok := core.ServiceAs[prometheus.Gatherer](g.appCtx, MetricsGathererService); ok {
			g.gatherer = gatherer
		}
	}
	if g.status == nil {
		g.logger.Warn("gateway started without a model manager; /status reports uptime only")
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// Compile-time interface assertions.
var (
	_ StatusProvider    = (*manager.Manager)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)
