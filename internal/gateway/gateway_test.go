package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/manager"
	"github.com/flemzord/tierllm/internal/resource"
)

type fakeStatus struct {
	status  manager.Status
	healthy bool
}

func (f *fakeStatus) Status() manager.Status { return f.status }
func (f *fakeStatus) Healthy() bool          { return f.healthy }

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	info := g.ModuleInfo()

	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if info.New == nil {
		t.Fatal("New func is nil")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8090" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", g.config.ReadTimeout)
	}
	if g.config.WriteTimeout != 30*time.Second {
		t.Errorf("WriteTimeout = %v, want 30s", g.config.WriteTimeout)
	}
	if g.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", g.config.ShutdownTimeout)
	}
	if !g.config.metricsEnabled() {
		t.Error("metrics disabled by default, want enabled")
	}
}

func TestGateway_ConfigureCustom(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
read_timeout: 5s
metrics: false
`)
	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if g.config.Bind != "0.0.0.0:9090" {
		t.Errorf("Bind = %q, want custom", g.config.Bind)
	}
	if g.config.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", g.config.ReadTimeout)
	}
	if g.config.metricsEnabled() {
		t.Error("metrics enabled, want disabled")
	}
}

func TestGateway_ValidateAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bind    string
		wantErr bool
	}{
		{"127.0.0.1:8090", false},
		{"not a valid address::", true},
	}
	for _, tt := range tests {
		g := &Gateway{config: Config{Bind: tt.bind}}
		if err := g.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) = %v, wantErr %v", tt.bind, err, tt.wantErr)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     StatusProvider
		wantCode   int
		wantStatus string
	}{
		{"no manager", nil, http.StatusOK, "ok"},
		{"healthy", &fakeStatus{healthy: true, status: manager.Status{ModelLoaded: true}}, http.StatusOK, "ok"},
		{"emergency", &fakeStatus{status: manager.Status{
			EmergencyMode:  true,
			MemoryPressure: resource.LevelCritical,
		}}, http.StatusServiceUnavailable, "degraded"},
		{"init failed", &fakeStatus{status: manager.Status{
			Initialization: manager.InitializationStatus{Error: "insufficient memory"},
		}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := &Gateway{status: tt.status}
			rr := httptest.NewRecorder()
			g.handleHealth().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rr.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestStatus_ReportsManager(t *testing.T) {
	t.Parallel()

	g := &Gateway{
		status: &fakeStatus{healthy: true, status: manager.Status{
			MemoryPressure:    resource.LevelMedium,
			MemoryTier:        resource.TierLow,
			AvailableMemoryGB: 1.5,
			Profile:           "constrained",
			Sessions:          3,
		}},
		startedAt: time.Now().Add(-5 * time.Minute),
	}

	rr := httptest.NewRecorder()
	g.handleStatus().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UptimeSeconds < 299 {
		t.Errorf("uptime = %d, want about 300", resp.UptimeSeconds)
	}
	if resp.Manager == nil {
		t.Fatal("manager status missing")
	}
	if resp.Manager.MemoryTier != resource.TierLow || resp.Manager.MemoryPressure != resource.LevelMedium {
		t.Errorf("tier/pressure = %v/%v, want low/medium", resp.Manager.MemoryTier, resp.Manager.MemoryPressure)
	}
	if resp.Manager.Sessions != 3 || resp.Manager.Profile != "constrained" {
		t.Errorf("manager = %+v", resp.Manager)
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doGet makes a GET request with context.
func doGet(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func newTestGateway(t *testing.T, addr string) (*Gateway, *core.AppContext) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	appCtx := core.NewAppContext(logger, t.TempDir())

	g := &Gateway{config: Config{Bind: addr}}
	g.config.defaults()
	return g, appCtx
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := newTestGateway(t, addr)
	appCtx.RegisterService(ManagerService, &fakeStatus{healthy: true})
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp := doGet(t, "http://"+addr+"/health")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := newTestGateway(t, addr)
	reg := prometheus.NewRegistry()
	appCtx.RegisterService(RegistererService, prometheus.Registerer(reg))
	appCtx.RegisterService(MetricsGathererService, prometheus.Gatherer(reg))

	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/status")
	_ = resp.Body.Close()

	resp = doGet(t, "http://"+addr+"/metrics")
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `tierllm_gateway_requests_total{code="200",route="/status"} 1`) {
		t.Errorf("metrics body missing status request counter:\n%s", body)
	}
}

func TestGateway_MetricsDisabled(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := newTestGateway(t, addr)
	disabled := false
	g.config.Metrics = &disabled
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/metrics")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("metrics code = %d, want 404", resp.StatusCode)
	}
}

func TestGateway_StopNilServer(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Stop(context.Background()); err != nil {
		t.Errorf("Stop on nil server should not error: %v", err)
	}
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
