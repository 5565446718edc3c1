package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flemzord/tierllm/internal/resource"
)

// Generation outcomes, used as metric labels and span attributes.
const (
	outcomeOK          = "ok"
	outcomeEmergency   = "emergency"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
)

// Metrics exports manager counters to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	generations       *prometheus.CounterVec
	generationSeconds *prometheus.HistogramVec
	loads             *prometheus.CounterVec
	loadSeconds       prometheus.Histogram
	repairs           *prometheus.CounterVec
	retunes           prometheus.Counter
	availableBytes    prometheus.Gauge
	pressureLevel     prometheus.Gauge
	memoryTier        prometheus.Gauge
	emergency         prometheus.Gauge
}

// NewMetrics registers the manager metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "generations_total",
			Help:      "Generation requests by outcome (ok, emergency, unavailable, failed)",
		}, []string{"outcome"}),
		generationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "generation_duration_seconds",
			Help:      "End-to-end generation latency in seconds",
			Buckets:   []float64{0.05, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "model_loads_total",
			Help:      "Model load attempts by result (success, error)",
		}, []string{"result"}),
		loadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading the model",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "repairs_total",
			Help:      "Truncation repairs by result (repaired, unchanged)",
		}, []string{"result"}),
		retunes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tierllm",
			Subsystem: "manager",
			Name:      "retunes_total",
			Help:      "Adaptive parameter changes applied",
		}),
		availableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tierllm",
			Subsystem: "memory",
			Name:      "available_bytes",
			Help:      "Available memory after the simulated cap",
		}),
		pressureLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tierllm",
			Subsystem: "memory",
			Name:      "pressure_level",
			Help:      "Memory pressure level (0 low .. 3 critical)",
		}),
		memoryTier: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tierllm",
			Subsystem: "memory",
			Name:      "tier",
			Help:      "Memory tier (0 minimal .. 3 high)",
		}),
		emergency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tierllm",
			Subsystem: "memory",
			Name:      "emergency",
			Help:      "1 while memory is in emergency",
		}),
	}
}

func (m *Metrics) observeGeneration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.generationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) observeLoad(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(result).Inc()
	m.loadSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeRepair(changed bool) {
	if m == nil {
		return
	}
	result := "unchanged"
	if changed {
		result = "repaired"
	}
	m.repairs.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRetune() {
	if m == nil {
		return
	}
	m.retunes.Inc()
}

func (m *Metrics) observeSnapshot(s resource.Snapshot) {
	if m == nil {
		return
	}
	m.availableBytes.Set(float64(s.AvailableBytes))
	m.pressureLevel.Set(float64(s.Level))
	m.memoryTier.Set(float64(s.Tier))
	if s.Emergency {
		m.emergency.Set(1)
	} else {
		m.emergency.Set(0)
	}
}
