package resource

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a classified memory reading.
type Snapshot struct {
	Level     Level
	Tier      Tier
	Emergency bool

	// TotalBytes is the effective total: the simulated cap when one is set
	// and smaller than the physical total.
	TotalBytes         uint64
	AvailableBytes     uint64
	UsedBytes          uint64
	PhysicalTotalBytes uint64
	SwapUsedBytes      uint64
	UsagePercent       float64
	PhysicalCores      int

	SampledAt time.Time
	// Stale is set when the latest sample failed and this snapshot is
	// either the previous one or a conservative placeholder.
	Stale bool
}

// AvailableGB returns available memory in GiB.
func (s Snapshot) AvailableGB() float64 { return float64(s.AvailableBytes) / GiB }

// UsedGB returns used memory in GiB.
func (s Snapshot) UsedGB() float64 { return float64(s.UsedBytes) / GiB }

// TotalGB returns the effective total memory in GiB.
func (s Snapshot) TotalGB() float64 { return float64(s.TotalBytes) / GiB }

// SwapUsedGB returns used swap in GiB.
func (s Snapshot) SwapUsedGB() float64 { return float64(s.SwapUsedBytes) / GiB }

// Classify turns a raw reading into a snapshot under policy p.
func Classify(p Policy, r Reading) Snapshot {
	physTotal := r.TotalBytes
	total := physTotal
	if p.SimulatedTotalGB > 0 {
		if sim := uint64(p.SimulatedTotalGB * GiB); sim < total {
			total = sim
		}
	}

	used := physTotal - min(r.AvailableBytes, physTotal)
	used = min(used, total)
	available := total - used

	percent := 100.0
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}

	s := Snapshot{
		TotalBytes:         total,
		AvailableBytes:     available,
		UsedBytes:          used,
		PhysicalTotalBytes: physTotal,
		UsagePercent:       percent,
		PhysicalCores:      r.PhysicalCores,
	}
	if r.SwapTotalBytes > r.SwapFreeBytes {
		s.SwapUsedBytes = r.SwapTotalBytes - r.SwapFreeBytes
	}

	s.Level = p.Thresholds.Classify(percent)
	s.Tier = minTier(p.Caps.Cap(s.Level), p.Cutoffs.Tier(s.AvailableGB()))
	if p.DetectUnderProvisioned && underProvisioned(p, r) {
		s.Tier = TierMinimal
	}
	s.Emergency = s.Level == LevelCritical || s.AvailableGB() < p.EmergencyFloorGB
	return s
}

func underProvisioned(p Policy, r Reading) bool {
	if r.PhysicalCores > 0 && r.PhysicalCores <= 1 {
		return true
	}
	return float64(r.TotalBytes)/GiB < p.MinHostMemoryGB
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithCollector replaces the garbage-collection hooks used by Collect and
// Recover.
func WithCollector(gc, release func()) Option {
	return func(m *Monitor) {
		m.gc = gc
		m.release = release
	}
}

// Monitor samples memory on demand and caches the classification for
// Policy.CacheTTL. It is safe for concurrent use.
type Monitor struct {
	policy  Policy
	sampler Sampler
	logger  *slog.Logger
	now     func() time.Time
	gc      func()
	release func()

	mu    sync.Mutex
	last  Snapshot
	valid bool

	recoveries atomic.Int64
	collects   atomic.Int64
}

// NewMonitor creates a monitor classifying samples from sampler under policy.
func NewMonitor(policy Policy, sampler Sampler, opts ...Option) *Monitor {
	m := &Monitor{
		policy:  policy,
		sampler: sampler,
		logger:  slog.Default(),
		now:     time.Now,
		gc:      forceGC,
		release: releaseToOS,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "resource")
	return m
}

// Policy returns the policy the monitor classifies with.
func (m *Monitor) Policy() Policy {
	return m.policy
}

// Snapshot returns the cached classification, sampling again once the
// cache is older than the policy's TTL.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid && m.now().Sub(m.last.SampledAt) < m.policy.CacheTTL {
		return m.last
	}
	return m.sampleLocked()
}

// Refresh samples unconditionally.
func (m *Monitor) Refresh() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked()
}

func (m *Monitor) sampleLocked() Snapshot {
	r, err := m.sampler.Sample()
	if err != nil {
		m.logger.Warn("memory sample failed", "error", err)
		if m.valid {
			s := m.last
			s.Stale = true
			return s
		}
		// Nothing known: minimal parameters, but do not refuse service.
		return Snapshot{Level: LevelLow, Tier: TierMinimal, SampledAt: m.now(), Stale: true}
	}
	s := Classify(m.policy, r)
	s.SampledAt = m.now()
	m.last = s
	m.valid = true
	return s
}

func (m *Monitor) invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// PressureLevel returns the current pressure level.
func (m *Monitor) PressureLevel() Level {
	return m.Snapshot().Level
}

// MemoryTier returns the current tier.
func (m *Monitor) MemoryTier() Tier {
	return m.Snapshot().Tier
}

// IsEmergency reports whether pressure is critical or available memory is
// below the emergency floor.
func (m *Monitor) IsEmergency() bool {
	return m.Snapshot().Emergency
}

// SwapUsedBytes returns the swap currently in use.
func (m *Monitor) SwapUsedBytes() uint64 {
	return m.Snapshot().SwapUsedBytes
}

// Recoveries returns how many times Recover has run.
func (m *Monitor) Recoveries() int64 {
	return m.recoveries.Load()
}

// Collects returns how many opportunistic collections have run.
func (m *Monitor) Collects() int64 {
	return m.collects.Load()
}
