package resource_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flemzord/tierllm/internal/resource"
)

func constrainedPolicy() resource.Policy {
	return resource.Policy{
		Thresholds:       resource.Thresholds{Low: 60, Medium: 75, High: 90, Critical: 95},
		Cutoffs:          resource.Cutoffs{MinimalBelowGB: 0.3, LowBelowGB: 0.5, MediumBelowGB: 0.8},
		Caps:             resource.PressureCaps{Medium: resource.TierLow, High: resource.TierMinimal, Critical: resource.TierMinimal},
		EmergencyFloorGB: 0.1,
		SimulatedTotalGB: 2,
		RecoveryPasses:   3,
		ReleaseToOS:      true,
		CacheTTL:         15 * time.Second,
	}
}

func largePolicy() resource.Policy {
	return resource.Policy{
		Thresholds:             resource.Thresholds{Low: 45, Medium: 60, High: 75, Critical: 90},
		Cutoffs:                resource.Cutoffs{MinimalBelowGB: 8, LowBelowGB: 20, MediumBelowGB: 30},
		Caps:                   resource.PressureCaps{Medium: resource.TierMedium, High: resource.TierLow, Critical: resource.TierMinimal},
		EmergencyFloorGB:       2,
		DetectUnderProvisioned: true,
		MinHostMemoryGB:        4,
		RecoveryPasses:         1,
		CacheTTL:               30 * time.Second,
	}
}

func gb(v float64) uint64 { return uint64(v * resource.GiB) }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    resource.Policy
		reading   resource.Reading
		level     resource.Level
		tier      resource.Tier
		emergency bool
	}{
		{
			name:    "large host idle",
			policy:  largePolicy(),
			reading: resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(50), PhysicalCores: 16},
			level:   resource.LevelLow,
			tier:    resource.TierHigh,
		},
		{
			name:    "large host below 20GB available",
			policy:  largePolicy(),
			reading: resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(19), PhysicalCores: 16},
			level:   resource.LevelMedium,
			tier:    resource.TierLow,
		},
		{
			name:    "large host under 8GB",
			policy:  largePolicy(),
			reading: resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(7), PhysicalCores: 16},
			level:   resource.LevelHigh,
			tier:    resource.TierMinimal,
		},
		{
			name:    "single core forces minimal",
			policy:  largePolicy(),
			reading: resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(50), PhysicalCores: 1},
			level:   resource.LevelLow,
			tier:    resource.TierMinimal,
		},
		{
			name:    "small host forces minimal",
			policy:  largePolicy(),
			reading: resource.Reading{TotalBytes: gb(3), AvailableBytes: gb(2.5), PhysicalCores: 8},
			level:   resource.LevelLow,
			tier:    resource.TierMinimal,
		},
		{
			name:    "simulated cap on big host",
			policy:  constrainedPolicy(),
			reading: resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(59.4)},
			level:   resource.LevelMedium,
			tier:    resource.TierLow,
		},
		{
			name:      "simulated cap nearly exhausted",
			policy:    constrainedPolicy(),
			reading:   resource.Reading{TotalBytes: gb(61), AvailableBytes: gb(59.05)},
			level:     resource.LevelCritical,
			tier:      resource.TierMinimal,
			emergency: true,
		},
		{
			name:    "constrained roomy",
			policy:  constrainedPolicy(),
			reading: resource.Reading{TotalBytes: gb(2), AvailableBytes: gb(1.5)},
			level:   resource.LevelLow,
			tier:    resource.TierHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := resource.Classify(tt.policy, tt.reading)
			if s.Level != tt.level {
				t.Errorf("Level = %v, want %v (usage %.1f%%)", s.Level, tt.level, s.UsagePercent)
			}
			if s.Tier != tt.tier {
				t.Errorf("Tier = %v, want %v", s.Tier, tt.tier)
			}
			if s.Emergency != tt.emergency {
				t.Errorf("Emergency = %v, want %v", s.Emergency, tt.emergency)
			}
		})
	}
}

func TestClassify_MonotonicPressure(t *testing.T) {
	t.Parallel()

	for _, p := range []resource.Policy{constrainedPolicy(), largePolicy()} {
		total := gb(61)
		prev := resource.LevelCritical
		for avail := uint64(0); avail <= total; avail += total / 500 {
			lvl := resource.Classify(p, resource.Reading{TotalBytes: total, AvailableBytes: avail}).Level
			if lvl > prev {
				t.Fatalf("pressure rose from %v to %v as available grew to %d", prev, lvl, avail)
			}
			prev = lvl
		}
	}
}

func TestClassify_SimulatedCap(t *testing.T) {
	t.Parallel()

	s := resource.Classify(constrainedPolicy(), resource.Reading{
		TotalBytes:     gb(16),
		AvailableBytes: gb(15.5),
		SwapTotalBytes: gb(4),
		SwapFreeBytes:  gb(3),
	})
	if s.TotalBytes != gb(2) {
		t.Errorf("TotalBytes = %d, want %d", s.TotalBytes, gb(2))
	}
	if s.UsedBytes != gb(0.5) {
		t.Errorf("UsedBytes = %d, want %d", s.UsedBytes, gb(0.5))
	}
	if s.AvailableBytes != gb(1.5) {
		t.Errorf("AvailableBytes = %d, want %d", s.AvailableBytes, gb(1.5))
	}
	if s.PhysicalTotalBytes != gb(16) {
		t.Errorf("PhysicalTotalBytes = %d, want %d", s.PhysicalTotalBytes, gb(16))
	}
	if s.SwapUsedBytes != gb(1) {
		t.Errorf("SwapUsedBytes = %d, want %d", s.SwapUsedBytes, gb(1))
	}
}

func TestMonitor_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	sampler := resource.NewStaticSampler(resource.Reading{TotalBytes: gb(2), AvailableBytes: gb(1.5)})
	m := resource.NewMonitor(constrainedPolicy(), sampler, resource.WithClock(func() time.Time { return now }))

	m.Snapshot()
	m.PressureLevel()
	m.MemoryTier()
	if got := sampler.Calls(); got != 1 {
		t.Fatalf("sampler calls = %d, want 1", got)
	}

	now = now.Add(16 * time.Second)
	m.Snapshot()
	if got := sampler.Calls(); got != 2 {
		t.Fatalf("sampler calls after TTL = %d, want 2", got)
	}

	m.Refresh()
	if got := sampler.Calls(); got != 3 {
		t.Fatalf("sampler calls after Refresh = %d, want 3", got)
	}
}

func TestMonitor_SampleFailure(t *testing.T) {
	t.Parallel()

	sampler := resource.NewStaticSampler(resource.Reading{})
	sampler.Fail(errors.New("no procfs"))
	m := resource.NewMonitor(constrainedPolicy(), sampler)

	s := m.Refresh()
	if !s.Stale || s.Tier != resource.TierMinimal || s.Emergency {
		t.Fatalf("placeholder = %+v, want stale minimal non-emergency", s)
	}

	sampler.Set(resource.Reading{TotalBytes: gb(2), AvailableBytes: gb(1.5)})
	good := m.Refresh()
	if good.Stale || good.Tier != resource.TierHigh {
		t.Fatalf("snapshot = %+v, want fresh high tier", good)
	}

	sampler.Fail(errors.New("flaky"))
	s = m.Refresh()
	if !s.Stale || s.Tier != good.Tier {
		t.Fatalf("snapshot after failure = %+v, want stale copy of last good", s)
	}
}

func TestMonitor_Recover(t *testing.T) {
	t.Parallel()

	var gcs, releases int
	sampler := resource.NewStaticSampler(resource.Reading{TotalBytes: gb(2), AvailableBytes: gb(0.05)})
	m := resource.NewMonitor(constrainedPolicy(), sampler,
		resource.WithCollector(func() { gcs++ }, func() { releases++ }))

	if !m.IsEmergency() {
		t.Fatal("IsEmergency = false, want true")
	}
	m.Recover()
	if gcs != 3 || releases != 1 {
		t.Fatalf("gc passes = %d, releases = %d, want 3 and 1", gcs, releases)
	}
	if m.Recoveries() != 1 {
		t.Errorf("Recoveries = %d, want 1", m.Recoveries())
	}

	m.Collect()
	if gcs != 4 || m.Collects() != 1 {
		t.Errorf("after Collect gc passes = %d collects = %d, want 4 and 1", gcs, m.Collects())
	}
}

func TestMonitor_RecoverNeverPanics(t *testing.T) {
	t.Parallel()

	m := resource.NewMonitor(constrainedPolicy(), resource.NewStaticSampler(resource.Reading{TotalBytes: gb(2)}),
		resource.WithCollector(func() { panic("gc exploded") }, func() {}))
	m.Recover()
	m.Collect()
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	if err := constrainedPolicy().Validate(); err != nil {
		t.Fatalf("constrained policy: %v", err)
	}
	if err := largePolicy().Validate(); err != nil {
		t.Fatalf("large policy: %v", err)
	}

	bad := constrainedPolicy()
	bad.Thresholds.High = 70
	if err := bad.Validate(); err == nil {
		t.Error("descending thresholds accepted")
	}

	bad = constrainedPolicy()
	bad.Caps.Critical = resource.TierHigh
	if err := bad.Validate(); err == nil {
		t.Error("loosening caps accepted")
	}
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	for _, tier := range resource.Tiers() {
		got, err := resource.ParseTier(tier.String())
		if err != nil || got != tier {
			t.Errorf("ParseTier(%q) = (%v, %v), want %v", tier.String(), got, err, tier)
		}
	}
	if _, err := resource.ParseTier("huge"); err == nil {
		t.Error("ParseTier(huge) error = nil")
	}
}
