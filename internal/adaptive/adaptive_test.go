package adaptive_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/resource"
)

func TestProfiles_TierTotality(t *testing.T) {
	t.Parallel()

	for _, name := range adaptive.ProfileNames() {
		p, err := adaptive.LookupProfile(name)
		if err != nil {
			t.Fatalf("LookupProfile(%q): %v", name, err)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("profile %s: %v", name, err)
		}
		for _, tier := range resource.Tiers() {
			got := p.Table.For(tier)
			if !(got.ContextWindow > got.MaxResponseTokens && got.MaxResponseTokens > 0) {
				t.Errorf("%s/%s: context %d, max tokens %d violate context > max > 0",
					name, tier, got.ContextWindow, got.MaxResponseTokens)
			}
			if got.Threads < 1 {
				t.Errorf("%s/%s: threads = %d, want >= 1", name, tier, got.Threads)
			}
		}
	}
}

func TestLookupProfile_Unknown(t *testing.T) {
	t.Parallel()
	if _, err := adaptive.LookupProfile("huge"); err == nil {
		t.Fatal("LookupProfile(huge) error = nil")
	}
}

func TestNewTable_Incomplete(t *testing.T) {
	t.Parallel()

	_, err := adaptive.NewTable(map[resource.Tier]adaptive.Params{
		resource.TierMinimal: {ContextWindow: 1024, MaxResponseTokens: 320, MaxHistoryMessages: 4, Threads: 1},
	})
	if !errors.Is(err, adaptive.ErrIncompleteTable) {
		t.Fatalf("err = %v, want ErrIncompleteTable", err)
	}
}

func TestNewTable_InvalidRow(t *testing.T) {
	t.Parallel()

	row := adaptive.Params{ContextWindow: 512, MaxResponseTokens: 512, MaxHistoryMessages: 4, Threads: 1}
	_, err := adaptive.NewTable(map[resource.Tier]adaptive.Params{
		resource.TierMinimal: row, resource.TierLow: row, resource.TierMedium: row, resource.TierHigh: row,
	})
	if err == nil {
		t.Fatal("NewTable accepted context_window == max_response_tokens")
	}
}

func TestTable_Override(t *testing.T) {
	t.Parallel()

	p, _ := adaptive.LookupProfile("constrained")
	table, err := p.Table.Override(map[resource.Tier]adaptive.Params{
		resource.TierMinimal: {MaxHistoryMessages: 2},
	})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	got := table.For(resource.TierMinimal)
	if got.MaxHistoryMessages != 2 || got.ContextWindow != 1024 {
		t.Fatalf("minimal = %+v, want history 2 and untouched context 1024", got)
	}
	if p.Table.For(resource.TierMinimal).MaxHistoryMessages != 4 {
		t.Error("Override mutated the source table")
	}

	if _, err := p.Table.Override(map[resource.Tier]adaptive.Params{
		resource.TierHigh: {MaxResponseTokens: 4096},
	}); err == nil {
		t.Error("Override accepted max tokens above the context window")
	}
}

func TestParams_PromptBudget(t *testing.T) {
	t.Parallel()
	p := adaptive.Params{ContextWindow: 1024, MaxResponseTokens: 320, CacheGB: 1.5}
	if got := p.PromptBudget(); got != 704 {
		t.Errorf("PromptBudget = %d, want 704", got)
	}
	if got := p.CacheBytes(); got != 1536<<20 {
		t.Errorf("CacheBytes = %d, want %d", got, 1536<<20)
	}
}

type fakeSource struct {
	mu   sync.Mutex
	snap resource.Snapshot
}

func (f *fakeSource) Snapshot() resource.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(tier resource.Tier, level resource.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = resource.Snapshot{Tier: tier, Level: level}
}

func newTuner(t *testing.T, profile string, src *fakeSource, now *time.Time) *adaptive.Tuner {
	t.Helper()
	p, err := adaptive.LookupProfile(profile)
	if err != nil {
		t.Fatal(err)
	}
	return adaptive.NewTuner(p.Table, src, adaptive.TunerOptions{
		Interval:   time.Minute,
		Hysteresis: p.Hysteresis,
		Now:        func() time.Time { return *now },
	})
}

func TestTuner_WaitsForInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	src := &fakeSource{}
	src.set(resource.TierMinimal, resource.LevelLow)
	tuner := newTuner(t, "standard-1b", src, &now)

	src.set(resource.TierHigh, resource.LevelLow)
	if _, changed := tuner.Reevaluate(); changed {
		t.Fatal("Reevaluate applied before the interval elapsed")
	}

	now = now.Add(time.Minute)
	p, changed := tuner.Reevaluate()
	if !changed || p.ContextWindow != 32000 {
		t.Fatalf("Reevaluate = (%+v, %v), want high tier applied", p, changed)
	}
	if tier, _ := tuner.Current(); tier != resource.TierHigh {
		t.Errorf("Current tier = %v, want high", tier)
	}
}

func TestTuner_ElevatedPressureSkipsInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	src := &fakeSource{}
	src.set(resource.TierHigh, resource.LevelLow)
	tuner := newTuner(t, "standard-1b", src, &now)

	src.set(resource.TierLow, resource.LevelHigh)
	p, changed := tuner.Reevaluate()
	if !changed || p.ContextWindow != 8192 {
		t.Fatalf("Reevaluate = (%+v, %v), want low tier applied at once", p, changed)
	}
}

func TestTuner_HysteresisDampsGrowth(t *testing.T) {
	t.Parallel()

	p, err := adaptive.LookupProfile("constrained")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(0, 0)
	src := &fakeSource{}
	src.set(resource.TierMedium, resource.LevelLow)
	tuner := adaptive.NewTuner(p.Table, src, adaptive.TunerOptions{
		Interval:   time.Minute,
		Hysteresis: adaptive.Hysteresis{ContextTokens: 512, MaxTokens: 256},
		Now:        func() time.Time { return now },
	})

	// medium -> high moves the context by 256 tokens and max tokens by 128.
	src.set(resource.TierHigh, resource.LevelLow)
	if _, changed := tuner.Force(); changed {
		t.Fatal("growth inside the hysteresis band was applied")
	}
	if tier, p := tuner.Current(); tier != resource.TierMedium || p.ContextWindow != 1792 {
		t.Fatalf("Current = (%v, %d), want medium/1792", tier, p.ContextWindow)
	}

	// Shrinking applies even inside the band.
	src.set(resource.TierLow, resource.LevelMedium)
	p2, changed := tuner.Force()
	if !changed || p2.ContextWindow != 1536 {
		t.Fatalf("Force = (%+v, %v), want low tier applied", p2, changed)
	}
}

func TestTuner_BuiltinProfilesGrowOneTierAtATime(t *testing.T) {
	t.Parallel()

	for _, name := range adaptive.ProfileNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			now := time.Unix(0, 0)
			src := &fakeSource{}
			src.set(resource.TierMinimal, resource.LevelLow)
			tuner := newTuner(t, name, src, &now)

			for _, tier := range []resource.Tier{resource.TierLow, resource.TierMedium, resource.TierHigh} {
				src.set(tier, resource.LevelLow)
				if _, changed := tuner.Force(); !changed {
					t.Fatalf("growth to %s was not applied", tier)
				}
				if got, _ := tuner.Current(); got != tier {
					t.Fatalf("Current tier = %s, want %s", got, tier)
				}
			}
		})
	}
}

func TestTuner_AppliesRowWithSameContext(t *testing.T) {
	t.Parallel()

	// rebalanced medium and high share 2048/512 and differ in history and batch.
	now := time.Unix(0, 0)
	src := &fakeSource{}
	src.set(resource.TierMedium, resource.LevelLow)
	tuner := newTuner(t, "rebalanced", src, &now)

	src.set(resource.TierHigh, resource.LevelLow)
	p, changed := tuner.Force()
	if !changed || p.MaxHistoryMessages != 10 || p.BatchSize != 512 {
		t.Fatalf("Force = (%+v, %v), want high row applied", p, changed)
	}
}

func TestNativeChanged(t *testing.T) {
	t.Parallel()

	a := adaptive.Params{ContextWindow: 1024, Threads: 1, MaxHistoryMessages: 4}
	b := a
	b.MaxHistoryMessages = 8
	if adaptive.NativeChanged(a, b) {
		t.Error("history change reported as native")
	}
	b.Threads = 2
	if !adaptive.NativeChanged(a, b) {
		t.Error("thread change not reported as native")
	}
}
