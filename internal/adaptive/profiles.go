package adaptive

import (
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/tierllm/internal/resource"
)

// Generation holds sampling settings shared by every tier of a profile.
type Generation struct {
	Temperature   float64 `yaml:"temperature"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
}

// HistoryPolicy configures session history housekeeping.
type HistoryPolicy struct {
	// ContinuityWindow is the number of turns kept even in emergencies.
	ContinuityWindow int
	// CollectEvery runs a GC pass after this many appends.
	CollectEvery int
	// CollectInterval runs a GC pass when this much time has passed since
	// the last one.
	CollectInterval time.Duration
}

// Hysteresis is the band within which a new tier's parameters are not
// worth applying.
type Hysteresis struct {
	ContextTokens int
	MaxTokens     int
}

// Profile bundles every constant that differs between deployment targets.
type Profile struct {
	Name        string
	Description string

	Resource   resource.Policy
	Table      Table
	Generation Generation
	History    HistoryPolicy

	// Repair enables truncation repair of responses.
	Repair bool
	// Reflow joins mid-sentence line breaks in responses.
	Reflow bool

	RetuneInterval time.Duration
	Hysteresis     Hysteresis

	// LoadFloorGB is the available memory required to attempt a model load.
	LoadFloorGB float64
}

var profiles = map[string]Profile{
	"constrained": {
		Name:        "constrained",
		Description: "1 CPU / 2GB host, aggressive recovery and response repair",
		Resource: resource.Policy{
			Thresholds:       resource.Thresholds{Low: 60, Medium: 75, High: 90, Critical: 95},
			Cutoffs:          resource.Cutoffs{MinimalBelowGB: 0.3, LowBelowGB: 0.5, MediumBelowGB: 0.8},
			Caps:             resource.PressureCaps{Medium: resource.TierLow, High: resource.TierMinimal, Critical: resource.TierMinimal},
			EmergencyFloorGB: 0.1,
			RecoveryPasses:   3,
			ReleaseToOS:      true,
			CacheTTL:         15 * time.Second,
		},
		Table: MustTable(map[resource.Tier]Params{
			resource.TierMinimal: {ContextWindow: 1024, MaxResponseTokens: 320, MaxHistoryMessages: 4, Threads: 1, BatchSize: 128, TopP: 0.80, TopK: 20},
			resource.TierLow:     {ContextWindow: 1536, MaxResponseTokens: 512, MaxHistoryMessages: 6, Threads: 1, BatchSize: 256, TopP: 0.85, TopK: 30},
			resource.TierMedium:  {ContextWindow: 1792, MaxResponseTokens: 640, MaxHistoryMessages: 8, Threads: 1, BatchSize: 256, TopP: 0.90, TopK: 40},
			resource.TierHigh:    {ContextWindow: 2048, MaxResponseTokens: 768, MaxHistoryMessages: 10, Threads: 1, BatchSize: 256, TopP: 0.90, TopK: 40},
		}),
		Generation:     Generation{Temperature: 0.3, RepeatPenalty: 1.2},
		History:        HistoryPolicy{ContinuityWindow: 4, CollectEvery: 2, CollectInterval: 15 * time.Second},
		Repair:         true,
		Reflow:         true,
		RetuneInterval: 30 * time.Second,
		Hysteresis:     Hysteresis{ContextTokens: 128, MaxTokens: 64},
		LoadFloorGB:    0.15,
	},
	"rebalanced": {
		Name:        "rebalanced",
		Description: "1 CPU / 2GB host, longer answers and gentler recovery",
		Resource: resource.Policy{
			Thresholds:       resource.Thresholds{Low: 50, Medium: 70, High: 85, Critical: 95},
			Cutoffs:          resource.Cutoffs{MinimalBelowGB: 0.25, LowBelowGB: 0.5, MediumBelowGB: 0.8},
			Caps:             resource.PressureCaps{Medium: resource.TierMedium, High: resource.TierLow, Critical: resource.TierMinimal},
			EmergencyFloorGB: 0.15,
			RecoveryPasses:   2,
			ReleaseToOS:      true,
			CacheTTL:         30 * time.Second,
		},
		Table: MustTable(map[resource.Tier]Params{
			resource.TierMinimal: {ContextWindow: 1024, MaxResponseTokens: 256, MaxHistoryMessages: 4, Threads: 1, BatchSize: 128, TopP: 0.85, TopK: 30},
			resource.TierLow:     {ContextWindow: 1536, MaxResponseTokens: 384, MaxHistoryMessages: 6, Threads: 1, BatchSize: 256, TopP: 0.90, TopK: 40},
			resource.TierMedium:  {ContextWindow: 2048, MaxResponseTokens: 512, MaxHistoryMessages: 8, Threads: 1, BatchSize: 256, TopP: 0.90, TopK: 40},
			resource.TierHigh:    {ContextWindow: 2048, MaxResponseTokens: 512, MaxHistoryMessages: 10, Threads: 1, BatchSize: 512, TopP: 0.92, TopK: 50},
		}),
		Generation:     Generation{Temperature: 0.5, RepeatPenalty: 1.15},
		History:        HistoryPolicy{ContinuityWindow: 4, CollectEvery: 3, CollectInterval: 30 * time.Second},
		Repair:         true,
		RetuneInterval: 60 * time.Second,
		Hysteresis:     Hysteresis{ContextTokens: 256, MaxTokens: 64},
		LoadFloorGB:    0.15,
	},
	"standard-1b": {
		Name:        "standard-1b",
		Description: "16 CPU / 61GB host serving a ~1B model",
		Resource:    largeHostPolicy(),
		Table: MustTable(map[resource.Tier]Params{
			resource.TierMinimal: {ContextWindow: 4096, MaxResponseTokens: 1024, MaxHistoryMessages: 3, Threads: 1, BatchSize: 128, TopP: 0.85, TopK: 40},
			resource.TierLow:     {ContextWindow: 8192, MaxResponseTokens: 1536, MaxHistoryMessages: 12, Threads: 4, BatchSize: 512, CacheGB: 1.5, TopP: 0.90, TopK: 50},
			resource.TierMedium:  {ContextWindow: 16000, MaxResponseTokens: 2048, MaxHistoryMessages: 18, Threads: 6, BatchSize: 512, CacheGB: 2, TopP: 0.92, TopK: 60},
			resource.TierHigh:    {ContextWindow: 32000, MaxResponseTokens: 2048, MaxHistoryMessages: 24, Threads: 8, BatchSize: 512, CacheGB: 3, TopP: 0.95, TopK: 80},
		}),
		Generation:     Generation{Temperature: 0.7, RepeatPenalty: 1.15},
		History:        HistoryPolicy{ContinuityWindow: 4, CollectEvery: 10, CollectInterval: 60 * time.Second},
		RetuneInterval: 60 * time.Second,
		Hysteresis:     Hysteresis{ContextTokens: 512, MaxTokens: 256},
		LoadFloorGB:    2,
	},
	"standard-8b": {
		Name:        "standard-8b",
		Description: "16 CPU / 61GB host serving a ~8B model",
		Resource:    largeHostPolicy(),
		Table: MustTable(map[resource.Tier]Params{
			resource.TierMinimal: {ContextWindow: 2048, MaxResponseTokens: 512, MaxHistoryMessages: 4, Threads: 2, BatchSize: 128, TopP: 0.85, TopK: 40},
			resource.TierLow:     {ContextWindow: 4096, MaxResponseTokens: 1024, MaxHistoryMessages: 8, Threads: 6, BatchSize: 512, CacheGB: 1.5, TopP: 0.90, TopK: 50},
			resource.TierMedium:  {ContextWindow: 8192, MaxResponseTokens: 1536, MaxHistoryMessages: 12, Threads: 8, BatchSize: 512, CacheGB: 2, TopP: 0.92, TopK: 60},
			resource.TierHigh:    {ContextWindow: 16384, MaxResponseTokens: 2048, MaxHistoryMessages: 16, Threads: 12, BatchSize: 512, CacheGB: 3, TopP: 0.95, TopK: 80},
		}),
		Generation:     Generation{Temperature: 0.7, RepeatPenalty: 1.15},
		History:        HistoryPolicy{ContinuityWindow: 4, CollectEvery: 10, CollectInterval: 60 * time.Second},
		RetuneInterval: 60 * time.Second,
		Hysteresis:     Hysteresis{ContextTokens: 512, MaxTokens: 256},
		LoadFloorGB:    6,
	},
}

func largeHostPolicy() resource.Policy {
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

// LookupProfile returns a built-in profile by name.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("adaptive: unknown profile %q (known: %v)", name, ProfileNames())
	}
	return p, nil
}

// ProfileNames lists the built-in profiles, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Validate checks the profile for consistency.
func (p Profile) Validate() error {
	if err := p.Resource.Validate(); err != nil {
		return fmt.Errorf("adaptive: profile %s: %w", p.Name, err)
	}
	if len(p.Table.rows) == 0 {
		return fmt.Errorf("adaptive: profile %s: %w", p.Name, ErrIncompleteTable)
	}
	if p.Generation.Temperature < 0 || p.Generation.RepeatPenalty < 0 {
		return fmt.Errorf("adaptive: profile %s: generation settings must not be negative", p.Name)
	}
	if p.History.ContinuityWindow < 0 || p.History.CollectEvery < 0 {
		return fmt.Errorf("adaptive: profile %s: history policy must not be negative", p.Name)
	}
	return nil
}
