package resource

import (
	"errors"
	"fmt"
	"time"
)

// GiB is the unit used for every memory figure in configuration.
const GiB = 1 << 30

// Thresholds are ascending memory-usage percentages. Usage at or above a
// threshold classifies as that level.
type Thresholds struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// Classify maps a usage percentage to a level.
func (t Thresholds) Classify(percent float64) Level {
	switch {
	case percent >= t.Critical:
		return LevelCritical
	case percent >= t.High:
		return LevelHigh
	case percent >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (t Thresholds) validate() error {
	vals := []float64{t.Low, t.Medium, t.High, t.Critical}
	for i, v := range vals {
		if v <= 0 || v > 100 {
			return fmt.Errorf("resource: threshold %s = %v, must be in (0, 100]", levelNames[i], v)
		}
		if i > 0 && v <= vals[i-1] {
			return fmt.Errorf("resource: thresholds must ascend, %s (%v) <= %s (%v)",
				levelNames[i], v, levelNames[i-1], vals[i-1])
		}
	}
	return nil
}

// Cutoffs are available-memory limits in GiB. Available memory below a
// cutoff caps the tier at that cutoff's tier.
type Cutoffs struct {
	MinimalBelowGB float64 `yaml:"minimal_below_gb"`
	LowBelowGB     float64 `yaml:"low_below_gb"`
	MediumBelowGB  float64 `yaml:"medium_below_gb"`
}

// Tier returns the highest tier the available memory allows.
func (c Cutoffs) Tier(availableGB float64) Tier {
	switch {
	case availableGB < c.MinimalBelowGB:
		return TierMinimal
	case availableGB < c.LowBelowGB:
		return TierLow
	case availableGB < c.MediumBelowGB:
		return TierMedium
	default:
		return TierHigh
	}
}

// PressureCaps bound the tier by pressure level: at medium pressure the tier
// is at most Medium, and so on. Low pressure never caps.
type PressureCaps struct {
	Medium   Tier `yaml:"medium"`
	High     Tier `yaml:"high"`
	Critical Tier `yaml:"critical"`
}

// Cap returns the highest tier allowed at the given level.
func (p PressureCaps) Cap(l Level) Tier {
	switch l {
	case LevelCritical:
		return p.Critical
	case LevelHigh:
		return p.High
	case LevelMedium:
		return p.Medium
	default:
		return TierHigh
	}
}

// Policy holds the profile-dependent constants the monitor classifies with.
type Policy struct {
	Thresholds Thresholds
	Cutoffs    Cutoffs
	Caps       PressureCaps

	// EmergencyFloorGB is the available memory under which the host is in
	// emergency regardless of the pressure level.
	EmergencyFloorGB float64

	// SimulatedTotalGB caps the effective total memory. Zero uses the
	// physical total.
	SimulatedTotalGB float64

	// DetectUnderProvisioned forces the minimal tier on hosts with at most
	// one physical core or less than MinHostMemoryGB of physical memory.
	DetectUnderProvisioned bool
	MinHostMemoryGB        float64

	// RecoveryPasses is the number of forced GC passes run by Recover.
	RecoveryPasses int

	// ReleaseToOS returns freed heap to the operating system after the
	// recovery passes.
	ReleaseToOS bool

	// CacheTTL bounds how long a classification is reused.
	CacheTTL time.Duration
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	var errs []error
	if err := p.Thresholds.validate(); err != nil {
		errs = append(errs, err)
	}
	c := p.Cutoffs
	if c.MinimalBelowGB < 0 || c.LowBelowGB < c.MinimalBelowGB || c.MediumBelowGB < c.LowBelowGB {
		errs = append(errs, fmt.Errorf("resource: cutoffs must ascend, got %v/%v/%v GB",
			c.MinimalBelowGB, c.LowBelowGB, c.MediumBelowGB))
	}
	if p.Caps.High > p.Caps.Medium || p.Caps.Critical > p.Caps.High {
		errs = append(errs, errors.New("resource: pressure caps must not loosen as pressure rises"))
	}
	if p.EmergencyFloorGB < 0 {
		errs = append(errs, errors.New("resource: emergency floor must not be negative"))
	}
	if p.SimulatedTotalGB < 0 {
		errs = append(errs, errors.New("resource: simulated total must not be negative"))
	}
	if p.RecoveryPasses < 0 {
		errs = append(errs, errors.New("resource: recovery passes must not be negative"))
	}
	return errors.Join(errs...)
}
