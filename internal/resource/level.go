// Package resource samples host memory and classifies it into pressure
// levels and parameter tiers. It also owns emergency recovery: forced
// garbage collection and releasing freed heap back to the OS.
package resource

import (
	"fmt"
	"strings"
)

// Level is a coarse classification of how close the host is to running out
// of memory.
type Level int

// Pressure levels, ascending.
const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"low", "medium", "high", "critical"}

func (l Level) String() string {
	if l < LevelLow || l > LevelCritical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	for i, n := range levelNames {
		if strings.EqualFold(string(text), n) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("resource: unknown level %q", text)
}

// Elevated reports whether the level is high or critical.
func (l Level) Elevated() bool {
	return l >= LevelHigh
}

// Tier is a discrete bucket used to select a fixed parameter set.
type Tier int

// Tiers, ascending by how much memory they are allowed to use.
const (
	TierMinimal Tier = iota
	TierLow
	TierMedium
	TierHigh
)

var tierNames = [...]string{"minimal", "low", "medium", "high"}

// Tiers returns every tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierMinimal, TierLow, TierMedium, TierHigh}
}

func (t Tier) String() string {
	if t < TierMinimal || t > TierHigh {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(name string) (Tier, error) {
	for i, n := range tierNames {
		if strings.EqualFold(name, n) {
			return Tier(i), nil
		}
	}
	return TierMinimal, fmt.Errorf("resource: unknown tier %q", name)
}

// ParseLevel parses a pressure level name, case-insensitively.
func ParseLevel(name string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(name, n) {
			return Level(i), nil
		}
	}
	return LevelLow, fmt.Errorf("resource: unknown pressure level %q", name)
}

func minTier(a, b Tier) Tier {
	if a < b {
		return a
	}
	return b
}
