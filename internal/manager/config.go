package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/cron"
	"github.com/flemzord/tierllm/internal/prompt"
	"github.com/flemzord/tierllm/internal/resource"
)

// Config is the "model.manager" module configuration.
type Config struct {
	ModelPath    string            `yaml:"model_path"`
	Profile      string            `yaml:"profile"`
	Dialect      string            `yaml:"dialect"`
	SystemPrompt string            `yaml:"system_prompt"`
	Modes        map[string]string `yaml:"modes"`

	// Tiers overrides individual rows of the profile table, keyed by tier
	// name. Zero fields keep the profile value.
	Tiers            map[string]adaptive.Params `yaml:"tiers"`
	Thresholds       *resource.Thresholds       `yaml:"thresholds"`
	SimulatedTotalGB *float64                   `yaml:"simulated_total_gb"`
	EmergencyFloorGB float64                    `yaml:"emergency_floor_gb"`

	SerializeGeneration *bool         `yaml:"serialize_generation"`
	ReloadOnRetune      bool          `yaml:"reload_on_retune"`
	Repair              *bool         `yaml:"repair"`
	Reflow              *bool         `yaml:"reflow"`
	Warmup              bool          `yaml:"warmup"`
	RetuneInterval      time.Duration `yaml:"retune_interval"`
	Temperature         *float64      `yaml:"temperature"`
	RepeatPenalty       *float64      `yaml:"repeat_penalty"`
	CharsPerToken       float64       `yaml:"chars_per_token"`

	// ProcMount is where procfs is mounted.
	ProcMount string `yaml:"proc_mount"`
	// SysMount is where sysfs is mounted; it supplies CPU topology when
	// cpuinfo lacks core ids.
	SysMount string `yaml:"sys_mount"`

	Schedules ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig overrides the cron expressions of the manager's jobs.
type ScheduleConfig struct {
	Retune    string `yaml:"retune"`
	StatusLog string `yaml:"status_log"`
}

const defaultSystemPrompt = "You are a helpful, knowledgeable and honest assistant. Answer clearly and concisely."

func (c *Config) defaults() {
	if c.Profile == "" {
		c.Profile = "standard-1b"
	}
	if c.Dialect == "" {
		c.Dialect = "zephyr"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.SerializeGeneration == nil {
		serialize := true
		c.SerializeGeneration = &serialize
	}
	if c.ProcMount == "" {
		c.ProcMount = "/proc"
	}
	if c.SysMount == "" {
		c.SysMount = "/sys"
	}
}

// ResolveProfile returns the configured built-in profile with every
// override from c applied.
func (c *Config) ResolveProfile() (adaptive.Profile, error) {
	p, err := adaptive.LookupProfile(c.Profile)
	if err != nil {
		return adaptive.Profile{}, err
	}

	if len(c.Tiers) > 0 {
		overrides := make(map[resource.Tier]adaptive.Params, len(c.Tiers))
		for name, params := range c.Tiers {
			tier, err := resource.ParseTier(name)
			if err != nil {
				return adaptive.Profile{}, fmt.Errorf("tiers: %w", err)
			}
			overrides[tier] = params
		}
		if p.Table, err = p.Table.Override(overrides); err != nil {
			return adaptive.Profile{}, fmt.Errorf("tiers: %w", err)
		}
	}
	if c.Thresholds != nil {
		p.Resource.Thresholds = *c.Thresholds
	}
	if c.SimulatedTotalGB != nil {
		p.Resource.SimulatedTotalGB = *c.SimulatedTotalGB
	}
	if c.EmergencyFloorGB > 0 {
		p.Resource.EmergencyFloorGB = c.EmergencyFloorGB
	}
	if c.Repair != nil {
		p.Repair = *c.Repair
	}
	if c.Reflow != nil {
		p.Reflow = *c.Reflow
	}
	if c.RetuneInterval > 0 {
		p.RetuneInterval = c.RetuneInterval
	}
	if c.Temperature != nil {
		p.Generation.Temperature = *c.Temperature
	}
	if c.RepeatPenalty != nil {
		p.Generation.RepeatPenalty = *c.RepeatPenalty
	}
	if err := p.Validate(); err != nil {
		return adaptive.Profile{}, err
	}
	return p, nil
}

// Validate checks the configuration without touching the model file.
func (c *Config) Validate() error {
	var errs []error
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model_path is required"))
	}
	if _, err := prompt.LookupDialect(c.Dialect); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ResolveProfile(); err != nil {
		errs = append(errs, err)
	}
	if c.CharsPerToken < 0 {
		errs = append(errs, errors.New("chars_per_token must not be negative"))
	}
	for key, expr := range map[string]string{"retune": c.Schedules.Retune, "status_log": c.Schedules.StatusLog} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseSchedule(expr); err != nil {
			errs = append(errs, fmt.Errorf("schedules.%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
