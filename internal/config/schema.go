// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for tierllm.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir overrides the persistent data directory (chat log database).
	DataDir string `yaml:"data_dir,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "engine.yzma").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Telemetry configures trace export. Tracing is off when nil.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig configures the OTLP/HTTP trace exporter.
type TelemetryConfig struct {
	// Endpoint is the collector host:port, e.g. "localhost:4318".
	Endpoint string `yaml:"endpoint"`
	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`
	// ServiceName defaults to "tierllm".
	ServiceName string `yaml:"service_name"`
	// SampleRatio is the fraction of traces kept, in [0, 1]. Defaults to 1.
	SampleRatio *float64          `yaml:"sample_ratio"`
	Headers     map[string]string `yaml:"headers"`
}

// Ratio returns the effective sample ratio.
func (t *TelemetryConfig) Ratio() float64 {
	if t.SampleRatio == nil {
		return 1
	}
	return *t.SampleRatio
}
