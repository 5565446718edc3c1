// Package app provides the shared entry point for the tierllm binary: it
// loads configuration, builds the logger, metrics registry and tracer,
// and wires the configured modules.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until ctx is
// done or a shutdown signal is received.
func Run(ctx context.Context, params RunParams) error {
	rt, err := Build(ctx, params)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Logger.Info("tierllm starting",
		"version", params.Version,
		"config", rt.ConfigPath,
		"modules", len(rt.ModuleIDs),
	)
	return rt.App.Run(ctx)
}

// ResolveConfigPath returns explicit when set, otherwise searches the
// standard locations: $TIERLLM_CONFIG, ./tierllm.yaml, then
// $XDG_CONFIG_HOME/tierllm/tierllm.yaml (~/.config when unset).
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env, ok := os.LookupEnv("TIERLLM_CONFIG"); ok && env != "" {
		return env, nil
	}

	candidates := []string{"tierllm.yaml"}
	if dir := configDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "tierllm.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultConfigPath is where `tierllm init` writes by default.
func DefaultConfigPath() string {
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "tierllm.yaml")
	}
	return "tierllm.yaml"
}

func configDir() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		return filepath.Join(xdg, "tierllm")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "tierllm")
	}
	return ""
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/tierllm if set, otherwise ~/.local/share/tierllm.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "tierllm")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tierllm")
}
