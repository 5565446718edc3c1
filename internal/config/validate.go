package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/tierllm/internal/core"
)

// ManagerModule is the module every configuration must enable.
const ManagerModule = "model.manager"

const engineNamespace = "engine"

// Validate checks the structural validity of a Config: the version, that
// every module ID is registered, that exactly one engine module is
// enabled and that the model manager is present.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	var engines []string
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if core.ModuleID(id).Namespace() == engineNamespace {
			engines = append(engines, id)
		}
	}

	switch len(engines) {
	case 0:
		errs = append(errs, fmt.Errorf("config: one engine module is required (available: %s)", availableEngines()))
	case 1:
	default:
		errs = append(errs, fmt.Errorf("config: exactly one engine module allowed, got %d", len(engines)))
	}

	if _, ok := cfg.Modules[ManagerModule]; !ok && len(cfg.Modules) > 0 {
		errs = append(errs, fmt.Errorf("config: module %q is required", ManagerModule))
	}

	errs = append(errs, validateTelemetry(cfg.Telemetry)...)

	return errors.Join(errs...)
}

func validateTelemetry(t *TelemetryConfig) []error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.Endpoint == "" {
		errs = append(errs, errors.New("config: telemetry.endpoint is required when telemetry is set"))
	}
	if r := t.Ratio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio = %v, must be within [0, 1]", r))
	}
	return errs
}

func availableEngines() string {
	infos := core.GetModulesByNamespace(engineNamespace)
	if len(infos) == 0 {
		return "none compiled in"
	}
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = string(info.ID)
	}
	return strings.Join(ids, ", ")
}
