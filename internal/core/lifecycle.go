package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// The node contains the raw YAML for this module's section.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after
// configuration: defaults, opening resources, registering services.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration.
// Validate is read-only.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules with background work (listeners,
// schedulers). Called once every module is provisioned and validated, so
// services registered by later modules are resolvable here.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules holding resources. Called in reverse
// start order at shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}
