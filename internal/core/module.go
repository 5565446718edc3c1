package core

import "strings"

// ModuleID identifies a module, namespaced with dots ("engine.yzma").
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot, or the whole ID when
// it has no namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal contract every tierllm module satisfies. Optional
// behavior (configuration, provisioning, start/stop) is discovered through
// the interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
