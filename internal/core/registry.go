package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// registry holds every module compiled into the binary.
type registry struct {
	mu    sync.RWMutex
	infos map[ModuleID]ModuleInfo
}

var modules = &registry{infos: make(map[ModuleID]ModuleInfo)}

// RegisterModule records a compiled module under its ID. IDs must carry a
// namespace ("engine.yzma"): load order and config validation key off it.
// It panics on an invalid or duplicate ID and is meant for init functions.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if info.ID.Namespace() == "" || info.ID.Name() == "" || info.ID.Name() == string(info.ID) {
		panic(fmt.Sprintf("module %s: ID must be namespaced (namespace.name)", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	modules.mu.Lock()
	defer modules.mu.Unlock()
	if _, exists := modules.infos[info.ID]; exists {
		panic(fmt.Sprintf("module already registered: %s", info.ID))
	}
	modules.infos[info.ID] = info
}

// GetModule returns the ModuleInfo for id.
func GetModule(id string) (ModuleInfo, bool) {
	modules.mu.RLock()
	defer modules.mu.RUnlock()
	info, ok := modules.infos[ModuleID(id)]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	return modules.filter(func(ModuleID) bool { return true })
}

// GetModulesByNamespace returns the modules of one namespace sorted by ID;
// "engine" matches "engine.yzma" and "engine.llamacpp".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return modules.filter(func(id ModuleID) bool { return id.Namespace() == namespace })
}

func (r *registry) filter(keep func(ModuleID) bool) []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModuleInfo
	for id, info := range r.infos {
		if keep(id) {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modules.mu.Lock()
	defer modules.mu.Unlock()
	modules.infos = make(map[ModuleID]ModuleInfo)
}
