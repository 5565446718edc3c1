package config

import (
	"slices"
	"strings"

	"github.com/flemzord/tierllm/internal/core"
)

// loadOrder ranks module namespaces: engines provide the "engine" service
// the manager needs at provision time, the chat log provides its history
// source, and the gateway reads the manager.
var loadOrder = map[string]int{
	"engine":  0,
	"chatlog": 1,
	"model":   2,
	"gateway": 3,
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically. Unknown namespaces load last.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return ids
}

func rank(id string) int {
	if r, ok := loadOrder[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(loadOrder)
}
