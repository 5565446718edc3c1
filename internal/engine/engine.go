// Package engine defines the boundary to the native inference library: a
// one-time, guarded model load and a blocking completion call.
package engine

import (
	"context"
	"strings"
)

// LoadOptions are the native settings fixed at load time.
type LoadOptions struct {
	ModelPath     string
	ContextWindow int
	Threads       int
	BatchSize     int
	// CacheBytes sizes the prompt cache. Zero disables it; engines without
	// a prompt cache ignore it.
	CacheBytes int64
}

// Request is a single completion request.
type Request struct {
	Prompt        string
	MaxTokens     int
	Stop          []string
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// Engine owns a loaded model.
//
// Load is expensive and runs at most once concurrently; a failed Load
// leaves the engine unloaded. Complete blocks until generation finishes or
// MaxTokens is exhausted and returns the raw text, cut at the first stop
// sequence.
type Engine interface {
	Name() string
	Load(ctx context.Context, opts LoadOptions) error
	Complete(ctx context.Context, req Request) (string, error)
	Loaded() bool
	Unload() error
}

// CutAtStop truncates text at the earliest stop sequence. It reports
// whether a stop sequence was found.
func CutAtStop(text string, stops []string) (string, bool) {
	cut := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}
