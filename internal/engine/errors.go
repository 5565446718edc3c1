package engine

import "errors"

// Sentinel errors for engine operations.
var (
	// ErrNotLoaded indicates Complete was called before a successful Load.
	ErrNotLoaded = errors.New("engine: model not loaded")

	// ErrLoadInProgress indicates another caller is loading the model.
	ErrLoadInProgress = errors.New("engine: load in progress")

	// ErrModelNotFound indicates the model file does not exist.
	ErrModelNotFound = errors.New("engine: model file not found")

	// ErrContextLength indicates the prompt does not fit the loaded context.
	ErrContextLength = errors.New("engine: prompt exceeds context window")

	// ErrUnavailable indicates a remote engine is unreachable or unhealthy.
	ErrUnavailable = errors.New("engine: unavailable")
)
