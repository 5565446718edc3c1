package adaptive

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/tierllm/internal/resource"
)

// SnapshotSource supplies memory classifications. *resource.Monitor
// satisfies it.
type SnapshotSource interface {
	Snapshot() resource.Snapshot
}

// TunerOptions configures a Tuner.
type TunerOptions struct {
	Interval   time.Duration
	Hysteresis Hysteresis
	Logger     *slog.Logger
	Now        func() time.Time
}

// Tuner tracks the parameters currently in force and re-evaluates them
// against the memory tier. Growth is damped by the hysteresis band; a move
// to a smaller tier applies as soon as any field differs.
type Tuner struct {
	table  Table
	source SnapshotSource
	opts   TunerOptions
	logger *slog.Logger

	mu        sync.Mutex
	tier      resource.Tier
	current   Params
	lastCheck time.Time
}

// NewTuner seeds the tuner with the parameters for the current tier.
func NewTuner(table Table, source SnapshotSource, opts TunerOptions) *Tuner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tier := source.Snapshot().Tier
	return &Tuner{
		table:     table,
		source:    source,
		opts:      opts,
		logger:    opts.Logger.With("component", "tuner"),
		tier:      tier,
		current:   table.For(tier),
		lastCheck: opts.Now(),
	}
}

// Current returns the tier and parameters in force.
func (t *Tuner) Current() (resource.Tier, Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tier, t.current
}

// Table returns the tier table the tuner selects from.
func (t *Tuner) Table() Table {
	return t.table
}

// Reevaluate re-reads the tier when the interval has elapsed or pressure is
// high or critical. It reports whether new parameters were applied.
func (t *Tuner) Reevaluate() (Params, bool) {
	snap := t.source.Snapshot()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.opts.Now()
	if now.Sub(t.lastCheck) < t.opts.Interval && !snap.Level.Elevated() {
		return t.current, false
	}
	return t.applyLocked(snap, now)
}

// Force re-evaluates regardless of the interval.
func (t *Tuner) Force() (Params, bool) {
	snap := t.source.Snapshot()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(snap, t.opts.Now())
}

func (t *Tuner) applyLocked(snap resource.Snapshot, now time.Time) (Params, bool) {
	t.lastCheck = now
	candidate := t.table.For(snap.Tier)
	if candidate == t.current {
		t.tier = snap.Tier
		return t.current, false
	}

	downgrade := snap.Tier < t.tier
	if !downgrade && !t.material(candidate) {
		return t.current, false
	}

	t.logger.Info("adaptive parameters changed",
		"from_tier", t.tier.String(),
		"to_tier", snap.Tier.String(),
		"pressure", snap.Level.String(),
		"available_gb", snap.AvailableGB(),
		"context_window", candidate.ContextWindow,
		"max_response_tokens", candidate.MaxResponseTokens,
		"threads", candidate.Threads,
	)
	t.tier = snap.Tier
	t.current = candidate
	return candidate, true
}

// material reports whether growth to candidate is worth applying. The band
// only damps context and response-size swings; a row that keeps both
// unchanged differs elsewhere and applies directly.
func (t *Tuner) material(candidate Params) bool {
	h := t.opts.Hysteresis
	ctx := abs(candidate.ContextWindow - t.current.ContextWindow)
	tokens := abs(candidate.MaxResponseTokens - t.current.MaxResponseTokens)
	if ctx == 0 && tokens == 0 {
		return true
	}
	return ctx > h.ContextTokens || tokens > h.MaxTokens || candidate.Threads != t.current.Threads
}

// NativeChanged reports whether moving from a to b changes settings that
// only take effect when the engine reloads.
func NativeChanged(a, b Params) bool {
	return a.ContextWindow != b.ContextWindow ||
		a.Threads != b.Threads ||
		a.BatchSize != b.BatchSize ||
		a.CacheGB != b.CacheGB
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
