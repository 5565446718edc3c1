package prompt

import (
	"fmt"
	"log/slog"

	"github.com/flemzord/tierllm/internal/history"
)

// minTurns is the history kept even when it alone exceeds the budget.
const minTurns = 2

// Request is the input to Build.
type Request struct {
	SessionID string
	System    string
	History   []history.Turn
	Input     string
	// Budget is the prompt token budget. Zero disables trimming.
	Budget int
}

// Builder renders prompts in one dialect, trimming history to the token
// budget first.
type Builder struct {
	dialect   Dialect
	estimator TokenEstimator
	logger    *slog.Logger
}

// NewBuilder creates a builder. A nil estimator uses NewCharEstimator(4).
func NewBuilder(d Dialect, estimator TokenEstimator, logger *slog.Logger) *Builder {
	if estimator == nil {
		estimator = NewCharEstimator(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{dialect: d, estimator: estimator, logger: logger.With("component", "prompt", "dialect", d.Name())}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

// Build renders the prompt. Rendering failures and panics fall back to a
// single-turn prompt holding only the system prompt and the new input, so
// Build always returns a usable prompt.
func (b *Builder) Build(req Request) (prompt string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("prompt render panicked, using fallback",
				"session_id", req.SessionID, "panic", fmt.Sprint(r))
			prompt = b.Fallback(req.System, req.Input)
		}
	}()

	turns := b.fit(req)
	out, err := b.dialect.Render(req.System, turns, req.Input)
	if err != nil {
		b.logger.Warn("prompt render failed, using fallback",
			"session_id", req.SessionID, "error", err)
		return b.Fallback(req.System, req.Input)
	}
	return out
}

// Fallback renders the minimal single-turn prompt.
func (b *Builder) Fallback(system, input string) string {
	out, err := b.dialect.Render(system, nil, input)
	if err != nil {
		// Render only fails on stored turns; with none, this is unreachable.
		return system + "\n\n" + input
	}
	return out
}

// fit drops the oldest turns until the estimate fits the budget, keeping
// at least minTurns.
func (b *Builder) fit(req Request) []history.Turn {
	turns := req.History
	if req.Budget <= 0 || len(turns) <= minTurns {
		return turns
	}

	total := b.estimator.Estimate(req.System) + b.estimator.Estimate(req.Input) + 2*turnOverhead +
		EstimateTurns(b.estimator, turns)
	dropped := 0
	for len(turns) > minTurns && total > req.Budget {
		total -= turnOverhead + b.estimator.Estimate(turns[0].Content)
		turns = turns[1:]
		dropped++
	}
	if dropped > 0 {
		b.logger.Debug("history trimmed to prompt budget",
			"session_id", req.SessionID,
			"dropped_turns", dropped,
			"kept_turns", len(turns),
			"estimated_tokens", total,
			"budget", req.Budget,
		)
	}
	return turns
}
