// Package adaptive maps memory tiers to operating parameters. It holds the
// tier table, the built-in deployment profiles and the Tuner that decides
// when a new tier's parameters are worth applying.
package adaptive

import (
	"errors"
	"fmt"

	"github.com/flemzord/tierllm/internal/resource"
)

// ErrIncompleteTable is returned when a table lacks a row for some tier.
var ErrIncompleteTable = errors.New("adaptive: table must define every tier")

// Params are the operating parameters for one tier.
type Params struct {
	ContextWindow      int `yaml:"context_window" json:"context_window"`
	MaxResponseTokens  int `yaml:"max_response_tokens" json:"max_response_tokens"`
	MaxHistoryMessages int `yaml:"max_history_messages" json:"max_history_messages"`
	Threads            int `yaml:"threads" json:"threads"`

	// BatchSize is the prompt-processing batch handed to the engine.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheGB sizes the engine's prompt cache. Zero disables it.
	CacheGB float64 `yaml:"cache_gb" json:"cache_gb"`

	TopP float64 `yaml:"top_p" json:"top_p"`
	TopK int     `yaml:"top_k" json:"top_k"`
}

// PromptBudget is the number of tokens left for the prompt once the
// response is reserved.
func (p Params) PromptBudget() int {
	return p.ContextWindow - p.MaxResponseTokens
}

// CacheBytes returns the prompt-cache capacity in bytes.
func (p Params) CacheBytes() int64 {
	return int64(p.CacheGB * resource.GiB)
}

// Merge returns p with every non-zero field of o applied on top.
func (p Params) Merge(o Params) Params {
	if o.ContextWindow != 0 {
		p.ContextWindow = o.ContextWindow
	}
	if o.MaxResponseTokens != 0 {
		p.MaxResponseTokens = o.MaxResponseTokens
	}
	if o.MaxHistoryMessages != 0 {
		p.MaxHistoryMessages = o.MaxHistoryMessages
	}
	if o.Threads != 0 {
		p.Threads = o.Threads
	}
	if o.BatchSize != 0 {
		p.BatchSize = o.BatchSize
	}
	if o.CacheGB != 0 {
		p.CacheGB = o.CacheGB
	}
	if o.TopP != 0 {
		p.TopP = o.TopP
	}
	if o.TopK != 0 {
		p.TopK = o.TopK
	}
	return p
}

// Validate checks a single row.
func (p Params) Validate() error {
	var errs []error
	if p.MaxResponseTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_response_tokens = %d, must be positive", p.MaxResponseTokens))
	}
	if p.ContextWindow <= p.MaxResponseTokens {
		errs = append(errs, fmt.Errorf("context_window = %d, must exceed max_response_tokens (%d)",
			p.ContextWindow, p.MaxResponseTokens))
	}
	if p.MaxHistoryMessages < 1 {
		errs = append(errs, fmt.Errorf("max_history_messages = %d, must be at least 1", p.MaxHistoryMessages))
	}
	if p.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads = %d, must be at least 1", p.Threads))
	}
	if p.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch_size = %d, must not be negative", p.BatchSize))
	}
	if p.CacheGB < 0 {
		errs = append(errs, fmt.Errorf("cache_gb = %v, must not be negative", p.CacheGB))
	}
	if p.TopP < 0 || p.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p = %v, must be within [0, 1]", p.TopP))
	}
	if p.TopK < 0 {
		errs = append(errs, fmt.Errorf("top_k = %d, must not be negative", p.TopK))
	}
	return errors.Join(errs...)
}

// Table is a validated, total mapping from tier to parameters.
type Table struct {
	rows map[resource.Tier]Params
}

// NewTable validates rows and returns a table. Every tier must be present.
func NewTable(rows map[resource.Tier]Params) (Table, error) {
	var errs []error
	cp := make(map[resource.Tier]Params, len(rows))
	for _, tier := range resource.Tiers() {
		p, ok := rows[tier]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: missing %s", ErrIncompleteTable, tier))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("adaptive: tier %s: %w", tier, err))
			continue
		}
		cp[tier] = p
	}
	if err := errors.Join(errs...); err != nil {
		return Table{}, err
	}
	return Table{rows: cp}, nil
}

// MustTable is NewTable for built-in tables.
func MustTable(rows map[resource.Tier]Params) Table {
	t, err := NewTable(rows)
	if err != nil {
		panic(err)
	}
	return t
}

// For returns the parameters for tier. Out-of-range tiers clamp to the
// nearest defined one.
func (t Table) For(tier resource.Tier) Params {
	tier = max(resource.TierMinimal, min(tier, resource.TierHigh))
	return t.rows[tier]
}

// Rows returns a copy of the table's rows.
func (t Table) Rows() map[resource.Tier]Params {
	cp := make(map[resource.Tier]Params, len(t.rows))
	for k, v := range t.rows {
		cp[k] = v
	}
	return cp
}

// Override returns a new table with the given rows merged over t's.
func (t Table) Override(overrides map[resource.Tier]Params) (Table, error) {
	rows := t.Rows()
	for tier, o := range overrides {
		rows[tier] = rows[tier].Merge(o)
	}
	return NewTable(rows)
}
