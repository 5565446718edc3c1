package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/flemzord/tierllm/internal/engine"
)

// Repairer detects and repairs truncated responses.
type Repairer interface {
	LooksIncomplete(text string) bool
	// Repair returns a completed response, or text unchanged when repair
	// is not possible. It never fails.
	Repair(ctx context.Context, text string, req RepairRequest) string
}

// RepairRequest carries what a repair needs from the original generation.
type RepairRequest struct {
	SessionID string
	// Prompt is the rendered prompt the response was generated from.
	Prompt            string
	MaxResponseTokens int
	Stop              []string
}

// Completer is the slice of engine.Engine a repairer needs.
type Completer interface {
	Complete(ctx context.Context, req engine.Request) (string, error)
}

// Nop never repairs.
type Nop struct{}

// LooksIncomplete implements Repairer.
func (Nop) LooksIncomplete(string) bool { return false }

// Repair implements Repairer.
func (Nop) Repair(_ context.Context, text string, _ RepairRequest) string { return text }

const (
	minCompleteWords    = 15
	maxRepairTokens     = 128
	minContinuationSize = 10
)

var danglingTail = []*regexp.Regexp{
	regexp.MustCompile(`\w+,\s*$`),
	regexp.MustCompile(`\b(to|and|or|of|in|on|at|for|with|by)\s*$`),
	regexp.MustCompile(`\b(can|will|should|could|would|may|might)\s*$`),
	regexp.MustCompile(`necessary\s+(to|for)\s*$`),
	regexp.MustCompile(`able\s+to\s*$`),
	regexp.MustCompile(`in\s+order\s+to\s*$`),
}

// Idioms whose last two words are dropped before continuing.
var danglingIdioms = []string{"necessary to", "able to", "in order to", "help to", "tend to"}

// Single words dropped before continuing.
var danglingWords = []string{"to", "and", "or", "of", "in", "on", "at", "for", "with", "by", "can", "will", "should"}

// HeuristicRepairer re-prompts the engine to finish responses that look
// cut off. It is skipped entirely during memory emergencies.
type HeuristicRepairer struct {
	completer Completer
	stripper  *Stripper
	emergency func() bool
	reflow    bool
	logger    *slog.Logger
}

// NewHeuristicRepairer creates a repairer. emergency may be nil.
func NewHeuristicRepairer(c Completer, stripper *Stripper, emergency func() bool, reflow bool, logger *slog.Logger) *HeuristicRepairer {
	if emergency == nil {
		emergency = func() bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicRepairer{
		completer: c,
		stripper:  stripper,
		emergency: emergency,
		reflow:    reflow,
		logger:    logger.With("component", "repair"),
	}
}

// LooksIncomplete reports whether text is short, lacks terminal
// punctuation, or ends in a dangling phrase.
func (r *HeuristicRepairer) LooksIncomplete(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	if len(strings.Fields(text)) < minCompleteWords {
		return true
	}
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") &&
		!strings.HasSuffix(text, "?") && !strings.HasSuffix(text, ":") {
		return true
	}
	lower := strings.ToLower(text)
	for _, re := range danglingTail {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Repair implements Repairer.
func (r *HeuristicRepairer) Repair(ctx context.Context, text string, req RepairRequest) (out string) {
	if r.emergency() {
		return text
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("response repair panicked", "session_id", req.SessionID, "panic", fmt.Sprint(p))
			out = text
		}
	}()

	stem := trimDangling(text)
	completion, err := r.completer.Complete(ctx, engine.Request{
		Prompt:        req.Prompt + stem,
		MaxTokens:     min(maxRepairTokens, max(req.MaxResponseTokens/2, 1)),
		Stop:          req.Stop,
		Temperature:   0.3,
		TopP:          0.85,
		TopK:          20,
		RepeatPenalty: 1.2,
	})
	if err != nil {
		r.logger.Warn("response repair failed", "session_id", req.SessionID, "error", err)
		return text
	}

	completion = r.stripper.Strip(completion)
	if len(completion) <= minContinuationSize {
		return text
	}

	combined := r.stripper.Strip(stem + " " + completion)
	if r.reflow {
		combined = Reflow(combined)
	}
	r.logger.Debug("response repaired", "session_id", req.SessionID, "added_chars", len(completion))
	return combined
}

// trimDangling drops a trailing idiom or dangling word so the model can
// restart the phrase.
func trimDangling(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 5 {
		lastThree := strings.ToLower(strings.Join(words[len(words)-3:], " "))
		for _, idiom := range danglingIdioms {
			if strings.Contains(lastThree, idiom) {
				return strings.Join(words[:len(words)-2], " ")
			}
		}
	}
	if slices.Contains(danglingWords, strings.ToLower(words[len(words)-1])) {
		return strings.Join(words[:len(words)-1], " ")
	}
	return strings.TrimSpace(text)
}
