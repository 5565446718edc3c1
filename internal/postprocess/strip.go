// Package postprocess cleans raw model output: it strips template control
// tokens, optionally reflows broken lines, and can repair responses that
// look truncated.
package postprocess

import (
	"regexp"
	"strings"

	"github.com/flemzord/tierllm/internal/prompt"
)

// Stripper removes one dialect's control tokens.
type Stripper struct {
	tokens []string
}

// NewStripper creates a stripper for the given control tokens.
func NewStripper(tokens []string) *Stripper {
	return &Stripper{tokens: tokens}
}

// Strip removes every control token, then trims leading and trailing
// whitespace. Internal whitespace is left exactly as produced.
func (s *Stripper) Strip(text string) string {
	return strings.TrimSpace(prompt.StripTokens(text, s.tokens))
}

var (
	repeatedColons = regexp.MustCompile(`::+`)
	// A sentence-ending word, a line break, then a lowercase continuation.
	brokenAfterPeriod = regexp.MustCompile(`(\w+\.)[ \t]*[\r\n]+[ \t]*([a-z])`)
	// A lowercase letter or comma, a single line break, then lowercase.
	brokenMidSentence = regexp.MustCompile(`([a-z,])[ \t]*\r?\n[ \t]*([a-z])`)
	extraBlankLines   = regexp.MustCompile(`\n[ \t]*\n[ \t]*\n+`)
	repeatedSpaces    = regexp.MustCompile(` {2,}`)
)

// Reflow repairs fragmented small-model output: doubled colons, line
// breaks in the middle of sentences, runs of blank lines and repeated
// spaces. Unlike Strip it rewrites internal whitespace, so it is an
// opt-in stage.
func Reflow(text string) string {
	text = repeatedColons.ReplaceAllString(text, ":")
	text = brokenAfterPeriod.ReplaceAllString(text, "$1 $2")
	text = brokenMidSentence.ReplaceAllString(text, "$1 $2")
	text = extraBlankLines.ReplaceAllString(text, "\n\n")
	text = repeatedSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
