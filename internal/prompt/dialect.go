// Package prompt renders chat-template prompts for local models. Three
// template dialects are supported; the dialect is configured, never
// detected.
package prompt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/tierllm/internal/history"
)

var (
	// ErrUnknownDialect is returned by LookupDialect.
	ErrUnknownDialect = errors.New("prompt: unknown dialect")
	// ErrMalformedTurn is returned when a stored turn cannot be rendered.
	ErrMalformedTurn = errors.New("prompt: malformed turn")
)

// Dialect renders one model family's chat template.
type Dialect interface {
	Name() string
	// Render formats the system prompt, history and new input, ending with
	// the assistant cue.
	Render(system string, turns []history.Turn, input string) (string, error)
	// ControlTokens lists every control sequence of the template.
	ControlTokens() []string
	// StopSequences lists strings that end generation.
	StopSequences() []string
}

var dialects = map[string]Dialect{
	"zephyr": zephyr{},
	"llama3": llama3{},
	"gemma":  gemma{},
}

// LookupDialect returns a dialect by name.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownDialect, name, DialectNames())
	}
	return d, nil
}

// DialectNames lists the supported dialects, sorted.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// StripTokens removes every occurrence of tokens from text, repeating
// until none remain so that removal cannot assemble a new token.
func StripTokens(text string, tokens []string) string {
	for {
		before := text
		for _, tok := range tokens {
			text = strings.ReplaceAll(text, tok, "")
		}
		if text == before {
			return text
		}
	}
}

// checkTurns rejects turns the templates cannot express.
func checkTurns(turns []history.Turn) error {
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: turn %d has role %q", ErrMalformedTurn, i, t.Role)
		}
		if !utf8.ValidString(t.Content) {
			return fmt.Errorf("%w: turn %d is not valid UTF-8", ErrMalformedTurn, i)
		}
	}
	return nil
}

// zephyr is the <|system|>/<|user|>/<|assistant|> delimiter style.
type zephyr struct{}

func (zephyr) Name() string { return "zephyr" }

func (zephyr) ControlTokens() []string {
	return []string{"<|system|>", "<|user|>", "<|assistant|>", "</s>", "<s>"}
}

func (zephyr) StopSequences() []string {
	return []string{"</s>", "<|user|>", "<|system|>", "\n\n<|", "Human:", "User:"}
}

func (d zephyr) Render(system string, turns []history.Turn, input string) (string, error) {
	if err := checkTurns(turns); err != nil {
		return "", err
	}
	clean := func(s string) string { return StripTokens(s, d.ControlTokens()) }

	var b strings.Builder
	if system != "" {
		b.WriteString("<|system|>\n" + clean(system) + "</s>\n")
	}
	for _, t := range turns {
		b.WriteString("<|" + string(t.Role) + "|>\n" + clean(t.Content) + "</s>\n")
	}
	b.WriteString("<|user|>\n" + clean(input) + "</s>\n<|assistant|>\n")
	return b.String(), nil
}

// llama3 is the <|begin_of_text|>/<|start_header_id|> header-block style.
type llama3 struct{}

func (llama3) Name() string { return "llama3" }

func (llama3) ControlTokens() []string {
	return []string{"<|begin_of_text|>", "<|start_header_id|>", "<|end_header_id|>", "<|eot_id|>", "<|end_of_text|>"}
}

func (llama3) StopSequences() []string {
	return []string{"<|eot_id|>", "<|start_header_id|>", "<|end_of_text|>"}
}

func (d llama3) Render(system string, turns []history.Turn, input string) (string, error) {
	if err := checkTurns(turns); err != nil {
		return "", err
	}
	block := func(b *strings.Builder, role, content string) {
		b.WriteString("<|start_header_id|>" + role + "<|end_header_id|>\n\n")
		b.WriteString(StripTokens(content, d.ControlTokens()) + "<|eot_id|>")
	}

	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	if system != "" {
		block(&b, "system", system)
	}
	for _, t := range turns {
		block(&b, string(t.Role), t.Content)
	}
	block(&b, "user", input)
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String(), nil
}

// gemma is the <start_of_turn>/<end_of_turn> style. It has no system role:
// the system prompt is folded into the first user turn.
type gemma struct{}

func (gemma) Name() string { return "gemma" }

func (gemma) ControlTokens() []string {
	return []string{"<bos>", "<eos>", "<start_of_turn>", "<end_of_turn>"}
}

func (gemma) StopSequences() []string {
	return []string{"<end_of_turn>", "<start_of_turn>"}
}

func (d gemma) Render(system string, turns []history.Turn, input string) (string, error) {
	if err := checkTurns(turns); err != nil {
		return "", err
	}
	pending := StripTokens(system, d.ControlTokens())
	block := func(b *strings.Builder, role history.Role, content string) {
		content = StripTokens(content, d.ControlTokens())
		name := "model"
		if role == history.RoleUser {
			name = "user"
			if pending != "" {
				content = pending + "\n\n" + content
				pending = ""
			}
		}
		b.WriteString("<start_of_turn>" + name + "\n" + content + "<end_of_turn>\n")
	}

	var b strings.Builder
	b.WriteString("<bos>")
	for _, t := range turns {
		block(&b, t.Role, t.Content)
	}
	block(&b, history.RoleUser, input)
	b.WriteString("<start_of_turn>model\n")
	return b.String(), nil
}
