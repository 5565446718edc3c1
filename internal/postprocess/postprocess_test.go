package postprocess

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/flemzord/tierllm/internal/engine"
	"github.com/flemzord/tierllm/internal/engine/enginetest"
	"github.com/flemzord/tierllm/internal/prompt"
)

var zephyrTokens = []string{"<|system|>", "<|user|>", "<|assistant|>", "</s>"}

func TestStripperStrip(t *testing.T) {
	t.Parallel()

	s := NewStripper(zephyrTokens)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"trailing token", "Hello there.</s>", "Hello there."},
		{"leading whitespace", "  \n<|assistant|>\nHi!  ", "Hi!"},
		{"nested token", "<|ass<|user|>istant|>ok", "ok"},
		{"internal whitespace kept", "a\n\n\nb", "a\n\n\nb"},
		{"only tokens", "</s><|user|>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripperStrip_Dialects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dialect string
		in      string
		want    string
	}{
		{"zephyr", "<|assistant|>Hi<|user|> there</s>", "Hi there"},
		{"llama3", "<|begin_of_text|>Hello<|eot_id|>, world<|end_of_text|>", "Hello, world"},
		{"llama3", "Line one<|eot_id|>\n\nLine<|start_header_id|><|end_header_id|> two<|eot_id|>", "Line one\n\nLine two"},
		{"llama3", "<|start_<|eot_id|>header_id|>ok<|eot_id|>", "ok"},
		{"llama3", "<|eot_id|><|end_of_text|>", ""},
		{"gemma", "<start_of_turn>Hi <end_of_turn>there<eos>", "Hi there"},
		{"gemma", "<bos>a\n<end_of_turn>\n\nb<eos>  ", "a\n\n\nb"},
		{"gemma", "<end_of<eos>_turn>done", "done"},
		{"gemma", "<end_of_turn><eos>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			t.Parallel()
			d, err := prompt.LookupDialect(tt.dialect)
			if err != nil {
				t.Fatalf("LookupDialect(%q) = %v", tt.dialect, err)
			}
			if got := NewStripper(d.ControlTokens()).Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"colons", "Note:: read this", "Note: read this"},
		{"mid sentence break", "the cat\nsat down", "the cat sat down"},
		{"comma break", "first,\nsecond", "first, second"},
		{"after period lowercase", "Done.\nthen more", "Done. then more"},
		{"paragraph kept", "One.\n\nTwo.", "One.\n\nTwo."},
		{"blank lines collapsed", "One.\n\n\n\nTwo.", "One.\n\nTwo."},
		{"spaces", "too    many  spaces", "too many spaces"},
		{"uppercase line kept", "List\nItem", "List\nItem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Reflow(tt.in); got != tt.want {
				t.Errorf("Reflow(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

const longSentence = "This response talks about memory pressure and how the manager adapts its parameters over time."

func TestLooksIncomplete(t *testing.T) {
	t.Parallel()

	r := NewHeuristicRepairer(nil, NewStripper(nil), nil, false, nil)
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "   ", true},
		{"short", "Yes.", true},
		{"complete", longSentence, false},
		{"question", strings.TrimSuffix(longSentence, ".") + "?", false},
		{"no punctuation", strings.TrimSuffix(longSentence, "."), true},
		{"dangling to", strings.TrimSuffix(longSentence, ".") + " in order to", true},
		{"trailing comma", strings.TrimSuffix(longSentence, ".") + ",", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.LooksIncomplete(tt.in); got != tt.want {
				t.Errorf("LooksIncomplete(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrimDangling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"you will need to be able to", "you will need to be"},
		{"we ran it in order to", "we ran it in"},
		{"cats and", "cats"},
		{"the result is fine", "the result is fine"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := trimDangling(tt.in); got != tt.want {
			t.Errorf("trimDangling(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHeuristicRepairerRepair(t *testing.T) {
	t.Parallel()

	mock := &enginetest.MockEngine{
		CompleteFunc: func(_ context.Context, _ engine.Request) (string, error) {
			return " finish the sentence properly.</s>", nil
		},
	}
	r := NewHeuristicRepairer(mock, NewStripper(zephyrTokens), nil, false, nil)

	got := r.Repair(context.Background(), "You should try to", RepairRequest{
		Prompt:            "<|user|>\nhelp</s>\n<|assistant|>\n",
		MaxResponseTokens: 512,
		Stop:              []string{"</s>"},
	})
	if want := "You should try finish the sentence properly."; got != want {
		t.Errorf("Repair() = %q, want %q", got, want)
	}

	req, ok := mock.LastRequest()
	if !ok {
		t.Fatal("Complete was not called")
	}
	if req.MaxTokens != maxRepairTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, maxRepairTokens)
	}
	if !strings.HasSuffix(req.Prompt, "<|assistant|>\nYou should try") {
		t.Errorf("Prompt = %q, want continuation of truncated text", req.Prompt)
	}
	if req.Temperature != 0.3 || req.TopK != 20 {
		t.Errorf("sampling = (%v, %d), want (0.3, 20)", req.Temperature, req.TopK)
	}
}

func TestHeuristicRepairerKeepsOriginal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		complete  func(context.Context, engine.Request) (string, error)
		emergency bool
		wantCalls int
	}{
		{
			name:      "engine error",
			complete:  func(context.Context, engine.Request) (string, error) { return "", errors.New("boom") },
			wantCalls: 1,
		},
		{
			name:      "short continuation",
			complete:  func(context.Context, engine.Request) (string, error) { return "ok.", nil },
			wantCalls: 1,
		},
		{
			name:      "panic",
			complete:  func(context.Context, engine.Request) (string, error) { panic("kaboom") },
			wantCalls: 1,
		},
		{
			name:      "emergency",
			complete:  func(context.Context, engine.Request) (string, error) { return "a long continuation here.", nil },
			emergency: true,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &enginetest.MockEngine{CompleteFunc: tt.complete}
			r := NewHeuristicRepairer(mock, NewStripper(nil), func() bool { return tt.emergency }, false, nil)

			const original = "It was necessary to"
			if got := r.Repair(context.Background(), original, RepairRequest{MaxResponseTokens: 100}); got != original {
				t.Errorf("Repair() = %q, want original %q", got, original)
			}
			if _, completes := mock.Counts(); completes != tt.wantCalls {
				t.Errorf("Complete calls = %d, want %d", completes, tt.wantCalls)
			}
		})
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var r Repairer = Nop{}
	if r.LooksIncomplete("") {
		t.Error("Nop.LooksIncomplete() = true, want false")
	}
	if got := r.Repair(context.Background(), "x", RepairRequest{}); got != "x" {
		t.Errorf("Nop.Repair() = %q, want %q", got, "x")
	}
}
