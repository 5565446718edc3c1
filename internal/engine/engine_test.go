package engine_test

import (
	"testing"

	"github.com/flemzord/tierllm/internal/engine"
)

func TestCutAtStop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		stops []string
		want  string
		found bool
	}{
		{"hello world", nil, "hello world", false},
		{"answer</s>junk", []string{"</s>"}, "answer", true},
		{"a\n\n<|user|>b<|system|>", []string{"<|system|>", "\n\n<|"}, "a", true},
		{"no stop here", []string{"", "User:"}, "no stop here", false},
		{"User: hi", []string{"User:"}, "", true},
	}
	for _, tt := range tests {
		got, found := engine.CutAtStop(tt.text, tt.stops)
		if got != tt.want || found != tt.found {
			t.Errorf("CutAtStop(%q) = (%q, %v), want (%q, %v)", tt.text, got, found, tt.want, tt.found)
		}
	}
}
