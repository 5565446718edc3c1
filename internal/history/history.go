// Package history keeps per-session conversation turns in process memory,
// bounded by the active tier's history limit.
package history

import (
	"context"
	"time"

	"github.com/flemzord/tierllm/internal/resource"
)

// Role identifies the author of a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a session. Turns are never modified once stored.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Exchange is a persisted user message with the assistant's reply.
type Exchange struct {
	UserMessage      string
	AssistantMessage string
	CreatedAt        time.Time
}

// Source reads persisted chat history, oldest exchange first.
type Source interface {
	LoadHistory(ctx context.Context, userID, sessionID string) ([]Exchange, error)
}

// Pressure is the slice of the memory monitor the store depends on.
// *resource.Monitor satisfies it.
type Pressure interface {
	PressureLevel() resource.Level
	IsEmergency() bool
	Collect()
}
