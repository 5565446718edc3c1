package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/engine"
	"github.com/flemzord/tierllm/internal/history"
	"github.com/flemzord/tierllm/internal/postprocess"
	"github.com/flemzord/tierllm/internal/prompt"
	"github.com/flemzord/tierllm/internal/resource"
)

// GenerateResponse answers input within session sessionID, using the
// system prompt of mode. An empty sessionID answers without history. It
// always returns text: failures yield one of the Msg replies.
func (m *Manager) GenerateResponse(ctx context.Context, input, sessionID, mode string) (reply string) {
	start := m.opts.Now()
	ctx, span := tracer.Start(ctx, "manager.generate",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	outcome := outcomeFailed
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("generation panicked", "session_id", sessionID, "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			reply, outcome = MsgGenerationFailed, outcomeFailed
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		m.metrics.observeGeneration(outcome, m.opts.Now().Sub(start))
	}()

	snap := m.monitor.Snapshot()
	m.metrics.observeSnapshot(snap)
	if snap.Emergency {
		m.monitor.Recover()
		snap = m.monitor.Snapshot()
		m.metrics.observeSnapshot(snap)
		if snap.Emergency {
			m.logger.Warn("memory emergency, refusing generation",
				"session_id", sessionID,
				"pressure", snap.Level.String(),
				"available_gb", snap.AvailableGB(),
			)
			outcome = outcomeEmergency
			return MsgEmergency
		}
	}

	params, _ := m.retune(ctx)
	tier, _ := m.tuner.Current()

	if err := m.ensureReady(ctx); err != nil {
		m.logger.Error("model unavailable", "session_id", sessionID, "error", err)
		span.RecordError(err)
		outcome = outcomeUnavailable
		return MsgUnavailable
	}
	params = m.effectiveParams(params)

	logger := m.logger.With(
		"session_id", sessionID,
		"tier", tier.String(),
		"pressure", snap.Level.String(),
		"available_gb", snap.AvailableGB(),
	)
	logger.Debug("generating response", "used_gb", snap.UsedGB(), "context_window", params.ContextWindow)
	span.SetAttributes(attribute.String("tier", tier.String()))

	var turns []history.Turn
	if sessionID != "" {
		turns = m.store.Get(sessionID)
		m.store.Append(sessionID, history.RoleUser, input)
	}
	rendered := m.builder.Build(prompt.Request{
		SessionID: sessionID,
		System:    m.systemPrompt(mode),
		History:   turns,
		Input:     input,
		Budget:    params.PromptBudget(),
	})

	stop := m.opts.Dialect.StopSequences()
	gen := m.opts.Profile.Generation
	raw, err := m.complete(ctx, engine.Request{
		Prompt:        rendered,
		MaxTokens:     params.MaxResponseTokens,
		Stop:          stop,
		Temperature:   gen.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		RepeatPenalty: gen.RepeatPenalty,
	})
	if err != nil {
		logger.Error("generation failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MsgGenerationFailed
	}

	text := m.stripper.Strip(raw)
	text = m.repair(ctx, text, tier, sessionID, postprocess.RepairRequest{
		SessionID:         sessionID,
		Prompt:            rendered,
		MaxResponseTokens: params.MaxResponseTokens,
		Stop:              stop,
	})
	if m.opts.Profile.Reflow {
		text = postprocess.Reflow(text)
	}
	if strings.TrimSpace(text) == "" {
		logger.Warn("model returned an empty response")
		return MsgGenerationFailed
	}

	if sessionID != "" {
		m.store.Append(sessionID, history.RoleAssistant, text)
	}
	outcome = outcomeOK
	logger.Debug("response generated", "chars", len(text), "elapsed", m.opts.Now().Sub(start))
	return text
}

// complete runs one completion against the loaded engine.
func (m *Manager) complete(ctx context.Context, req engine.Request) (string, error) {
	m.engineMu.RLock()
	defer m.engineMu.RUnlock()
	if m.opts.SerializeGeneration {
		m.genMu.Lock()
		defer m.genMu.Unlock()
	}
	return m.engine.Complete(ctx, req)
}

// repair completes a truncated response. It is skipped at the minimal tier
// and during emergencies.
func (m *Manager) repair(ctx context.Context, text string, tier resource.Tier, sessionID string, req postprocess.RepairRequest) string {
	if tier == resource.TierMinimal || !m.repairer.LooksIncomplete(text) {
		return text
	}
	if m.monitor.IsEmergency() {
		return text
	}

	m.engineMu.RLock()
	defer m.engineMu.RUnlock()
	if m.opts.SerializeGeneration {
		m.genMu.Lock()
		defer m.genMu.Unlock()
	}
	out := m.repairer.Repair(ctx, text, req)
	m.metrics.observeRepair(out != text)
	if out != text {
		m.logger.Debug("truncated response repaired", "session_id", sessionID)
	}
	return out
}

func (m *Manager) systemPrompt(mode string) string {
	if mode == "" {
		mode = DefaultMode
	}
	if s, ok := m.modes[mode]; ok {
		return s
	}
	m.logger.Warn("unknown model mode, using default", "mode", mode)
	return m.modes[DefaultMode]
}

// ClearHistory drops a session's in-memory history. It reports whether
// the session existed.
func (m *Manager) ClearHistory(sessionID string) bool {
	return m.store.Clear(sessionID)
}

// LoadHistory replaces a session's in-memory history with the persisted
// exchanges of userID. It reports false when nothing was persisted or no
// source is configured.
func (m *Manager) LoadHistory(ctx context.Context, userID, sessionID string) bool {
	if m.opts.History == nil || sessionID == "" {
		return false
	}
	exchanges, err := m.opts.History.LoadHistory(ctx, userID, sessionID)
	if err != nil {
		m.logger.Error("loading persisted history failed", "session_id", sessionID, "error", err)
		return false
	}
	ok := m.store.Load(sessionID, exchanges)
	m.logger.Debug("persisted history loaded", "session_id", sessionID, "exchanges", len(exchanges), "loaded", ok)
	return ok
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Retune re-evaluates the adaptive parameters outside of a request.
func (m *Manager) Retune(ctx context.Context) (adaptive.Params, bool) {
	return m.retune(ctx)
}
