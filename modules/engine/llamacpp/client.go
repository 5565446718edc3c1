package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/tierllm/internal/engine"
)

// llama.cpp server wire types.

type completionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict"`
	Stop          []string `json:"stop,omitempty"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	CachePrompt   bool     `json:"cache_prompt"`
	Stream        bool     `json:"stream"`
}

type completionResponse struct {
	Content         string `json:"content"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	Truncated       bool   `json:"truncated"`
}

type propsResponse struct {
	DefaultGenerationSettings struct {
		NCtx int `json:"n_ctx"`
	} `json:"default_generation_settings"`
}

func buildRequest(req engine.Request, cachePrompt bool) completionRequest {
	return completionRequest{
		Prompt:        req.Prompt,
		NPredict:      req.MaxTokens,
		Stop:          req.Stop,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		RepeatPenalty: req.RepeatPenalty,
		CachePrompt:   cachePrompt,
	}
}

func (e *Engine) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// doRequest executes an HTTP POST to the completion endpoint.
func (e *Engine) doRequest(ctx context.Context, body completionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := e.newRequest(ctx, http.MethodPost, "/completion", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Caller cancellation is not a server failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", engine.ErrUnavailable, err)
	}
	return resp, nil
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// handleErrorResponse maps HTTP error status codes to engine errors.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: server loading or busy: %s", engine.ErrUnavailable, body)
	case resp.StatusCode >= 500:
		if isContextLengthError(body) {
			return fmt.Errorf("%w: %s", engine.ErrContextLength, body)
		}
		return fmt.Errorf("%w: HTTP %d: %s", engine.ErrUnavailable, resp.StatusCode, body)
	case resp.StatusCode == http.StatusBadRequest:
		if isContextLengthError(body) {
			return fmt.Errorf("%w: %s", engine.ErrContextLength, body)
		}
		return fmt.Errorf("bad request: %s", body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("engine.llamacpp: rejected credentials, HTTP %d: %s", resp.StatusCode, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}

// isContextLengthError checks if an error body reports an oversized prompt.
func isContextLengthError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "context size") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "exceeds the available context") ||
		strings.Contains(lower, "exceed_context_size")
}
