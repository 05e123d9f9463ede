// Package model abstracts the model-calling runtime consumed by the
// planner and by model-backed capabilities. The engine treats a Model as a
// black box: a chat/completion call that returns text (typically
// structured JSON) or an error. Provider adapters live in the anthropic
// and openai subpackages; MockModel serves tests and examples.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one turn of a chat exchange handed to the provider.
// Role is "user" or "assistant"; system guidance travels in
// Request.Instructions.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request captures the normalized model input produced by the planner and
// capabilities. When ForceJSON is set the caller expects the reply to be a
// single JSON document; adapters reinforce that expectation in the prompt.
type Request struct {
	Instructions string    `json:"instructions"`
	Messages     []Message `json:"messages"`
	ForceJSON    bool      `json:"force_json,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed reply from a provider.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// jsonSuffix is appended to instructions when a caller forces JSON output,
// for providers without a native JSON response mode.
const jsonSuffix = "\nRespond with a single valid JSON document and nothing else."

// WithJSONInstructions returns the instructions with the JSON directive
// appended when the request forces JSON output.
func WithJSONInstructions(req Request) string {
	if !req.ForceJSON {
		return req.Instructions
	}
	return req.Instructions + jsonSuffix
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are matched by substring against the last user message; the
// first registered match wins. Safe for concurrent use.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	keys      []string
	responses map[string]string
	fallback  string
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned reply returned when the last user message
// contains the given substring.
func (m *MockModel) AddResponse(contains, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.responses[contains]; !exists {
		m.keys = append(m.keys, contains)
	}
	m.responses[contains] = response
}

// SetFallback registers the reply used when nothing matches.
func (m *MockModel) SetFallback(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
}

// Calls returns the requests seen so far, in order.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Text
			break
		}
	}

	for _, key := range m.keys {
		if strings.Contains(last, key) {
			return Response{Text: m.responses[key], FinishReason: "stop"}, nil
		}
	}
	if m.fallback != "" {
		return Response{Text: m.fallback, FinishReason: "stop"}, nil
	}
	return Response{}, fmt.Errorf("mock model: no canned response for %q", last)
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
