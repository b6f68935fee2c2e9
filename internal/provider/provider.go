// SPDX-License-Identifier: MIT

// Package provider implements the vendor façade: a unified request/response
// form, a shared retry/timeout/cost base and one adapter per vendor. API keys
// are passed per call (BYOK); providers hold no credentials.
package provider

import (
	"context"
	"time"

	"github.com/stackworks/agentmux/internal/types"
)

// Role is the unified chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the unified chat message form adapted per vendor.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolCall is a model-requested tool invocation with decoded arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// FinishReason is the unified completion stop cause.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishToolUse      FinishReason = "tool_use"
	FinishError        FinishReason = "error"
)

// Request is the unified completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Tools       []ToolDefinition
}

// Response is the unified completion result.
type Response struct {
	Content      string           `json:"content"`
	ToolCalls    []ToolCall       `json:"toolCalls,omitempty"`
	FinishReason FinishReason     `json:"finishReason"`
	Usage        types.TokenUsage `json:"usage"`
	Model        string           `json:"model"`
	CostUSD      float64          `json:"costUsd"`
	LatencyMs    int64            `json:"latencyMs"`
}

// StreamChunk is one increment of a streamed completion. The final chunk
// carries the finish reason and, when the vendor reports it, usage.
type StreamChunk struct {
	Delta        string            `json:"delta"`
	FinishReason FinishReason      `json:"finishReason,omitempty"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
	Err          error             `json:"-"`
}

// HealthStatus is the result of a provider key probe.
type HealthStatus struct {
	Provider  types.ProviderID `json:"provider"`
	Healthy   bool             `json:"healthy"`
	LatencyMs int64            `json:"latencyMs"`
	Message   string           `json:"message,omitempty"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// RateLimitStatus is passively tracked from vendor response headers.
// Known is false until at least one response carried limit information.
type RateLimitStatus struct {
	Known             bool      `json:"known"`
	RequestsRemaining int       `json:"requestsRemaining,omitempty"`
	TokensRemaining   int       `json:"tokensRemaining,omitempty"`
	ResetAt           time.Time `json:"resetAt,omitempty"`
}

// Provider is the vendor façade. Implementations translate vendor errors
// into the unified taxonomy and never retry internally; retries live in the
// shared base wrapper.
type Provider interface {
	ID() types.ProviderID

	Complete(ctx context.Context, req *Request, apiKey string) (*Response, error)
	Stream(ctx context.Context, req *Request, apiKey string) (<-chan StreamChunk, error)
	Embed(ctx context.Context, text, model, apiKey string) ([]float64, error)
	HealthCheck(ctx context.Context, apiKey string) HealthStatus

	SupportsModel(modelID string) bool
	CalculateCost(modelID string, usage types.TokenUsage) float64
	GetModelPricing(modelID string) (types.ModelPricing, bool)
	GetRateLimitStatus() RateLimitStatus
}
