// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/types"
)

// healthCheckModelAnthropic is the cheap model used for key probes.
const healthCheckModelAnthropic = "claude-3-5-haiku-20241022"

var anthropicPricing = map[string]types.ModelPricing{
	"claude-opus-4-20250514":     {InputPer1M: 15.0, OutputPer1M: 75.0, CachedInputPer1M: ptr(1.5)},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.0, OutputPer1M: 15.0, CachedInputPer1M: ptr(0.3)},
	"claude-3-7-sonnet-20250219": {InputPer1M: 3.0, OutputPer1M: 15.0, CachedInputPer1M: ptr(0.3)},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.8, OutputPer1M: 4.0, CachedInputPer1M: ptr(0.08)},
}

func ptr(f float64) *float64 { return &f }

// AnthropicProvider adapts the Claude Messages API. The system preamble is a
// top-level field, tool calls arrive as content blocks, and embeddings are
// not offered.
type AnthropicProvider struct {
	base
	baseURL string
}

// NewAnthropicProvider creates the adapter. baseURL is optional.
func NewAnthropicProvider(baseURL string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		base:    newBase(types.ProviderAnthropic, anthropicPricing, timeout, log.WithComponent("provider-anthropic")),
		baseURL: baseURL,
	}
}

func (p *AnthropicProvider) client(apiKey string) sdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return sdk.NewClient(opts...)
}

// Complete issues a non-streaming Messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request, apiKey string) (*Response, error) {
	return p.complete(ctx, req, func(ctx context.Context) (*Response, error) {
		client := p.client(apiKey)
		params := p.encodeRequest(req)

		msg, err := client.Messages.New(ctx, params)
		if err != nil {
			return nil, p.translateError(err)
		}
		return p.decodeResponse(msg), nil
	})
}

// Stream opens a streaming Messages call and adapts SSE events into chunks.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request, apiKey string) (<-chan StreamChunk, error) {
	return p.streamSetup(ctx, req, func(ctx context.Context) (<-chan StreamChunk, error) {
		client := p.client(apiKey)
		stream := client.Messages.NewStreaming(ctx, p.encodeRequest(req))
		if err := stream.Err(); err != nil {
			return nil, p.translateError(err)
		}

		ch := make(chan StreamChunk)
		go func() {
			defer close(ch)
			defer func() { _ = stream.Close() }()

			var usage types.TokenUsage
			finish := FinishEndTurn
			for stream.Next() {
				event := stream.Current()
				switch ev := event.AsAny().(type) {
				case sdk.ContentBlockDeltaEvent:
					if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
						ch <- StreamChunk{Delta: delta.Text}
					}
				case sdk.MessageDeltaEvent:
					usage.OutputTokens = int(ev.Usage.OutputTokens)
					if ev.Delta.StopReason != "" {
						finish = mapAnthropicFinish(string(ev.Delta.StopReason))
					}
				case sdk.MessageStartEvent:
					usage.InputTokens = int(ev.Message.Usage.InputTokens)
				}
			}
			if err := stream.Err(); err != nil {
				ch <- StreamChunk{Err: p.translateError(err), FinishReason: FinishError}
				return
			}
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			ch <- StreamChunk{FinishReason: finish, Usage: &usage}
		}()
		return ch, nil
	})
}

// Embed is not offered by this vendor.
func (p *AnthropicProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, &Error{
		Kind:     KindInvalidRequest,
		Provider: p.id,
		Message:  "embeddings are not supported",
	}
}

// HealthCheck sends a trivial one-token generation. 429/529 still count as
// healthy since they prove the key is valid.
func (p *AnthropicProvider) HealthCheck(ctx context.Context, apiKey string) HealthStatus {
	return p.healthProbe(ctx, healthCheckModelAnthropic, func(ctx context.Context) error {
		client := p.client(apiKey)
		_, err := client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(healthCheckModelAnthropic),
			MaxTokens: 1,
			Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
		})
		if err != nil {
			return p.translateError(err)
		}
		return nil
	})
}

func (p *AnthropicProvider) encodeRequest(req *Request) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// System turns become the top-level system field.
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	params.Messages = msgs
	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}, t.Name)
			if u.OfTool != nil && t.Description != "" {
				u.OfTool.Description = sdk.String(t.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params
}

func (p *AnthropicProvider) decodeResponse(msg *sdk.Message) *Response {
	resp := &Response{
		FinishReason: mapAnthropicFinish(string(msg.StopReason)),
		Usage: types.TokenUsage{
			InputTokens:       int(msg.Usage.InputTokens),
			OutputTokens:      int(msg.Usage.OutputTokens),
			CachedInputTokens: int(msg.Usage.CacheReadInputTokens),
			TotalTokens:       int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			call := ToolCall{ID: block.ID, Name: block.Name}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &call.Arguments)
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
	}
	resp.Content = text.String()
	return resp
}

func mapAnthropicFinish(reason string) FinishReason {
	switch reason {
	case "end_turn":
		return FinishEndTurn
	case "max_tokens":
		return FinishMaxTokens
	case "stop_sequence":
		return FinishStopSequence
	case "tool_use":
		return FinishToolUse
	default:
		return FinishEndTurn
	}
}

func (p *AnthropicProvider) translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := kindFromStatus(apiErr.StatusCode)
		if apiErr.StatusCode == 529 {
			kind = KindServer // overloaded
		}
		return &Error{
			Kind:       kind,
			Provider:   p.id,
			Message:    apiErr.Error(),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: p.id, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: p.id, Message: err.Error(), Err: err}
}
