// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/types"
)

const healthCheckModelOpenAI = "gpt-4o-mini"

var openAIPricing = map[string]types.ModelPricing{
	"gpt-4o":                 {InputPer1M: 2.5, OutputPer1M: 10.0, CachedInputPer1M: ptr(1.25)},
	"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.6, CachedInputPer1M: ptr(0.075)},
	"o3-mini":                {InputPer1M: 1.1, OutputPer1M: 4.4},
	"text-embedding-3-small": {InputPer1M: 0.02, OutputPer1M: 0},
	"text-embedding-3-large": {InputPer1M: 0.13, OutputPer1M: 0},
}

// OpenAIProvider adapts the OpenAI chat completions and embeddings APIs.
// The same flow also backs OpenAI-compatible vendors via a base URL override.
type OpenAIProvider struct {
	base
	baseURL string
}

// NewOpenAIProvider creates the adapter. baseURL is optional.
func NewOpenAIProvider(baseURL string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		base:    newBase(types.ProviderOpenAI, openAIPricing, timeout, log.WithComponent("provider-openai")),
		baseURL: baseURL,
	}
}

// newOpenAICompatible builds an adapter for an OpenAI-compatible vendor with
// its own identity, pricing and base URL.
func newOpenAICompatible(id types.ProviderID, pricing map[string]types.ModelPricing, baseURL string, timeout time.Duration, logger zerolog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		base:    newBase(id, pricing, timeout, logger),
		baseURL: baseURL,
	}
}

func (p *OpenAIProvider) client(apiKey string) oai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return oai.NewClient(opts...)
}

// Complete issues a non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request, apiKey string) (*Response, error) {
	return p.complete(ctx, req, func(ctx context.Context) (*Response, error) {
		client := p.client(apiKey)

		completion, err := client.Chat.Completions.New(ctx, p.encodeRequest(req))
		if err != nil {
			return nil, p.translateError(err)
		}
		return p.decodeResponse(completion), nil
	})
}

// Stream opens a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request, apiKey string) (<-chan StreamChunk, error) {
	return p.streamSetup(ctx, req, func(ctx context.Context) (<-chan StreamChunk, error) {
		client := p.client(apiKey)
		params := p.encodeRequest(req)
		stream := client.Chat.Completions.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			return nil, p.translateError(err)
		}

		ch := make(chan StreamChunk)
		go func() {
			defer close(ch)
			defer func() { _ = stream.Close() }()

			finish := FinishEndTurn
			for stream.Next() {
				chunk := stream.Current()
				if len(chunk.Choices) == 0 {
					continue
				}
				choice := chunk.Choices[0]
				if choice.Delta.Content != "" {
					ch <- StreamChunk{Delta: choice.Delta.Content}
				}
				if choice.FinishReason != "" {
					finish = mapOpenAIFinish(choice.FinishReason)
				}
			}
			if err := stream.Err(); err != nil {
				ch <- StreamChunk{Err: p.translateError(err), FinishReason: FinishError}
				return
			}
			ch <- StreamChunk{FinishReason: finish}
		}()
		return ch, nil
	})
}

// Embed requests an embedding vector for the text.
func (p *OpenAIProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if text == "" {
		return nil, &Error{Kind: KindInvalidRequest, Provider: p.id, Message: "text must not be empty"}
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := p.client(apiKey)
	resp, err := client.Embeddings.New(embedCtx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(model),
		Input: oai.EmbeddingNewParamsInputUnion{OfString: oai.String(text)},
	})
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Kind: KindUnknown, Provider: p.id, Message: "empty embedding response"}
	}
	return resp.Data[0].Embedding, nil
}

// HealthCheck sends a trivial one-token generation.
func (p *OpenAIProvider) HealthCheck(ctx context.Context, apiKey string) HealthStatus {
	return p.healthProbe(ctx, healthCheckModelOpenAI, func(ctx context.Context) error {
		client := p.client(apiKey)
		_, err := client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
			Model:               healthCheckModelOpenAI,
			MaxCompletionTokens: oai.Int(1),
			Messages:            []oai.ChatCompletionMessageParamUnion{oai.UserMessage("ping")},
		})
		if err != nil {
			return p.translateError(err)
		}
		return nil
	})
}

func (p *OpenAIProvider) encodeRequest(req *Request) oai.ChatCompletionNewParams {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: oai.Int(int64(req.MaxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]oai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, oai.ChatCompletionFunctionTool(oai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: oai.String(t.Description),
				Parameters:  t.InputSchema,
			}))
		}
		params.Tools = tools
	}
	return params
}

func (p *OpenAIProvider) decodeResponse(completion *oai.ChatCompletion) *Response {
	resp := &Response{
		Usage: types.TokenUsage{
			InputTokens:       int(completion.Usage.PromptTokens),
			OutputTokens:      int(completion.Usage.CompletionTokens),
			CachedInputTokens: int(completion.Usage.PromptTokensDetails.CachedTokens),
			TotalTokens:       int(completion.Usage.TotalTokens),
		},
		FinishReason: FinishEndTurn,
	}
	if len(completion.Choices) == 0 {
		return resp
	}

	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	resp.FinishReason = mapOpenAIFinish(choice.FinishReason)

	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		// Tool-call arguments arrive as a JSON string.
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments)
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}
	return resp
}

func mapOpenAIFinish(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishEndTurn
	case "length":
		return FinishMaxTokens
	case "tool_calls":
		return FinishToolUse
	case "content_filter":
		return FinishError
	default:
		return FinishEndTurn
	}
}

func (p *OpenAIProvider) translateError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		kind := kindFromStatus(apiErr.StatusCode)
		// A 400 complaining about context length is its own kind.
		if apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Message), "context length") {
			kind = KindContextLength
		}
		return &Error{
			Kind:       kind,
			Provider:   p.id,
			Message:    apiErr.Message,
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: p.id, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: p.id, Message: err.Error(), Err: err}
}
