// SPDX-License-Identifier: MIT

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	defaultGoogleBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	healthCheckModelGoogle   = "gemini-2.0-flash"
	googleEmbeddingModel     = "text-embedding-004"
	googleSSEDataPrefix      = "data: "
	googleMaxErrorBodyLength = 2048
)

var googlePricing = map[string]types.ModelPricing{
	"gemini-2.0-flash":   {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-2.0-pro":     {InputPer1M: 1.25, OutputPer1M: 5.00},
	"text-embedding-004": {InputPer1M: 0.01, OutputPer1M: 0},
}

// GoogleProvider adapts the Gemini generateContent API over plain HTTP.
// System turns become a systemInstruction, assistant turns are remapped to
// the "model" role, and a SAFETY finish surfaces as content-filter.
type GoogleProvider struct {
	base
	baseURL string
	httpc   *http.Client
}

// NewGoogleProvider creates the adapter. baseURL is optional.
func NewGoogleProvider(baseURL string, timeout time.Duration) *GoogleProvider {
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	return &GoogleProvider{
		base:    newBase(types.ProviderGoogle, googlePricing, timeout, log.WithComponent("provider-google")),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// Gemini wire types.

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerateRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig"`
}

type googleGenerateResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete issues a non-streaming generateContent call.
func (p *GoogleProvider) Complete(ctx context.Context, req *Request, apiKey string) (*Response, error) {
	return p.complete(ctx, req, func(ctx context.Context) (*Response, error) {
		body, status, err := p.post(ctx, fmt.Sprintf("/models/%s:generateContent", req.Model), apiKey, p.encodeRequest(req))
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, p.httpError(status, body)
		}

		var wire googleGenerateResponse
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, &Error{Kind: KindUnknown, Provider: p.id, Message: "malformed response", Err: err}
		}
		return p.decodeResponse(&wire)
	})
}

// Stream issues a streaming generateContent call over SSE.
func (p *GoogleProvider) Stream(ctx context.Context, req *Request, apiKey string) (<-chan StreamChunk, error) {
	return p.streamSetup(ctx, req, func(ctx context.Context) (<-chan StreamChunk, error) {
		payload, err := json.Marshal(p.encodeRequest(req))
		if err != nil {
			return nil, &Error{Kind: KindInvalidRequest, Provider: p.id, Message: "marshal request", Err: err}
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Model)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, &Error{Kind: KindUnknown, Provider: p.id, Message: "build request", Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", apiKey)

		resp, err := p.httpc.Do(httpReq)
		if err != nil {
			return nil, p.transportError(err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, googleMaxErrorBodyLength))
			_ = resp.Body.Close()
			return nil, p.httpError(resp.StatusCode, body)
		}

		ch := make(chan StreamChunk)
		go func() {
			defer close(ch)
			defer func() { _ = resp.Body.Close() }()

			var usage types.TokenUsage
			finish := FinishEndTurn
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, googleSSEDataPrefix) {
					continue
				}
				var wire googleGenerateResponse
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, googleSSEDataPrefix)), &wire); err != nil {
					continue
				}
				if wire.UsageMetadata.TotalTokenCount > 0 {
					usage = types.TokenUsage{
						InputTokens:  wire.UsageMetadata.PromptTokenCount,
						OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
						TotalTokens:  wire.UsageMetadata.TotalTokenCount,
					}
				}
				for _, cand := range wire.Candidates {
					for _, part := range cand.Content.Parts {
						if part.Text != "" {
							ch <- StreamChunk{Delta: part.Text}
						}
					}
					if cand.FinishReason != "" {
						if cand.FinishReason == "SAFETY" {
							ch <- StreamChunk{
								Err:          &Error{Kind: KindContentFilter, Provider: p.id, Message: "response blocked by safety filter"},
								FinishReason: FinishError,
							}
							return
						}
						finish = mapGoogleFinish(cand.FinishReason)
					}
				}
			}
			if err := scanner.Err(); err != nil {
				ch <- StreamChunk{Err: p.transportError(err), FinishReason: FinishError}
				return
			}
			ch <- StreamChunk{FinishReason: finish, Usage: &usage}
		}()
		return ch, nil
	})
}

// Embed calls the distinct embedding model endpoint.
func (p *GoogleProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if text == "" {
		return nil, &Error{Kind: KindInvalidRequest, Provider: p.id, Message: "text must not be empty"}
	}
	if model == "" {
		model = googleEmbeddingModel
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload := map[string]any{
		"content": map[string]any{"parts": []map[string]string{{"text": text}}},
	}
	body, status, err := p.post(embedCtx, fmt.Sprintf("/models/%s:embedContent", model), apiKey, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, p.httpError(status, body)
	}

	var wire struct {
		Embedding struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: p.id, Message: "malformed embedding response", Err: err}
	}
	return wire.Embedding.Values, nil
}

// HealthCheck sends a trivial one-token generation.
func (p *GoogleProvider) HealthCheck(ctx context.Context, apiKey string) HealthStatus {
	return p.healthProbe(ctx, healthCheckModelGoogle, func(ctx context.Context) error {
		req := &Request{
			Model:     healthCheckModelGoogle,
			MaxTokens: 1,
			Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		}
		body, status, err := p.post(ctx, fmt.Sprintf("/models/%s:generateContent", req.Model), apiKey, p.encodeRequest(req))
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return p.httpError(status, body)
		}
		return nil
	})
}

func (p *GoogleProvider) encodeRequest(req *Request) *googleGenerateRequest {
	wire := &googleGenerateRequest{}
	wire.GenerationConfig.MaxOutputTokens = req.MaxTokens
	wire.GenerationConfig.Temperature = req.Temperature

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// System turns live outside the content array.
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &googleContent{}
			}
			wire.SystemInstruction.Parts = append(wire.SystemInstruction.Parts, googlePart{Text: m.Content})
		case RoleAssistant:
			wire.Contents = append(wire.Contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			wire.Contents = append(wire.Contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}
	return wire
}

func (p *GoogleProvider) decodeResponse(wire *googleGenerateResponse) (*Response, error) {
	if len(wire.Candidates) == 0 {
		return nil, &Error{Kind: KindUnknown, Provider: p.id, Message: "no candidates in response"}
	}
	cand := wire.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		return nil, &Error{Kind: KindContentFilter, Provider: p.id, Message: "response blocked by safety filter"}
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}
	return &Response{
		Content:      text.String(),
		FinishReason: mapGoogleFinish(cand.FinishReason),
		Usage: types.TokenUsage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func mapGoogleFinish(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishEndTurn
	case "MAX_TOKENS":
		return FinishMaxTokens
	default:
		return FinishEndTurn
	}
}

// post sends a JSON request and tracks rate-limit headers from the response.
func (p *GoogleProvider) post(ctx context.Context, path, apiKey string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &Error{Kind: KindInvalidRequest, Provider: p.id, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, &Error{Kind: KindUnknown, Provider: p.id, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := p.httpc.Do(httpReq)
	if err != nil {
		return nil, 0, p.transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	p.trackHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, p.transportError(err)
	}
	return body, resp.StatusCode, nil
}

func (p *GoogleProvider) trackHeaders(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	var resetAt time.Time
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			resetAt = time.Unix(secs, 0)
		}
	}
	p.trackRateLimit(n, 0, resetAt)
}

func (p *GoogleProvider) httpError(status int, body []byte) error {
	message := string(body)
	var wire googleErrorResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}
	return &Error{
		Kind:       kindFromStatus(status),
		Provider:   p.id,
		Message:    message,
		StatusCode: status,
	}
}

func (p *GoogleProvider) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: p.id, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: p.id, Message: err.Error(), Err: err}
}
