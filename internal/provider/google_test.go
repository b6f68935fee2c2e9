// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/types"
)

func googleServer(t *testing.T, handler http.HandlerFunc) *GoogleProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleProvider(srv.URL, 5*time.Second)
}

func TestGoogle_Complete(t *testing.T) {
	var captured googleGenerateRequest
	p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]string{{"text": "hello"}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]int{
				"promptTokenCount":     12,
				"candidatesTokenCount": 4,
				"totalTokenCount":      16,
			},
		})
	})

	resp, err := p.Complete(context.Background(), &Request{
		Model:     "gemini-2.0-flash",
		MaxTokens: 64,
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "earlier answer"},
		},
	}, "test-key")
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, FinishEndTurn, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)

	// System turns become the systemInstruction; assistant role is remapped.
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "be brief", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 2)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
}

func TestGoogle_SafetyFinishIsContentFilter(t *testing.T) {
	p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]string{}},
				"finishReason": "SAFETY",
			}},
		})
	})

	_, err := p.Complete(context.Background(), &Request{
		Model:     "gemini-2.0-flash",
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
	}, "test-key")

	assert.Equal(t, KindContentFilter, KindOf(err))
}

func TestGoogle_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusNotFound, KindModelNotFound},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindServer},
	}

	for _, tc := range cases {
		p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": tc.status, "message": "nope"},
			})
		})
		p.maxRetries = 0

		_, err := p.Complete(context.Background(), &Request{
			Model:     "gemini-2.0-flash",
			MaxTokens: 64,
			Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		}, "test-key")
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
	}
}

func TestGoogle_Embed(t *testing.T) {
	p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-embedding-004:embedContent", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float64{0.1, 0.2, 0.3}},
		})
	})

	vec, err := p.Embed(context.Background(), "some text", "", "test-key")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestGoogle_EmbedEmptyText(t *testing.T) {
	p := NewGoogleProvider("http://unused.invalid", time.Second)

	_, err := p.Embed(context.Background(), "", "", "test-key")
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestGoogle_HealthCheckRateLimitedIsHealthy(t *testing.T) {
	p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota"},
		})
	})

	status := p.HealthCheck(context.Background(), "test-key")
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Message, "rate limited")
}

func TestGoogle_TracksRateLimitHeaders(t *testing.T) {
	p := googleServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]string{{"text": "ok"}}},
				"finishReason": "STOP",
			}},
		})
	})

	_, err := p.Complete(context.Background(), &Request{
		Model:     "gemini-2.0-flash",
		MaxTokens: 8,
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
	}, "test-key")
	require.NoError(t, err)

	rl := p.GetRateLimitStatus()
	assert.True(t, rl.Known)
	assert.Equal(t, 42, rl.RequestsRemaining)
}

func TestProviderPricingTables(t *testing.T) {
	anthropic := NewAnthropicProvider("", 0)
	assert.True(t, anthropic.SupportsModel("claude-sonnet-4-20250514"))
	assert.True(t, anthropic.SupportsModel("claude-opus-4-20250514"))
	assert.False(t, anthropic.SupportsModel("gpt-4o"))

	// The routing cost scenario: sonnet at 1000 in / 500 out.
	cost := anthropic.CalculateCost("claude-sonnet-4-20250514", types.TokenUsage{InputTokens: 1000, OutputTokens: 500})
	assert.InDelta(t, 0.0105, cost, 1e-9)

	openai := NewOpenAIProvider("", 0)
	assert.True(t, openai.SupportsModel("gpt-4o"))
	assert.True(t, openai.SupportsModel("text-embedding-3-small"))

	deepseek := NewDeepSeekProvider("", 0)
	assert.True(t, deepseek.SupportsModel("deepseek-chat"))
	assert.Equal(t, types.ProviderDeepSeek, deepseek.ID())
	_, err := deepseek.Embed(context.Background(), "text", "any", "key")
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	google := NewGoogleProvider("", 0)
	assert.True(t, google.SupportsModel("gemini-2.0-flash"))
	assert.True(t, google.SupportsModel("text-embedding-004"))
}
