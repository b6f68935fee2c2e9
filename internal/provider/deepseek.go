// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"time"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/types"
)

// defaultDeepSeekBaseURL is the vendor's OpenAI-compatible endpoint.
const defaultDeepSeekBaseURL = "https://api.deepseek.com"

var deepSeekPricing = map[string]types.ModelPricing{
	"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.10, CachedInputPer1M: ptr(0.07)},
	"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19, CachedInputPer1M: ptr(0.14)},
}

// DeepSeekProvider is the OpenAI-compatible DeepSeek adapter: the OpenAI
// flow against a vendor base URL, without embeddings.
type DeepSeekProvider struct {
	*OpenAIProvider
}

// NewDeepSeekProvider creates the adapter. baseURL is optional.
func NewDeepSeekProvider(baseURL string, timeout time.Duration) *DeepSeekProvider {
	if baseURL == "" {
		baseURL = defaultDeepSeekBaseURL
	}
	return &DeepSeekProvider{
		OpenAIProvider: newOpenAICompatible(
			types.ProviderDeepSeek,
			deepSeekPricing,
			baseURL,
			timeout,
			log.WithComponent("provider-deepseek"),
		),
	}
}

// Embed is not offered by this vendor.
func (p *DeepSeekProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, &Error{
		Kind:     KindInvalidRequest,
		Provider: p.id,
		Message:  "embeddings are not supported",
	}
}

// HealthCheck probes with the vendor's cheap chat model.
func (p *DeepSeekProvider) HealthCheck(ctx context.Context, apiKey string) HealthStatus {
	return p.healthProbe(ctx, "deepseek-chat", func(ctx context.Context) error {
		client := p.client(apiKey)
		_, err := client.Chat.Completions.New(ctx, p.encodeRequest(&Request{
			Model:     "deepseek-chat",
			MaxTokens: 1,
			Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		}))
		if err != nil {
			return p.translateError(err)
		}
		return nil
	})
}
