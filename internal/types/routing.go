// SPDX-License-Identifier: MIT

package types

// ProviderID identifies a model vendor.
type ProviderID string

const (
	ProviderAnthropic ProviderID = "anthropic"
	ProviderOpenAI    ProviderID = "openai"
	ProviderGoogle    ProviderID = "google"
	ProviderDeepSeek  ProviderID = "deepseek"
)

// TaskType categorizes AI task requests for routing.
type TaskType string

const (
	TaskCoding           TaskType = "coding"
	TaskPlanning         TaskType = "planning"
	TaskReview           TaskType = "review"
	TaskSummarization    TaskType = "summarization"
	TaskEmbedding        TaskType = "embedding"
	TaskSimpleChat       TaskType = "simple_chat"
	TaskComplexReasoning TaskType = "complex_reasoning"
)

// QualityTier buckets models by capability/cost tradeoff.
type QualityTier string

const (
	TierEconomy  QualityTier = "economy"
	TierStandard QualityTier = "standard"
	TierPremium  QualityTier = "premium"
)

// TierPriority orders tiers for quality-first sorting (higher is better).
func TierPriority(t QualityTier) int {
	switch t {
	case TierPremium:
		return 3
	case TierStandard:
		return 2
	case TierEconomy:
		return 1
	default:
		return 0
	}
}

// Model is a read-only catalog row describing a routable model.
type Model struct {
	ModelID             string      `json:"modelId"`
	Provider            ProviderID  `json:"provider"`
	DisplayName         string      `json:"displayName,omitempty"`
	SupportsTools       bool        `json:"supportsTools"`
	SupportsVision      bool        `json:"supportsVision"`
	SupportsStreaming   bool        `json:"supportsStreaming"`
	SupportsEmbedding   bool        `json:"supportsEmbedding"`
	ContextWindow       int         `json:"contextWindow"`
	MaxOutputTokens     int         `json:"maxOutputTokens"`
	InputPricePer1M     float64     `json:"inputPricePer1M"`
	OutputPricePer1M    float64     `json:"outputPricePer1M"`
	CachedInputPricePer1M *float64  `json:"cachedInputPricePer1M,omitempty"`
	QualityTier         QualityTier `json:"qualityTier"`
	SuitableFor         []TaskType  `json:"suitableFor"`
	Available           bool        `json:"available"`
}

// SuitableForTask reports whether the catalog marks the model for the task.
func (m *Model) SuitableForTask(t TaskType) bool {
	for _, s := range m.SuitableFor {
		if s == t {
			return true
		}
	}
	return false
}

// EmbeddingOnly reports whether the model is suitable for embedding and
// nothing else.
func (m *Model) EmbeddingOnly() bool {
	return len(m.SuitableFor) == 1 && m.SuitableFor[0] == TaskEmbedding
}

// ModelPricing is the per-million-token USD price sheet for a model.
type ModelPricing struct {
	InputPer1M       float64  `json:"inputPer1M"`
	OutputPer1M      float64  `json:"outputPer1M"`
	CachedInputPer1M *float64 `json:"cachedInputPer1M,omitempty"`
}

// TokenUsage is the unified usage accounting across vendors.
type TokenUsage struct {
	InputTokens       int `json:"inputTokens"`
	OutputTokens      int `json:"outputTokens"`
	CachedInputTokens int `json:"cachedInputTokens,omitempty"`
	TotalTokens       int `json:"totalTokens"`
}

// TaskRoutingRequest is the router's input.
type TaskRoutingRequest struct {
	TaskType              TaskType `json:"taskType"`
	EstimatedInputTokens  int      `json:"estimatedInputTokens,omitempty"`
	EstimatedOutputTokens int      `json:"estimatedOutputTokens,omitempty"`
	RequiresTools         bool     `json:"requiresTools,omitempty"`
	RequiresVision        bool     `json:"requiresVision,omitempty"`
	RequiresStreaming     bool     `json:"requiresStreaming,omitempty"`
	ContextSizeTokens     int      `json:"contextSizeTokens,omitempty"`
	WorkspaceID           string   `json:"workspaceId"`
	ProjectID             string   `json:"projectId,omitempty"`
	ForceModel            string   `json:"forceModel,omitempty"`
	ForceProvider         ProviderID `json:"forceProvider,omitempty"`
}

// RoutingPreset selects a workspace-wide routing strategy.
type RoutingPreset string

const (
	PresetAuto     RoutingPreset = "auto"
	PresetEconomy  RoutingPreset = "economy"
	PresetQuality  RoutingPreset = "quality"
	PresetBalanced RoutingPreset = "balanced"
)

// TaskOverride pins preferred/fallback models for one task type.
type TaskOverride struct {
	PreferredModel string `json:"preferredModel,omitempty" yaml:"preferredModel,omitempty"`
	FallbackModel  string `json:"fallbackModel,omitempty" yaml:"fallbackModel,omitempty"`
}

// WorkspaceRoutingConfig is the per-workspace routing policy (BYOK scope).
type WorkspaceRoutingConfig struct {
	WorkspaceID      string                    `json:"workspaceId"`
	EnabledProviders []ProviderID              `json:"enabledProviders"`
	Preset           RoutingPreset             `json:"preset"`
	TaskOverrides    map[TaskType]TaskOverride `json:"taskOverrides,omitempty"`
}

// ProviderEnabled reports whether the workspace has a key for the provider.
func (c *WorkspaceRoutingConfig) ProviderEnabled(p ProviderID) bool {
	for _, e := range c.EnabledProviders {
		if e == p {
			return true
		}
	}
	return false
}

// ModelAlternative records a candidate the router rejected and why.
type ModelAlternative struct {
	ModelID       string     `json:"modelId"`
	Provider      ProviderID `json:"provider"`
	EstimatedCost float64    `json:"estimatedCost"`
	Reason        string     `json:"reason"`
}

// RoutingDecision is the router's output.
type RoutingDecision struct {
	SelectedModel string             `json:"selectedModel"`
	Provider      ProviderID         `json:"provider"`
	Reason        string             `json:"reason"`
	EstimatedCost float64            `json:"estimatedCost"`
	Alternatives  []ModelAlternative `json:"alternatives"`
}
