// SPDX-License-Identifier: MIT

package router

import (
	"github.com/stackworks/agentmux/internal/types"
)

// TaskRule is the per-task default candidate list.
type TaskRule struct {
	DefaultModel          string            `yaml:"defaultModel" json:"defaultModel"`
	FallbackModels        []string          `yaml:"fallbackModels" json:"fallbackModels"`
	QualityTierPreference types.QualityTier `yaml:"qualityTierPreference" json:"qualityTierPreference"`
}

// RoutingRules maps each task type to its ordered candidates.
type RoutingRules map[types.TaskType]TaskRule

// Candidates returns the ordered model id list for the rule.
func (r TaskRule) Candidates() []string {
	out := make([]string, 0, 1+len(r.FallbackModels))
	if r.DefaultModel != "" {
		out = append(out, r.DefaultModel)
	}
	return append(out, r.FallbackModels...)
}

// DefaultRules returns the built-in routing table.
func DefaultRules() RoutingRules {
	return RoutingRules{
		types.TaskSimpleChat: {
			DefaultModel:          "gemini-2.0-flash",
			FallbackModels:        []string{"gpt-4o-mini", "deepseek-chat"},
			QualityTierPreference: types.TierEconomy,
		},
		types.TaskSummarization: {
			DefaultModel:          "gemini-2.0-flash",
			FallbackModels:        []string{"gpt-4o-mini", "deepseek-chat"},
			QualityTierPreference: types.TierEconomy,
		},
		types.TaskCoding: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "deepseek-chat", "gemini-2.0-pro"},
			QualityTierPreference: types.TierStandard,
		},
		types.TaskPlanning: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
			QualityTierPreference: types.TierStandard,
		},
		types.TaskReview: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
			QualityTierPreference: types.TierStandard,
		},
		types.TaskComplexReasoning: {
			DefaultModel:          "claude-opus-4-20250514",
			FallbackModels:        []string{"claude-sonnet-4-20250514", "gpt-4o", "deepseek-reasoner"},
			QualityTierPreference: types.TierPremium,
		},
		types.TaskEmbedding: {
			DefaultModel:          "text-embedding-3-small",
			FallbackModels:        []string{"text-embedding-004", "text-embedding-3-large"},
			QualityTierPreference: types.TierEconomy,
		},
	}
}
