// SPDX-License-Identifier: MIT

// Package router selects a model for each task request by walking a fixed
// stage order: forced choices, workspace overrides, preset strategy, the
// default rule table and finally any remaining suitable model. Every
// rejected candidate is recorded so callers can explain the decision.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackworks/agentmux/internal/catalog"
	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/provider"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// defaultEstimatedInputTokens feeds cost estimation when the request
	// does not size itself.
	defaultEstimatedInputTokens = 1000

	// defaultEstimatedOutputTokens likewise.
	defaultEstimatedOutputTokens = 500

	// CostUnknown marks a failed pricing lookup, distinct from a real zero.
	CostUnknown = -1
)

var tracer = otel.Tracer("agentmux/router")

// Catalog is the slice of the catalog client the router needs.
type Catalog interface {
	ListModels(ctx context.Context, filters catalog.Filters) ([]*types.Model, error)
	GetModel(ctx context.Context, modelID string) (*types.Model, error)
}

// RoutingError is raised when every stage is exhausted.
type RoutingError struct {
	TaskType        types.TaskType
	Request         *types.TaskRoutingRequest
	AttemptedModels []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no model available for task %s (attempted %s)",
		e.TaskType, strings.Join(e.AttemptedModels, ", "))
}

// Router makes model selection decisions.
type Router struct {
	catalog  Catalog
	registry *provider.Registry
	logger   zerolog.Logger

	mu    sync.RWMutex
	rules RoutingRules
}

// New creates a router with the built-in default rules.
func New(cat Catalog, registry *provider.Registry) *Router {
	return &Router{
		catalog:  cat,
		registry: registry,
		rules:    DefaultRules(),
		logger:   log.WithComponent("router"),
	}
}

// SetRoutingRules hot-swaps the rule table.
func (r *Router) SetRoutingRules(rules RoutingRules) {
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	r.logger.Info().Int("task_types", len(rules)).Msg("routing rules replaced")
}

// GetRoutingRules returns the active rule table.
func (r *Router) GetRoutingRules() RoutingRules {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(RoutingRules, len(r.rules))
	for k, v := range r.rules {
		out[k] = v
	}
	return out
}

// selection carries the per-request working state through the stages.
type selection struct {
	req          *types.TaskRoutingRequest
	cfg          *types.WorkspaceRoutingConfig
	byID         map[string]*types.Model
	models       []*types.Model
	alternatives []types.ModelAlternative
	attempted    []string
	attemptedSet map[string]bool
}

// RouteTask walks the selection stages and returns the first valid model.
func (r *Router) RouteTask(ctx context.Context, req *types.TaskRoutingRequest, cfg *types.WorkspaceRoutingConfig) (*types.RoutingDecision, error) {
	ctx, span := tracer.Start(ctx, "router.route_task", trace.WithAttributes(
		attribute.String("task_type", string(req.TaskType)),
		attribute.String("workspace_id", req.WorkspaceID),
	))
	defer span.End()

	if len(cfg.EnabledProviders) == 0 {
		metrics.IncRoutingDecision(string(req.TaskType), "precheck", false)
		return nil, &RoutingError{TaskType: req.TaskType, Request: req}
	}

	models, err := r.catalog.ListModels(ctx, catalog.Filters{})
	if err != nil {
		metrics.IncRoutingDecision(string(req.TaskType), "catalog", false)
		return nil, fmt.Errorf("catalog listing: %w", err)
	}

	sel := &selection{
		req:          req,
		cfg:          cfg,
		byID:         make(map[string]*types.Model, len(models)),
		models:       models,
		attemptedSet: make(map[string]bool),
	}
	for _, m := range models {
		sel.byID[m.ModelID] = m
	}

	type stage struct {
		name string
		run  func(*selection) *types.RoutingDecision
	}
	stages := []stage{
		{"force_model", r.stageForceModel},
		{"force_provider", r.stageForceProvider},
		{"task_override", r.stageTaskOverride},
		{"preset", r.stagePreset},
		{"default_rules", r.stageDefaultRules},
		{"registry_fallback", r.stageRegistryFallback},
	}
	for _, st := range stages {
		if decision := st.run(sel); decision != nil {
			decision.Alternatives = sel.alternatives
			span.SetAttributes(
				attribute.String("stage", st.name),
				attribute.String("model", decision.SelectedModel),
			)
			metrics.IncRoutingDecision(string(req.TaskType), st.name, true)
			r.logger.Debug().
				Str("task_type", string(req.TaskType)).
				Str("stage", st.name).
				Str("model", decision.SelectedModel).
				Msg("routing decision")
			return decision, nil
		}
	}

	metrics.IncRoutingDecision(string(req.TaskType), "exhausted", false)
	return nil, &RoutingError{
		TaskType:        req.TaskType,
		Request:         req,
		AttemptedModels: sel.attempted,
	}
}

func (r *Router) stageForceModel(sel *selection) *types.RoutingDecision {
	if sel.req.ForceModel == "" {
		return nil
	}

	model, ok := sel.byID[sel.req.ForceModel]
	if !ok {
		sel.reject(sel.req.ForceModel, "", "forced model not found in catalog")
		return nil
	}
	if !sel.cfg.ProviderEnabled(model.Provider) {
		sel.reject(model.ModelID, model.Provider, fmt.Sprintf("no BYOK key for provider %s", model.Provider))
		return nil
	}

	reason := "forced by request"
	// Capability mismatch warns but does not reject a forced model.
	if why, ok := checkCapabilities(model, sel.req); !ok {
		reason += "; warning: " + why
	}
	return r.decide(model, reason, sel.req)
}

func (r *Router) stageForceProvider(sel *selection) *types.RoutingDecision {
	if sel.req.ForceProvider == "" {
		return nil
	}
	if !sel.cfg.ProviderEnabled(sel.req.ForceProvider) {
		sel.reject("", sel.req.ForceProvider, fmt.Sprintf("no BYOK key for forced provider %s", sel.req.ForceProvider))
		return nil
	}

	candidates := sel.suitable(func(m *types.Model) bool { return m.Provider == sel.req.ForceProvider })
	sortByPriceAsc(candidates)
	return r.firstValid(sel, candidates, fmt.Sprintf("forced provider %s", sel.req.ForceProvider))
}

func (r *Router) stageTaskOverride(sel *selection) *types.RoutingDecision {
	override, ok := sel.cfg.TaskOverrides[sel.req.TaskType]
	if !ok {
		return nil
	}

	for _, id := range []string{override.PreferredModel, override.FallbackModel} {
		if id == "" {
			continue
		}
		if decision := r.tryModelID(sel, id, "workspace task override"); decision != nil {
			return decision
		}
	}
	return nil
}

func (r *Router) stagePreset(sel *selection) *types.RoutingDecision {
	switch sel.cfg.Preset {
	case types.PresetEconomy:
		candidates := sel.suitable(nil)
		sortByPriceAsc(candidates)
		return r.firstValid(sel, candidates, "economy preset")
	case types.PresetQuality:
		candidates := sel.suitable(nil)
		sortByTierDesc(candidates)
		return r.firstValid(sel, candidates, "quality preset")
	default:
		// auto and balanced fall through to the rule table.
		return nil
	}
}

func (r *Router) stageDefaultRules(sel *selection) *types.RoutingDecision {
	r.mu.RLock()
	rule, ok := r.rules[sel.req.TaskType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	for _, id := range rule.Candidates() {
		if decision := r.tryModelID(sel, id, fmt.Sprintf("default rule for %s", sel.req.TaskType)); decision != nil {
			return decision
		}
	}
	return nil
}

func (r *Router) stageRegistryFallback(sel *selection) *types.RoutingDecision {
	candidates := sel.suitable(func(m *types.Model) bool { return !sel.attemptedSet[m.ModelID] })
	sortByPriceAsc(candidates)
	return r.firstValid(sel, candidates, "cheapest remaining suitable model")
}

// tryModelID runs the generic per-candidate check used by the override and
// rule stages.
func (r *Router) tryModelID(sel *selection, modelID, reason string) *types.RoutingDecision {
	model, ok := sel.byID[modelID]
	if !ok {
		sel.reject(modelID, "", "not found in catalog")
		return nil
	}
	if !model.Available {
		sel.reject(modelID, model.Provider, "model marked unavailable")
		return nil
	}
	if !sel.cfg.ProviderEnabled(model.Provider) {
		sel.reject(modelID, model.Provider, fmt.Sprintf("no BYOK key for provider %s", model.Provider))
		return nil
	}
	if why, ok := checkCapabilities(model, sel.req); !ok {
		sel.reject(modelID, model.Provider, why)
		return nil
	}
	return r.decide(model, reason, sel.req)
}

// firstValid walks an ordered candidate list and picks the first that
// passes capability checks, recording the rest.
func (r *Router) firstValid(sel *selection, candidates []*types.Model, reason string) *types.RoutingDecision {
	for _, m := range candidates {
		if why, ok := checkCapabilities(m, sel.req); !ok {
			sel.reject(m.ModelID, m.Provider, why)
			continue
		}
		return r.decide(m, reason, sel.req)
	}
	return nil
}

func (r *Router) decide(model *types.Model, reason string, req *types.TaskRoutingRequest) *types.RoutingDecision {
	input, output := req.EstimatedInputTokens, req.EstimatedOutputTokens
	if input <= 0 {
		input = defaultEstimatedInputTokens
	}
	if output <= 0 {
		output = defaultEstimatedOutputTokens
	}
	return &types.RoutingDecision{
		SelectedModel: model.ModelID,
		Provider:      model.Provider,
		Reason:        reason,
		EstimatedCost: estimateCostFor(model, input, output),
	}
}

// EstimateCost prices a hypothetical call, or CostUnknown when the model is
// not in the catalog.
func (r *Router) EstimateCost(ctx context.Context, modelID string, inputTokens, outputTokens int) float64 {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil || model == nil {
		return CostUnknown
	}
	return estimateCostFor(model, inputTokens, outputTokens)
}

func estimateCostFor(model *types.Model, inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*model.InputPricePer1M + float64(outputTokens)*model.OutputPricePer1M) / 1e6
}

// IsModelAvailable reports whether a model can serve the workspace: it
// exists, is catalog-available, its provider is registry-enabled and the
// workspace holds a key for it.
func (r *Router) IsModelAvailable(ctx context.Context, modelID string, cfg *types.WorkspaceRoutingConfig) (bool, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if model == nil || !model.Available {
		return false, nil
	}
	if !r.registry.IsEnabled(model.Provider) {
		return false, nil
	}
	return cfg.ProviderEnabled(model.Provider), nil
}

// GetAvailableModels groups the workspace's usable models by task type.
func (r *Router) GetAvailableModels(ctx context.Context, cfg *types.WorkspaceRoutingConfig) (map[types.TaskType][]*types.Model, error) {
	models, err := r.catalog.ListModels(ctx, catalog.Filters{})
	if err != nil {
		return nil, err
	}

	out := make(map[types.TaskType][]*types.Model)
	for _, m := range models {
		if !m.Available || !cfg.ProviderEnabled(m.Provider) {
			continue
		}
		for _, task := range m.SuitableFor {
			out[task] = append(out[task], m)
		}
	}
	return out, nil
}

// suitable returns available, task-suitable models from enabled providers,
// optionally narrowed by keep.
func (s *selection) suitable(keep func(*types.Model) bool) []*types.Model {
	var out []*types.Model
	for _, m := range s.models {
		if !m.Available || !m.SuitableForTask(s.req.TaskType) || !s.cfg.ProviderEnabled(m.Provider) {
			continue
		}
		if keep != nil && !keep(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *selection) reject(modelID string, provider types.ProviderID, reason string) {
	cost := 0.0
	if m, ok := s.byID[modelID]; ok {
		cost = estimateCostFor(m, defaultEstimatedInputTokens, defaultEstimatedOutputTokens)
	}
	s.alternatives = append(s.alternatives, types.ModelAlternative{
		ModelID:       modelID,
		Provider:      provider,
		EstimatedCost: cost,
		Reason:        reason,
	})
	if modelID != "" && !s.attemptedSet[modelID] {
		s.attemptedSet[modelID] = true
		s.attempted = append(s.attempted, modelID)
	}
}

// checkCapabilities validates a candidate against the request's needs.
func checkCapabilities(m *types.Model, req *types.TaskRoutingRequest) (string, bool) {
	if req.RequiresTools && !m.SupportsTools {
		return "does not support tools", false
	}
	if req.RequiresVision && !m.SupportsVision {
		return "does not support vision", false
	}
	if req.RequiresStreaming && !m.SupportsStreaming {
		return "does not support streaming", false
	}
	if req.ContextSizeTokens > 0 && m.ContextWindow < req.ContextSizeTokens {
		return fmt.Sprintf("context window %d below required %d", m.ContextWindow, req.ContextSizeTokens), false
	}
	if req.TaskType != types.TaskEmbedding && m.EmbeddingOnly() {
		return "embedding-only model", false
	}
	if req.TaskType == types.TaskEmbedding && !m.SupportsEmbedding {
		return "does not support embedding", false
	}
	return "", true
}

func sortByPriceAsc(models []*types.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].InputPricePer1M != models[j].InputPricePer1M {
			return models[i].InputPricePer1M < models[j].InputPricePer1M
		}
		return models[i].ModelID < models[j].ModelID
	})
}

func sortByTierDesc(models []*types.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		pi, pj := types.TierPriority(models[i].QualityTier), types.TierPriority(models[j].QualityTier)
		if pi != pj {
			return pi > pj
		}
		return models[i].ModelID < models[j].ModelID
	})
}
