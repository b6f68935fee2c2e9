// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/types"
)

func catalogModel(id string, provider types.ProviderID) *types.Model {
	return &types.Model{
		ModelID:       id,
		Provider:      provider,
		ContextWindow: 200000,
		QualityTier:   types.TierStandard,
		SuitableFor:   []types.TaskType{types.TaskCoding},
		Available:     true,
	}
}

func TestClient_ListModels(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/model-registry/models", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "anthropic", r.URL.Query().Get("provider"))
		_ = json.NewEncoder(w).Encode([]*types.Model{catalogModel("claude-x", types.ProviderAnthropic)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	ctx := context.Background()

	models, err := c.ListModels(ctx, Filters{Provider: types.ProviderAnthropic})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "claude-x", models[0].ModelID)

	// Second identical request is served from cache.
	_, err = c.ListModels(ctx, Filters{Provider: types.ProviderAnthropic})
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// A different filter is a different cache key.
	_, err = c.ListModels(ctx, Filters{Provider: types.ProviderOpenAI})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestClient_GetModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	model, err := c.GetModel(context.Background(), "ghost-model")
	require.NoError(t, err)
	assert.Nil(t, model)
}

func TestClient_GetModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/model-registry/models/claude-x", r.URL.Path)
		_ = json.NewEncoder(w).Encode(catalogModel("claude-x", types.ProviderAnthropic))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	model, err := c.GetModel(context.Background(), "claude-x")
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, types.ProviderAnthropic, model.Provider)
}

func TestClient_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ListModels(context.Background(), Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_ByProviderAndTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/model-registry/models/provider/openai":
			_ = json.NewEncoder(w).Encode([]*types.Model{catalogModel("gpt-x", types.ProviderOpenAI)})
		case "/api/model-registry/models/task/coding":
			_ = json.NewEncoder(w).Encode([]*types.Model{
				catalogModel("gpt-x", types.ProviderOpenAI),
				catalogModel("claude-x", types.ProviderAnthropic),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	byProvider, err := c.ModelsByProvider(ctx, types.ProviderOpenAI)
	require.NoError(t, err)
	require.Len(t, byProvider, 1)

	byTask, err := c.ModelsByTask(ctx, types.TaskCoding)
	require.NoError(t, err)
	assert.Len(t, byTask, 2)
}

func TestClient_CacheExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode([]*types.Model{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithCache(30*time.Millisecond, 10))
	ctx := context.Background()

	_, err := c.ListModels(ctx, Filters{})
	require.NoError(t, err)
	_, err = c.ListModels(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	time.Sleep(50 * time.Millisecond)
	_, err = c.ListModels(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestResponseCache_EvictsOldestOnOverflow(t *testing.T) {
	cache := newResponseCache(time.Minute, 3)

	for i := 0; i < 3; i++ {
		cache.set(fmt.Sprintf("key-%d", i), []byte("v"))
	}
	require.Equal(t, 3, cache.len())

	cache.set("key-3", []byte("v"))
	assert.Equal(t, 3, cache.len())

	_, ok := cache.get("key-0")
	assert.False(t, ok, "oldest insertion evicted")
	_, ok = cache.get("key-3")
	assert.True(t, ok)
}

func TestResponseCache_PrefersExpiredEviction(t *testing.T) {
	cache := newResponseCache(20*time.Millisecond, 2)

	cache.set("old", []byte("v"))
	time.Sleep(30 * time.Millisecond)
	cache.set("live", []byte("v"))

	// "old" has expired; the overflow eviction must pick it, not "live".
	cache.set("new", []byte("v"))

	_, ok := cache.get("live")
	assert.True(t, ok)
	_, ok = cache.get("old")
	assert.False(t, ok)
}

func TestClient_InvalidateCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode([]*types.Model{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	_, _ = c.ListModels(ctx, Filters{})
	c.InvalidateCache()
	_, _ = c.ListModels(ctx, Filters{})
	assert.Equal(t, int64(2), hits.Load())
}
