// SPDX-License-Identifier: MIT

// Package catalog is the read-only HTTP client for the external model
// registry. Responses are cached in-process by full URL with a bounded,
// TTL-expiring map.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultCacheTTL is the per-entry cache lifetime.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheCapacity bounds the cache map.
	DefaultCacheCapacity = 100

	registryPath = "/api/model-registry/models"
)

// Filters narrows a catalog listing. Nil pointer fields are omitted from
// the query.
type Filters struct {
	Provider          types.ProviderID
	QualityTier       types.QualityTier
	TaskType          types.TaskType
	Available         *bool
	SupportsTools     *bool
	SupportsVision    *bool
	SupportsEmbedding *bool
}

// Client fetches model metadata from the registry service.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	cache   *responseCache
	logger  zerolog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithCache overrides the cache TTL and capacity.
func WithCache(ttl time.Duration, capacity int) Option {
	return func(c *Client) { c.cache = newResponseCache(ttl, capacity) }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a catalog client. token may be empty.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		cache:   newResponseCache(DefaultCacheTTL, DefaultCacheCapacity),
		logger:  log.WithComponent("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListModels fetches the catalog, optionally filtered.
func (c *Client) ListModels(ctx context.Context, filters Filters) ([]*types.Model, error) {
	u := c.baseURL + registryPath
	if q := filters.encode(); q != "" {
		u += "?" + q
	}

	var models []*types.Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModel fetches a single model. A 404 is a legitimate nil, not an error.
func (c *Client) GetModel(ctx context.Context, modelID string) (*types.Model, error) {
	u := fmt.Sprintf("%s%s/%s", c.baseURL, registryPath, url.PathEscape(modelID))

	var model types.Model
	err := c.getJSON(ctx, u, &model)
	if err != nil {
		var nf *notFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

// ModelsByProvider lists the catalog rows for one vendor.
func (c *Client) ModelsByProvider(ctx context.Context, provider types.ProviderID) ([]*types.Model, error) {
	u := fmt.Sprintf("%s%s/provider/%s", c.baseURL, registryPath, url.PathEscape(string(provider)))

	var models []*types.Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ModelsByTask lists the catalog rows suitable for one task type.
func (c *Client) ModelsByTask(ctx context.Context, taskType types.TaskType) ([]*types.Model, error) {
	u := fmt.Sprintf("%s%s/task/%s", c.baseURL, registryPath, url.PathEscape(string(taskType)))

	var models []*types.Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// InvalidateCache drops every cached response.
func (c *Client) InvalidateCache() {
	c.cache.clear()
}

// getJSON resolves through the cache, fetching and storing on miss.
func (c *Client) getJSON(ctx context.Context, fullURL string, out any) error {
	if data, ok := c.cache.get(fullURL); ok {
		metrics.IncCatalogCache("hit")
		return json.Unmarshal(data, out)
	}
	metrics.IncCatalogCache("miss")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog fetch %s: %w", fullURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{url: fullURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog fetch %s: status %d: %s", fullURL, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog read %s: %w", fullURL, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog decode %s: %w", fullURL, err)
	}

	c.cache.set(fullURL, data)
	return nil
}

type notFoundError struct {
	url string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("catalog: %s not found", e.url)
}

func (f Filters) encode() string {
	q := url.Values{}
	if f.Provider != "" {
		q.Set("provider", string(f.Provider))
	}
	if f.QualityTier != "" {
		q.Set("qualityTier", string(f.QualityTier))
	}
	if f.TaskType != "" {
		q.Set("taskType", string(f.TaskType))
	}
	if f.Available != nil {
		q.Set("available", strconv.FormatBool(*f.Available))
	}
	if f.SupportsTools != nil {
		q.Set("supportsTools", strconv.FormatBool(*f.SupportsTools))
	}
	if f.SupportsVision != nil {
		q.Set("supportsVision", strconv.FormatBool(*f.SupportsVision))
	}
	if f.SupportsEmbedding != nil {
		q.Set("supportsEmbedding", strconv.FormatBool(*f.SupportsEmbedding))
	}
	return q.Encode()
}
