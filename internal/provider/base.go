// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultTimeout bounds every vendor operation.
	DefaultTimeout = 120 * time.Second

	// defaultMaxRetries bounds non-streaming retry attempts.
	defaultMaxRetries = 3

	// retryBackoffBase is the exponential delay base when the vendor gives
	// no retry-after hint.
	retryBackoffBase = 1000 * time.Millisecond
)

var tracer = otel.Tracer("agentmux/provider")

// base carries the cross-cutting behavior shared by all vendor adapters:
// request validation, deadlines, retries, pricing and passive rate-limit
// tracking.
type base struct {
	id         types.ProviderID
	pricing    map[string]types.ModelPricing
	timeout    time.Duration
	maxRetries int
	logger     zerolog.Logger

	rlMu sync.Mutex
	rl   RateLimitStatus
}

func newBase(id types.ProviderID, pricing map[string]types.ModelPricing, timeout time.Duration, logger zerolog.Logger) base {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return base{
		id:         id,
		pricing:    pricing,
		timeout:    timeout,
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

func (b *base) ID() types.ProviderID { return b.id }

// SupportsModel reports whether the adapter carries pricing for the model.
func (b *base) SupportsModel(modelID string) bool {
	_, ok := b.pricing[modelID]
	return ok
}

// GetModelPricing returns the static price sheet entry for the model.
func (b *base) GetModelPricing(modelID string) (types.ModelPricing, bool) {
	p, ok := b.pricing[modelID]
	return p, ok
}

// CalculateCost converts token usage into USD. Cached input tokens are
// billed separately when the model has a cached price; unknown models cost
// zero.
func (b *base) CalculateCost(modelID string, usage types.TokenUsage) float64 {
	p, ok := b.pricing[modelID]
	if !ok {
		return 0
	}
	cost := float64(usage.InputTokens)*p.InputPer1M/1e6 +
		float64(usage.OutputTokens)*p.OutputPer1M/1e6
	if usage.CachedInputTokens > 0 && p.CachedInputPer1M != nil {
		cost += float64(usage.CachedInputTokens) * *p.CachedInputPer1M / 1e6
	}
	return cost
}

// GetRateLimitStatus returns the last observed rate-limit headers.
func (b *base) GetRateLimitStatus() RateLimitStatus {
	b.rlMu.Lock()
	defer b.rlMu.Unlock()
	return b.rl
}

func (b *base) trackRateLimit(requestsRemaining, tokensRemaining int, resetAt time.Time) {
	b.rlMu.Lock()
	b.rl = RateLimitStatus{
		Known:             true,
		RequestsRemaining: requestsRemaining,
		TokensRemaining:   tokensRemaining,
		ResetAt:           resetAt,
	}
	b.rlMu.Unlock()
}

// validate enforces the shared request contract.
func (b *base) validate(req *Request) error {
	if req == nil || len(req.Messages) == 0 {
		return &Error{Kind: KindInvalidRequest, Provider: b.id, Message: "messages must not be empty"}
	}
	if req.Model == "" {
		return &Error{Kind: KindInvalidRequest, Provider: b.id, Message: "model must not be empty"}
	}
	if req.MaxTokens <= 0 {
		return &Error{Kind: KindInvalidRequest, Provider: b.id, Message: "maxTokens must be positive"}
	}
	return nil
}

// complete wraps a vendor call with validation, per-attempt deadlines,
// retries on retryable errors, latency measurement and cost accounting.
func (b *base) complete(ctx context.Context, req *Request, do func(ctx context.Context) (*Response, error)) (*Response, error) {
	if err := b.validate(req); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "provider.complete", trace.WithAttributes(
		attribute.String("provider", string(b.id)),
		attribute.String("model", req.Model),
	))
	defer span.End()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.retryDelay(lastErr, attempt)
			b.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("model", req.Model).
				Msg("retrying vendor call")
			metrics.IncProviderRetry(string(b.id), string(KindOf(lastErr)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, b.wrapContextErr(ctx.Err())
			}
		}

		resp, err := b.attempt(ctx, do)
		if err == nil {
			resp.Model = req.Model
			resp.LatencyMs = time.Since(start).Milliseconds()
			resp.CostUSD = b.CalculateCost(req.Model, resp.Usage)
			metrics.RecordProviderCall(string(b.id), "complete", time.Since(start), nil)
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}

	metrics.RecordProviderCall(string(b.id), "complete", time.Since(start), lastErr)
	return nil, lastErr
}

// attempt runs one vendor call under the configured deadline.
func (b *base) attempt(ctx context.Context, do func(ctx context.Context) (*Response, error)) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := do(attemptCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{
				Kind:     KindTimeout,
				Provider: b.id,
				Message:  fmt.Sprintf("operation exceeded %s", b.timeout),
				Err:      err,
			}
		}
		return nil, err
	}
	return resp, nil
}

// streamSetup validates and opens a streaming call. Streams never retry: a
// partial stream cannot be safely reissued.
func (b *base) streamSetup(ctx context.Context, req *Request, open func(ctx context.Context) (<-chan StreamChunk, error)) (<-chan StreamChunk, error) {
	if err := b.validate(req); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, b.timeout)
	ch, err := open(streamCtx)
	if err != nil {
		cancel()
		metrics.RecordProviderCall(string(b.id), "stream", 0, err)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range ch {
			select {
			case out <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *base) retryDelay(err error, attempt int) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	return retryBackoffBase * (1 << (attempt - 1))
}

func (b *base) wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: b.id, Message: "deadline exceeded", Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: b.id, Message: "request cancelled", Err: err}
}

// healthProbe runs a trivial one-token completion and classifies the result.
// Rate-limited and overloaded responses still prove the key is valid.
func (b *base) healthProbe(ctx context.Context, model string, do func(ctx context.Context) error) HealthStatus {
	start := time.Now()
	status := HealthStatus{Provider: b.id, CheckedAt: start.UTC()}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := do(probeCtx)
	status.LatencyMs = time.Since(start).Milliseconds()
	if err == nil {
		status.Healthy = true
		return status
	}

	var pe *Error
	if errors.As(err, &pe) && (pe.StatusCode == 429 || pe.StatusCode == 529) {
		status.Healthy = true
		status.Message = fmt.Sprintf("rate limited (%d), key valid", pe.StatusCode)
		return status
	}

	status.Message = err.Error()
	b.logger.Warn().Err(err).Str("model", model).Msg("health probe failed")
	return status
}
