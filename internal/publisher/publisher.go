// SPDX-License-Identifier: MIT

// Package publisher fans session output out to per-workspace Redis pub/sub
// channels. Events are enriched through the line parser, buffered into small
// batches and written with bounded retries so a slow Redis never blocks the
// supervisor's read loops.
package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/parser"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// maxBatchSize triggers an immediate flush once reached.
	maxBatchSize = 50

	// batchWindow is the maximum time the first buffered event waits before
	// a flush is forced.
	batchWindow = 100 * time.Millisecond

	// publish retry policy per message.
	publishAttempts = 3
	publishTimeout  = 500 * time.Millisecond
	backoffBase     = 100 * time.Millisecond
)

// Stats is a point-in-time snapshot of publisher counters.
type Stats struct {
	EventsPublished  int64      `json:"eventsPublished"`
	BatchesPublished int64      `json:"batchesPublished"`
	AvgBatchSize     float64    `json:"avgBatchSize"`
	AvgPublishMs     float64    `json:"avgPublishMs"`
	PublishFailures  int64      `json:"publishFailures"`
	LastPublishAt    *time.Time `json:"lastPublishAt,omitempty"`
}

// StreamPublisher batches enriched stream events per workspace and publishes
// them as JSON to cli-events:{workspaceId}.
type StreamPublisher struct {
	rdb     *redis.Client
	history *store.HistoryBuffer
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []*types.StreamEvent
	timer   *time.Timer
	closed  bool

	// flushMu serializes flushes: a flush in progress absorbs events queued
	// meanwhile into the next run instead of publishing concurrently.
	flushMu sync.Mutex

	statsMu       sync.Mutex
	published     int64
	batches       int64
	failures      int64
	publishMsSum  float64
	lastPublishAt time.Time
}

// NewStreamPublisher creates a publisher. history may be nil to disable
// replay buffering.
func NewStreamPublisher(rdb *redis.Client, history *store.HistoryBuffer) *StreamPublisher {
	return &StreamPublisher{
		rdb:     rdb,
		history: history,
		logger:  log.WithComponent("stream-publisher"),
	}
}

// PublishOutput enriches a raw output event and enqueues it for the next
// batch flush. ProjectID comes from the session record since the raw event
// does not carry it.
func (p *StreamPublisher) PublishOutput(event *types.OutputEvent, workspaceID, projectID string) {
	p.Enqueue(transform(event, workspaceID, projectID))
}

// Enqueue adds an already-built stream event to the pending batch. The first
// event of a batch arms the flush timer; reaching maxBatchSize flushes
// immediately.
func (p *StreamPublisher) Enqueue(event *types.StreamEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, event)
	if len(p.pending) >= maxBatchSize {
		p.mu.Unlock()
		go p.flush()
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(batchWindow, p.flush)
	}
	p.mu.Unlock()
}

// Shutdown flushes whatever is pending and stops accepting new events.
func (p *StreamPublisher) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.flush()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn().Msg("shutdown flush abandoned, context expired")
	}
}

// Stats returns a snapshot of the publisher counters.
func (p *StreamPublisher) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	s := Stats{
		EventsPublished:  p.published,
		BatchesPublished: p.batches,
		PublishFailures:  p.failures,
	}
	if p.batches > 0 {
		s.AvgBatchSize = float64(p.published) / float64(p.batches)
	}
	if p.published > 0 {
		s.AvgPublishMs = p.publishMsSum / float64(p.published)
	}
	if !p.lastPublishAt.IsZero() {
		at := p.lastPublishAt
		s.LastPublishAt = &at
	}
	return s
}

// flush drains the pending buffer and publishes each event. Single flight:
// concurrent triggers queue behind flushMu and pick up whatever is pending
// when their turn comes.
func (p *StreamPublisher) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	metrics.ObserveStreamBatch(len(batch))
	for _, event := range batch {
		p.publishOne(event)
	}

	p.statsMu.Lock()
	p.batches++
	p.lastPublishAt = time.Now().UTC()
	p.statsMu.Unlock()
}

// publishOne writes a single event with bounded retries. A failed event is
// dropped after the final attempt; session output is best-effort delivery
// and the history buffer remains the replay source.
func (p *StreamPublisher) publishOne(event *types.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("session_id", event.SessionID).
			Msg("stream event marshal failed, dropping")
		p.recordFailure()
		return
	}

	channel := store.ChannelForWorkspace(event.WorkspaceID)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		lastErr = p.rdb.Publish(ctx, channel, data).Err()
		cancel()
		if lastErr == nil {
			elapsed := time.Since(start)
			metrics.IncStreamEventPublished(string(event.Type))
			metrics.ObserveStreamPublishLatency(elapsed)
			p.recordSuccess(elapsed)
			p.appendHistory(event)
			return
		}
		// Back off after every failed attempt, the last included, so the
		// drop surfaces only after the full 100+200+400ms schedule.
		time.Sleep(backoffBase * (1 << attempt))
	}

	p.logger.Warn().
		Err(lastErr).
		Str("session_id", event.SessionID).
		Str("channel", channel).
		Msg("stream event dropped after publish retries")
	metrics.StreamPublishFailures.Inc()
	p.recordFailure()
}

func (p *StreamPublisher) appendHistory(event *types.StreamEvent) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.history.Append(ctx, event); err != nil {
		p.logger.Warn().
			Err(err).
			Str("session_id", event.SessionID).
			Msg("history append failed")
	}
}

func (p *StreamPublisher) recordSuccess(elapsed time.Duration) {
	p.statsMu.Lock()
	p.published++
	p.publishMsSum += float64(elapsed.Milliseconds())
	p.statsMu.Unlock()
}

func (p *StreamPublisher) recordFailure() {
	p.statsMu.Lock()
	p.failures++
	p.statsMu.Unlock()
}

// transform lifts a raw output event into the enriched stream form. Command
// lines keep their type from the supervisor; everything else is classified
// by content.
func transform(event *types.OutputEvent, workspaceID, projectID string) *types.StreamEvent {
	out := &types.StreamEvent{
		SessionID:   event.SessionID,
		AgentID:     event.AgentID,
		ProjectID:   projectID,
		WorkspaceID: workspaceID,
		Content:     event.Content,
		Timestamp:   event.Timestamp,
		LineNumber:  event.LineNumber,
	}

	if event.Type == types.OutputCommand {
		out.Type = types.StreamCommand
		return out
	}

	c := parser.Parse(event.Content)
	out.Type = c.Type
	out.Metadata = c.Metadata

	if out.Type == types.StreamOutput {
		out.Metadata = &types.StreamMetadata{OutputType: string(event.Type)}
	}
	return out
}
