// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultHistoryMaxLines bounds the per-session replay list.
	DefaultHistoryMaxLines = 1000

	// DefaultHistoryTTL matches the session record TTL.
	DefaultHistoryTTL = 86400 * time.Second
)

// HistoryBuffer keeps a bounded per-session replay list in Redis so late
// joiners can catch up on output they missed.
type HistoryBuffer struct {
	rdb      *redis.Client
	maxLines int
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewHistoryBuffer creates a buffer; maxLines/ttl <= 0 select the defaults.
func NewHistoryBuffer(rdb *redis.Client, maxLines int, ttl time.Duration) *HistoryBuffer {
	if maxLines <= 0 {
		maxLines = DefaultHistoryMaxLines
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &HistoryBuffer{
		rdb:      rdb,
		maxLines: maxLines,
		ttl:      ttl,
		logger:   log.WithComponent("history"),
	}
}

// Append pushes an event to the front of the list, trims to maxLines and
// refreshes the TTL.
func (h *HistoryBuffer) Append(ctx context.Context, event *types.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}

	key := historyKey(event.SessionID)
	pipe := h.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(h.maxLines-1))
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.HistoryAppendFailures.Inc()
		return fmt.Errorf("append history %s: %w", event.SessionID, err)
	}
	return nil
}

// GetHistory returns up to count events in chronological (oldest-first)
// order. count <= 0 selects maxLines. Entries that fail to decode are
// skipped with a log, not fatal.
func (h *HistoryBuffer) GetHistory(ctx context.Context, sessionID string, count int) ([]*types.StreamEvent, error) {
	if count <= 0 || count > h.maxLines {
		count = h.maxLines
	}

	raw, err := h.rdb.LRange(ctx, historyKey(sessionID), 0, int64(count-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", sessionID, err)
	}

	// The list is newest-first; reverse while decoding so callers replay in
	// chronological order.
	events := make([]*types.StreamEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev types.StreamEvent
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			h.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Msg("skipping unreadable history entry")
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// GetHistorySafe is the error-swallowing read variant: any failure yields an
// empty slice.
func (h *HistoryBuffer) GetHistorySafe(ctx context.Context, sessionID string, count int) []*types.StreamEvent {
	events, err := h.GetHistory(ctx, sessionID, count)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("history read failed, returning empty")
		return []*types.StreamEvent{}
	}
	return events
}

// Clear removes the replay list for a session.
func (h *HistoryBuffer) Clear(ctx context.Context, sessionID string) error {
	if err := h.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history %s: %w", sessionID, err)
	}
	return nil
}

// Length returns the number of buffered events for a session.
func (h *HistoryBuffer) Length(ctx context.Context, sessionID string) (int, error) {
	n, err := h.rdb.LLen(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("history length %s: %w", sessionID, err)
	}
	return int(n), nil
}
