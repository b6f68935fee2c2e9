// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/types"
)

func setupHistory(t *testing.T, maxLines int) (*miniredis.Miniredis, *HistoryBuffer) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewHistoryBuffer(client, maxLines, 0)
}

func historyEvent(sessionID, content string) *types.StreamEvent {
	return &types.StreamEvent{
		SessionID:   sessionID,
		WorkspaceID: "ws-1",
		Type:        types.StreamOutput,
		Content:     content,
		Timestamp:   time.Now().UTC(),
	}
}

func TestHistoryBuffer_ChronologicalOrder(t *testing.T) {
	_, h := setupHistory(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, historyEvent("s1", fmt.Sprintf("line %d", i))))
	}

	events, err := h.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)

	// Oldest first.
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("line %d", i), ev.Content)
	}
}

func TestHistoryBuffer_BoundedByMaxLines(t *testing.T) {
	_, h := setupHistory(t, 10)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, h.Append(ctx, historyEvent("s1", fmt.Sprintf("line %d", i))))
	}

	n, err := h.Length(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	events, err := h.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)

	// The retained window is the 10 most recent lines.
	assert.Equal(t, "line 15", events[0].Content)
	assert.Equal(t, "line 24", events[9].Content)
}

func TestHistoryBuffer_CountLimitsRead(t *testing.T) {
	_, h := setupHistory(t, 0)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, h.Append(ctx, historyEvent("s1", fmt.Sprintf("line %d", i))))
	}

	events, err := h.GetHistory(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Reading a partial window yields the newest entries, still in
	// chronological order.
	assert.Equal(t, "line 5", events[0].Content)
	assert.Equal(t, "line 7", events[2].Content)
}

func TestHistoryBuffer_SkipsUnreadableEntries(t *testing.T) {
	mr, h := setupHistory(t, 0)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, historyEvent("s1", "good")))
	_, err := mr.Lpush(historyKey("s1"), "{not json")
	require.NoError(t, err)

	events, err := h.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].Content)
}

func TestHistoryBuffer_GetHistorySafeSwallowsErrors(t *testing.T) {
	mr, h := setupHistory(t, 0)

	mr.Close()
	events := h.GetHistorySafe(context.Background(), "s1", 0)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestHistoryBuffer_Clear(t *testing.T) {
	_, h := setupHistory(t, 0)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, historyEvent("s1", "line")))
	require.NoError(t, h.Clear(ctx, "s1"))

	n, err := h.Length(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
