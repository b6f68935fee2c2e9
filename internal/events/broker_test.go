// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/types"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewSessionBroker()
	defer b.Close()

	ctx := context.Background()
	sub1 := b.Subscribe(ctx)
	sub2 := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(EventOutput, SessionNotification{
		SessionID: "s1",
		Output:    &types.OutputEvent{Content: "hello", LineNumber: 1},
	})

	for _, sub := range []<-chan Event[SessionNotification]{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventOutput, ev.Type)
			assert.Equal(t, "hello", ev.Payload.Output.Content)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroker_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBrokerWithBuffer[SessionNotification](1)
	defer b.Close()

	sub := b.Subscribe(context.Background())
	droppedBefore := testutil.ToFloat64(metrics.BrokerEventsDropped)

	// Second publish overflows the buffer and must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(EventOutput, SessionNotification{SessionID: "a"})
		b.Publish(EventOutput, SessionNotification{SessionID: "b"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	ev := <-sub
	assert.Equal(t, "a", ev.Payload.SessionID)

	// The overflow is counted, not silent.
	assert.Equal(t, droppedBefore+1, testutil.ToFloat64(metrics.BrokerEventsDropped))
}

func TestBroker_UnsubscribeOnContextCancel(t *testing.T) {
	b := NewSessionBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-sub
	assert.False(t, open, "channel closed after unsubscribe")
}

func TestBroker_CloseShutsDownSubscribers(t *testing.T) {
	b := NewSessionBroker()
	sub := b.Subscribe(context.Background())

	b.Close()

	_, open := <-sub
	assert.False(t, open)

	// Publishing and subscribing after close are harmless no-ops.
	b.Publish(EventOutput, SessionNotification{})
	late := b.Subscribe(context.Background())
	_, open = <-late
	assert.False(t, open)
}
