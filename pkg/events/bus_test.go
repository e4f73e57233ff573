package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEverySubscriberOfType(t *testing.T) {
	bus := events.NewEventBus(1)
	first := bus.Subscribe(events.EVENT_EVM_DEPOSIT)
	second := bus.Subscribe(events.EVENT_EVM_DEPOSIT)
	other := bus.Subscribe(events.EVENT_NATIVE_DEPOSIT)

	event := &events.EventEnvelope{EventType: events.EVENT_EVM_DEPOSIT, Data: "payload"}
	require.NoError(t, bus.BroadcastEvent(context.Background(), event))

	assert.Equal(t, event, <-first)
	assert.Equal(t, event, <-second)
	assert.Empty(t, other)
}

func TestBroadcastHonoursContext(t *testing.T) {
	bus := events.NewEventBus(1)
	_ = bus.Subscribe(events.EVENT_NATIVE_DEPOSIT)
	event := &events.EventEnvelope{EventType: events.EVENT_NATIVE_DEPOSIT}
	require.NoError(t, bus.BroadcastEvent(context.Background(), event))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, bus.BroadcastEvent(ctx, event), context.DeadlineExceeded)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := events.NewEventBus(0)
	ch := bus.Subscribe(events.EVENT_EVM_DEPOSIT)
	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, bus.BroadcastEvent(context.Background(), &events.EventEnvelope{EventType: events.EVENT_EVM_DEPOSIT}))
}
