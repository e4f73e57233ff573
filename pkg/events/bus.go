package events

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

type Channels []chan *EventEnvelope

// EventBus fans events out to every subscriber of the event type.
type EventBus struct {
	mu         sync.RWMutex
	channels   map[string]Channels
	bufferSize int
	closed     bool
}

func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &EventBus{channels: make(map[string]Channels), bufferSize: bufferSize}
}

// BroadcastEvent blocks until every subscriber has room or ctx is done.
func (eb *EventBus) BroadcastEvent(ctx context.Context, event *EventEnvelope) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return nil
	}
	for _, channel := range eb.channels[event.EventType] {
		select {
		case channel <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (eb *EventBus) Subscribe(eventType string) <-chan *EventEnvelope {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	receiver := make(chan *EventEnvelope, eb.bufferSize)
	eb.channels[eventType] = append(eb.channels[eventType], receiver)
	return receiver
}

// Close ends every subscription. Later broadcasts are dropped.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, channels := range eb.channels {
		for _, channel := range channels {
			close(channel)
		}
	}
}
