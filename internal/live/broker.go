// Package live fans device state updates out to stream subscribers inside
// this process.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"fleet-monitor/telemetry/internal/domain"
)

const subscriberBuffer = 64

type Broker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan []byte]struct{})}
}

func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish delivers payload to every subscriber. A subscriber whose buffer is
// full misses the update.
func (b *Broker) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// PublishState publishes each event as JSON, so the broker can stand in for
// the Redis state store when running without one.
func (b *Broker) PublishState(ctx context.Context, latest []domain.TelemetryEvent) error {
	for _, e := range latest {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		b.Publish(payload)
	}
	return nil
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
