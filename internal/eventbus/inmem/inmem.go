// Package inmem provides a single-process implementation of eventbus.Bus
// backed by per-topic fan-out channels, grounded on the same
// mutex-guarded map shape as runtime/agent/engine/inmem's in-memory
// engine.
package inmem

import (
	"context"
	"sync"

	"goa.design/toolrun/internal/eventbus"
)

const defaultBuffer = 64

// Bus is an in-memory, single-process implementation of eventbus.Bus.
// Messages published with no active subscriber on the topic are simply
// dropped, matching the at-most-once, best-effort delivery contract.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[int]chan eventbus.Event
	nextID int
	buffer int
}

var _ eventbus.Bus = (*Bus)(nil)

// New constructs an empty Bus. buffer sets the per-subscriber channel
// capacity; zero uses a sensible default.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{topics: make(map[string]map[int]chan eventbus.Event), buffer: buffer}
}

func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- eventbus.Event{Topic: topic, Payload: payload}:
		default:
			// Slow subscriber: drop rather than block the publisher, consistent
			// with "producers never block on submission".
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan eventbus.Event, <-chan error, context.CancelFunc, error) {
	ch := make(chan eventbus.Event, b.buffer)
	errs := make(chan error, 1)

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]chan eventbus.Event)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[topic], id)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			b.mu.Unlock()
			close(ch)
			close(errs)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, errs, cancel, nil
}

func (b *Bus) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	return nil
}
