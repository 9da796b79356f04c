// Package pulse provides a Redis-backed implementation of eventbus.Bus
// using goa.design/pulse streams, so log lines and status changes fan
// out across a multi-worker deployment rather than staying confined to
// one process. Grounded on features/stream/pulse's client/sink/subscriber
// triad: a thin Client wrapper around goa.design/pulse/streaming,
// publish via Stream.Add, subscribe via a consumer-group Sink.
package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goa.design/toolrun/internal/eventbus"
)

const eventName = "message"

// Options configures the Pulse-backed bus.
type Options struct {
	// Redis is the connection used to back Pulse streams. Required.
	Redis *redis.Client
	// SinkName identifies the Pulse consumer group used by Subscribe.
	// Defaults to "toolrun_subscriber".
	SinkName string
	// StreamMaxLen bounds the number of entries kept per topic stream.
	// Zero uses Pulse defaults.
	StreamMaxLen int
}

// Bus is a Pulse/Redis-backed implementation of eventbus.Bus. Each topic
// maps to one Pulse stream, created lazily on first use.
type Bus struct {
	redis    *redis.Client
	sinkName string
	maxLen   int
}

var _ eventbus.Bus = (*Bus)(nil)

// New constructs a Bus. opts.Redis is required.
func New(opts Options) (*Bus, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "toolrun_subscriber"
	}
	return &Bus{redis: opts.Redis, sinkName: sinkName, maxLen: opts.StreamMaxLen}, nil
}

func (b *Bus) stream(topic string) (*streaming.Stream, error) {
	var opts []streamopts.Stream
	if b.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(b.maxLen))
	}
	str, err := streaming.NewStream(streamName(topic), b.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream %q: %w", topic, err)
	}
	return str, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	str, err := b.stream(topic)
	if err != nil {
		return err
	}
	if _, err := str.Add(ctx, eventName, payload); err != nil {
		return fmt.Errorf("pulse publish to %q: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan eventbus.Event, <-chan error, context.CancelFunc, error) {
	str, err := b.stream(topic)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, b.sinkName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pulse subscribe to %q: %w", topic, err)
	}

	events := make(chan eventbus.Event, 64)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		ch := sink.Subscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case events <- eventbus.Event{Topic: topic, Payload: msg.Payload}:
				case <-runCtx.Done():
					return
				}
				if err := sink.Ack(runCtx, msg); err != nil {
					errs <- fmt.Errorf("pulse ack on %q: %w", topic, err)
					return
				}
			}
		}
	}()

	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

func (b *Bus) Close(context.Context) error {
	return nil
}

// streamName namespaces every topic under a common prefix so the event
// bus's Redis streams are easy to distinguish from other Pulse users of
// the same Redis instance.
func streamName(topic string) string {
	return "toolrun/" + topic
}
