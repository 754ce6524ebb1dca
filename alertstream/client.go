// Package alertstream publishes stored alerts onto per-reporter Pulse streams
// backed by Redis. Workers publish as alert rows are written; the HTTP API
// subscribes and relays notifications to dashboard clients so changes show up
// without polling Postgres.
package alertstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// ClientOptions configures the stream client.
	ClientOptions struct {
		// Redis is the connection backing the streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per reporter stream.
		// Zero uses Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of Pulse needed by the publisher and the
	// subscriber.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client.
		Close(ctx context.Context) error
	}

	// Stream publishes alert events and creates sinks (consumer groups).
	Stream interface {
		// Add appends an event with the given name and payload to the stream
		// and returns the Redis-assigned entry id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group on this stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and all its entries from Redis.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading from one reporter stream.
	Sink interface {
		// Subscribe returns the channel events arrive on.
		Subscribe() <-chan *streaming.Event
		// Ack marks an event as processed.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink.
		Close(context.Context)
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration
	}

	// handle wraps a Pulse stream and applies the configured operation
	// timeout to writes.
	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	// sinkAdapter narrows streaming.Sink's Close to the Sink interface
	// signature.
	sinkAdapter struct {
		*streaming.Sink
	}
)

// StreamFor names the alert stream of one reporter. Publisher and subscriber
// must agree on it.
func StreamFor(reporterUserID string) string {
	return "alerts/" + reporterUserID
}

// NewClient wraps a Redis connection for alert streaming. The Redis field in
// opts is required.
func NewClient(opts ClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("alertstream: redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
	}, nil
}

// Stream returns a handle to the named stream, creating it if it does not
// exist yet.
func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("alertstream: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("alertstream: create stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op; callers own the Redis connection lifecycle.
func (c *client) Close(ctx context.Context) error {
	return nil
}

// Add appends an event to the stream, bounded by the configured operation
// timeout.
func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("alertstream: event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("alertstream: add: %w", err)
	}
	return id, nil
}

// NewSink creates a consumer group on the stream.
func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return &sinkAdapter{Sink: sink}, nil
}

// Destroy deletes the stream and all its entries from Redis.
func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// Close delegates to the underlying Pulse sink.
func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
