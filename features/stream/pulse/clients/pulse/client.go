// Package pulse wraps goa.design/pulse streams behind the narrow interfaces
// used by the task message sink and subscriber. Callers build a Redis client,
// pass it to New and receive a Client exposing only the stream operations the
// features need, which keeps the sink and subscriber testable with mocks.
package pulse

//go:generate cmg gen .

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
	// Options configures the Pulse client.
	Options struct {
		// Redis backs the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per task stream.
		// Zero uses Pulse defaults.
		StreamMaxLen int
		// StreamOptions returns additional options for the named stream.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Ping checks the Redis connection.
		Ping(ctx context.Context) error
		// Close releases resources owned by the client. The Redis connection
		// is owned by the caller and left open.
		Close(ctx context.Context) error
	}

	// Stream publishes entries and opens consumer groups.
	Stream interface {
		// Add publishes an entry named event and returns its Redis ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink opens the consumer group name on the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading a stream.
	Sink interface {
		// Subscribe returns the channel of incoming entries.
		Subscribe() <-chan *streaming.Event
		// Ack removes a processed entry from the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the consumer.
		Close(context.Context)
	}

	client struct {
		redis        *redis.Client
		maxLen       int
		streamOptsFn func(name string) []streamopts.Stream
		timeout      time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	sinkAdapter struct {
		*streaming.Sink
	}
)

// New returns a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:        opts.Redis,
		maxLen:       opts.StreamMaxLen,
		streamOptsFn: opts.StreamOptions,
		timeout:      opts.OperationTimeout,
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var all []streamopts.Stream
	if c.maxLen > 0 {
		all = append(all, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.streamOptsFn != nil {
		all = append(all, c.streamOptsFn(name)...)
	}
	all = append(all, opts...)
	str, err := streaming.NewStream(name, c.redis, all...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *client) Close(context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse new sink: %w", err)
	}
	return sinkAdapter{Sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// Close drops the error-free signature mismatch of streaming.Sink.Close.
func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
