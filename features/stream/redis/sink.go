// Package redis publishes task message updates to plain Redis streams. Each
// update is appended with XADD to the task topic as a single "data" field
// holding the JSON update, so consumers that read Redis streams directly do
// not need the Pulse framing.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// DataField is the stream entry field carrying the JSON update.
const DataField = "data"

type (
	// Client is the subset of the go-redis client used by Sink.
	Client interface {
		XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
		Ping(ctx context.Context) *redis.StatusCmd
	}

	// Options configures the sink.
	Options struct {
		// Client is required. *redis.Client satisfies it.
		Client Client
		// MaxLen approximately caps each task stream. Zero keeps every entry.
		MaxLen int64
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Sink appends message updates to Redis streams.
	Sink struct {
		client Client
		maxLen int64
		logger telemetry.Logger
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink returns a Sink writing through opts.Client.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Sink{
		client: opts.Client,
		maxLen: opts.MaxLen,
		logger: telemetry.LoggerOrNoop(opts.Logger),
	}, nil
}

// Send appends update to the stream of taskID.
func (s *Sink) Send(ctx context.Context, taskID string, update message.Update) error {
	if taskID == "" {
		return errors.New("redis sink: task id is required")
	}
	data, err := message.MarshalUpdate(update)
	if err != nil {
		return fmt.Errorf("redis sink: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream.Topic(taskID),
		Values: map[string]any{DataField: string(data)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("redis sink xadd: %w", err)
	}
	s.logger.Debug(ctx, "update published", "task_id", taskID, "type", string(update.Type()), "entry_id", id)
	return nil
}

// Close is a no-op: the Redis client is owned by the caller.
func (s *Sink) Close(context.Context) error { return nil }

// Name identifies the dependency in health checks.
func (s *Sink) Name() string { return "redis" }

// Ping checks the Redis connection.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
