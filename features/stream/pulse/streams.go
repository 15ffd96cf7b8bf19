package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/agentex/agentex-go/features/stream/pulse/clients/pulse"
	"github.com/agentex/agentex-go/runtime/agent/stream"
)

type (
	// Streams shares one Pulse client between the publishing sink and any
	// number of subscribers.
	Streams struct {
		sink   *Sink
		client clientspulse.Client
	}

	// StreamsOptions configures NewStreams.
	StreamsOptions struct {
		// Client is used for both publishing and subscribing. Required.
		Client clientspulse.Client
		// Sink holds optional publishing overrides. Its Client is ignored.
		Sink Options
	}
)

// NewStreams returns a Streams helper built on opts.Client.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, client: opts.Client}, nil
}

// Sink returns the publishing sink to hand to stream.NewService.
func (s *Streams) Sink() stream.Sink {
	return s.sink
}

// NewSubscriber returns a subscriber reusing the shared client. Unless set,
// the subscriber derives stream names the same way the sink does.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	if opts.StreamID == nil {
		opts.StreamID = s.sink.streamID
	}
	return NewSubscriber(opts)
}

// Ping checks the underlying Redis connection.
func (s *Streams) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the sink and therefore the shared client. Cancel subscribers
// first.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}

// Name identifies the dependency in health checks.
func (s *Streams) Name() string { return "pulse" }
