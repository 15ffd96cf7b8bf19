package pulse

import (
	"context"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/agentex/agentex-go/features/stream/pulse/clients/pulse"
	"github.com/agentex/agentex-go/runtime/agent/message"
)

type (
	// UpdateDecoder converts raw Pulse payloads into message updates.
	UpdateDecoder func([]byte) (message.Update, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume updates. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "agentex_subscriber".
		SinkName string
		// Buffer is the capacity of the update channel. Defaults to 64.
		Buffer int
		// StreamID derives the Pulse stream name from a task ID. Defaults to
		// stream.Topic.
		StreamID func(taskID string) (string, error)
		// Decoder defaults to message.UnmarshalUpdate.
		Decoder UpdateDecoder
	}

	// Subscriber reads the updates of a task back from its Pulse stream.
	Subscriber struct {
		client   clientspulse.Client
		buffer   int
		name     string
		streamID func(string) (string, error)
		decode   UpdateDecoder
	}
)

// NewSubscriber returns a Subscriber reading through opts.Client.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client:   opts.Client,
		buffer:   opts.Buffer,
		name:     opts.SinkName,
		streamID: opts.StreamID,
		decode:   opts.Decoder,
	}
	if s.name == "" {
		s.name = "agentex_subscriber"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.streamID == nil {
		s.streamID = defaultStreamID
	}
	if s.decode == nil {
		s.decode = message.UnmarshalUpdate
	}
	return s, nil
}

// Subscribe opens a consumer on the stream of taskID. Updates are delivered
// on the first channel in publish order and acked once handed off. The
// second channel receives at most one error, after which both channels are
// closed. The returned cancel function stops consumption and closes the
// Pulse sink.
//
//	updates, errs, cancel, err := sub.Subscribe(ctx, taskID)
//	defer cancel()
//	for u := range updates {
//	    // render u
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	taskID string,
	opts ...streamopts.Sink,
) (<-chan message.Update, <-chan error, context.CancelFunc, error) {
	streamID, err := s.streamID(taskID)
	if err != nil {
		return nil, nil, nil, err
	}
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	updates := make(chan message.Update, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, updates, errs)
	return updates, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- message.Update, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			u, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}
