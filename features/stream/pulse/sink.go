// Package pulse publishes task message updates to goa.design/pulse streams
// and consumes them back. Services build a Redis client, pass it to the Pulse
// client in clients/pulse and hand the resulting sink to the stream service.
package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentex/agentex-go/features/stream/pulse/clients/pulse"
	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish updates. Required.
		Client pulse.Client
		// StreamID derives the Pulse stream name from a task ID. Defaults to
		// stream.Topic.
		StreamID func(taskID string) (string, error)
		// Marshal overrides the update serialization. Defaults to
		// message.MarshalUpdate.
		Marshal func(message.Update) ([]byte, error)
		// OnPublished runs after each successful publish. An error is returned
		// from Send.
		OnPublished func(context.Context, PublishedEvent) error
	}

	// PublishedEvent describes an update written to a Pulse stream.
	PublishedEvent struct {
		TaskID   string
		StreamID string
		EntryID  string
		Update   message.Update
	}

	// Sink publishes message updates into per-task Pulse streams. Safe for
	// concurrent use.
	Sink struct {
		client      pulse.Client
		streamID    func(string) (string, error)
		marshal     func(message.Update) ([]byte, error)
		onPublished func(context.Context, PublishedEvent) error
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink returns a Pulse-backed stream.Sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{
		client:      opts.Client,
		streamID:    defaultStreamID,
		marshal:     message.MarshalUpdate,
		onPublished: opts.OnPublished,
	}
	if opts.StreamID != nil {
		s.streamID = opts.StreamID
	}
	if opts.Marshal != nil {
		s.marshal = opts.Marshal
	}
	return s, nil
}

// Send publishes update on the stream of taskID. The entry is named after the
// update type.
func (s *Sink) Send(ctx context.Context, taskID string, update message.Update) error {
	if update == nil {
		return errors.New("pulse: nil update")
	}
	streamID, err := s.streamID(taskID)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := s.marshal(update)
	if err != nil {
		return fmt.Errorf("pulse marshal update: %w", err)
	}
	id, err := handle.Add(ctx, string(update.Type()), payload)
	if err != nil {
		return err
	}
	if s.onPublished == nil {
		return nil
	}
	return s.onPublished(ctx, PublishedEvent{
		TaskID:   taskID,
		StreamID: streamID,
		EntryID:  id,
		Update:   update,
	})
}

// Close closes the Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(taskID string) (string, error) {
	if taskID == "" {
		return "", errors.New("pulse: task id is required")
	}
	return stream.Topic(taskID), nil
}
