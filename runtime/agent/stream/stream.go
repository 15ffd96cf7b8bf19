// Package stream delivers task message updates to clients. A Service opens
// streaming contexts, one per logical message, that frame everything sent for
// the message with a Start (or Full) and exactly one Done, persist the message
// through a MessageStore, and accumulate streamed deltas into the final content
// persisted when the context closes.
//
// Sinks carry updates to a transport (Redis streams, Pulse, in-memory
// recorders); the runtime never talks to a transport directly.
package stream

import (
	"context"
	"errors"

	"github.com/agentex/agentex-go/runtime/agent/message"
)

type (
	// Sink publishes message updates for a task.
	//
	// Implementations must be safe for concurrent use. Send returns transport
	// errors to the caller; updates are never dropped silently. Close releases
	// transport resources and is idempotent.
	Sink interface {
		Send(ctx context.Context, taskID string, update message.Update) error
		Close(ctx context.Context) error
	}

	// MessageStore persists task messages.
	MessageStore interface {
		// Create persists a new message for taskID and returns it with its
		// assigned ID and timestamps.
		Create(ctx context.Context, taskID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error)
		// Update replaces the content and status of an existing message.
		Update(ctx context.Context, taskID, messageID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error)
	}

	// SinkFunc adapts a function to the Sink interface. Close is a no-op.
	SinkFunc func(ctx context.Context, taskID string, update message.Update) error
)

var (
	// ErrContextClosed is returned when streaming into a closed context.
	ErrContextClosed = errors.New("stream: context is closed")
	// ErrUnexpectedStart is returned when a Start update is streamed into an
	// already open context.
	ErrUnexpectedStart = errors.New("stream: start update on open context")
	// ErrAlreadyComplete is returned when a delta or second Full update is
	// streamed after a Full update.
	ErrAlreadyComplete = errors.New("stream: full content already sent")
	// ErrMessageNotFound is returned by stores when a message does not exist.
	ErrMessageNotFound = errors.New("stream: message not found")
)

// Topic returns the transport topic carrying updates for taskID.
func Topic(taskID string) string {
	return "task:" + taskID
}

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, taskID string, update message.Update) error {
	return f(ctx, taskID, update)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error { return nil }
