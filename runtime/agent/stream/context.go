package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type (
	// Options configures a Service.
	Options struct {
		// Sink receives the updates. Required.
		Sink Sink
		// Store persists the messages. Required.
		Store MessageStore
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Service opens streaming contexts over a sink and a message store.
	Service struct {
		sink   Sink
		store  MessageStore
		logger telemetry.Logger
	}

	// Context streams the updates of one logical message. Every opened
	// Context emits exactly one Done, on Close. A Context is safe for
	// concurrent use; updates are emitted in call order.
	Context struct {
		svc    *Service
		taskID string
		header message.Header

		mu      sync.Mutex
		msg     *message.TaskMessage
		initial message.Content
		full    message.Content
		acc     *Accumulator
		closed  bool
		result  *message.TaskMessage
		err     error
	}
)

// NewService returns a Service using the given options.
func NewService(opts Options) (*Service, error) {
	if opts.Sink == nil {
		return nil, errors.New("stream: sink is required")
	}
	if opts.Store == nil {
		return nil, errors.New("stream: message store is required")
	}
	return &Service{sink: opts.Sink, store: opts.Store, logger: telemetry.LoggerOrNoop(opts.Logger)}, nil
}

// Sink returns the sink updates are sent to.
func (s *Service) Sink() Sink { return s.sink }

// Open persists a new in-progress message with the initial content and emits
// its Start update at index.
func (s *Service) Open(ctx context.Context, taskID string, index int, initial message.Content) (*Context, error) {
	msg, err := s.store.Create(ctx, taskID, initial, message.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("stream: create message: %w", err)
	}
	c := &Context{
		svc:     s,
		taskID:  taskID,
		header:  message.Header{Index: index, ParentTaskMessage: &message.MessageRef{ID: msg.ID, TaskID: taskID}},
		msg:     msg,
		initial: initial,
		acc:     NewAccumulator(),
	}
	if err := s.sink.Send(ctx, taskID, message.StartUpdate{Header: c.header, Content: initial}); err != nil {
		if _, uerr := s.store.Update(ctx, taskID, msg.ID, initial, message.StatusDone); uerr != nil {
			s.logger.Warn(ctx, "failed to finalize message after start error", "task_id", taskID, "message_id", msg.ID, "err", uerr)
		}
		return nil, fmt.Errorf("stream: send start: %w", err)
	}
	return c, nil
}

// With opens a context, runs fn with it and closes the context on every exit
// path, including cancellation of ctx.
func (s *Service) With(ctx context.Context, taskID string, index int, initial message.Content, fn func(*Context) error) (err error) {
	c, err := s.Open(ctx, taskID, index, initial)
	if err != nil {
		return err
	}
	defer func() {
		if _, cerr := c.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(c)
}

// Emit persists a completed message with content and sends it as a Full
// update followed by Done at index.
func (s *Service) Emit(ctx context.Context, taskID string, index int, content message.Content) (*message.TaskMessage, error) {
	msg, err := s.store.Create(ctx, taskID, content, message.StatusDone)
	if err != nil {
		return nil, fmt.Errorf("stream: create message: %w", err)
	}
	h := message.Header{Index: index, ParentTaskMessage: &message.MessageRef{ID: msg.ID, TaskID: taskID}}
	if err := s.sink.Send(ctx, taskID, message.FullUpdate{Header: h, Content: content}); err != nil {
		return msg, fmt.Errorf("stream: send full: %w", err)
	}
	if err := s.sink.Send(ctx, taskID, message.DoneUpdate{Header: h}); err != nil {
		return msg, fmt.Errorf("stream: send done: %w", err)
	}
	return msg, nil
}

// Index returns the message index of the context.
func (c *Context) Index() int { return c.header.Index }

// Message returns the persisted message backing the context.
func (c *Context) Message() *message.TaskMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msg
}

// Stream emits update for the context's message. The index and parent
// reference of update are replaced by the context's. Deltas are accumulated,
// a Full update is persisted as the final content, and a Done update closes
// the context.
func (c *Context) Stream(ctx context.Context, update message.Update) error {
	if _, ok := update.(message.DoneUpdate); ok {
		_, err := c.Close(ctx)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.full != nil {
		return ErrAlreadyComplete
	}
	switch u := update.(type) {
	case message.DeltaUpdate:
		if err := c.acc.Add(u.Delta); err != nil {
			return err
		}
	case message.FullUpdate:
		c.full = u.Content
	case message.StartUpdate:
		return ErrUnexpectedStart
	case nil:
		return errors.New("stream: nil update")
	}
	if err := c.svc.sink.Send(ctx, c.taskID, message.WithHeader(update, c.header)); err != nil {
		return fmt.Errorf("stream: send %s: %w", update.Type(), err)
	}
	if full, ok := update.(message.FullUpdate); ok {
		msg, err := c.svc.store.Update(ctx, c.taskID, c.msg.ID, full.Content, message.StatusDone)
		if err != nil {
			return fmt.Errorf("stream: persist full content: %w", err)
		}
		c.msg = msg
	}
	return nil
}

// Delta is shorthand for streaming a delta update.
func (c *Context) Delta(ctx context.Context, d message.Delta) error {
	return c.Stream(ctx, message.DeltaUpdate{Delta: d})
}

// Full is shorthand for streaming a full update.
func (c *Context) Full(ctx context.Context, content message.Content) error {
	return c.Stream(ctx, message.FullUpdate{Content: content})
}

// Close emits Done and persists the final content with status DONE. The final
// content is the last Full content when one was streamed, the accumulated
// deltas otherwise, or the initial content when nothing was streamed. Close is
// idempotent: later calls return the result of the first.
func (c *Context) Close(ctx context.Context) (*message.TaskMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.result, c.err
	}
	c.closed = true

	var errs []error
	if err := c.svc.sink.Send(ctx, c.taskID, message.DoneUpdate{Header: c.header}); err != nil {
		errs = append(errs, fmt.Errorf("stream: send done: %w", err))
	}
	final := c.initial
	switch {
	case c.full != nil:
		final = c.full
	case c.acc.Len() > 0:
		content, err := c.acc.Content()
		if err != nil {
			errs = append(errs, err)
		} else {
			final = content
		}
	}
	if c.full == nil || c.msg.StreamingStatus != message.StatusDone {
		msg, err := c.svc.store.Update(ctx, c.taskID, c.msg.ID, final, message.StatusDone)
		if err != nil {
			errs = append(errs, fmt.Errorf("stream: persist final content: %w", err))
		} else {
			c.msg = msg
		}
	}
	c.result, c.err = c.msg, errors.Join(errs...)
	return c.result, c.err
}
