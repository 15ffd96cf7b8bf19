// Package inmem provides in-memory implementations of stream.MessageStore and
// stream.Sink for tests and local development.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/stream"
)

type (
	// Store is an in-memory stream.MessageStore. It is safe for concurrent use.
	Store struct {
		mu       sync.RWMutex
		messages map[string]message.TaskMessage
		order    map[string][]string
		now      func() time.Time
	}

	// Recorder is a stream.Sink that records every update per task. It is safe
	// for concurrent use.
	Recorder struct {
		mu      sync.Mutex
		updates map[string][]message.Update
		all     []message.Update
		closed  bool
		// Fail, when set, is returned by Send instead of recording.
		Fail error
	}
)

// ErrSinkClosed is returned by Recorder.Send after Close.
var ErrSinkClosed = errors.New("inmem: sink closed")

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string]message.TaskMessage),
		order:    make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create implements stream.MessageStore.
func (s *Store) Create(_ context.Context, taskID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	msg := message.TaskMessage{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		Content:         content,
		StreamingStatus: status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.messages[msg.ID] = msg
	s.order[taskID] = append(s.order[taskID], msg.ID)
	return &msg, nil
}

// Update implements stream.MessageStore.
func (s *Store) Update(_ context.Context, taskID, messageID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.TaskID != taskID {
		return nil, stream.ErrMessageNotFound
	}
	msg.Content = content
	msg.StreamingStatus = status
	msg.UpdatedAt = s.now()
	s.messages[messageID] = msg
	return &msg, nil
}

// Get returns the message with the given ID.
func (s *Store) Get(messageID string) (message.TaskMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	return msg, ok
}

// List returns the messages of taskID in creation order.
func (s *Store) List(taskID string) []message.TaskMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[taskID]
	out := make([]message.TaskMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	return out
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{updates: make(map[string][]message.Update)}
}

// Send implements stream.Sink.
func (r *Recorder) Send(_ context.Context, taskID string, update message.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrSinkClosed
	}
	if r.Fail != nil {
		return r.Fail
	}
	r.updates[taskID] = append(r.updates[taskID], update)
	r.all = append(r.all, update)
	return nil
}

// Close implements stream.Sink.
func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// SetFail makes subsequent sends return err (nil restores success).
func (r *Recorder) SetFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail = err
}

// Updates returns the updates recorded for taskID.
func (r *Recorder) Updates(taskID string) []message.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Update(nil), r.updates[taskID]...)
}

// All returns every recorded update in send order.
func (r *Recorder) All() []message.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Update(nil), r.all...)
}

// Index returns the updates recorded for taskID at index.
func (r *Recorder) Index(taskID string, index int) []message.Update {
	var out []message.Update
	for _, u := range r.Updates(taskID) {
		if u.Head().Index == index {
			out = append(out, u)
		}
	}
	return out
}
