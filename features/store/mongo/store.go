package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/agentex/agentex-go/features/store/mongo/clients/mongo"
	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/state"
	"github.com/agentex/agentex-go/runtime/agent/stream"
)

var (
	_ state.Store         = (*StateStore)(nil)
	_ stream.MessageStore = (*MessageStore)(nil)
)

// StateStore implements state.Store by delegating to the Mongo client.
type StateStore struct {
	client clientsmongo.Client
}

// MessageStore implements stream.MessageStore by delegating to the Mongo
// client.
type MessageStore struct {
	client clientsmongo.Client
}

// NewStateStore builds a StateStore using the provided client.
func NewStateStore(client clientsmongo.Client) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &StateStore{client: client}, nil
}

// Get returns the latest state of agentID for taskID.
func (s *StateStore) Get(ctx context.Context, taskID, agentID string) (*state.Record, error) {
	return s.client.LoadState(ctx, taskID, agentID)
}

// Create inserts a new state record.
func (s *StateStore) Create(ctx context.Context, taskID, agentID string, data map[string]any) (*state.Record, error) {
	return s.client.CreateState(ctx, taskID, agentID, data)
}

// Update replaces the data of record id.
func (s *StateStore) Update(ctx context.Context, id, taskID, agentID string, data map[string]any) (*state.Record, error) {
	return s.client.UpdateState(ctx, id, taskID, agentID, data)
}

// NewMessageStore builds a MessageStore using the provided client.
func NewMessageStore(client clientsmongo.Client) (*MessageStore, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &MessageStore{client: client}, nil
}

// Create persists a new task message.
func (s *MessageStore) Create(ctx context.Context, taskID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	return s.client.CreateMessage(ctx, taskID, content, status)
}

// Update replaces the content and status of a task message.
func (s *MessageStore) Update(ctx context.Context, taskID, messageID string, content message.Content, status message.StreamingStatus) (*message.TaskMessage, error) {
	return s.client.UpdateMessage(ctx, taskID, messageID, content, status)
}

// List returns the messages of taskID in creation order.
func (s *MessageStore) List(ctx context.Context, taskID string) ([]*message.TaskMessage, error) {
	return s.client.ListMessages(ctx, taskID)
}
