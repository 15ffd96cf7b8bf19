// Package inmem provides an in-memory implementation of state.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/store/mongo).
package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentex/agentex-go/runtime/agent/state"
)

type (
	// Store is an in-memory implementation of state.Store.
	// It is safe for concurrent use.
	Store struct {
		mu      sync.RWMutex
		records map[string]state.Record
		latest  map[key]string
		now     func() time.Time
	}

	key struct {
		taskID  string
		agentID string
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]state.Record),
		latest:  make(map[key]string),
		now:     time.Now,
	}
}

// Get implements state.Store.
func (s *Store) Get(_ context.Context, taskID, agentID string) (*state.Record, error) {
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latest[key{taskID, agentID}]
	if !ok {
		return nil, state.ErrNotFound
	}
	return clone(s.records[id])
}

// Create implements state.Store. A new record replaces the previous one as
// the current state of the pair.
func (s *Store) Create(_ context.Context, taskID, agentID string, data map[string]any) (*state.Record, error) {
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	cp, err := copyData(data)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := state.Record{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		Data:      cp,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.latest[key{taskID, agentID}] = rec.ID
	return clone(rec)
}

// Update implements state.Store.
func (s *Store) Update(_ context.Context, id, taskID, agentID string, data map[string]any) (*state.Record, error) {
	if id == "" {
		return nil, errors.New("state: record id is required")
	}
	if err := state.Validate(taskID, agentID); err != nil {
		return nil, err
	}
	cp, err := copyData(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.TaskID != taskID || rec.AgentID != agentID {
		return nil, state.ErrNotFound
	}
	rec.Data = cp
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return clone(rec)
}

func clone(rec state.Record) (*state.Record, error) {
	data, err := copyData(rec.Data)
	if err != nil {
		return nil, err
	}
	rec.Data = data
	return &rec, nil
}

// copyData deep copies data through its JSON encoding so stored documents
// look exactly like documents read back from a durable store.
func copyData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("state: encode data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("state: decode data: %w", err)
	}
	return out, nil
}
