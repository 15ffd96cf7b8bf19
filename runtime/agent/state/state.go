// Package state defines the persisted agent state contract. A state record
// holds one JSON-like document per (task, agent) pair; the turn coordinator
// keeps its conversation state there.
package state

import (
	"context"
	"errors"
	"time"
)

type (
	// Record is a persisted state document.
	Record struct {
		ID        string         `json:"id"`
		TaskID    string         `json:"task_id"`
		AgentID   string         `json:"agent_id"`
		Data      map[string]any `json:"data"`
		CreatedAt time.Time      `json:"created_at"`
		UpdatedAt time.Time      `json:"updated_at"`
	}

	// Store persists state records. Implementations must be safe for
	// concurrent use. Get returns the most recently created record for the
	// pair; Create never fails because a record already exists.
	Store interface {
		// Get returns the state of agentID for taskID or ErrNotFound.
		Get(ctx context.Context, taskID, agentID string) (*Record, error)
		// Create persists a new record and returns it.
		Create(ctx context.Context, taskID, agentID string, data map[string]any) (*Record, error)
		// Update replaces the data of record id. It returns ErrNotFound when
		// the record does not exist.
		Update(ctx context.Context, id, taskID, agentID string, data map[string]any) (*Record, error)
	}
)

// ErrNotFound is returned when no state exists.
var ErrNotFound = errors.New("state not found")

// Validate checks the identifiers shared by all store operations.
func Validate(taskID, agentID string) error {
	if taskID == "" {
		return errors.New("state: task id is required")
	}
	if agentID == "" {
		return errors.New("state: agent id is required")
	}
	return nil
}
