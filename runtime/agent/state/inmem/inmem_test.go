package inmem

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/runtime/agent/state"
)

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "task", "agent")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.Create(ctx, "task", "agent", map[string]any{"state_version": 1})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get(ctx, "task", "agent")
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	// Numbers come back the way a JSON document store returns them.
	require.Equal(t, float64(1), got.Data["state_version"])

	upd, err := s.Update(ctx, rec.ID, "task", "agent", map[string]any{"state_version": 2})
	require.NoError(t, err)
	require.Equal(t, float64(2), upd.Data["state_version"])

	got, err = s.Get(ctx, "task", "agent")
	require.NoError(t, err)
	require.Equal(t, float64(2), got.Data["state_version"])
}

func TestCreateReplacesCurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, err := s.Create(ctx, "task", "agent", map[string]any{"n": "first"})
	require.NoError(t, err)
	second, err := s.Create(ctx, "task", "agent", map[string]any{"n": "second"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err := s.Get(ctx, "task", "agent")
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, "second", got.Data["n"])
}

func TestUpdateUnknownRecord(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Update(ctx, "missing", "task", "agent", nil)
	require.ErrorIs(t, err, state.ErrNotFound)

	rec, err := s.Create(ctx, "task", "agent", nil)
	require.NoError(t, err)
	_, err = s.Update(ctx, rec.ID, "task", "other-agent", nil)
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	data := map[string]any{"history": []any{"a"}}
	rec, err := s.Create(ctx, "task", "agent", data)
	require.NoError(t, err)
	data["history"] = []any{"mutated"}
	rec.Data["extra"] = true

	got, err := s.Get(ctx, "task", "agent")
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, got.Data["history"])
	require.NotContains(t, got.Data, "extra")
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Get(ctx, "", "agent")
	require.EqualError(t, err, "state: task id is required")
	_, err = s.Create(ctx, "task", "", nil)
	require.EqualError(t, err, "state: agent id is required")
	_, err = s.Update(ctx, "", "task", "agent", nil)
	require.EqualError(t, err, "state: record id is required")
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, err := s.Create(ctx, "task", "agent", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, rec.ID, "task", "agent", map[string]any{"i": i})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err = s.Get(ctx, "task", "agent")
	require.NoError(t, err)
}
