package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatOutsideActivityIsNoop(t *testing.T) {
	require.NotPanics(t, func() { Heartbeat(context.Background(), "details") })
}

func TestHeartbeatUsesContextHeartbeater(t *testing.T) {
	var got []any
	ctx := WithHeartbeater(context.Background(), HeartbeaterFunc(func(_ context.Context, details ...any) {
		got = append(got, details...)
	}))
	Heartbeat(ctx, "a", 1)
	require.Equal(t, []any{"a", 1}, got)
}

func TestRunWithHeartbeatBeatsWhileRunning(t *testing.T) {
	var beats atomic.Int32
	ctx := WithHeartbeater(context.Background(), HeartbeaterFunc(func(context.Context, ...any) {
		beats.Add(1)
	}))
	err := RunWithHeartbeat(ctx, time.Millisecond, func(context.Context) error {
		require.Eventually(t, func() bool { return beats.Load() >= 3 }, time.Second, time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	after := beats.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, after, beats.Load(), "heartbeat loop must stop when fn returns")
}

func TestRunWithHeartbeatReturnsFnError(t *testing.T) {
	boom := errors.New("boom")
	err := RunWithHeartbeat(context.Background(), time.Hour, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestRunWithHeartbeatPassesCallerContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	err := RunWithHeartbeat(ctx, 0, func(inner context.Context) error {
		require.Equal(t, "v", inner.Value(key{}))
		return nil
	})
	require.NoError(t, err)
}
