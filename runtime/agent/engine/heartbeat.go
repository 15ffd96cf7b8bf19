package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultHeartbeatInterval is the period of the heartbeat loop.
const DefaultHeartbeatInterval = 10 * time.Second

type (
	// Heartbeater records activity liveness with the durable host.
	Heartbeater interface {
		RecordHeartbeat(ctx context.Context, details ...any)
	}

	// HeartbeaterFunc adapts a function to Heartbeater.
	HeartbeaterFunc func(ctx context.Context, details ...any)

	heartbeaterKey struct{}
)

// RecordHeartbeat calls f.
func (f HeartbeaterFunc) RecordHeartbeat(ctx context.Context, details ...any) { f(ctx, details...) }

// WithHeartbeater returns a child context that carries h. Engine adapters
// install one in every activity context.
func WithHeartbeater(ctx context.Context, h Heartbeater) context.Context {
	return context.WithValue(ctx, heartbeaterKey{}, h)
}

// Heartbeat records a heartbeat when ctx belongs to an activity and does
// nothing otherwise.
func Heartbeat(ctx context.Context, details ...any) {
	if h, ok := ctx.Value(heartbeaterKey{}).(Heartbeater); ok && h != nil {
		h.RecordHeartbeat(ctx, details...)
	}
}

// RunWithHeartbeat runs fn while a sibling goroutine calls Heartbeat every
// interval. The loop stops as soon as fn returns and both goroutines are
// joined before RunWithHeartbeat returns. fn's error is returned unchanged.
func RunWithHeartbeat(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var fnErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return nil
			case <-ticker.C:
				Heartbeat(ctx)
			}
		}
	})
	g.Go(func() error {
		defer stop()
		fnErr = fn(ctx)
		return nil
	})
	_ = g.Wait()
	return fnErr
}
