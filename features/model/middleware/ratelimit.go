// Package middleware provides provider.Model middlewares such as adaptive
// rate limiting.
package middleware

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

type (
	// AdaptiveRateLimiter applies an AIMD token bucket in front of a
	// provider.Model. It estimates the token cost of each request, blocks
	// callers until capacity is available and halves its tokens-per-minute
	// budget whenever the provider reports provider.ErrRateLimited. Successful
	// responses raise the budget again by a fixed step.
	//
	// Construct a single instance per process (or per model key when
	// coordinating through a Pulse replicated map) and wrap the model adapter
	// with Middleware before handing it to the agent runtime.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64

		onBackoff func(newTPM float64)
		onRaise   func(newTPM float64)
	}

	limitedModel struct {
		next    provider.Model
		limiter *AdaptiveRateLimiter
	}

	// observedStream reports the outcome of a stream to the limiter once.
	observedStream struct {
		provider.EventStream
		limiter  *AdaptiveRateLimiter
		observed bool
	}

	// clusterMap is the subset of rmap.Map used by the cluster-aware limiter.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct {
		m *rmap.Map
	}
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When m and key are set, it coordinates capacity
// across processes using a Pulse replicated map; otherwise it operates as a
// process-local limiter.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterAdaptiveRateLimiter(ctx, cm, key, initialTPM, maxTPM)
}

// newAdaptiveRateLimiter constructs a process-local limiter. When maxTPM is
// zero or less than initialTPM, it is clamped to initialTPM.
func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))

	return &AdaptiveRateLimiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware returns a provider.Model middleware that enforces the adaptive
// tokens-per-minute limit before each Stream call.
func (l *AdaptiveRateLimiter) Middleware() func(provider.Model) provider.Model {
	return func(next provider.Model) provider.Model {
		if next == nil {
			return nil
		}
		return &limitedModel{next: next, limiter: l}
	}
}

// TPM returns the current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// Stream waits for capacity then delegates to the wrapped model. Rate limit
// errors surfacing from Recv are observed as well since streaming adapters
// only see the HTTP status once the first event is read.
func (c *limitedModel) Stream(ctx context.Context, req *provider.Request) (provider.EventStream, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := c.next.Stream(ctx, req)
	if err != nil {
		c.limiter.observe(err)
		return nil, err
	}
	return &observedStream{EventStream: stream, limiter: c.limiter}, nil
}

func (s *observedStream) Recv() (provider.Event, error) {
	ev, err := s.EventStream.Recv()
	if s.observed {
		return ev, err
	}
	switch {
	case err != nil && !errors.Is(err, io.EOF):
		s.observed = true
		s.limiter.observe(err)
	case err == nil:
		if _, ok := ev.(provider.Completed); ok {
			s.observed = true
			s.limiter.observe(nil)
		}
	}
	return ev, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req *provider.Request) error {
	tokens := estimateTokens(req)
	if burst := l.limiter.Burst(); tokens > burst {
		// WaitN fails outright when n exceeds the burst.
		tokens = burst
	}
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	l.mu.Lock()
	cur, step := l.currentTPM, l.recoveryRate
	onBackoff, onRaise := l.onBackoff, l.onRaise
	l.mu.Unlock()
	switch {
	case err == nil:
		l.adjust(cur+step, onRaise)
	case errors.Is(err, provider.ErrRateLimited):
		l.adjust(cur*0.5, onBackoff)
	}
}

// adjust clamps tpm to [minTPM, maxTPM], applies it and runs cb with the
// new budget when it changed.
func (l *AdaptiveRateLimiter) adjust(tpm float64, cb func(float64)) {
	if !l.setTPM(tpm) {
		return
	}
	if cb != nil {
		cb(l.TPM())
	}
}

// setTPM clamps and applies tpm. It reports whether the budget changed.
func (l *AdaptiveRateLimiter) setTPM(tpm float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		return false
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	return true
}

// estimateTokens approximates the request size at one token per three
// characters of instructions and input, plus a fixed buffer for provider
// framing and tool definitions.
func estimateTokens(req *provider.Request) int {
	if req == nil {
		return 500
	}
	charCount := len(req.Instructions)
	for _, it := range req.Input {
		charCount += len(it.Content) + len(it.Arguments) + len(it.Output)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

func (m *rmapClusterMap) Get(key string) (string, bool) {
	return m.m.Get(key)
}

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.m.Subscribe()
}

// newClusterAdaptiveRateLimiter shares the budget under key in m. Local
// backoffs and increases are pushed to the map and changes made by other
// processes are applied locally. When the map cannot be seeded the limiter
// falls back to process-local operation.
func newClusterAdaptiveRateLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, formatTPM(initialTPM)); err != nil {
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	sharedTPM := initialTPM
	if v, ok := sharedValue(m, key); ok {
		sharedTPM = v
	}
	l := newAdaptiveRateLimiter(sharedTPM, maxTPM)
	floor, ceiling, step := l.minTPM, l.maxTPM, l.recoveryRate

	l.mu.Lock()
	l.onBackoff = func(float64) {
		go updateShared(context.Background(), m, key, func(cur float64) float64 {
			return max(cur*0.5, floor)
		})
	}
	l.onRaise = func(float64) {
		go updateShared(context.Background(), m, key, func(cur float64) float64 {
			return min(cur+step, ceiling)
		})
	}
	l.mu.Unlock()

	ch := m.Subscribe()
	go func() {
		for range ch {
			if v, ok := sharedValue(m, key); ok {
				l.setTPM(v)
			}
		}
	}()
	return l
}

// updateShared applies next to the shared budget with optimistic
// concurrency, retrying a few times when another process wins the race.
func updateShared(ctx context.Context, m clusterMap, key string, next func(cur float64) float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for range maxAttempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := formatTPM(next(cur))
		if nextStr == curStr {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}

func sharedValue(m clusterMap, key string) (float64, bool) {
	cur, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(cur, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(tpm float64) string {
	return strconv.Itoa(int(tpm))
}
