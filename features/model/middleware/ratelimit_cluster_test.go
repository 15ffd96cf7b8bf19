package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"goa.design/pulse/rmap"

	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/provider/providertest"
)

type fakeClusterMap struct {
	mu      sync.Mutex
	values  map[string]string
	ch      chan rmap.EventKind
	seedErr error
}

func newFakeClusterMap() *fakeClusterMap {
	return &fakeClusterMap{
		values: make(map[string]string),
		ch:     make(chan rmap.EventKind, 1),
	}
}

func (m *fakeClusterMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeClusterMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seedErr != nil {
		return false, m.seedErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.notify()
	return true, nil
}

func (m *fakeClusterMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	if !ok || cur != test {
		return cur, nil
	}
	m.values[key] = value
	m.notify()
	return cur, nil
}

func (m *fakeClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.ch
}

// set simulates a write from another process.
func (m *fakeClusterMap) set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.notify()
}

func (m *fakeClusterMap) notify() {
	select {
	case m.ch <- rmap.EventChange:
	default:
	}
}

func TestClusterLimiter_BackoffUpdatesSharedMap(t *testing.T) {
	m := newFakeClusterMap()
	const key = "model"
	m.values[key] = strconv.Itoa(80000)

	lim := newClusterAdaptiveRateLimiter(context.Background(), m, key, 80000, 80000)

	model := providertest.NewModel()
	model.StreamErr = provider.ErrRateLimited
	_, _ = lim.Middleware()(model).Stream(context.Background(), helloReq)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		v, _ := m.Get(key)
		if cur, err := strconv.Atoi(v); err == nil && cur < 80000 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected shared TPM to decrease")
}

func TestClusterLimiter_SeedsSharedMap(t *testing.T) {
	m := newFakeClusterMap()
	newClusterAdaptiveRateLimiter(context.Background(), m, "model", 50000, 100000)

	v, ok := m.Get("model")
	if !ok || v != "50000" {
		t.Fatalf("expected seeded budget, got %q (present %v)", v, ok)
	}
}

func TestClusterLimiter_AppliesRemoteChanges(t *testing.T) {
	m := newFakeClusterMap()
	const key = "model"
	lim := newClusterAdaptiveRateLimiter(context.Background(), m, key, 60000, 60000)
	// Drain the notification emitted by seeding.
	time.Sleep(10 * time.Millisecond)

	m.set(key, "20000")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if lim.TPM() == 20000 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected remote budget to apply, got %f", lim.TPM())
}

func TestClusterLimiter_FallsBackWhenSeedFails(t *testing.T) {
	m := newFakeClusterMap()
	m.seedErr = errors.New("redis unavailable")

	lim := newClusterAdaptiveRateLimiter(context.Background(), m, "model", 60000, 60000)
	if lim.onBackoff != nil || lim.onRaise != nil {
		t.Fatal("expected a process-local limiter")
	}
	if lim.TPM() != 60000 {
		t.Fatalf("unexpected TPM %f", lim.TPM())
	}
}
