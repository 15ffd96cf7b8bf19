package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/provider/providertest"
)

var helloReq = &provider.Request{Input: []provider.InputItem{provider.UserMessage("hello")}}

func drain(s provider.EventStream) error {
	for {
		if _, err := s.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.TPM()

	m := providertest.NewModel()
	m.StreamErr = fmt.Errorf("anthropic stream: %w", provider.ErrRateLimited)
	wrapped := limiter.Middleware()(m)

	_, err := wrapped.Stream(context.Background(), helloReq)
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := limiter.TPM(); got >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)", got, initialTPM)
	}
}

func TestAdaptiveRateLimiter_BackoffOnStreamError(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)

	m := providertest.NewModel()
	m.NewStream = func(context.Context, int, *provider.Request) (provider.EventStream, error) {
		s := providertest.NewStream()
		s.Err = fmt.Errorf("openai stream: %w", provider.ErrRateLimited)
		return s, nil
	}
	wrapped := limiter.Middleware()(m)

	s, err := wrapped.Stream(context.Background(), helloReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := drain(s); !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from Recv, got %v", err)
	}
	if got := limiter.TPM(); got != 30000 {
		t.Fatalf("expected TPM to halve once, got %f", got)
	}
}

func TestAdaptiveRateLimiter_RaisesOnCompleted(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)
	limiter.mu.Lock()
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	wrapped := limiter.Middleware()(providertest.NewModel(providertest.TextResponse("msg_1", "hi")))

	s, err := wrapped.Stream(context.Background(), helloReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := drain(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := limiter.TPM(); got != 61000 {
		t.Fatalf("expected TPM to increase by one step, got %f", got)
	}
}

func TestAdaptiveRateLimiter_OtherErrorsKeepBudget(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	m := providertest.NewModel()
	m.StreamErr = errors.New("bad request")
	wrapped := limiter.Middleware()(m)

	if _, err := wrapped.Stream(context.Background(), helloReq); err == nil {
		t.Fatal("expected error")
	}
	if got := limiter.TPM(); got != 60000 {
		t.Fatalf("expected unchanged TPM, got %f", got)
	}
}

func TestAdaptiveRateLimiter_BackoffFloor(t *testing.T) {
	limiter := newAdaptiveRateLimiter(1000, 1000)
	for range 10 {
		limiter.observe(provider.ErrRateLimited)
	}
	if got := limiter.TPM(); got != 100 {
		t.Fatalf("expected TPM to stop at the floor, got %f", got)
	}
}

func TestAdaptiveRateLimiter_RespectsContext(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60, 60)
	m := providertest.NewModel()
	wrapped := limiter.Middleware()(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := wrapped.Stream(ctx, helloReq); err == nil {
		t.Fatal("expected limiter error")
	}
	if n := len(m.Requests()); n != 0 {
		t.Fatalf("expected underlying model not to be called, got %d calls", n)
	}
}

func TestMiddlewareNilModel(t *testing.T) {
	if newAdaptiveRateLimiter(0, 0).Middleware()(nil) != nil {
		t.Fatal("expected nil model to stay nil")
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	small := estimateTokens(&provider.Request{Input: []provider.InputItem{provider.UserMessage("short")}})
	big := estimateTokens(&provider.Request{
		Instructions: "You are a helpful assistant.",
		Input: []provider.InputItem{
			provider.UserMessage(strings.Repeat("this is a much longer message ", 10)),
			provider.FunctionOutputInput("call_1", `{"status":"shipped"}`),
		},
	})
	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d", small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d", small, big)
	}
	if got := estimateTokens(&provider.Request{}); got != 500 {
		t.Fatalf("expected minimum estimate for empty request, got %d", got)
	}
}
