package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/features/model/bedrock"
	"github.com/agentex/agentex-go/runtime/agent/api"
	engineinmem "github.com/agentex/agentex-go/runtime/agent/engine/inmem"
	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/provider/providertest"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/stream/inmem"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "localhost:7233", cfg.TemporalHostPort)
	require.Equal(t, "agentex", cfg.TaskQueue)
	require.Equal(t, "redis", cfg.Transport)
	require.Equal(t, int64(10000), cfg.StreamMaxLen)
	require.Equal(t, 5*time.Second, cfg.MongoTimeout)
	require.Equal(t, "gpt-4o", cfg.defaultModel())
	require.Zero(t, cfg.RateLimitTPM)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AGENTEX_TRANSPORT", "pulse")
	t.Setenv("AGENTEX_PROVIDER", "anthropic")
	t.Setenv("AGENTEX_HEARTBEAT_INTERVAL", "3s")
	t.Setenv("AGENTEX_RATE_LIMIT_TPM", "20000")
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "pulse", cfg.Transport)
	require.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	require.InDelta(t, 20000, cfg.RateLimitTPM, 0)
	require.Equal(t, "claude-sonnet-4-5", cfg.defaultModel())

	t.Setenv("AGENTEX_MODEL", "claude-opus-4-1")
	cfg, err = loadConfig()
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-1", cfg.defaultModel())
}

func TestNewModelBedrock(t *testing.T) {
	t.Setenv("AGENTEX_PROVIDER", "bedrock")
	t.Setenv("AGENTEX_AWS_REGION", "us-west-2")
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", cfg.defaultModel())

	model, err := newModel(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &bedrock.Client{}, model)
}

func TestLoadConfigRejectsUnknownValues(t *testing.T) {
	t.Setenv("AGENTEX_TRANSPORT", "kafka")
	_, err := loadConfig()
	require.ErrorContains(t, err, "unknown transport")

	t.Setenv("AGENTEX_TRANSPORT", "redis")
	t.Setenv("AGENTEX_PROVIDER", "gemini")
	_, err = loadConfig()
	require.ErrorContains(t, err, "unknown provider")

	t.Setenv("AGENTEX_PROVIDER", "openai")
	t.Setenv("AGENTEX_MAX_TURNS", "many")
	_, err = loadConfig()
	require.ErrorContains(t, err, "load config")
}

func TestInvokeRunsRegisteredAgent(t *testing.T) {
	ctx := context.Background()
	sink := inmem.NewRecorder()
	streams, err := stream.NewService(stream.Options{Sink: sink, Store: inmem.NewStore()})
	require.NoError(t, err)
	model := providertest.NewModel(providertest.TextResponse("msg_1", "Hello", " there"))
	c := &cli{cfg: &Config{AgentName: "assistant", Instructions: "Be kind.", MaxTurns: 3}}
	eng := engineinmem.New()
	require.NoError(t, c.registerAgent(ctx, eng, &backends{model: model, streams: streams, sink: sink}))

	res, err := invoke(ctx, eng, &api.InvokeRequest{
		TaskID: "task-1",
		Agent:  "assistant",
		Input:  []provider.InputItem{provider.UserMessage("hi")},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello there", res.FinalOutput)
	require.Equal(t, "Be kind.", model.Requests()[0].Instructions)

	updates := sink.Updates("task-1")
	require.NotEmpty(t, updates)
	_, ok := updates[len(updates)-1].(message.DoneUpdate)
	require.True(t, ok)
}

func TestInvokeValidatesRequest(t *testing.T) {
	_, err := invoke(context.Background(), engineinmem.New(), &api.InvokeRequest{Agent: "assistant"})
	require.ErrorContains(t, err, "task id is required")
}
