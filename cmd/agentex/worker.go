package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/engine/temporal"
	"github.com/agentex/agentex-go/runtime/agent/runner"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

// TurnWorkflow is the workflow running one agent invocation.
const TurnWorkflow = "agentex.turn"

func (c *cli) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker hosting the invoke activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), func(ctx context.Context, b *backends) error {
				eng, err := c.newEngine(true)
				if err != nil {
					return err
				}
				defer func() {
					if err := eng.Close(); err != nil {
						log.Error(ctx, err, log.KV{K: "msg", V: "close engine"})
					}
				}()
				if err := c.registerAgent(ctx, eng, b); err != nil {
					return err
				}
				w := eng.Worker()
				w.Start()
				log.Print(ctx,
					log.KV{K: "msg", V: "worker started"},
					log.KV{K: "task-queue", V: c.cfg.TaskQueue},
					log.KV{K: "agent", V: c.cfg.AgentName})
				<-ctx.Done()
				log.Print(ctx, log.KV{K: "msg", V: "worker stopping"})
				w.Stop()
				return nil
			})
		},
	}
}

// newEngine builds the Temporal engine. Workers only start when hosting.
func (c *cli) newEngine(hosting bool) (*temporal.Engine, error) {
	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{
			HostPort:  c.cfg.TemporalHostPort,
			Namespace: c.cfg.TemporalNamespace,
		},
		WorkerOptions:          temporal.WorkerOptions{TaskQueue: c.cfg.TaskQueue},
		DisableWorkerAutoStart: !hosting,
		Logger:                 telemetry.NewClueLogger(),
		Metrics:                telemetry.NewOTelMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal engine: %w", err)
	}
	return eng, nil
}

// registerAgent registers the configured agent, the invoke activity and the
// turn workflow with eng.
func (c *cli) registerAgent(ctx context.Context, eng engine.Engine, b *backends) error {
	logger := telemetry.NewClueLogger()
	r, err := runner.New(runner.Options{
		Model:   b.model,
		Streams: b.streams,
		Tracer: tracing.New(tracing.Options{
			Processors: []tracing.Processor{tracing.NewOTelProcessor(telemetry.NewOTelTracer())},
			Logger:     logger,
		}),
		Logger:            logger,
		Metrics:           telemetry.NewOTelMetrics(),
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		MaxTurns:          c.cfg.MaxTurns,
	})
	if err != nil {
		return err
	}
	if err := r.Register(runner.Agent{
		Name:         c.cfg.AgentName,
		Model:        c.cfg.Model,
		Instructions: c.cfg.Instructions,
	}); err != nil {
		return err
	}
	if err := r.RegisterActivity(ctx, eng); err != nil {
		return err
	}
	return eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: TurnWorkflow,
		Handler: func(wctx engine.WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error) {
			return r.InvokeAgent(wctx.Context(), req)
		},
	})
}
