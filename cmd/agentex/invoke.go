package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/provider"
)

func (c *cli) invokeCmd() *cobra.Command {
	var (
		taskID   string
		autoSend bool
		maxTurns int
	)
	cmd := &cobra.Command{
		Use:   "invoke <message>",
		Short: "Start the turn workflow and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if taskID == "" {
				taskID = uuid.NewString()
			}
			eng, err := c.newEngine(false)
			if err != nil {
				log.Error(ctx, err)
				return err
			}
			defer func() { _ = eng.Close() }()
			// The definition only names the workflow; workers never start
			// in this process.
			if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
				Name: TurnWorkflow,
				Handler: func(engine.WorkflowContext, *api.InvokeRequest) (*api.InvokeResult, error) {
					return nil, errors.New("turn workflow runs on the agentex worker")
				},
			}); err != nil {
				return err
			}

			req := &api.InvokeRequest{
				TaskID:   taskID,
				Agent:    c.cfg.AgentName,
				Input:    []provider.InputItem{provider.UserMessage(strings.Join(args, " "))},
				AutoSend: autoSend,
				MaxTurns: maxTurns,
			}
			res, err := invoke(ctx, eng, req)
			if err != nil {
				log.Error(ctx, err, log.KV{K: "task", V: taskID})
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task ID (generated when empty)")
	cmd.Flags().BoolVar(&autoSend, "auto-send", false, "Run the tool loop")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Bound the tool loop (0 uses the worker default)")
	return cmd
}

// invoke starts the turn workflow for req and waits for its result.
func invoke(ctx context.Context, eng engine.Engine, req *api.InvokeRequest) (*api.InvokeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       fmt.Sprintf("%s-%s", req.TaskID, uuid.NewString()),
		Workflow: TurnWorkflow,
		Input:    req,
	})
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait workflow: %w", err)
	}
	return res, nil
}
