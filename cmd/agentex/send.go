package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
	"github.com/agentex/agentex-go/runtime/agent/turn"
)

type sendFlags struct {
	taskID string
	state  string
	json   bool
}

func (c *cli) sendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Run one conversational turn and stream the reply to the task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" && f.state == "" {
				return errors.New("a message or --state is required")
			}
			if f.taskID == "" {
				f.taskID = uuid.NewString()
			}
			return c.run(cmd.Context(), func(ctx context.Context, b *backends) error {
				co, err := c.newCoordinator(b, f.json)
				if err != nil {
					return err
				}
				ctx = log.With(ctx, log.KV{K: "task", V: f.taskID})
				if f.state != "" {
					var data map[string]any
					if err := json.Unmarshal([]byte(f.state), &data); err != nil {
						return fmt.Errorf("parse --state: %w", err)
					}
					if err := co.InitState(ctx, f.taskID, data, b.sink); err != nil {
						return err
					}
				}
				if text != "" {
					if err := co.SendTurn(ctx, turn.TurnInput{TaskID: f.taskID, Text: text}, b.sink); err != nil {
						return err
					}
				}
				log.Print(ctx, log.KV{K: "msg", V: "turn sent"})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.taskID, "task", "", "Task ID (generated when empty)")
	cmd.Flags().StringVar(&f.state, "state", "", "Conversation state JSON to initialize before the turn")
	cmd.Flags().BoolVar(&f.json, "json", false, "Request structured JSON responses")
	return cmd
}

func (c *cli) newCoordinator(b *backends, jsonFormat bool) (*turn.Coordinator, error) {
	logger := telemetry.NewClueLogger()
	format := turn.FormatText
	if jsonFormat {
		format = turn.FormatJSON
	}
	return turn.New(turn.Options{
		Store:          b.states,
		Model:          b.model,
		AgentID:        c.cfg.AgentName,
		ModelName:      c.cfg.Model,
		Instructions:   c.cfg.Instructions,
		ResponseFormat: format,
		Tracer: tracing.New(tracing.Options{
			Processors: []tracing.Processor{tracing.NewOTelProcessor(telemetry.NewOTelTracer())},
			Logger:     logger,
		}),
		Logger:  logger,
		Metrics: telemetry.NewOTelMetrics(),
	})
}
