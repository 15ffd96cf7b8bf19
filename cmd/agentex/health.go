package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the state store and the message transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), func(ctx context.Context, b *backends) error {
				h, ok := b.check(ctx)
				if err := json.NewEncoder(os.Stdout).Encode(h); err != nil {
					return err
				}
				if !ok {
					return errors.New("unhealthy dependencies")
				}
				return nil
			})
		},
	}
}
