// Command agentex hosts Agentex agents. The worker command runs a Temporal
// worker executing the invoke activity and the turn workflow; send, invoke and
// health drive a deployment from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

type cli struct {
	debug bool
	cfg   *Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "agentex",
		Short:         "Run and drive Agentex agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			format := log.FormatJSON
			if log.IsTerminal() {
				format = log.FormatTerminal
			}
			ctx := log.Context(cmd.Context(), log.WithFormat(format))
			if c.debug {
				ctx = log.Context(ctx, log.WithDebug())
				log.Debugf(ctx, "debug logs enabled")
			}
			cmd.SetContext(ctx)
			cfg, err := loadConfig()
			if err != nil {
				log.Error(ctx, err)
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logs")
	root.AddCommand(
		c.workerCmd(),
		c.sendCmd(),
		c.invokeCmd(),
		c.healthCmd(),
	)
	return root
}

// run executes fn with connected backends, logging its error.
func (c *cli) run(ctx context.Context, fn func(context.Context, *backends) error) error {
	b, err := connect(ctx, c.cfg)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "connect backends"})
		return err
	}
	defer func() {
		if err := b.close(context.WithoutCancel(ctx)); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close backends"})
		}
	}()
	if err := fn(ctx, b); err != nil {
		log.Error(ctx, err)
		return err
	}
	return nil
}
