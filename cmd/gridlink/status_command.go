package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/refresh"
	"gridlink/internal/status"
	"gridlink/internal/statusbus"
)

// fetchStatus runs a single refresh cycle on a fresh channel and returns
// what it published.
func fetchStatus(ctx context.Context, c *commandContext) (status.Published, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return status.Published{}, err
	}
	client, err := c.connect(ctx)
	if err != nil {
		return status.Published{}, err
	}

	holder := status.NewHolder(logging.NewNop(), nil)
	connect := func(context.Context) (*ipc.Client, error) { return client, nil }
	loop := refresh.NewLoop(refresh.Options{
		ConnectAttempts: 1,
		FetchMessages:   false,
		MessageTail:     cfg.Refresh.MessageTail,
	}, connect, holder, logging.NewNop(), nil)
	defer loop.Invalidate()

	if err := loop.Cycle(ctx); err != nil {
		return status.Published{}, fmt.Errorf("read daemon status: %w", err)
	}
	return holder.Current(), nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, computing, and network status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := fetchStatus(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, statusbus.NewEvent(pub, time.Now()))
			}
			out := cmd.OutOrStdout()
			renderPublished(out, pub, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
