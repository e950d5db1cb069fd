package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gridlink/internal/monitor"
	"gridlink/internal/status"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the monitor service in the foreground",
		Long: "Run the monitor service until interrupted. It keeps status fresh, journals\n" +
			"status changes, and serves metrics and NATS events when configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := monitor.New(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			updates, unsub := svc.Subscribe(8)
			defer unsub()
			if err := svc.Start(runCtx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			return watchStatus(runCtx, updates, func(p status.Published) {
				if quiet {
					return
				}
				fmt.Fprintln(out, strings.Join(trimLines(renderSummary(p, colorize)), " "))
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print status changes")
	return cmd
}

// watchStatus calls show for every change of the derived statuses until ctx
// ends or the daemon is closed.
func watchStatus(ctx context.Context, updates <-chan status.Published, show func(status.Published)) error {
	var last status.Derived
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			if first || p.Derived != last {
				show(p)
			}
			first, last = false, p.Derived
			if p.Setup == status.SetupClosed {
				return nil
			}
		}
	}
}

func trimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}
