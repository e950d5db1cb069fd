package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gridlink/internal/ipc"
)

func newModeCommand(ctx *commandContext) *cobra.Command {
	modeCmd := &cobra.Command{
		Use:   "mode",
		Short: "Change the compute or network mode",
	}
	modeCmd.AddCommand(newModeSetCommand(ctx, "run", "compute"))
	modeCmd.AddCommand(newModeSetCommand(ctx, "network", "network"))
	return modeCmd
}

func newModeSetCommand(ctx *commandContext, use, what string) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:       use + " <always|auto|never|restore>",
		Short:     fmt.Sprintf("Set the %s mode", what),
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"always", "auto", "never", "restore"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := ipc.ParseRunMode(args[0])
			if err != nil {
				return err
			}
			if duration < 0 {
				return fmt.Errorf("--for must not be negative")
			}
			err = ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				if use == "network" {
					return client.SetNetworkMode(cmd.Context(), mode, duration)
				}
				return client.SetRunMode(cmd.Context(), mode, duration)
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if duration > 0 {
				fmt.Fprintf(out, "%s mode set to %s for %s\n", what, mode, duration)
			} else {
				fmt.Fprintf(out, "%s mode set to %s\n", what, mode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "Make the change temporary (e.g. 30m)")
	return cmd
}
