package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gridlink/internal/attach"
	"gridlink/internal/ipc"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	ops := make([]string, 0, len(ipc.ProjectOps))
	for _, op := range ipc.ProjectOps {
		ops = append(ops, string(op))
	}
	return &cobra.Command{
		Use:       "project <operation> <url>",
		Short:     "Run an operation on an attached project",
		Long:      "Run an operation on an attached project. Operations: " + strings.Join(ops, ", ") + ".",
		Args:      cobra.ExactArgs(2),
		ValidArgs: ops,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := ipc.ParseProjectOp(args[0])
			if err != nil {
				return err
			}
			url := attach.CanonicalURL(args[1])
			if err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				return client.ProjectOp(cmd.Context(), op, url)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s done\n", url, op)
			return nil
		},
	}
}

func newTransferCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "transfer <retry|abort> <project-url> <file>",
		Short:     "Retry or abort a file transfer",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{string(ipc.TransferRetry), string(ipc.TransferAbort)},
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := ipc.ParseTransferOp(args[0])
			if err != nil {
				return err
			}
			url := attach.CanonicalURL(args[1])
			name := strings.TrimSpace(args[2])
			if err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				return client.TransferOp(cmd.Context(), op, url, name)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s done\n", name, op)
			return nil
		},
	}
}

func newQuitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Ask the daemon to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				return client.Quit(cmd.Context())
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon asked to quit")
			return nil
		},
	}
}
