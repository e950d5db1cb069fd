package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gridlink/internal/attach"
	"gridlink/internal/ipc"
)

func newAcctMgrCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acctmgr",
		Short: "Manage the account manager association",
	}
	cmd.AddCommand(newAcctMgrAttachCommand(ctx))
	cmd.AddCommand(newAcctMgrSyncCommand(ctx))
	cmd.AddCommand(newAcctMgrInfoCommand(ctx))
	cmd.AddCommand(newAcctMgrDetachCommand(ctx))
	return cmd
}

func newAcctMgrAttachCommand(ctx *commandContext) *cobra.Command {
	flags := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "attach <url>",
		Short: "Attach the daemon to an account manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := flags.credentials(cmd.InOrStdin())
			if err != nil {
				return err
			}
			name := creds.UserName
			if name == "" {
				name = creds.Email
			}
			return runAcctMgr(cmd, ctx, func(saga *attach.Saga) (attach.Target, error) {
				return saga.AttachAccountManager(cmd.Context(), args[0], name, creds.Password)
			})
		},
	}
	cmd.Flags().StringVar(&flags.email, "email", "", "Account manager login (email)")
	cmd.Flags().StringVar(&flags.user, "user", "", "Account manager login (user name)")
	cmd.Flags().StringVar(&flags.password, "password", "", "Account manager password (or set GRIDLINK_PASSWORD)")
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newAcctMgrSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the attached account manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAcctMgr(cmd, ctx, func(saga *attach.Saga) (attach.Target, error) {
				target, err := saga.SyncAccountManager(cmd.Context())
				if errors.Is(err, attach.ErrNoAccountManager) {
					return target, errors.New("the daemon is not attached to an account manager")
				}
				return target, err
			})
		},
	}
}

func newAcctMgrDetachCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "detach",
		Short: "Remove the account manager association",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAcctMgr(cmd, ctx, func(saga *attach.Saga) (attach.Target, error) {
				return saga.DetachAccountManager(cmd.Context())
			})
		},
	}
}

func newAcctMgrInfoCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the account manager association",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var info *ipc.AcctMgrInfo
			if err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				var err error
				info, err = client.GetAcctMgrInfo(cmd.Context())
				return err
			}); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, info)
			}
			printAcctMgrInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runAcctMgr(cmd *cobra.Command, ctx *commandContext, fn func(*attach.Saga) (attach.Target, error)) error {
	var target attach.Target
	err := ctx.withSaga(cmd.Context(), func(saga *attach.Saga) error {
		var err error
		target, err = fn(saga)
		return err
	})
	if target.Outcome != attach.OutcomeUninitialized {
		printTargets(cmd.OutOrStdout(), []attach.Target{target})
	}
	if err != nil {
		return err
	}
	if target.Outcome != attach.OutcomeSuccess {
		return fmt.Errorf("account manager operation ended %s", target.Outcome)
	}
	return nil
}

func printAcctMgrInfo(w io.Writer, info *ipc.AcctMgrInfo) {
	if !info.Attached() {
		fmt.Fprintln(w, "No account manager attached")
		return
	}
	rows := [][]string{
		{"URL", info.URL},
		{"Name", info.Name},
		{"Credentials", yesNo(info.HaveCredentials)},
		{"Cookie required", yesNo(info.CookieRequired)},
	}
	if info.CookieFailureURL != "" {
		rows = append(rows, []string{"Cookie failure URL", info.CookieFailureURL})
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows))
}
