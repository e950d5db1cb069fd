package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gridlink/internal/daemonctl"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check local prerequisites and daemon connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			checks := daemonctl.LocalChecks(cfg)
			connect := daemonctl.Check{Name: "Daemon"}
			client, err := daemonctl.NewConnector(cfg).Connect(cmd.Context())
			if err != nil {
				connect.Detail = fmt.Sprintf("%s %s (error: %v)", cfg.Daemon.Network, cfg.Daemon.Address, err)
			} else {
				version := ""
				if st, err := client.GetStatus(cmd.Context()); err == nil {
					version = fmt.Sprintf(", task mode %s", st.TaskMode)
				}
				_ = client.Close()
				connect.Passed = true
				connect.Detail = fmt.Sprintf("%s %s (authorized%s)", cfg.Daemon.Network, cfg.Daemon.Address, version)
			}
			checks = append(checks, connect)

			failed := 0
			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, c := range checks {
				kind := statusOK
				if !c.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(c.Name, kind, c.Detail, colorize))
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

