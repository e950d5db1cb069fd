package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gridlink/internal/ipc"
)

func newPrefsCommand(ctx *commandContext) *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or override computing preferences",
	}
	prefsCmd.AddCommand(newPrefsShowCommand(ctx))
	prefsCmd.AddCommand(newPrefsSetCommand(ctx))
	return prefsCmd
}

func newPrefsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the working preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				prefs, err := client.GetGlobalPrefsWorking(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, prefs)
				}
				printPrefs(cmd.OutOrStdout(), prefs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// prefsFlags binds one flag per editable preference onto a copy of the
// working values.
type prefsFlags struct {
	values ipc.GlobalPrefs
}

func (p *prefsFlags) register(fs *pflag.FlagSet) {
	fs.Float64Var(&p.values.MaxNCPUsPct, "cpu-pct", 0, "Percentage of CPUs to use")
	fs.Float64Var(&p.values.CPUUsageLimit, "cpu-limit", 0, "Percentage of CPU time to use")
	fs.Float64Var(&p.values.SuspendCPUUsage, "suspend-cpu-usage", 0, "Suspend when non-gridlink CPU usage exceeds this percentage")
	fs.BoolVar(&p.values.RunOnBatteries, "run-on-batteries", false, "Compute while on battery power")
	fs.BoolVar(&p.values.RunIfUserActive, "run-if-user-active", false, "Compute while the computer is in use")
	fs.BoolVar(&p.values.RunGPUIfUserActive, "run-gpu-if-user-active", false, "Use the GPU while the computer is in use")
	fs.Float64Var(&p.values.StartHour, "start-hour", 0, "Compute only after this hour")
	fs.Float64Var(&p.values.EndHour, "end-hour", 0, "Compute only before this hour")
	fs.Float64Var(&p.values.NetStartHour, "net-start-hour", 0, "Transfer only after this hour")
	fs.Float64Var(&p.values.NetEndHour, "net-end-hour", 0, "Transfer only before this hour")
	fs.Float64Var(&p.values.DiskMaxUsedGB, "disk-max-gb", 0, "Use at most this many GB of disk")
	fs.Float64Var(&p.values.DiskMaxUsedPct, "disk-max-pct", 0, "Use at most this percentage of disk")
	fs.Float64Var(&p.values.WorkBufMinDays, "work-buf-min-days", 0, "Store at least this many days of work")
	fs.Float64Var(&p.values.WorkBufAdditionalDays, "work-buf-extra-days", 0, "Store up to this many additional days of work")
	fs.Float64Var(&p.values.DailyXferLimitMB, "daily-xfer-mb", 0, "Transfer at most this many MB per day")
	fs.BoolVar(&p.values.NetworkWifiOnly, "wifi-only", false, "Transfer only over wifi")
}

var prefsFlagNames = []string{
	"cpu-pct", "cpu-limit", "suspend-cpu-usage", "run-on-batteries", "run-if-user-active",
	"run-gpu-if-user-active", "start-hour", "end-hour", "net-start-hour", "net-end-hour",
	"disk-max-gb", "disk-max-pct", "work-buf-min-days", "work-buf-extra-days", "daily-xfer-mb", "wifi-only",
}

func (p *prefsFlags) changed(fs *pflag.FlagSet) bool {
	for _, name := range prefsFlagNames {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

// apply copies every flag the user set onto base.
func (p *prefsFlags) apply(fs *pflag.FlagSet, base ipc.GlobalPrefs) ipc.GlobalPrefs {
	set := func(name string, dst *float64, src float64) {
		if fs.Changed(name) {
			*dst = src
		}
	}
	setBool := func(name string, dst *bool, src bool) {
		if fs.Changed(name) {
			*dst = src
		}
	}
	v := p.values
	set("cpu-pct", &base.MaxNCPUsPct, v.MaxNCPUsPct)
	set("cpu-limit", &base.CPUUsageLimit, v.CPUUsageLimit)
	set("suspend-cpu-usage", &base.SuspendCPUUsage, v.SuspendCPUUsage)
	setBool("run-on-batteries", &base.RunOnBatteries, v.RunOnBatteries)
	setBool("run-if-user-active", &base.RunIfUserActive, v.RunIfUserActive)
	setBool("run-gpu-if-user-active", &base.RunGPUIfUserActive, v.RunGPUIfUserActive)
	set("start-hour", &base.StartHour, v.StartHour)
	set("end-hour", &base.EndHour, v.EndHour)
	set("net-start-hour", &base.NetStartHour, v.NetStartHour)
	set("net-end-hour", &base.NetEndHour, v.NetEndHour)
	set("disk-max-gb", &base.DiskMaxUsedGB, v.DiskMaxUsedGB)
	set("disk-max-pct", &base.DiskMaxUsedPct, v.DiskMaxUsedPct)
	set("work-buf-min-days", &base.WorkBufMinDays, v.WorkBufMinDays)
	set("work-buf-extra-days", &base.WorkBufAdditionalDays, v.WorkBufAdditionalDays)
	set("daily-xfer-mb", &base.DailyXferLimitMB, v.DailyXferLimitMB)
	setBool("wifi-only", &base.NetworkWifiOnly, v.NetworkWifiOnly)
	return base
}

func newPrefsSetCommand(ctx *commandContext) *cobra.Command {
	flags := &prefsFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Override preferences and reload them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flags.changed(cmd.Flags()) {
				return fmt.Errorf("no preferences given; see gridlink prefs set --help")
			}
			return ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				prefs, err := overridePrefs(cmd.Context(), client, func(current ipc.GlobalPrefs) ipc.GlobalPrefs {
					return flags.apply(cmd.Flags(), current)
				})
				if err != nil {
					return err
				}
				printPrefs(cmd.OutOrStdout(), prefs)
				return nil
			})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// overridePrefs reads the working preferences, writes the edited override,
// asks the daemon to reload it, and returns the new working values.
func overridePrefs(ctx context.Context, client *ipc.Client, edit func(ipc.GlobalPrefs) ipc.GlobalPrefs) (*ipc.GlobalPrefs, error) {
	current, err := client.GetGlobalPrefsWorking(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.SetGlobalPrefsOverride(ctx, edit(*current)); err != nil {
		return nil, err
	}
	if err := client.ReadGlobalPrefsOverride(ctx); err != nil {
		return nil, err
	}
	return client.GetGlobalPrefsWorking(ctx)
}

func printPrefs(w io.Writer, p *ipc.GlobalPrefs) {
	rows := [][]string{
		{"CPUs", fmt.Sprintf("%.0f%%", p.MaxNCPUsPct)},
		{"CPU time", fmt.Sprintf("%.0f%%", p.CPUUsageLimit)},
		{"Suspend above CPU usage", fmt.Sprintf("%.0f%%", p.SuspendCPUUsage)},
		{"Run on batteries", yesNo(p.RunOnBatteries)},
		{"Run while in use", yesNo(p.RunIfUserActive)},
		{"GPU while in use", yesNo(p.RunGPUIfUserActive)},
		{"Compute hours", hourRange(p.StartHour, p.EndHour)},
		{"Network hours", hourRange(p.NetStartHour, p.NetEndHour)},
		{"Disk limit", fmt.Sprintf("%.1f GB / %.0f%%", p.DiskMaxUsedGB, p.DiskMaxUsedPct)},
		{"Work buffer", fmt.Sprintf("%.2f + %.2f days", p.WorkBufMinDays, p.WorkBufAdditionalDays)},
		{"Daily transfer limit", fmt.Sprintf("%.0f MB", p.DailyXferLimitMB)},
		{"Wifi only", yesNo(p.NetworkWifiOnly)},
	}
	fmt.Fprintln(w, renderTable([]string{"Preference", "Value"}, rows, 1))
}

func hourRange(start, end float64) string {
	if start == end {
		return "any time"
	}
	return fmt.Sprintf("%02.0f:00-%02.0f:00", start, end)
}
