package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"gridlink/internal/journal"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled status changes, attach outcomes, and tasks",
	}
	cmd.AddCommand(newHistoryStatusCommand(ctx))
	cmd.AddCommand(newHistoryAttachCommand(ctx))
	cmd.AddCommand(newHistoryTasksCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func withJournal(ctx *commandContext, fn func(*journal.Journal) error) error {
	j, err := ctx.openJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	return fn(j)
}

func newHistoryStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status transitions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(ctx, func(j *journal.Journal) error {
				entries, err := j.ListStatus(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No status history")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						formatHistoryTime(e.RecordedAt),
						e.Setup,
						withReason(e.Computing, e.ComputingReason),
						withReason(e.Network, e.NetworkReason),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Time", "Setup", "Computing", "Network"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newHistoryAttachCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "attach [target]",
		Short: "Show attach and account manager outcomes, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return withJournal(ctx, func(j *journal.Journal) error {
				entries, err := j.ListAttach(cmd.Context(), target, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No attach history")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					code := ""
					if e.Code != 0 {
						code = strconv.Itoa(e.Code)
					}
					rows = append(rows, []string{formatHistoryTime(e.RecordedAt), e.Kind, e.Target, e.Outcome, code, e.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Time", "Kind", "Target", "Outcome", "Code", "Detail"}, rows, 4))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newHistoryTasksCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Show finished write tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(ctx, func(j *journal.Journal) error {
				entries, err := j.ListTasks(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No task history")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						formatHistoryTime(e.FinishedAt),
						e.Kind,
						e.Target,
						e.Result,
						e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String(),
						e.Error,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Finished", "Kind", "Target", "Result", "Took", "Error"}, rows, 4))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withJournal(ctx, func(j *journal.Journal) error {
				n, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d journal entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the oldest entry to keep")
	return cmd
}

func formatHistoryTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(historyTimeLayout)
}

func withReason(state, reason string) string {
	if reason == "" {
		return state
	}
	return state + " (" + reason + ")"
}
