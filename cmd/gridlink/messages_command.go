package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gridlink/internal/ipc"
)

func newMessagesCommand(ctx *commandContext) *cobra.Command {
	var since int
	var tail int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show the daemon's event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			var msgs []ipc.Message
			err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				var err error
				msgs, err = client.GetMessages(cmd.Context(), since)
				return err
			})
			if err != nil {
				return err
			}
			if tail > 0 && len(msgs) > tail {
				msgs = msgs[len(msgs)-tail:]
			}
			if jsonOutput {
				return writeJSON(cmd, msgs)
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}
			rows := make([][]string, 0, len(msgs))
			for _, m := range msgs {
				project := m.Project
				if project == "" {
					project = "-"
				}
				rows = append(rows, []string{
					fmt.Sprint(m.Seqno),
					m.Timestamp.Local().Format("2006-01-02 15:04:05"),
					project,
					strings.TrimSpace(m.Body),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Seq", "Time", "Project", "Message"}, rows, 0))
			return nil
		},
	}
	cmd.Flags().IntVar(&since, "since", 0, "Only show messages after this sequence number")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "Show at most this many of the newest messages (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
