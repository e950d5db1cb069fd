package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gridlink/internal/attach"
	"gridlink/internal/ipc"
	"gridlink/internal/journal"
	"gridlink/internal/logging"
)

// withSaga runs fn with a saga bound to a fresh channel. Final outcomes are
// journaled.
func (c *commandContext) withSaga(ctx context.Context, fn func(*attach.Saga) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	j, err := c.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	return c.withClient(ctx, func(client *ipc.Client) error {
		channel := func() (*ipc.Client, error) { return client, nil }
		saga := attach.NewSaga(channel, attach.BudgetsFromConfig(cfg), logger, nil)
		saga.OnResolved(func(ev attach.Event) { journalAttach(j, logger, ev) })
		return fn(saga)
	})
}

type attachRecorder interface {
	RecordAttach(ctx context.Context, e journal.AttachEntry) error
}

// journalAttach records a final attach outcome. Account manager events with
// no URL are recorded against "none".
func journalAttach(rec attachRecorder, logger *slog.Logger, ev attach.Event) {
	target := ev.Target.URL
	if target == "" {
		target = "none"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.RecordAttach(ctx, journal.AttachEntry{
		Kind:    ev.Kind,
		Target:  target,
		Outcome: ev.Outcome.String(),
		Code:    ev.Target.Code,
		Detail:  ev.Target.Detail,
	}); err != nil {
		logger.Warn("failed to journal attach outcome",
			logging.String(logging.FieldTarget, target),
			logging.Error(err))
	}
}

type credentialFlags struct {
	email         string
	user          string
	password      string
	passwordStdin bool
	team          string
	login         bool
	agreeTerms    bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "Account email address")
	cmd.Flags().StringVar(&f.user, "user", "", "Account user name (for projects that use user names)")
	cmd.Flags().StringVar(&f.password, "password", "", "Account password (or set GRIDLINK_PASSWORD)")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().StringVar(&f.team, "team", "", "Team to join when registering")
	cmd.Flags().BoolVar(&f.login, "login", false, "Use an existing account instead of registering")
	cmd.Flags().BoolVar(&f.agreeTerms, "agree-terms", false, "Accept the project's terms of use")
}

func (f *credentialFlags) credentials(in io.Reader) (attach.Credentials, error) {
	password := f.password
	if f.passwordStdin {
		data, err := io.ReadAll(io.LimitReader(in, 4096))
		if err != nil {
			return attach.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(string(data), "\r\n")
	}
	if password == "" {
		password = os.Getenv("GRIDLINK_PASSWORD")
	}
	if strings.TrimSpace(f.email) == "" && strings.TrimSpace(f.user) == "" {
		return attach.Credentials{}, errors.New("--email or --user is required")
	}
	if password == "" {
		return attach.Credentials{}, errors.New("a password is required (--password, --password-stdin, or GRIDLINK_PASSWORD)")
	}
	return attach.Credentials{
		Email:          f.email,
		UserName:       f.user,
		Password:       password,
		TeamName:       f.team,
		ConsentToTerms: f.agreeTerms,
	}, nil
}

func newAttachCommand(ctx *commandContext) *cobra.Command {
	flags := &credentialFlags{}

	cmd := &cobra.Command{
		Use:   "attach <url> [url...]",
		Short: "Attach the daemon to one or more projects",
		Long: "Attach the daemon to one or more projects. Each project's configuration is\n" +
			"downloaded first; an account is then registered (or looked up with --login,\n" +
			"or when the project disables registration) and the daemon attached.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := flags.credentials(cmd.InOrStdin())
			if err != nil {
				return err
			}
			opts := attach.Options{ForceLogin: flags.login}
			var results []attach.Target
			err = ctx.withSaga(cmd.Context(), func(saga *attach.Saga) error {
				if len(args) == 1 {
					target, err := saga.AttachProject(cmd.Context(), args[0], creds, opts)
					if target.URL == "" {
						return err
					}
					results = append(results, target)
					return nil
				}
				targets := make([]attach.Target, 0, len(args))
				for _, url := range args {
					targets = append(targets, attach.Target{URL: url})
				}
				saga.Select(targets...)
				if err := saga.StartConfigFetch(cmd.Context()); err != nil {
					return err
				}
				if err := saga.WaitConfigFetch(cmd.Context()); err != nil {
					return err
				}
				if _, err := saga.AttachBatch(cmd.Context(), creds, opts); err != nil {
					return err
				}
				results = saga.Targets()
				return nil
			})
			if err != nil {
				return err
			}
			printTargets(cmd.OutOrStdout(), results)
			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d of %d projects not attached", failed, len(results))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func countFailed(targets []attach.Target) int {
	n := 0
	for _, t := range targets {
		if t.Outcome != attach.OutcomeSuccess {
			n++
		}
	}
	return n
}

func printTargets(w io.Writer, targets []attach.Target) {
	if len(targets) == 0 {
		return
	}
	rows := make([][]string, 0, len(targets))
	for _, t := range targets {
		detail := t.Detail
		if detail == "" && t.Code != 0 {
			detail = ipc.CodeName(t.Code)
		}
		rows = append(rows, []string{t.URL, t.Name, t.Outcome.String(), detail})
	}
	fmt.Fprintln(w, renderTable([]string{"URL", "Project", "Outcome", "Detail"}, rows))
}
