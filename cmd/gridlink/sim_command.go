package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gridlink/internal/daemonctl"
	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/simdaemon"
)

func newSimCommand(ctx *commandContext) *cobra.Command {
	var (
		step      time.Duration
		pollDelay int
	)
	cmd := &cobra.Command{
		Use:    "sim",
		Short:  "Serve a simulated compute daemon on the configured address",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			secret, err := simSecret(cfg.Daemon.AuthFile)
			if err != nil {
				return err
			}

			sim := simdaemon.NewDemo(simdaemon.Options{PollsUntilDone: pollDelay, Logger: logger})
			if err := sim.Lock(filepath.Join(cfg.Paths.StateDir, "sim")); err != nil {
				return err
			}
			defer sim.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Daemon.Network == "unix" {
				_ = os.Remove(cfg.Daemon.Address)
			}
			srv, err := ipc.NewServer(runCtx, ipc.ServerOptions{
				Network:  cfg.Daemon.Network,
				Address:  cfg.Daemon.Address,
				Password: secret,
				Logger:   logger,
			}, sim)
			if err != nil {
				return err
			}
			srv.Serve()
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Simulated daemon listening on %s %s\n", cfg.Daemon.Network, srv.Addr())
			logger.Info("simulated daemon started",
				logging.String(logging.FieldEventType, "sim_started"),
				logging.String("address", srv.Addr().String()))

			ticker := time.NewTicker(step)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return nil
				case <-sim.Done():
					fmt.Fprintln(cmd.OutOrStdout(), "Simulated daemon asked to quit")
					return nil
				case <-ticker.C:
					sim.Step(0.05)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&step, "step", 2*time.Second, "Interval between work progress steps")
	cmd.Flags().IntVar(&pollDelay, "poll-delay", 2, "Polls reported in progress before each request/poll reply")
	return cmd
}

// simSecret reuses the configured auth file, creating one with a random
// secret when it is absent.
func simSecret(path string) (string, error) {
	secret, err := daemonctl.ReadAuthSecret(path)
	if err != nil {
		return "", err
	}
	if secret != "" || path == "" {
		return secret, nil
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("check auth file: %w", err)
	}
	secret = uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create auth file dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write auth file: %w", err)
	}
	return secret, nil
}

