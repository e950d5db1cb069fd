package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"gridlink/internal/config"
	"gridlink/internal/daemonctl"
	"gridlink/internal/ipc"
	"gridlink/internal/journal"
	"gridlink/internal/logging"
)

type commandContext struct {
	configFlag  *string
	addressFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, addressFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		addressFlag: addressFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.addressFlag != nil {
			if addr := strings.TrimSpace(*c.addressFlag); addr != "" {
				cfg.Daemon.Address = addr
				cfg.Daemon.Network = networkFor(addr)
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// networkFor treats anything that looks like a path as a unix socket.
func networkFor(address string) string {
	if strings.HasPrefix(address, "/") || strings.HasPrefix(address, ".") || strings.HasPrefix(address, "~") {
		return "unix"
	}
	return "tcp"
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// connect returns an authorized channel, launching the daemon first when
// daemon.auto_launch is set.
func (c *commandContext) connect(ctx context.Context) (*ipc.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, _, err := daemonctl.EnsureRunning(ctx, cfg)
	if err != nil {
		return nil, wrapConnectError(err, cfg)
	}
	return client, nil
}

func (c *commandContext) withClient(ctx context.Context, fn func(*ipc.Client) error) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) openJournal() (*journal.Journal, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return journal.Open(cfg)
}

func wrapConnectError(err error, cfg *config.Config) error {
	switch {
	case errors.Is(err, daemonctl.ErrDaemonNotRunning):
		return fmt.Errorf("connect to daemon: nothing is listening on %s %s; start the daemon or set daemon.auto_launch", cfg.Daemon.Network, cfg.Daemon.Address)
	case errors.Is(err, daemonctl.ErrAuthFileUnreadable):
		return fmt.Errorf("connect to daemon: %w (check daemon.auth_file permissions)", err)
	case errors.Is(err, ipc.ErrAuthRejected):
		return fmt.Errorf("connect to daemon: the daemon rejected the secret in %s", cfg.Daemon.AuthFile)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
