package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateRefresh(); err != nil {
		return err
	}
	if err := c.validateOperations(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.AcctMgr.SyncIntervalMinutes < 0 {
		return errors.New("acct_mgr.sync_interval_minutes must be >= 0")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	switch c.Daemon.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("daemon.network must be unix or tcp, got %q", c.Daemon.Network)
	}
	if c.Daemon.Address == "" {
		return errors.New("daemon.address must be set")
	}
	if c.Daemon.AutoLaunch && c.Daemon.Binary == "" {
		return errors.New("daemon.binary must be set when daemon.auto_launch is true")
	}
	if c.Daemon.ConnectIntervalMs < 0 {
		return errors.New("daemon.connect_interval_ms must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"daemon.connect_attempts": c.Daemon.ConnectAttempts,
		"daemon.call_timeout_ms":  c.Daemon.CallTimeoutMs,
	})
}

func (c *Config) validateRefresh() error {
	if c.Refresh.IntervalMs <= 0 {
		return errors.New("refresh.interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateOperations() error {
	return ensurePositiveMap(map[string]int{
		"operations.attach.max_attempts":         c.Operations.Attach.MaxAttempts,
		"operations.lookup_account.max_attempts": c.Operations.LookupAccount.MaxAttempts,
		"operations.create_account.max_attempts": c.Operations.CreateAccount.MaxAttempts,
		"operations.acct_mgr.max_attempts":       c.Operations.AcctMgr.MaxAttempts,
		"operations.project_config.max_attempts": c.Operations.ProjectConfig.MaxAttempts,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
