package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeOperations()
	c.normalizeOutputs()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() error {
	if value, ok := os.LookupEnv("GRIDLINK_DAEMON_ADDRESS"); ok && strings.TrimSpace(value) != "" {
		c.Daemon.Address = value
	}
	if value, ok := os.LookupEnv("GRIDLINK_AUTH_FILE"); ok && strings.TrimSpace(value) != "" {
		c.Daemon.AuthFile = value
	}

	c.Daemon.Network = strings.ToLower(strings.TrimSpace(c.Daemon.Network))
	if c.Daemon.Network == "" {
		c.Daemon.Network = defaultDaemonNetwork
	}
	c.Daemon.Address = strings.TrimSpace(c.Daemon.Address)

	var err error
	if c.Daemon.Network == "unix" {
		if c.Daemon.Address, err = expandPath(c.Daemon.Address); err != nil {
			return fmt.Errorf("daemon.address: %w", err)
		}
	}
	if c.Daemon.AuthFile, err = expandPath(strings.TrimSpace(c.Daemon.AuthFile)); err != nil {
		return fmt.Errorf("daemon.auth_file: %w", err)
	}
	c.Daemon.Binary = strings.TrimSpace(c.Daemon.Binary)
	if c.Daemon.CallTimeoutMs <= 0 {
		c.Daemon.CallTimeoutMs = defaultCallTimeoutMs
	}
	return nil
}

func (c *Config) normalizeOperations() {
	for _, op := range []*Operation{
		&c.Operations.Attach,
		&c.Operations.LookupAccount,
		&c.Operations.CreateAccount,
		&c.Operations.AcctMgr,
		&c.Operations.ProjectConfig,
	} {
		if op.PollIntervalMs <= 0 {
			op.PollIntervalMs = defaultPollIntervalMs
		}
	}
	if c.Refresh.MessageTail <= 0 {
		c.Refresh.MessageTail = defaultMessageTail
	}
}

func (c *Config) normalizeOutputs() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	c.NATS.URL = strings.TrimSpace(c.NATS.URL)
	c.NATS.Subject = strings.TrimSpace(c.NATS.Subject)
	if c.NATS.Subject == "" {
		c.NATS.Subject = defaultNATSSubject
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
