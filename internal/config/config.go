package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Daemon describes how to reach, authorize against, and optionally launch the
// compute daemon.
type Daemon struct {
	Network           string   `toml:"network"`
	Address           string   `toml:"address"`
	AuthFile          string   `toml:"auth_file"`
	Binary            string   `toml:"binary"`
	Args              []string `toml:"args"`
	AutoLaunch        bool     `toml:"auto_launch"`
	ConnectAttempts   int      `toml:"connect_attempts"`
	ConnectIntervalMs int      `toml:"connect_interval_ms"`
	CallTimeoutMs     int      `toml:"call_timeout_ms"`
}

// Refresh contains the status polling loop settings.
type Refresh struct {
	IntervalMs    int  `toml:"interval_ms"`
	FetchMessages bool `toml:"fetch_messages"`
	MessageTail   int  `toml:"message_tail"`
}

// Operation holds the retry budget for one request/poll operation kind.
type Operation struct {
	MaxAttempts    int `toml:"max_attempts"`
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// Operations groups the retry budgets by operation kind.
type Operations struct {
	Attach        Operation `toml:"attach"`
	LookupAccount Operation `toml:"lookup_account"`
	CreateAccount Operation `toml:"create_account"`
	AcctMgr       Operation `toml:"acct_mgr"`
	ProjectConfig Operation `toml:"project_config"`
}

// AcctMgr contains account manager synchronization settings.
type AcctMgr struct {
	SyncIntervalMinutes int `toml:"sync_interval_minutes"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// NATS controls status fan-out to a NATS subject.
type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for gridlink.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Daemon: daemon address, shared secret, launch settings
//   - Refresh: status polling cadence and message tail
//   - Operations: per-kind retry budgets for request/poll RPCs
//   - AcctMgr: periodic account manager sync
//   - Metrics: Prometheus bind address
//   - NATS: status publication
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Daemon     Daemon     `toml:"daemon"`
	Refresh    Refresh    `toml:"refresh"`
	Operations Operations `toml:"operations"`
	AcctMgr    AcctMgr    `toml:"acct_mgr"`
	Metrics    Metrics    `toml:"metrics"`
	NATS       NATS       `toml:"nats"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads ./.env when present. Variables already set in the
// environment win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gridlink.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file used by the monitor.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "monitor.lock")
}

// JournalPath returns the sqlite history database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// RefreshInterval returns the pause between refresh cycles.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMs) * time.Millisecond
}

// ConnectInterval returns the pause between startup connection attempts.
func (c *Config) ConnectInterval() time.Duration {
	return time.Duration(c.Daemon.ConnectIntervalMs) * time.Millisecond
}

// CallTimeout bounds a single RPC round trip.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Daemon.CallTimeoutMs) * time.Millisecond
}

// AcctMgrSyncInterval returns the account manager sync period, or zero when disabled.
func (c *Config) AcctMgrSyncInterval() time.Duration {
	return time.Duration(c.AcctMgr.SyncIntervalMinutes) * time.Minute
}

// PollInterval returns the operation's poll interval as a duration.
func (o Operation) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
