package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gridlink/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "gridlink")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Daemon.Address != filepath.Join(wantState, "daemon.sock") {
		t.Fatalf("unexpected daemon address: %q", cfg.Daemon.Address)
	}
	if cfg.Daemon.AuthFile != filepath.Join(wantState, "gui_rpc_auth.cfg") {
		t.Fatalf("unexpected auth file: %q", cfg.Daemon.AuthFile)
	}
	if cfg.RefreshInterval() != time.Second {
		t.Fatalf("unexpected refresh interval: %s", cfg.RefreshInterval())
	}
	if cfg.Operations.Attach.PollInterval() != time.Second {
		t.Fatalf("unexpected attach poll interval: %s", cfg.Operations.Attach.PollInterval())
	}
	if cfg.LockPath() != filepath.Join(wantState, "monitor.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "gridlink.toml")

	type payload struct {
		Daemon struct {
			Network string `toml:"network"`
			Address string `toml:"address"`
		} `toml:"daemon"`
		Operations struct {
			Attach struct {
				MaxAttempts    int `toml:"max_attempts"`
				PollIntervalMs int `toml:"poll_interval_ms"`
			} `toml:"attach"`
		} `toml:"operations"`
		Refresh struct {
			IntervalMs int `toml:"interval_ms"`
		} `toml:"refresh"`
	}
	custom := payload{}
	custom.Daemon.Network = "TCP"
	custom.Daemon.Address = "127.0.0.1:31416"
	custom.Operations.Attach.MaxAttempts = 3
	custom.Operations.Attach.PollIntervalMs = 250
	custom.Refresh.IntervalMs = 2500
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Daemon.Network != "tcp" {
		t.Fatalf("expected network to be lowercased, got %q", cfg.Daemon.Network)
	}
	if cfg.Daemon.Address != "127.0.0.1:31416" {
		t.Fatalf("tcp address must not be path-expanded, got %q", cfg.Daemon.Address)
	}
	if cfg.Operations.Attach.MaxAttempts != 3 {
		t.Fatalf("expected attach max attempts 3, got %d", cfg.Operations.Attach.MaxAttempts)
	}
	if cfg.Operations.Attach.PollInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected attach poll interval %s", cfg.Operations.Attach.PollInterval())
	}
	if cfg.Operations.LookupAccount.MaxAttempts != config.Default().Operations.LookupAccount.MaxAttempts {
		t.Fatalf("expected lookup default to survive partial override, got %d", cfg.Operations.LookupAccount.MaxAttempts)
	}
	if cfg.RefreshInterval() != 2500*time.Millisecond {
		t.Fatalf("unexpected refresh interval %s", cfg.RefreshInterval())
	}
}

func TestEnvVarOverridesDaemonAddress(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("GRIDLINK_DAEMON_ADDRESS", filepath.Join(tempDir, "env.sock"))
	t.Setenv("GRIDLINK_AUTH_FILE", filepath.Join(tempDir, "auth.cfg"))

	cfg, _, _, err := config.Load(filepath.Join(tempDir, "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Daemon.Address != filepath.Join(tempDir, "env.sock") {
		t.Errorf("expected daemon address from env, got %q", cfg.Daemon.Address)
	}
	if cfg.Daemon.AuthFile != filepath.Join(tempDir, "auth.cfg") {
		t.Errorf("expected auth file from env, got %q", cfg.Daemon.AuthFile)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[operations.acct_mgr]") {
		t.Fatalf("sample config missing operation budgets: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Operations.ProjectConfig.MaxAttempts != config.Default().Operations.ProjectConfig.MaxAttempts {
		t.Fatalf("sample and defaults disagree on project_config attempts: %d", cfg.Operations.ProjectConfig.MaxAttempts)
	}
	if !strings.Contains(cfg.Paths.StateDir, "gridlink") {
		t.Fatalf("expected state dir to contain gridlink, got %q", cfg.Paths.StateDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg = config.Default()
	cfg.Operations.Attach.MaxAttempts = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "operations.attach.max_attempts") {
		t.Fatalf("expected max_attempts error, got %v", err)
	}

	cfg = config.Default()
	cfg.Refresh.IntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for refresh interval")
	}

	cfg = config.Default()
	cfg.Daemon.Network = "udp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported network")
	}

	cfg = config.Default()
	cfg.Daemon.AutoLaunch = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when auto_launch has no binary")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for logging format")
	}
}
