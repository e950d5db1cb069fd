package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gridlink/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Intervals are shortened so retry and refresh paths finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Daemon.Network = "tcp"
	cfgVal.Daemon.Address = "127.0.0.1:0"
	cfgVal.Daemon.AuthFile = filepath.Join(base, "gui_rpc_auth.cfg")
	cfgVal.Daemon.ConnectAttempts = 3
	cfgVal.Daemon.ConnectIntervalMs = 10
	cfgVal.Daemon.CallTimeoutMs = 2000
	cfgVal.Refresh.IntervalMs = 20
	for _, op := range []*config.Operation{
		&cfgVal.Operations.Attach,
		&cfgVal.Operations.LookupAccount,
		&cfgVal.Operations.CreateAccount,
		&cfgVal.Operations.AcctMgr,
		&cfgVal.Operations.ProjectConfig,
	} {
		op.MaxAttempts = 3
		op.PollIntervalMs = 1
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDaemonAddress points the config at a listening daemon.
func WithDaemonAddress(network, address string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Network = network
		b.cfg.Daemon.Address = address
	}
}

// WithAuthSecret writes secret into the configured auth file.
func WithAuthSecret(secret string) ConfigOption {
	return func(b *configBuilder) {
		WriteFile(b.t, b.cfg.Daemon.AuthFile, secret+"\n")
	}
}

// WithRefreshInterval overrides the refresh cadence.
func WithRefreshInterval(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Refresh.IntervalMs = ms
	}
}

// WithMaxAttempts sets the attempt budget for every operation kind.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		ops := &b.cfg.Operations
		ops.Attach.MaxAttempts = n
		ops.LookupAccount.MaxAttempts = n
		ops.CreateAccount.MaxAttempts = n
		ops.AcctMgr.MaxAttempts = n
		ops.ProjectConfig.MaxAttempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// RemoveAuthFile deletes the configured auth file.
func RemoveAuthFile(t testing.TB, cfg *config.Config) {
	t.Helper()
	if err := os.Remove(cfg.Daemon.AuthFile); err != nil && !os.IsNotExist(err) {
		t.Fatalf("remove auth file: %v", err)
	}
}
