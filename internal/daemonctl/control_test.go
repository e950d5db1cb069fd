package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridlink/internal/daemonctl"
	"gridlink/internal/ipc"
	"gridlink/internal/simdaemon"
	"gridlink/internal/testsupport"
)

func TestReadAuthSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.cfg")

	secret, err := daemonctl.ReadAuthSecret(path)
	if err != nil || secret != "" {
		t.Fatalf("missing file: got %q, %v", secret, err)
	}

	testsupport.WriteFile(t, path, "  s3cret  \nignored\n")
	secret, err = daemonctl.ReadAuthSecret(path)
	if err != nil {
		t.Fatalf("ReadAuthSecret: %v", err)
	}
	if secret != "s3cret" {
		t.Fatalf("secret = %q, want s3cret", secret)
	}
}

func TestReadAuthSecretUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	path := filepath.Join(t.TempDir(), "auth.cfg")
	testsupport.WriteFile(t, path, "secret")
	if err := os.Chmod(path, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	_, err := daemonctl.ReadAuthSecret(path)
	if !errors.Is(err, daemonctl.ErrAuthFileUnreadable) {
		t.Fatalf("expected ErrAuthFileUnreadable, got %v", err)
	}
}

func TestConnectAuthorizes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.StartSimDaemon(t, cfg, simdaemon.New(simdaemon.Options{}))

	client, err := daemonctl.NewConnector(cfg).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	if _, err := client.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus after authorize: %v", err)
	}
}

func TestConnectRejectsWrongSecret(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.StartSimDaemon(t, cfg, simdaemon.New(simdaemon.Options{}))
	testsupport.WriteFile(t, cfg.Daemon.AuthFile, "wrong")

	_, err := daemonctl.NewConnector(cfg).Connect(context.Background())
	if !errors.Is(err, ipc.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestEnsureRunningWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.Network = "unix"
	cfg.Daemon.Address = filepath.Join(testsupport.BaseDir(cfg), "missing.sock")

	_, launched, err := daemonctl.EnsureRunning(context.Background(), cfg)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if launched {
		t.Fatal("launch must not run with auto_launch disabled")
	}
}

func TestWaitForClientStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.Network = "unix"
	cfg.Daemon.Address = filepath.Join(testsupport.BaseDir(cfg), "missing.sock")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := daemonctl.WaitForClient(ctx, daemonctl.NewConnector(cfg), 100, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLocalChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Daemon.AutoLaunch = true
	cfg.Daemon.Binary = "definitely-not-a-real-daemon-binary"

	checks := daemonctl.LocalChecks(cfg)
	if len(checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(checks))
	}
	if !checks[0].Passed || !checks[1].Passed {
		t.Fatalf("expected state dir and auth file checks to pass: %#v", checks)
	}
	if checks[2].Passed {
		t.Fatalf("expected missing binary to fail: %#v", checks[2])
	}
}
