package daemonctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"gridlink/internal/config"
	"gridlink/internal/ipc"
)

var (
	// ErrDaemonNotRunning indicates the daemon endpoint is unavailable.
	ErrDaemonNotRunning = errors.New("daemon not running")
	// ErrAuthFileUnreadable means the shared secret exists but this user
	// cannot read it.
	ErrAuthFileUnreadable = errors.New("auth file not readable")
)

// ReadAuthSecret returns the first line of the auth file. A missing file
// yields an empty secret, which daemons without a password accept.
func ReadAuthSecret(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s: %v (add yourself to the daemon's group or fix permissions)", ErrAuthFileUnreadable, path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open auth file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read auth file: %w", err)
	}
	return "", nil
}

// Connector dials and authorizes a channel to the daemon.
type Connector struct {
	Network     string
	Address     string
	AuthFile    string
	CallTimeout time.Duration
}

// NewConnector builds a Connector from configuration.
func NewConnector(cfg *config.Config) Connector {
	return Connector{
		Network:     cfg.Daemon.Network,
		Address:     cfg.Daemon.Address,
		AuthFile:    cfg.Daemon.AuthFile,
		CallTimeout: cfg.CallTimeout(),
	}
}

// Connect opens a channel and authorizes it. The secret is re-read on every
// call so a rotated auth file takes effect on the next reconnect.
func (c Connector) Connect(ctx context.Context) (*ipc.Client, error) {
	secret, err := ReadAuthSecret(c.AuthFile)
	if err != nil {
		return nil, err
	}
	client, err := ipc.Dial(ctx, c.Network, c.Address, c.CallTimeout)
	if err != nil {
		if isDaemonUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
		}
		return nil, err
	}
	if err := client.Authorize(ctx, secret); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return client, nil
}

// Launch starts the configured daemon binary detached from this process.
func Launch(cfg *config.Config) error {
	binary := strings.TrimSpace(cfg.Daemon.Binary)
	if binary == "" {
		return errors.New("launch daemon: daemon.binary is not configured")
	}
	proc := exec.Command(binary, cfg.Daemon.Args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient retries Connect up to attempts times, interval apart.
func WaitForClient(ctx context.Context, c Connector, attempts int, interval time.Duration) (*ipc.Client, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		client, err := c.Connect(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if errors.Is(err, ErrAuthFileUnreadable) || errors.Is(err, ipc.ErrAuthRejected) {
			break
		}
	}
	return nil, fmt.Errorf("daemon unreachable after %d attempts: %w", attempts, lastErr)
}

// EnsureRunning connects to the daemon, launching it first when it is not
// reachable and auto_launch is enabled. launched reports whether Launch ran.
func EnsureRunning(ctx context.Context, cfg *config.Config) (client *ipc.Client, launched bool, err error) {
	c := NewConnector(cfg)
	client, err = c.Connect(ctx)
	if err == nil {
		return client, false, nil
	}
	if !errors.Is(err, ErrDaemonNotRunning) || !cfg.Daemon.AutoLaunch {
		return nil, false, err
	}
	if launchErr := Launch(cfg); launchErr != nil {
		return nil, false, launchErr
	}
	client, err = WaitForClient(ctx, c, cfg.Daemon.ConnectAttempts, cfg.ConnectInterval())
	return client, true, err
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
