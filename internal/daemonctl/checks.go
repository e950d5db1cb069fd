package daemonctl

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"gridlink/internal/config"
)

// Check is one local readiness check.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// LocalChecks inspects the local prerequisites for talking to the daemon:
// the state directory, the auth file, and the launch binary when auto
// launch is on.
func LocalChecks(cfg *config.Config) []Check {
	checks := []Check{checkDirectoryAccess("State dir", cfg.Paths.StateDir), checkAuthFile(cfg.Daemon.AuthFile)}
	if cfg.Daemon.AutoLaunch {
		checks = append(checks, checkBinary(cfg.Daemon.Binary))
	}
	return checks
}

func checkDirectoryAccess(name, path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Check{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Check{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Check{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func checkAuthFile(path string) Check {
	const name = "Auth file"
	if strings.TrimSpace(path) == "" {
		return Check{Name: name, Passed: true, Detail: "not configured (no password)"}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Check{Name: name, Passed: true, Detail: fmt.Sprintf("%s (absent, connecting without password)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Check{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

func checkBinary(binary string) Check {
	const name = "Daemon binary"
	if strings.TrimSpace(binary) == "" {
		return Check{Name: name, Detail: "auto_launch is on but daemon.binary is empty"}
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("%s (error: %v)", binary, err)}
	}
	return Check{Name: name, Passed: true, Detail: resolved}
}
