package testsupport

import (
	"context"
	"testing"

	"gridlink/internal/config"
	"gridlink/internal/ipc"
	"gridlink/internal/journal"
	"gridlink/internal/simdaemon"
)

// SimSecret is the shared secret StartSimDaemon configures.
const SimSecret = "sim-secret"

// StartSimDaemon serves sim over TCP on a random loopback port, writes the
// shared secret to the config's auth file, and points cfg at the listener.
func StartSimDaemon(t testing.TB, cfg *config.Config, sim *simdaemon.Daemon) *ipc.Server {
	t.Helper()

	srv, err := ipc.NewServer(context.Background(), ipc.ServerOptions{
		Network:  "tcp",
		Address:  "127.0.0.1:0",
		Password: SimSecret,
	}, sim)
	if err != nil {
		t.Fatalf("start sim daemon: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	WriteFile(t, cfg.Daemon.AuthFile, SimSecret+"\n")
	cfg.Daemon.Network = "tcp"
	cfg.Daemon.Address = srv.Addr().String()
	return srv
}

// MustOpenJournal opens the config's journal and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Journal {
	t.Helper()

	j, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}
