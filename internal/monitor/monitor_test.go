package monitor_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"gridlink/internal/attach"
	"gridlink/internal/config"
	"gridlink/internal/ipc"
	"gridlink/internal/monitor"
	"gridlink/internal/simdaemon"
	"gridlink/internal/status"
	"gridlink/internal/tasks"
	"gridlink/internal/testsupport"
)

func startService(t *testing.T, cfg *config.Config) *monitor.Service {
	t.Helper()
	svc, err := monitor.New(cfg, nil)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc
}

func setup(t *testing.T) (*config.Config, *simdaemon.Daemon, *monitor.Service) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	sim := simdaemon.NewDemo(simdaemon.Options{PollsUntilDone: 1})
	testsupport.StartSimDaemon(t, cfg, sim)
	svc := startService(t, cfg)
	waitFor(t, "first publish", func() bool { return svc.Current().Setup == status.SetupAvailable })
	return cfg, sim, svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wait[T any](t *testing.T, f *tasks.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestWriteTaskRefreshesAndJournals(t *testing.T) {
	_, _, svc := setup(t)

	if _, err := wait(t, svc.SetRunMode(ipc.RunModeNever, 0)); err != nil {
		t.Fatalf("SetRunMode: %v", err)
	}
	waitFor(t, "computing never", func() bool { return svc.Current().Computing == status.ComputingNever })

	ctx := context.Background()
	waitFor(t, "task journal", func() bool {
		entries, err := svc.Journal().ListTasks(ctx, 10)
		return err == nil && len(entries) == 1 && entries[0].Kind == monitor.KindRunMode && entries[0].Result == "succeeded"
	})
	waitFor(t, "status journal", func() bool {
		entries, err := svc.Journal().ListStatus(ctx, 10)
		return err == nil && len(entries) >= 2 && entries[0].Computing == "never"
	})
}

func TestFailedWriteIsRecorded(t *testing.T) {
	_, _, svc := setup(t)

	_, err := wait(t, svc.ProjectOp(ipc.ProjectSuspend, "https://missing.example.org/"))
	if code, ok := ipc.CodeOf(err); !ok || code != ipc.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	waitFor(t, "failed task journal", func() bool {
		entries, err := svc.Journal().ListTasks(context.Background(), 10)
		return err == nil && len(entries) == 1 && entries[0].Result == "failed" && entries[0].Error != ""
	})
}

func TestSetPreferencesReturnsWorkingPrefs(t *testing.T) {
	_, _, svc := setup(t)

	prefs, err := wait(t, svc.SetPreferences(ipc.GlobalPrefs{MaxNCPUsPct: 25}))
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if prefs.MaxNCPUsPct != 25 {
		t.Fatalf("working prefs = %+v", prefs)
	}
}

func TestAttachJournalsOutcome(t *testing.T) {
	_, _, svc := setup(t)

	creds := attach.Credentials{Email: simdaemon.DemoEmail, Password: simdaemon.DemoPassword}
	target, err := wait(t, svc.Attach("https://climate.example.org/", creds, attach.Options{}))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", target.Outcome)
	}

	entries, err := svc.Journal().ListAttach(context.Background(), "https://climate.example.org/", 10)
	if err != nil {
		t.Fatalf("ListAttach: %v", err)
	}
	if len(entries) == 0 || entries[0].Outcome != "success" {
		t.Fatalf("unexpected attach journal %+v", entries)
	}
}

func TestAccountManagerSync(t *testing.T) {
	_, _, svc := setup(t)

	if _, err := wait(t, svc.SyncAccountManager()); !errors.Is(err, attach.ErrNoAccountManager) {
		t.Fatalf("expected ErrNoAccountManager before attach, got %v", err)
	}
	target, err := wait(t, svc.AttachAccountManager(simdaemon.DemoManager, simdaemon.DemoEmail, simdaemon.DemoPassword))
	if err != nil || target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("AttachAccountManager = %+v, %v", target, err)
	}
	if _, err := wait(t, svc.SyncAccountManager()); err != nil {
		t.Fatalf("SyncAccountManager: %v", err)
	}
	info, err := svc.AccountManager(context.Background())
	if err != nil || info.URL != simdaemon.DemoManager {
		t.Fatalf("AccountManager = %+v, %v", info, err)
	}
	if _, err := wait(t, svc.DetachAccountManager()); err != nil {
		t.Fatalf("DetachAccountManager: %v", err)
	}
}

func TestSecondServiceIsLocked(t *testing.T) {
	cfg, _, _ := setup(t)

	other, err := monitor.New(cfg, nil)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	defer other.Close()
	if err := other.Start(context.Background()); !errors.Is(err, monitor.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	_, _, svc := setup(t)
	if err := svc.Start(context.Background()); !errors.Is(err, monitor.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestQuitClosesStatus(t *testing.T) {
	_, sim, svc := setup(t)
	updates, unsub := svc.Subscribe(8)
	defer unsub()

	if err := svc.Quit(context.Background()); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	select {
	case <-sim.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not receive quit")
	}

	var seen []status.SetupStatus
	for len(seen) == 0 || seen[len(seen)-1] != status.SetupClosed {
		select {
		case pub := <-updates:
			seen = append(seen, pub.Setup)
		case <-time.After(2 * time.Second):
			t.Fatalf("never saw closed, saw %v", seen)
		}
	}
	if len(seen) < 2 || seen[len(seen)-2] != status.SetupClosing {
		t.Fatalf("setup transitions = %v, want closing before closed", seen)
	}
	if svc.Current().Setup != status.SetupClosed {
		t.Fatalf("setup = %s, want closed", svc.Current().Setup)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Bind = "127.0.0.1:0"
	testsupport.StartSimDaemon(t, cfg, simdaemon.NewDemo(simdaemon.Options{}))
	svc := startService(t, cfg)
	waitFor(t, "first publish", func() bool { return svc.Current().Setup == status.SetupAvailable })

	addr := svc.MetricsAddr()
	if addr == "" {
		t.Fatal("metrics endpoint not started")
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "gridlink_refresh_cycles_total") {
		t.Fatalf("unexpected metrics response %d:\n%s", resp.StatusCode, body)
	}
}

func TestAuthFileChangeReconnects(t *testing.T) {
	cfg, _, svc := setup(t)

	reconnects := func() float64 {
		families, err := svc.Registry().Gather()
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		var total float64
		for _, mf := range families {
			if mf.GetName() != "gridlink_reconnects_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		}
		return total
	}
	before := reconnects()

	testsupport.WriteFile(t, cfg.Daemon.AuthFile, testsupport.SimSecret+"\n")
	waitFor(t, "reconnect after auth change", func() bool { return reconnects() > before })
	waitFor(t, "status after reconnect", func() bool { return svc.Current().Setup == status.SetupAvailable })
}
