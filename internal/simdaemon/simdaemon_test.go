package simdaemon_test

import (
	"testing"
	"time"

	"gridlink/internal/ipc"
	"gridlink/internal/simdaemon"
)

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first := simdaemon.New(simdaemon.Options{})
	if err := first.Lock(dir); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })

	second := simdaemon.New(simdaemon.Options{})
	if err := second.Lock(dir); err == nil {
		_ = second.Close()
		t.Fatal("second simulator must not share a state dir")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := second.Lock(dir); err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = second.Close()
}

func TestDemoSeedsState(t *testing.T) {
	d := simdaemon.NewDemo(simdaemon.Options{})
	projects, _ := d.Projects()
	if len(projects) != 1 || projects[0].UserName != simdaemon.DemoEmail {
		t.Fatalf("unexpected projects %+v", projects)
	}
	active, _ := d.Results(true)
	all, _ := d.Results(false)
	if len(active) != 2 || len(all) != 4 {
		t.Fatalf("active=%d all=%d, want 2 and 4", len(active), len(all))
	}
}

func TestStepFinishesAndStartsWork(t *testing.T) {
	d := simdaemon.NewDemo(simdaemon.Options{})
	d.Step(0.6)
	d.Step(0.6)

	results, _ := d.Results(false)
	var ready, executing int
	for _, r := range results {
		if r.ReadyToReport {
			ready++
		}
		if r.Executing() {
			executing++
		}
	}
	if ready != 2 || executing != 2 {
		t.Fatalf("ready=%d executing=%d, want 2 and 2", ready, executing)
	}

	if err := d.SetRunMode(ipc.RunModeNever, 0); err != nil {
		t.Fatalf("SetRunMode: %v", err)
	}
	before, _ := d.Results(true)
	d.Step(0.5)
	after, _ := d.Results(true)
	if before[0].FractionDone != after[0].FractionDone {
		t.Fatal("work must not advance while computing is off")
	}
}

func TestPollsReportInProgressFirst(t *testing.T) {
	d := simdaemon.New(simdaemon.Options{PollsUntilDone: 2})
	d.AddProjectConfig(ipc.ProjectConfig{Name: "Folding", MasterURL: "https://folding.example.org/"})

	if got := d.PollProjectConfig(); got.ErrorNum != ipc.ErrGeneric {
		t.Fatalf("poll without request = %d, want %d", got.ErrorNum, ipc.ErrGeneric)
	}
	if err := d.StartProjectConfig("https://folding.example.org/"); err != nil {
		t.Fatalf("StartProjectConfig: %v", err)
	}
	for i := 0; i < 2; i++ {
		if got := d.PollProjectConfig(); got.ErrorNum != ipc.ErrInProgress {
			t.Fatalf("poll %d = %d, want in progress", i, got.ErrorNum)
		}
	}
	if got := d.PollProjectConfig(); got.ErrorNum != ipc.CodeOK || got.Name != "Folding" {
		t.Fatalf("final poll = %+v", got)
	}

	_ = d.StartProjectConfig("not a url")
	d.ScriptPolls(simdaemon.OpProjectConfig, ipc.ErrHTTPTransient)
	if got := d.PollProjectConfig(); got.ErrorNum != ipc.ErrHTTPTransient {
		t.Fatalf("scripted poll = %d", got.ErrorNum)
	}
	d.PollProjectConfig()
	d.PollProjectConfig()
	if got := d.PollProjectConfig(); got.ErrorNum != ipc.ErrInvalidURL {
		t.Fatalf("invalid url poll = %d, want %d", got.ErrorNum, ipc.ErrInvalidURL)
	}
}

func TestTemporaryModeKeepsPermanent(t *testing.T) {
	d := simdaemon.New(simdaemon.Options{})
	if err := d.SetNetworkMode(ipc.RunModeNever, 30*time.Minute); err != nil {
		t.Fatalf("SetNetworkMode: %v", err)
	}
	st, _ := d.Status()
	if st.NetworkMode != ipc.RunModeNever || st.NetworkModePerm != ipc.RunModeAuto || st.NetworkModeDelay != 1800 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.NetworkSuspendReason != ipc.SuspendUserRequest {
		t.Fatalf("reason = %v, want user request", st.NetworkSuspendReason)
	}
	if err := d.SetNetworkMode(ipc.RunMode(9), 0); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
