package attach_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gridlink/internal/asyncop"
	"gridlink/internal/attach"
	"gridlink/internal/daemonctl"
	"gridlink/internal/ipc"
	"gridlink/internal/simdaemon"
	"gridlink/internal/testsupport"
)

const (
	foldingURL = "https://folding.example.org/"
	climateURL = "https://climate.example.org/"
	pulsarURL  = "https://pulsar.example.org/"
	managerURL = "https://manager.example.org/"
	email      = "volunteer@example.org"
	password   = "correct horse"
)

type harness struct {
	sim    *simdaemon.Daemon
	client *ipc.Client
	saga   *attach.Saga
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	sim := simdaemon.New(simdaemon.Options{PollsUntilDone: 2})
	sim.AddProjectConfig(ipc.ProjectConfig{Name: "Folding", MasterURL: foldingURL})
	sim.AddProjectConfig(ipc.ProjectConfig{Name: "Climate", MasterURL: climateURL, ClientAccountCreationDisabled: true})
	sim.AddProjectConfig(ipc.ProjectConfig{Name: "Pulsar", MasterURL: pulsarURL, UsesUsername: true, TermsOfUse: "Be nice."})
	testsupport.StartSimDaemon(t, cfg, sim)

	client, err := daemonctl.NewConnector(cfg).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	channel := func() (*ipc.Client, error) { return client, nil }
	return &harness{
		sim:    sim,
		client: client,
		saga:   attach.NewSaga(channel, attach.BudgetsFromConfig(cfg), nil, nil),
	}
}

func (h *harness) fetch(t *testing.T, urls ...string) {
	t.Helper()
	targets := make([]attach.Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, attach.Target{URL: u})
	}
	h.saga.Select(targets...)
	if err := h.saga.StartConfigFetch(context.Background()); err != nil {
		t.Fatalf("StartConfigFetch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.saga.WaitConfigFetch(ctx); err != nil {
		t.Fatalf("WaitConfigFetch: %v", err)
	}
	if !h.saga.ConfigFetchFinished() {
		t.Fatal("expected config fetch to be finished")
	}
}

func (h *harness) attached(t *testing.T, url string) bool {
	t.Helper()
	projects, err := h.client.GetProjects(context.Background())
	if err != nil {
		t.Fatalf("GetProjects: %v", err)
	}
	for _, p := range projects {
		if p.MasterURL == url {
			return true
		}
	}
	return false
}

func TestAttachRegistersNewAccount(t *testing.T) {
	h := newHarness(t)
	h.fetch(t, foldingURL)

	target, err := h.saga.Attach(context.Background(), foldingURL, attach.Credentials{Email: email, Password: password}, attach.Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success", target.Outcome, target.Detail)
	}
	if target.Name != "Folding" {
		t.Fatalf("name = %q, want Folding", target.Name)
	}
	if !h.attached(t, foldingURL) {
		t.Fatal("project not attached on daemon")
	}
}

func TestAttachLooksUpWhenRegistrationDisabled(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccount(climateURL, email, password)
	h.fetch(t, climateURL)

	target, err := h.saga.Attach(context.Background(), climateURL, attach.Credentials{Email: "Volunteer@Example.org ", Password: password}, attach.Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success via lookup", target.Outcome, target.Detail)
	}
}

func TestBadPasswordIsResolvable(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccount(foldingURL, email, password)
	h.fetch(t, foldingURL)
	ctx := context.Background()

	target, err := h.saga.Attach(ctx, foldingURL, attach.Credentials{Email: email, Password: "wrong"}, attach.Options{ForceLogin: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if target.Outcome != attach.OutcomeBadPassword || target.Code != ipc.ErrBadPasswd {
		t.Fatalf("got %s (%d), want bad_password (-206)", target.Outcome, target.Code)
	}
	conflicts := h.saga.Conflicts()
	if len(conflicts) != 1 || conflicts[0].URL != foldingURL {
		t.Fatalf("unexpected conflicts %+v", conflicts)
	}

	if _, err := h.saga.Attach(ctx, foldingURL, attach.Credentials{Email: email, Password: password}, attach.Options{ForceLogin: true}); !errors.Is(err, attach.ErrNotReady) {
		t.Fatalf("Attach on a conflict must be refused, got %v", err)
	}
	target, err = h.saga.Resolve(ctx, foldingURL, attach.Credentials{Email: email, Password: password}, attach.Options{ForceLogin: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("outcome after resolve = %s", target.Outcome)
	}
	if len(h.saga.Conflicts()) != 0 {
		t.Fatal("conflict should be cleared after resolve")
	}
	if _, err := h.saga.Resolve(ctx, foldingURL, attach.Credentials{}, attach.Options{}); !errors.Is(err, attach.ErrNoConflict) {
		t.Fatalf("expected ErrNoConflict, got %v", err)
	}
}

func TestLookupInProgressThenBadPassword(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccount(foldingURL, email, password)
	h.fetch(t, foldingURL)
	h.sim.ScriptPolls(simdaemon.OpLookupAccount, ipc.ErrInProgress, ipc.ErrInProgress, ipc.ErrInProgress, ipc.ErrBadPasswd)

	target, err := h.saga.Attach(context.Background(), foldingURL, attach.Credentials{Email: email, Password: password}, attach.Options{ForceLogin: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if target.Outcome != attach.OutcomeBadPassword {
		t.Fatalf("outcome = %s, want bad_password", target.Outcome)
	}
	if h.attached(t, foldingURL) {
		t.Fatal("attach must not run after a failed lookup")
	}
}

func TestCreateMapsDaemonCodes(t *testing.T) {
	cases := []struct {
		name  string
		url   string
		creds attach.Credentials
		want  attach.Outcome
	}{
		{"existing account", foldingURL, attach.Credentials{Email: email, Password: password}, attach.OutcomeNameNotUnique},
		{"terms not accepted", pulsarURL, attach.Credentials{UserName: "vol", Password: password}, attach.OutcomeTosRequired},
		{"bad email", foldingURL, attach.Credentials{Email: "not-an-email", Password: password}, attach.OutcomeUndefined},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.sim.AddAccount(foldingURL, email, password)
			h.fetch(t, tc.url)
			target, err := h.saga.Attach(context.Background(), tc.url, tc.creds, attach.Options{})
			if err != nil {
				t.Fatalf("Attach: %v", err)
			}
			if target.Outcome != tc.want {
				t.Fatalf("outcome = %s (%d), want %s", target.Outcome, target.Code, tc.want)
			}
		})
	}
}

func TestBatchSkipsConfigFailures(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccount(climateURL, email, password)
	h.fetch(t, foldingURL, "https://unknown.example.org/", climateURL)

	var failed attach.Target
	for _, target := range h.saga.Targets() {
		if target.Outcome == attach.OutcomeConfigFailed {
			failed = target
		} else if target.Outcome != attach.OutcomeReady {
			t.Fatalf("target %s outcome = %s, want ready", target.URL, target.Outcome)
		}
	}
	if failed.URL != "https://unknown.example.org/" || failed.Code != ipc.ErrNotFound {
		t.Fatalf("unexpected failed target %+v", failed)
	}

	results, err := h.saga.AttachBatch(context.Background(), attach.Credentials{Email: email, Password: password}, attach.Options{})
	if err != nil {
		t.Fatalf("AttachBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 processed targets, got %d", len(results))
	}
	for _, r := range results {
		if r.Outcome != attach.OutcomeSuccess {
			t.Fatalf("target %s outcome = %s (%s)", r.URL, r.Outcome, r.Detail)
		}
	}

	again, err := h.saga.AttachBatch(context.Background(), attach.Credentials{Email: email, Password: password}, attach.Options{})
	if err != nil {
		t.Fatalf("second AttachBatch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("resolved targets must be skipped, got %d", len(again))
	}
}

func TestAttachRequiresReadyTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.saga.Attach(ctx, foldingURL, attach.Credentials{}, attach.Options{}); !errors.Is(err, attach.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	h.saga.Select(attach.Target{URL: "folding.example.org"})
	if _, ok := h.saga.Target(foldingURL); ok {
		t.Fatal("scheme-less URL should canonicalize to http://")
	}
	if _, err := h.saga.Attach(ctx, "folding.example.org", attach.Credentials{}, attach.Options{}); !errors.Is(err, attach.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if h.saga.ConfigFetchFinished() {
		t.Fatal("fetch cannot be finished with an uninitialized target")
	}
}

func TestAttachProjectInOneCall(t *testing.T) {
	h := newHarness(t)
	target, err := h.saga.AttachProject(context.Background(), "https://folding.example.org", attach.Credentials{Email: email, Password: password}, attach.Options{})
	if err != nil {
		t.Fatalf("AttachProject: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess || target.URL != foldingURL {
		t.Fatalf("unexpected target %+v", target)
	}
}

func TestAccountManagerLifecycle(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccountManager(managerURL, "Example Manager", email, password, pulsarURL)
	ctx := context.Background()

	target, err := h.saga.AttachAccountManager(ctx, managerURL, email, "nope")
	if err != nil {
		t.Fatalf("AttachAccountManager: %v", err)
	}
	if target.Outcome != attach.OutcomeBadPassword {
		t.Fatalf("outcome = %s, want bad_password", target.Outcome)
	}

	target, err = h.saga.AttachAccountManager(ctx, managerURL, email, password)
	if err != nil {
		t.Fatalf("AttachAccountManager: %v", err)
	}
	if target.Outcome != attach.OutcomeSuccess || target.Name != "Example Manager" {
		t.Fatalf("unexpected target %+v", target)
	}
	if !h.attached(t, pulsarURL) {
		t.Fatal("manager projects should be attached")
	}

	if target, err = h.saga.SyncAccountManager(ctx); err != nil || target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("SyncAccountManager: %+v, %v", target, err)
	}
	if target, err = h.saga.DetachAccountManager(ctx); err != nil || target.Outcome != attach.OutcomeSuccess {
		t.Fatalf("DetachAccountManager: %+v, %v", target, err)
	}
	if _, err := h.saga.SyncAccountManager(ctx); !errors.Is(err, attach.ErrNoAccountManager) {
		t.Fatalf("expected ErrNoAccountManager, got %v", err)
	}
}

func TestAccountManagerGivesUpOnTransientCodes(t *testing.T) {
	h := newHarness(t)
	h.sim.AddAccountManager(managerURL, "Example Manager", email, password)
	h.sim.ScriptPolls(simdaemon.OpAcctMgr, ipc.ErrInProgress, ipc.ErrHTTPTransient, ipc.ErrRetry, ipc.ErrConnect, ipc.ErrGetHostByName, ipc.ErrHTTPTransient)

	target, err := h.saga.AttachAccountManager(context.Background(), managerURL, email, password)
	var giveUp *asyncop.GiveUpError
	if !errors.As(err, &giveUp) {
		t.Fatalf("expected GiveUpError, got %v", err)
	}
	if giveUp.LastCode != ipc.ErrHTTPTransient {
		t.Fatalf("last code = %d, want %d", giveUp.LastCode, ipc.ErrHTTPTransient)
	}
	if target.Outcome != attach.OutcomeUndefined {
		t.Fatalf("outcome = %s, want undefined", target.Outcome)
	}
}

func TestObserverSeesResolvedTargets(t *testing.T) {
	h := newHarness(t)
	var (
		mu     sync.Mutex
		events []attach.Event
	)
	h.saga.OnResolved(func(e attach.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	h.fetch(t, foldingURL, "ftp://bad")
	if _, err := h.saga.AttachBatch(context.Background(), attach.Credentials{Email: email, Password: password}, attach.Options{}); err != nil {
		t.Fatalf("AttachBatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].Outcome != attach.OutcomeConfigFailed || events[1].Outcome != attach.OutcomeSuccess {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].Kind != "project" {
		t.Fatalf("kind = %q, want project", events[1].Kind)
	}
}
