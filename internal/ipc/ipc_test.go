package ipc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/simdaemon"
)

const (
	secret     = "s3cret"
	foldingURL = "https://folding.example.org/"
)

// startServer serves sim on a unix socket in a short temporary directory.
func startServer(t *testing.T, sim *simdaemon.Daemon, password string) (*ipc.Server, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "gl-ipc")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	socket := filepath.Join(dir, "daemon.sock")
	srv, err := ipc.NewServer(context.Background(), ipc.ServerOptions{
		Network:  "unix",
		Address:  socket,
		Password: password,
		Logger:   logging.NewNop(),
	}, sim)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv, socket
}

func dial(t *testing.T, socket string) *ipc.Client {
	t.Helper()
	client, err := ipc.Dial(context.Background(), "unix", socket, time.Second)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIPCServerClient(t *testing.T) {
	sim := simdaemon.New(simdaemon.Options{PollsUntilDone: 1})
	sim.AddProject(ipc.Project{MasterURL: foldingURL, Name: "Folding"})
	sim.AddResult(ipc.Result{Name: "r1", ProjectURL: foldingURL, ActiveTask: true, ActiveTaskState: ipc.ProcessExecuting})
	sim.AddTransfer(ipc.Transfer{Name: "in.dat", ProjectURL: foldingURL})
	sim.AddProjectConfig(ipc.ProjectConfig{Name: "Folding", MasterURL: foldingURL})
	sim.AddAccount(foldingURL, "volunteer@example.org", "pw")
	_, socket := startServer(t, sim, secret)
	client := dial(t, socket)
	ctx := context.Background()

	if err := client.Authorize(ctx, secret); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	st, err := client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.TaskMode != ipc.RunModeAuto || st.NetworkMode != ipc.RunModeAuto {
		t.Fatalf("unexpected modes %+v", st)
	}

	results, err := client.GetResults(ctx, true)
	if err != nil || len(results) != 1 || !results[0].Executing() {
		t.Fatalf("GetResults = %+v, %v", results, err)
	}

	if err := client.SetRunMode(ctx, ipc.RunModeNever, 0); err != nil {
		t.Fatalf("SetRunMode: %v", err)
	}
	st, err = client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.TaskMode != ipc.RunModeNever || st.TaskSuspendReason != ipc.SuspendUserRequest {
		t.Fatalf("expected never/user request, got %+v", st)
	}
	if err := client.SetRunMode(ctx, ipc.RunModeAlways, time.Hour); err != nil {
		t.Fatalf("SetRunMode temporary: %v", err)
	}
	if err := client.SetRunMode(ctx, ipc.RunModeRestore, 0); err != nil {
		t.Fatalf("SetRunMode restore: %v", err)
	}
	if st, _ = client.GetStatus(ctx); st.TaskMode != ipc.RunModeNever {
		t.Fatalf("restore should return to the permanent mode, got %s", st.TaskMode)
	}

	if err := client.ProjectOp(ctx, ipc.ProjectSuspend, foldingURL); err != nil {
		t.Fatalf("ProjectOp: %v", err)
	}
	projects, err := client.GetProjects(ctx)
	if err != nil || len(projects) != 1 || !projects[0].SuspendedViaClient {
		t.Fatalf("GetProjects = %+v, %v", projects, err)
	}
	err = client.ProjectOp(ctx, ipc.ProjectUpdate, "https://missing.example.org/")
	if code, ok := ipc.CodeOf(err); !ok || code != ipc.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := client.TransferOp(ctx, ipc.TransferAbort, foldingURL, "in.dat"); err != nil {
		t.Fatalf("TransferOp: %v", err)
	}
	if transfers, _ := client.GetTransfers(ctx); len(transfers) != 0 {
		t.Fatalf("transfer should be aborted, got %+v", transfers)
	}

	prefs := ipc.GlobalPrefs{MaxNCPUsPct: 50, RunOnBatteries: false}
	if err := client.SetGlobalPrefsOverride(ctx, prefs); err != nil {
		t.Fatalf("SetGlobalPrefsOverride: %v", err)
	}
	if err := client.ReadGlobalPrefsOverride(ctx); err != nil {
		t.Fatalf("ReadGlobalPrefsOverride: %v", err)
	}
	working, err := client.GetGlobalPrefsWorking(ctx)
	if err != nil || working.MaxNCPUsPct != 50 {
		t.Fatalf("GetGlobalPrefsWorking = %+v, %v", working, err)
	}

	msgs, err := client.GetMessages(ctx, 0)
	if err != nil || len(msgs) == 0 {
		t.Fatalf("GetMessages = %+v, %v", msgs, err)
	}
	last := msgs[len(msgs)-1].Seqno
	if newer, _ := client.GetMessages(ctx, last); len(newer) != 0 {
		t.Fatalf("expected no messages after %d, got %+v", last, newer)
	}

	in := ipc.AccountIn{URL: foldingURL, EmailAddr: "volunteer@example.org"}
	in.PasswdHash = ipc.HashPassword("pw", in.Identity())
	if err := client.LookupAccount(ctx, in); err != nil {
		t.Fatalf("LookupAccount: %v", err)
	}
	out, err := client.LookupAccountPoll(ctx)
	if err != nil || out.Code() != ipc.ErrInProgress {
		t.Fatalf("first poll = %+v, %v; want in progress", out, err)
	}
	out, err = client.LookupAccountPoll(ctx)
	if err != nil || out.Code() != ipc.CodeOK || out.Authenticator == "" {
		t.Fatalf("second poll = %+v, %v; want authenticator", out, err)
	}

	if err := client.Quit(ctx); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	select {
	case <-sim.Done():
	case <-time.After(time.Second):
		t.Fatal("Quit did not reach the daemon")
	}
}

func TestCallsRequireAuthorization(t *testing.T) {
	_, socket := startServer(t, simdaemon.New(simdaemon.Options{}), secret)
	client := dial(t, socket)

	_, err := client.GetStatus(context.Background())
	if code, ok := ipc.CodeOf(err); !ok || code != ipc.ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if !client.Valid() {
		t.Fatal("a daemon-reported error must keep the channel")
	}

	if err := client.Authorize(context.Background(), "wrong"); !errors.Is(err, ipc.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestServerWithoutPassword(t *testing.T) {
	_, socket := startServer(t, simdaemon.New(simdaemon.Options{}), "")
	client := dial(t, socket)
	if _, err := client.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus without password: %v", err)
	}
}

func TestTransportFailureBreaksClient(t *testing.T) {
	srv, socket := startServer(t, simdaemon.New(simdaemon.Options{}), "")
	client := dial(t, socket)
	ctx := context.Background()
	if _, err := client.GetStatus(ctx); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}

	srv.DropConnections()
	if _, err := client.GetStatus(ctx); !ipc.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if client.Valid() {
		t.Fatal("client must be invalid after a transport failure")
	}
	if _, err := client.GetStatus(ctx); !errors.Is(err, ipc.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDialFailureIsTransport(t *testing.T) {
	_, err := ipc.Dial(context.Background(), "unix", filepath.Join(t.TempDir(), "missing.sock"), time.Second)
	if !ipc.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHashPasswordNormalizesIdentity(t *testing.T) {
	const want = "d379eca65d5788ce2afc00a2969f9e08"
	if got := ipc.HashPassword("secret", "  Volunteer@Example.ORG "); got != want {
		t.Fatalf("HashPassword = %s, want %s", got, want)
	}
	if got := ipc.NonceHash("nonce", "pw"); got != "c6cc0ce4e8d0332203fd487ca7e2e88d" {
		t.Fatalf("NonceHash = %s", got)
	}
}

func TestParseOperations(t *testing.T) {
	if op, err := ipc.ParseProjectOp(" Suspend "); err != nil || op != ipc.ProjectSuspend {
		t.Fatalf("ParseProjectOp = %q, %v", op, err)
	}
	if _, err := ipc.ParseProjectOp("explode"); err == nil {
		t.Fatal("expected error for unknown project op")
	}
	if op, err := ipc.ParseTransferOp("ABORT"); err != nil || op != ipc.TransferAbort {
		t.Fatalf("ParseTransferOp = %q, %v", op, err)
	}
	if mode, err := ipc.ParseRunMode("never"); err != nil || mode != ipc.RunModeNever {
		t.Fatalf("ParseRunMode = %v, %v", mode, err)
	}
	if ipc.CodeName(ipc.ErrBadPasswd) != "bad password" || ipc.CodeName(-9999) != "error -9999" {
		t.Fatal("unexpected code names")
	}
}
