package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gridlink/internal/journal"
	"gridlink/internal/testsupport"
)

func TestRecordAndListStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	entries := []journal.StatusEntry{
		{Setup: "launching", Computing: "never", Network: "never"},
		{Setup: "available", Computing: "suspended", ComputingReason: "on batteries", Network: "available"},
	}
	for _, e := range entries {
		if err := j.RecordStatus(ctx, e); err != nil {
			t.Fatalf("RecordStatus: %v", err)
		}
	}

	got, err := j.ListStatus(ctx, 10)
	if err != nil {
		t.Fatalf("ListStatus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Setup != "available" || got[0].ComputingReason != "on batteries" {
		t.Fatalf("expected newest entry first, got %#v", got[0])
	}
	if got[1].ComputingReason != "" {
		t.Fatalf("expected empty reason to round trip as empty, got %q", got[1].ComputingReason)
	}
	if got[0].RecordedAt.IsZero() {
		t.Fatal("expected recorded_at to be set")
	}
}

func TestListAttachFiltersByTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	for _, e := range []journal.AttachEntry{
		{Kind: "project", Target: "https://a.example.org/", Outcome: "bad_password", Code: -206},
		{Kind: "project", Target: "https://b.example.org/", Outcome: "success"},
		{Kind: "project", Target: "https://a.example.org/", Outcome: "success"},
	} {
		if err := j.RecordAttach(ctx, e); err != nil {
			t.Fatalf("RecordAttach: %v", err)
		}
	}

	got, err := j.ListAttach(ctx, "https://a.example.org/", 0)
	if err != nil {
		t.Fatalf("ListAttach: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for target, got %d", len(got))
	}
	if got[0].Outcome != "success" || got[1].Code != -206 {
		t.Fatalf("unexpected entries %#v", got)
	}

	if err := j.RecordAttach(ctx, journal.AttachEntry{Outcome: "success"}); err == nil {
		t.Fatal("expected error for entry without target")
	}
}

func TestRecordTaskReplacesByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	task := journal.TaskEntry{ID: "t-1", Kind: "set_run_mode", Result: "running", StartedAt: start, FinishedAt: start}
	if err := j.RecordTask(ctx, task); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}
	task.Result = "failed"
	task.Error = "daemon said no"
	task.FinishedAt = time.Now()
	if err := j.RecordTask(ctx, task); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}

	got, err := j.ListTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 1 || got[0].Result != "failed" || got[0].Error != "daemon said no" {
		t.Fatalf("unexpected tasks %#v", got)
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := j.RecordStatus(ctx, journal.StatusEntry{RecordedAt: old, Setup: "error", Computing: "never", Network: "never"}); err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}
	if err := j.RecordStatus(ctx, journal.StatusEntry{Setup: "available", Computing: "idle", Network: "available"}); err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}

	removed, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 row pruned, got %d", removed)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j := testsupport.MustOpenJournal(t, cfg)
	path := j.Path()
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = journal.OpenPath(path)
	if !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
