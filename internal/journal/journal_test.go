package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	code := 1

	runs := []Run{
		{HashID: "a1", TaskID: "fetch_info", Status: StatusDone, StartedAt: start, FinishedAt: start.Add(2 * time.Second), CreatedTasks: []string{"download_media"}},
		{HashID: "a1", TaskID: "download_media", Status: StatusError, ExitCode: &code, Error: "disk full", StartedAt: start, FinishedAt: start.Add(time.Second)},
		{HashID: "b2", TaskID: "convert_text", Status: StatusConfigError, Error: "no worker registered for task convert_text"},
	}
	for _, run := range runs {
		if err := j.Record(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].TaskID != "convert_text" {
		t.Fatalf("list = %+v", all)
	}

	forA, err := j.List(ctx, Filter{HashID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(forA) != 2 {
		t.Fatalf("filtered = %d", len(forA))
	}
	failed := forA[0]
	if failed.ExitCode == nil || *failed.ExitCode != 1 || failed.Error != "disk full" || failed.Duration != time.Second {
		t.Fatalf("failed run = %+v", failed)
	}
	if done := forA[1]; len(done.CreatedTasks) != 1 || done.CreatedTasks[0] != "download_media" || !done.StartedAt.Equal(start) {
		t.Fatalf("done run = %+v", done)
	}

	limited, err := j.List(ctx, Filter{Status: StatusConfigError, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].HashID != "b2" {
		t.Fatalf("status filter = %+v", limited)
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatusDone] != 1 || stats[StatusError] != 1 || stats[StatusConfigError] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	j, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, Run{HashID: "a", TaskID: "t", Status: StatusDone}); err != nil {
		t.Fatal(err)
	}
	_ = j.Close()

	j, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	runs, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs after reopen = %d", len(runs))
	}
}

func TestSchemaVersionTracksNewestStep(t *testing.T) {
	j := openTestJournal(t)
	steps, err := schemaSteps()
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) == 0 {
		t.Fatal("expected embedded migrations")
	}
	var version int
	if err := j.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if want := steps[len(steps)-1].version; version != want {
		t.Fatalf("user_version = %d, want %d", version, want)
	}
	// A second pass must be a no-op; the ALTER TABLE step would fail if rerun.
	if err := j.migrate(context.Background()); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}
