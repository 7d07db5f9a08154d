package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"conveyor/internal/library"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/services"
)

type recordingProvisioner struct {
	entries []library.Entry
	err     error
}

func (p *recordingProvisioner) UpsertProvisional(_ context.Context, e library.Entry) error {
	p.entries = append(p.entries, e)
	return p.err
}

func newService(t *testing.T) (*Service, *manifest.Store, *recordingProvisioner) {
	t.Helper()
	store := manifest.NewStore(t.TempDir(), manifest.WithLockRetry(time.Millisecond))
	prov := &recordingProvisioner{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithProvisioner(prov), WithClock(func() time.Time { return fixed }))
	return svc, store, prov
}

// ingestReady creates a bucket and marks the given artifacts ready with their
// producing tasks done.
func ingestReady(t *testing.T, svc *Service, store *manifest.Store, url string, ready map[manifest.ArtifactType]string) string {
	t.Helper()
	m, _, err := svc.Ingest(context.Background(), url, IngestOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	_, err = store.Update(context.Background(), m.HashID, func(m *manifest.Manifest) error {
		m.Task(rules.TaskFetchInfo).Complete(time.Now())
		for typ, taskID := range ready {
			f := m.EnsurePlaceholder(typ, "test", nil)
			f.RecordContent(10, "application/octet-stream")
			if taskID != "" && !m.HasTask(taskID) {
				m.Tasks = append(m.Tasks, manifest.Task{ID: taskID, State: manifest.TaskDone, Percent: 100, RelatedOutput: typ})
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m.HashID
}

func TestIngestCreatesBucket(t *testing.T) {
	svc, store, prov := newService(t)
	m, created, err := svc.Ingest(context.Background(), " https://www.youtube.com/watch?v=abc ", IngestOptions{Quality: "720p", Title: "Talk"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Fatal("expected a new bucket")
	}
	if m.HashID != manifest.HashIDFor("https://www.youtube.com/watch?v=abc") {
		t.Fatalf("unexpected hash id %s", m.HashID)
	}
	loaded, err := store.Load(m.HashID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MetaString("quality") != "720p" || loaded.MetaString("title") != "Talk" {
		t.Fatalf("metadata not seeded: %v", loaded.Metadata)
	}
	task := loaded.Task(rules.TaskFetchInfo)
	if task == nil || task.State != manifest.TaskQueued {
		t.Fatalf("expected queued fetch_info, got %+v", task)
	}
	info := loaded.File(manifest.InfoJSON)
	if info == nil || info.State != manifest.FileQueued || info.Version != 0 {
		t.Fatalf("expected queued info_json placeholder, got %+v", info)
	}
	if len(prov.entries) != 1 || prov.entries[0].State != library.StateIngesting || prov.entries[0].Title != "Talk" {
		t.Fatalf("unexpected provisional entries %+v", prov.entries)
	}
}

func TestIngestExistingBucketIsIdempotent(t *testing.T) {
	svc, _, prov := newService(t)
	first, _, err := svc.Ingest(context.Background(), "https://vimeo.com/1", IngestOptions{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, created, err := svc.Ingest(context.Background(), "https://vimeo.com/1", IngestOptions{Quality: "360p"})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if created {
		t.Fatal("expected existing bucket")
	}
	if second.ID != first.ID || second.MetaString("quality") != "" {
		t.Fatalf("existing bucket was modified: %+v", second)
	}
	if len(prov.entries) != 1 {
		t.Fatalf("expected one provisional entry, got %d", len(prov.entries))
	}
}

func TestIngestProvisionFailureIsNotFatal(t *testing.T) {
	svc, _, prov := newService(t)
	prov.err = errors.New("locked")
	if _, created, err := svc.Ingest(context.Background(), "https://vimeo.com/2", IngestOptions{}); err != nil || !created {
		t.Fatalf("expected created bucket, got created=%v err=%v", created, err)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	svc, _, _ := newService(t)
	cases := []struct {
		name string
		url  string
		opts IngestOptions
	}{
		{"empty", "", IngestOptions{}},
		{"scheme", "ftp://example.com/a", IngestOptions{}},
		{"garbage", "not a url", IngestOptions{}},
		{"quality", "https://example.com/a", IngestOptions{Quality: "4k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Ingest(context.Background(), tc.url, tc.opts)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpgradeQualityRecordsPreviousQuality(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/x", map[manifest.ArtifactType]string{manifest.OriginalMedia: rules.TaskDownloadMedia})
	_, err := store.Update(context.Background(), id, func(m *manifest.Manifest) error {
		md, _ := m.File(manifest.OriginalMedia).Media()
		md.Quality = "360p"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	task, err := svc.UpgradeQuality(context.Background(), id, "1080p")
	if err != nil {
		t.Fatalf("UpgradeQuality: %v", err)
	}
	if task.State != manifest.TaskQueued || task.ContextString("quality", "") != "1080p" || task.ContextString("previousQuality", "") != "360p" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Title != "Upgrade Quality" {
		t.Fatalf("unexpected title %q", task.Title)
	}

	if _, err := svc.UpgradeQuality(context.Background(), id, "720p"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for queued task, got %v", err)
	}
	if _, err := svc.UpgradeQuality(context.Background(), id, "8k"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpgradeQualityRequiresMedia(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/y", nil)
	if _, err := svc.UpgradeQuality(context.Background(), id, "720p"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTerminalTaskIsRequeuedInPlace(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/z", map[manifest.ArtifactType]string{manifest.OriginalMedia: rules.TaskDownloadMedia})
	if _, err := svc.PurgeMedia(context.Background(), id, PurgeOptions{}); err != nil {
		t.Fatalf("PurgeMedia: %v", err)
	}
	_, err := store.Update(context.Background(), id, func(m *manifest.Manifest) error {
		m.Task(rules.TaskPurgeMedia).Fail("rm failed", time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	task, err := svc.PurgeMedia(context.Background(), id, PurgeOptions{KeepResults: true, Reason: "space"})
	if err != nil {
		t.Fatalf("second PurgeMedia: %v", err)
	}
	if task.State != manifest.TaskQueued || task.ErrorText() != "" || task.ContextString("reason", "") != "space" {
		t.Fatalf("unexpected task %+v", task)
	}
	m, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	count := 0
	for _, tk := range m.Tasks {
		if tk.ID == rules.TaskPurgeMedia {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one purge task, got %d", count)
	}
}

func TestPurgeRequiresReadyMedia(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/q", nil)
	if _, err := svc.PurgeMedia(context.Background(), id, PurgeOptions{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractScreenshotsValidatesMode(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/s", map[manifest.ArtifactType]string{manifest.OriginalMedia: rules.TaskDownloadMedia})
	if _, err := svc.ExtractScreenshots(context.Background(), id, ScreenshotOptions{Mode: ScreenshotCount}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing count, got %v", err)
	}
	task, err := svc.ExtractScreenshots(context.Background(), id, ScreenshotOptions{Mode: ScreenshotInterval, Interval: 30})
	if err != nil {
		t.Fatalf("ExtractScreenshots: %v", err)
	}
	if task.ContextString("mode", "") != ScreenshotInterval {
		t.Fatalf("unexpected context %v", task.Context)
	}
	m, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f := m.File(manifest.ScreenshotCollection); f == nil || f.State != manifest.FileQueued {
		t.Fatalf("expected screenshot collection placeholder, got %+v", f)
	}
}

func TestManageChats(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/c", nil)
	if _, err := svc.ManageChats(context.Background(), id, ChatNew, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without transcript, got %v", err)
	}
	id = ingestReady(t, svc, store, "https://youtu.be/d", map[manifest.ArtifactType]string{manifest.TranscriptText: rules.TaskConvertText})
	if _, err := svc.ManageChats(context.Background(), id, ChatDelete, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for delete without id, got %v", err)
	}
	if _, err := svc.ManageChats(context.Background(), id, "archive", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown action, got %v", err)
	}
	task, err := svc.ManageChats(context.Background(), id, ChatDelete, "chat-1")
	if err != nil {
		t.Fatalf("ManageChats: %v", err)
	}
	if task.ContextString("chatId", "") != "chat-1" || task.RelatedOutput != manifest.ChatHistory {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestReset(t *testing.T) {
	svc, store, _ := newService(t)
	id := ingestReady(t, svc, store, "https://youtu.be/r", nil)
	if _, err := svc.Reset(context.Background(), id, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task, err := svc.Reset(context.Background(), id, rules.TaskFetchInfo)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if task.State != manifest.TaskQueued || task.Percent != 0 {
		t.Fatalf("unexpected task %+v", task)
	}
	if _, err := svc.Reset(context.Background(), id, rules.TaskFetchInfo); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict resetting a queued task, got %v", err)
	}
}
