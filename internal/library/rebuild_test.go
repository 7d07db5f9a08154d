package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/manifest"
)

func task(id string, state manifest.TaskState, percent int) manifest.Task {
	return manifest.Task{ID: id, State: state, Percent: percent, RelatedOutput: manifest.InfoJSON}
}

func TestLifecycleState(t *testing.T) {
	tests := []struct {
		name   string
		tasks  []manifest.Task
		purged bool
		want   string
	}{
		{"no tasks", nil, false, StateIngesting},
		{"first running", []manifest.Task{task("fetch_info", manifest.TaskRunning, 30)}, false, StateIngesting},
		{"first done next queued", []manifest.Task{task("fetch_info", manifest.TaskDone, 100), task("download_media", manifest.TaskQueued, 0)}, false, StateIngesting},
		{"second running", []manifest.Task{task("fetch_info", manifest.TaskDone, 100), task("download_media", manifest.TaskRunning, 10)}, false, StateProcessing},
		{"all done", []manifest.Task{task("fetch_info", manifest.TaskDone, 100), task("download_media", manifest.TaskDone, 100)}, false, StateComplete},
		{"errored", []manifest.Task{task("fetch_info", manifest.TaskDone, 100), task("download_media", manifest.TaskError, 40)}, false, StateError},
		{"purged wins", []manifest.Task{task("fetch_info", manifest.TaskError, 0)}, true, StatePurged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := manifest.New("https://example.com/v", nil, time.Now())
			m.Tasks = tt.tasks
			if tt.purged {
				m.EnsurePlaceholder(manifest.OriginalMedia, "yt-dlp", nil).RecordContent(1, "")
				if err := m.Purge(manifest.OriginalMedia, "test", time.Now()); err != nil {
					t.Fatal(err)
				}
			}
			if got := LifecycleState(m); got != tt.want {
				t.Fatalf("state = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func createBucket(t *testing.T, store *manifest.Store, url string, created time.Time, mutate func(*manifest.Manifest)) *manifest.Manifest {
	t.Helper()
	m := manifest.New(url, nil, created)
	m.Tasks = append(m.Tasks, manifest.Task{ID: "fetch_info", State: manifest.TaskDone, Percent: 100, RelatedOutput: manifest.InfoJSON})
	if mutate != nil {
		mutate(m)
	}
	if err := store.Create(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRebuildSkipsCorruptBucketAndOrdersEntries(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	older := createBucket(t, store, "https://www.youtube.com/watch?v=old", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	newer := createBucket(t, store, "https://anchor.fm/show/episodes/new", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), func(m *manifest.Manifest) {
		m.Metadata["title"] = "New Episode"
	})
	writeFile(t, filepath.Join(store.Root(), "corrupt", manifest.FileName), "{not json")

	r := NewRebuilder(store)
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	idx, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Items) != 2 {
		t.Fatalf("items = %+v", idx.Items)
	}
	if idx.Items[0].HashID != newer.HashID || idx.Items[1].HashID != older.HashID {
		t.Fatalf("order = %s, %s", idx.Items[0].HashID, idx.Items[1].HashID)
	}
	if idx.Items[0].Title != "New Episode" || idx.Items[0].Platform != PlatformPodcast {
		t.Fatalf("newer entry = %+v", idx.Items[0])
	}
	if idx.Items[1].Title != older.SourceURL() || idx.Items[1].Platform != PlatformYouTube {
		t.Fatalf("older entry = %+v", idx.Items[1])
	}
	if idx.Items[1].State != StateComplete {
		t.Fatalf("state = %s", idx.Items[1].State)
	}
}

func TestRebuildReadsArtifactsAndFallsBackToCache(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	m := createBucket(t, store, "https://vimeo.com/42", time.Now(), func(m *manifest.Manifest) {
		m.EnsurePlaceholder(manifest.SummaryRich, "summary", nil).RecordContent(0, "")
		m.EnsurePlaceholder(manifest.Topics, "topics", nil).RecordContent(0, "")
		media := m.EnsurePlaceholder(manifest.OriginalMedia, "yt-dlp", nil)
		media.RecordContent(1000, "video/mp4")
		md, _ := media.Media()
		md.Quality = "720p"
	})
	bucket := store.BucketDir(m.HashID)
	writeFile(t, filepath.Join(bucket, "summary", "summary.json"), `{"summary": "A talk about pipelines."}`)
	writeFile(t, filepath.Join(bucket, "topics", "topics.json"), `{"tags": ["pipelines", "go"]}`)
	writeFile(t, filepath.Join(bucket, "summary", "summary.txt"), "unused")

	r := NewRebuilder(store)
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	idx, _ := r.Load()
	entry, ok := idx.Find(m.HashID)
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Summary != "A talk about pipelines." || len(entry.Tags) != 2 || entry.Quality != "720p" || !entry.HasOriginalMedia {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.DiskSize < 1000 {
		t.Fatalf("disk size = %d", entry.DiskSize)
	}

	// Break the artifact files; the cached values must survive.
	writeFile(t, filepath.Join(bucket, "summary", "summary.json"), "{broken")
	if err := os.Remove(filepath.Join(bucket, "topics", "topics.json")); err != nil {
		t.Fatal(err)
	}
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	idx, _ = r.Load()
	entry, _ = idx.Find(m.HashID)
	if entry.Summary != "A talk about pipelines." || len(entry.Tags) != 2 {
		t.Fatalf("cache fallback lost fields: %+v", entry)
	}
}

func TestUpsertProvisional(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	r := NewRebuilder(store)
	ctx := context.Background()
	if err := r.UpsertProvisional(ctx, Entry{HashID: "abc", Title: "x", SourceURL: "https://youtu.be/1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertProvisional(ctx, Entry{HashID: "abc", Title: "y", SourceURL: "https://youtu.be/1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	idx, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Items) != 1 {
		t.Fatalf("items = %d", len(idx.Items))
	}
	e := idx.Items[0]
	if e.Title != "y" || e.State != StateIngesting || e.Platform != PlatformYouTube {
		t.Fatalf("entry = %+v", e)
	}
}
