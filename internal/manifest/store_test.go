package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/services"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), WithLockRetry(5*time.Millisecond))
}

func createBucket(t *testing.T, s *Store) *Manifest {
	t.Helper()
	m := New("https://example.com/video", map[string]any{"title": "Video"}, time.Now())
	m.Tasks = append(m.Tasks, Task{ID: "fetch_info", Title: "Fetch Info", State: TaskQueued, RelatedOutput: InfoJSON, Context: map[string]any{}})
	m.EnsurePlaceholder(InfoJSON, "yt-dlp", nil)
	if err := s.Create(context.Background(), m); err != nil {
		t.Fatalf("create: %v", err)
	}
	return m
}

func TestStoreCreateLoad(t *testing.T) {
	s := newTestStore(t)
	m := createBucket(t, s)
	if m.Revision != 1 {
		t.Fatalf("revision after create = %d", m.Revision)
	}

	loaded, err := s.Load(m.HashID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != m.ID || loaded.Task("fetch_info") == nil || loaded.File(InfoJSON) == nil {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err := s.Create(context.Background(), m); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("second create err = %v", err)
	}
}

func TestStoreLoadErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := s.Load("../escape"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("traversal err = %v", err)
	}

	dir := filepath.Join(s.Root(), "broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("broken"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("corrupt err = %v", err)
	}
}

func TestStoreSaveDetectsStaleRevision(t *testing.T) {
	s := newTestStore(t)
	m := createBucket(t, s)

	first, err := s.Load(m.HashID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Load(m.HashID)
	if err != nil {
		t.Fatal(err)
	}

	first.Metadata["title"] = "First"
	if err := s.Save(context.Background(), first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second.Metadata["title"] = "Second"
	if err := s.Save(context.Background(), second); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("stale save err = %v", err)
	}

	got, err := s.Load(m.HashID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MetaString("title") != "First" || got.Revision != 2 {
		t.Fatalf("on disk = %q rev %d", got.MetaString("title"), got.Revision)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)
	m := createBucket(t, s)

	updated, err := s.Update(context.Background(), m.HashID, func(doc *Manifest) error {
		doc.Task("fetch_info").Start(time.Now())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Revision != 2 || updated.Task("fetch_info").State != TaskRunning {
		t.Fatalf("updated = rev %d %s", updated.Revision, updated.Task("fetch_info").State)
	}

	same, err := s.Update(context.Background(), m.HashID, func(*Manifest) error { return ErrUnchanged })
	if err != nil {
		t.Fatal(err)
	}
	if same.Revision != 2 {
		t.Fatalf("unchanged update wrote revision %d", same.Revision)
	}

	boom := errors.New("boom")
	if _, err := s.Update(context.Background(), m.HashID, func(*Manifest) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("callback error = %v", err)
	}
}

func TestStoreUpdateRespectsHeldLock(t *testing.T) {
	s := newTestStore(t)
	m := createBucket(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Update(context.Background(), m.HashID, func(*Manifest) error {
			close(held)
			<-release
			return ErrUnchanged
		})
		done <- err
	}()
	<-held

	// flock locks are per open file description, so a second handle in the
	// same process contends like another process would.
	if _, err := s.Update(ctx, m.HashID, func(*Manifest) error { return nil }); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("contended update err = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStoreList(t *testing.T) {
	s := newTestStore(t)
	a := createBucket(t, s)
	if err := os.MkdirAll(filepath.Join(s.Root(), "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	ids, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != a.HashID {
		t.Fatalf("ids = %v", ids)
	}
}
