package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/fileutil"
	"conveyor/internal/services"
)

const (
	// FileName is the index document name at the storage root.
	FileName = "library.json"
	// SchemaVersion of the index document.
	SchemaVersion = "1.0.0"
)

// Lifecycle states of a library entry.
const (
	StateIngesting  = "ingesting"
	StateProcessing = "processing"
	StateComplete   = "complete"
	StateError      = "error"
	StatePurged     = "purged"
)

// Index is the root library document.
type Index struct {
	SchemaVersion string    `json:"schemaVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Items         []Entry   `json:"items"`
}

// Entry is one denormalized bucket summary.
type Entry struct {
	HashID           string    `json:"hashId"`
	Title            string    `json:"title"`
	SourceURL        string    `json:"sourceUrl,omitempty"`
	Platform         string    `json:"platform"`
	Duration         float64   `json:"duration,omitempty"`
	Quality          string    `json:"quality,omitempty"`
	Thumbnail        string    `json:"thumbnail,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Tags             []string  `json:"tags"`
	Summary          string    `json:"summary,omitempty"`
	State            string    `json:"state"`
	DiskSize         int64     `json:"diskSize"`
	HasOriginalMedia bool      `json:"hasOriginalMedia"`
}

// Find returns the entry for hashID.
func (idx *Index) Find(hashID string) (Entry, bool) {
	if idx == nil {
		return Entry{}, false
	}
	for _, e := range idx.Items {
		if e.HashID == hashID {
			return e, true
		}
	}
	return Entry{}, false
}

func sortEntries(items []Entry) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].HashID < items[j].HashID
	})
}

func (r *Rebuilder) indexPath() string {
	return filepath.Join(r.store.Root(), FileName)
}

// Load reads the current index. A missing index is an empty one.
func (r *Rebuilder) Load() (*Index, error) {
	var idx Index
	err := fileutil.ReadJSON(r.indexPath(), &idx)
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{SchemaVersion: SchemaVersion, Items: []Entry{}}, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "library", "load", r.indexPath(), err)
	}
	if idx.Items == nil {
		idx.Items = []Entry{}
	}
	return &idx, nil
}

// UpsertProvisional inserts or replaces the entry for e.HashID without a full
// rebuild. Ingest uses it so a new bucket is listed before any task has run.
func (r *Rebuilder) UpsertProvisional(ctx context.Context, e Entry) error {
	if e.State == "" {
		e.State = StateIngesting
	}
	if e.Platform == "" {
		e.Platform = ClassifyPlatform(e.SourceURL)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return r.withLock(ctx, func() error {
		idx, err := r.Load()
		if err != nil {
			// A corrupt index is replaced; the next rebuild restores the rest.
			idx = &Index{Items: []Entry{}}
		}
		replaced := false
		for i := range idx.Items {
			if idx.Items[i].HashID == e.HashID {
				idx.Items[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			idx.Items = append(idx.Items, e)
		}
		return r.write(idx)
	})
}

func (r *Rebuilder) write(idx *Index) error {
	idx.SchemaVersion = SchemaVersion
	idx.UpdatedAt = r.now().UTC()
	sortEntries(idx.Items)
	if err := fileutil.WriteJSON(r.indexPath(), idx); err != nil {
		return services.Wrap(services.ErrExternalTool, "library", "write", r.indexPath(), err)
	}
	return nil
}

func (r *Rebuilder) withLock(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock := flock.New(r.indexPath() + ".lock")
	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		return services.Wrap(services.ErrConflict, "library", "lock", fmt.Sprintf("index %s", r.indexPath()), err)
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}
