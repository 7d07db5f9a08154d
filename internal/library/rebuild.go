package library

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
)

// Rebuilder regenerates library.json from bucket manifests.
type Rebuilder struct {
	store        *manifest.Store
	excerptRunes int
	workers      int
	logger       *slog.Logger
	now          func() time.Time
	mu           sync.Mutex
}

// Option configures a Rebuilder.
type Option func(*Rebuilder)

// WithExcerptRunes sets the summary excerpt length.
func WithExcerptRunes(n int) Option {
	return func(r *Rebuilder) {
		if n > 0 {
			r.excerptRunes = n
		}
	}
}

// WithWorkers bounds how many manifests are loaded concurrently.
func WithWorkers(n int) Option {
	return func(r *Rebuilder) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rebuilder) { r.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Rebuilder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRebuilder constructs a rebuilder over the store's root.
func NewRebuilder(store *manifest.Store, opts ...Option) *Rebuilder {
	r := &Rebuilder{store: store, excerptRunes: 200, workers: 4, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "library")
	return r
}

// Rebuild replaces the index with one freshly derived entry per loadable bucket.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	return r.withLock(ctx, func() error {
		cached := map[string]Entry{}
		if prev, err := r.Load(); err == nil {
			for _, e := range prev.Items {
				cached[e.HashID] = e
			}
		} else {
			logging.WarnWithContext(r.logger, "previous library index unreadable", "library_cache_unreadable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cached titles and excerpts are not carried forward"),
			)
		}

		ids, err := r.store.List()
		if err != nil {
			return err
		}

		entries := make([]*Entry, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for i, id := range ids {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := r.store.Load(id)
				if err != nil {
					logging.WarnWithContext(r.logger, "skipping unreadable bucket", "library_bucket_skipped",
						logging.String(logging.FieldHashID, id),
						logging.Error(err),
						logging.String(logging.FieldImpact, "bucket is missing from the library listing"),
					)
					return nil
				}
				prev, ok := cached[id]
				var prevPtr *Entry
				if ok {
					prevPtr = &prev
				}
				entry := r.buildEntry(m, prevPtr)
				entries[i] = &entry
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		idx := &Index{Items: make([]Entry, 0, len(entries))}
		for _, e := range entries {
			if e != nil {
				idx.Items = append(idx.Items, *e)
			}
		}
		if err := r.write(idx); err != nil {
			return err
		}
		r.logger.Debug("library index rebuilt", logging.Int("entries", len(idx.Items)))
		return nil
	})
}

func (r *Rebuilder) buildEntry(m *manifest.Manifest, cached *Entry) Entry {
	bucketDir := r.store.BucketDir(m.HashID)
	if cached == nil {
		cached = &Entry{}
	}
	e := Entry{
		HashID:    m.HashID,
		SourceURL: m.SourceURL(),
		CreatedAt: m.CreatedAt,
		State:     LifecycleState(m),
		Tags:      []string{},
	}

	e.Title = firstNonEmpty(m.MetaString("title"), cached.Title, m.SourceURL())
	e.Platform = ClassifyPlatform(m.SourceURL())

	media := m.File(manifest.OriginalMedia)
	e.HasOriginalMedia = media != nil && media.State == manifest.FileReady
	if md, ok := media.Media(); ok {
		e.Quality = md.Quality
		e.Duration = md.Duration
	}
	if e.Quality == "" {
		e.Quality = firstNonEmpty(m.MetaString("quality"), cached.Quality)
	}
	if e.Duration == 0 {
		if d, err := strconv.ParseFloat(m.MetaString("duration"), 64); err == nil && d > 0 {
			e.Duration = d
		} else {
			e.Duration = cached.Duration
		}
	}

	if thumb := m.File(manifest.OriginalThumbnail); thumb != nil && thumb.State == manifest.FileReady {
		e.Thumbnail = path.Join(m.HashID, thumb.Path)
	} else {
		e.Thumbnail = firstNonEmpty(m.MetaString("thumbnail"), cached.Thumbnail)
	}

	if tags, ok := r.readTags(m, bucketDir); ok {
		e.Tags = tags
	} else if cached.Tags != nil {
		e.Tags = cached.Tags
	}
	if summary, ok := r.readSummary(m, bucketDir); ok {
		e.Summary = summary
	} else {
		e.Summary = cached.Summary
	}

	e.DiskSize = diskUsage(m, bucketDir)
	return e
}

func (r *Rebuilder) readTags(m *manifest.Manifest, bucketDir string) ([]string, bool) {
	f := m.File(manifest.Topics)
	if f == nil || f.State != manifest.FileReady {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(bucketDir, f.Path))
	if err != nil {
		return nil, false
	}
	tags, err := ParseTags(data)
	if err != nil {
		return nil, false
	}
	return tags, true
}

func (r *Rebuilder) readSummary(m *manifest.Manifest, bucketDir string) (string, bool) {
	if f := m.File(manifest.SummaryRich); f != nil && f.State == manifest.FileReady {
		if data, err := os.ReadFile(filepath.Join(bucketDir, f.Path)); err == nil {
			if text, err := summaryFromRich(data); err == nil {
				return excerpt(text, r.excerptRunes), true
			}
		}
	}
	if f := m.File(manifest.SummaryText); f != nil && f.State == manifest.FileReady {
		if data, err := os.ReadFile(filepath.Join(bucketDir, f.Path)); err == nil {
			if text := excerpt(string(data), r.excerptRunes); text != "" {
				return text, true
			}
		}
	}
	return "", false
}

// LifecycleState derives a bucket's coarse state from its manifest.
func LifecycleState(m *manifest.Manifest) string {
	if media := m.File(manifest.OriginalMedia); media != nil && media.State == manifest.FilePurged {
		return StatePurged
	}
	allDone := len(m.Tasks) > 0
	for _, t := range m.Tasks {
		if t.State == manifest.TaskError {
			return StateError
		}
		if t.State != manifest.TaskDone {
			allDone = false
		}
	}
	if allDone {
		return StateComplete
	}
	for i, t := range m.Tasks {
		if i == 0 {
			continue
		}
		if t.State != manifest.TaskQueued || t.Percent > 0 {
			return StateProcessing
		}
	}
	return StateIngesting
}

func diskUsage(m *manifest.Manifest, bucketDir string) int64 {
	var total int64
	for i := range m.FileManifest {
		f := &m.FileManifest[i]
		if f.State != manifest.FileReady {
			continue
		}
		if c := f.Content(); c != nil && c.DiskSize > 0 {
			total += c.DiskSize
			continue
		}
		if size, err := fileutil.Size(filepath.Join(bucketDir, f.Path)); err == nil {
			total += size
		}
	}
	return total
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
