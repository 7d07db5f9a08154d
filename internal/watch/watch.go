// Package watch drains buckets whose manifests change on disk.
//
// The watcher observes the storage root and every bucket directory one level
// below it. A create, write, or rename onto a bucket's manifest.json marks the
// bucket dirty; after the debounce interval passes without further events,
// each dirty bucket is handed to the scheduler and run until it has no queued
// work. The executor's own manifest writes re-mark the bucket, which then
// drains to zero and goes quiet.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/services"
)

// Drainer runs a bucket's queued tasks.
type Drainer interface {
	RunAll(ctx context.Context, hashID string) (int, error)
}

// Watcher turns manifest writes into scheduler runs.
type Watcher struct {
	root     string
	debounce time.Duration
	drainer  Drainer
	logger   *slog.Logger

	fsw   *fsnotify.Watcher
	kicks chan string
}

// New starts watching root. Watches are in place when New returns; call Run
// to process events.
func New(root string, debounce time.Duration, drainer Drainer, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		drainer:  drainer,
		logger:   logging.NewComponentLogger(logger, "watch"),
		fsw:      fsw,
		kicks:    make(chan string, 64),
	}
	if err := w.addRoot(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRoot() error {
	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.fsw.Add(filepath.Join(w.root, e.Name())); err != nil {
				return fmt.Errorf("watch bucket %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// Kick marks a bucket dirty without waiting for a filesystem event.
func (w *Watcher) Kick(hashID string) {
	select {
	case w.kicks <- hashID:
	default:
		// A full channel means a drain is already pending.
	}
}

// Run processes events until ctx is done. Every bucket holding a manifest at
// startup is drained once so work queued while nothing was watching runs.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	dirty := map[string]struct{}{}
	if ids, err := manifest.NewStore(w.root).List(); err == nil {
		for _, id := range ids {
			dirty[id] = struct{}{}
		}
	}

	timer := time.NewTimer(w.debounce)
	if len(dirty) == 0 {
		timer.Stop()
	}
	defer timer.Stop()

	w.logger.Info("watcher started",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String("root", w.root),
		logging.Int("pending_buckets", len(dirty)),
	)

	mark := func(id string) {
		dirty[id] = struct{}{}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped", logging.String(logging.FieldEventType, "watch_stopped"))
			return nil

		case id := <-w.kicks:
			mark(id)

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if id, ok := w.handle(ev); ok {
				mark(id)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watcher error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some manifest changes may be missed until the next event"),
			)

		case <-timer.C:
			ids := make([]string, 0, len(dirty))
			for id := range dirty {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			clear(dirty)
			for _, id := range ids {
				if ctx.Err() != nil {
					return nil
				}
				w.drain(ctx, id)
			}
		}
	}
}

// handle maps an event to the bucket it dirties, registering new bucket
// directories as they appear.
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	dir, name := filepath.Split(ev.Name)
	dir = filepath.Clean(dir)

	if dir == filepath.Clean(w.root) {
		if !ev.Has(fsnotify.Create) {
			return "", false
		}
		info, err := os.Stat(ev.Name)
		if err != nil || !info.IsDir() {
			return "", false
		}
		if err := w.fsw.Add(ev.Name); err != nil {
			w.logger.Warn("watch new bucket failed",
				logging.String("path", ev.Name),
				logging.Error(err),
			)
			return "", false
		}
		// The manifest may have landed before the watch was added.
		if _, err := os.Stat(filepath.Join(ev.Name, manifest.FileName)); err == nil {
			return name, true
		}
		return "", false
	}

	if filepath.Dir(dir) != filepath.Clean(w.root) || name != manifest.FileName {
		return "", false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	return filepath.Base(dir), true
}

func (w *Watcher) drain(ctx context.Context, hashID string) {
	ran, err := w.drainer.RunAll(ctx, hashID)
	switch {
	case err == nil:
		if ran > 0 {
			w.logger.Info("bucket drained",
				logging.String(logging.FieldEventType, "watch_drained"),
				logging.String(logging.FieldHashID, hashID),
				logging.Int("tasks", ran),
			)
		}
	case errors.Is(err, context.Canceled):
	case services.IsBucketFatal(err), errors.Is(err, fs.ErrNotExist):
		logging.WarnWithContext(w.logger, "bucket skipped", "watch_bucket_skipped",
			logging.String(logging.FieldHashID, hashID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "bucket runs again after its manifest is fixed"),
		)
	default:
		logging.ErrorWithContext(w.logger, "bucket drain failed", "watch_drain_failed",
			logging.String(logging.FieldHashID, hashID),
			logging.Error(err),
		)
	}
}
