package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/fileutil"
	"conveyor/internal/services"
)

const (
	// FileName is the manifest document name inside a bucket directory.
	FileName     = "manifest.json"
	lockFileName = ".manifest.lock"
)

// ErrUnchanged may be returned from an Update callback to skip the write.
var ErrUnchanged = errors.New("manifest unchanged")

// Store persists manifests under a storage root, one directory per bucket.
type Store struct {
	root      string
	lockRetry time.Duration
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for updatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLockRetry sets how often a contended bucket lock is retried.
func WithLockRetry(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.lockRetry = d
		}
	}
}

// NewStore constructs a store rooted at root.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{root: root, lockRetry: 25 * time.Millisecond, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage root.
func (s *Store) Root() string { return s.root }

// Now returns the store clock's current UTC time.
func (s *Store) Now() time.Time { return s.now().UTC() }

// BucketDir returns the directory of a bucket.
func (s *Store) BucketDir(hashID string) string {
	return filepath.Join(s.root, hashID)
}

// ManifestPath returns the manifest location of a bucket.
func (s *Store) ManifestPath(hashID string) string {
	return filepath.Join(s.BucketDir(hashID), FileName)
}

// Exists reports whether the bucket has a manifest on disk.
func (s *Store) Exists(hashID string) bool {
	return validHashID(hashID) && fileutil.Exists(s.ManifestPath(hashID))
}

// Load reads and validates a bucket's manifest without taking the lock. Writes
// are atomic renames, so a reader always sees a whole document.
func (s *Store) Load(hashID string) (*Manifest, error) {
	if !validHashID(hashID) {
		return nil, services.Wrap(services.ErrValidation, "manifest", "load", fmt.Sprintf("invalid bucket id %q", hashID), nil)
	}
	path := s.ManifestPath(hashID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "manifest", "load", fmt.Sprintf("bucket %s", hashID), err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrUnreadable, "manifest", "load", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, services.Wrap(services.ErrValidation, "manifest", "decode", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "manifest", "validate", path, err)
	}
	return &m, nil
}

// Create writes a new bucket manifest. It fails with ErrConflict when the
// bucket already has one.
func (s *Store) Create(ctx context.Context, m *Manifest) error {
	if m == nil || !validHashID(m.HashID) {
		return services.Wrap(services.ErrValidation, "manifest", "create", "invalid bucket id", nil)
	}
	if err := os.MkdirAll(s.BucketDir(m.HashID), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "manifest", "create", "bucket directory", err)
	}
	return s.withLock(ctx, m.HashID, func() error {
		if fileutil.Exists(s.ManifestPath(m.HashID)) {
			return services.Wrap(services.ErrConflict, "manifest", "create", fmt.Sprintf("bucket %s already exists", m.HashID), nil)
		}
		m.Revision = 0
		return s.write(m)
	})
}

// Save writes m if nobody else has written the bucket since m was loaded.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if m == nil {
		return services.Wrap(services.ErrValidation, "manifest", "save", "nil manifest", nil)
	}
	return s.withLock(ctx, m.HashID, func() error {
		current, err := s.Load(m.HashID)
		if err != nil {
			return err
		}
		if current.Revision != m.Revision {
			return services.Wrap(
				services.ErrConflict,
				"manifest",
				"save",
				fmt.Sprintf("bucket %s revision %d is stale (on disk %d)", m.HashID, m.Revision, current.Revision),
				nil,
			)
		}
		return s.write(m)
	})
}

// Update applies fn to the freshly loaded manifest under the bucket lock and
// writes the result. Returning ErrUnchanged from fn skips the write; any other
// error aborts it.
func (s *Store) Update(ctx context.Context, hashID string, fn func(*Manifest) error) (*Manifest, error) {
	var out *Manifest
	err := s.withLock(ctx, hashID, func() error {
		m, err := s.Load(hashID)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out = m
				return nil
			}
			return err
		}
		if err := s.write(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the ids of every bucket directory holding a manifest, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "manifest", "list", s.root, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validHashID(entry.Name()) {
			continue
		}
		if fileutil.Exists(filepath.Join(s.root, entry.Name(), FileName)) {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) write(m *Manifest) error {
	prevRevision, prevUpdated := m.Revision, m.UpdatedAt
	m.Revision++
	m.UpdatedAt = s.Now()
	if m.SchemaVersion == "" {
		m.SchemaVersion = SchemaVersion
	}
	if err := m.Validate(); err != nil {
		m.Revision, m.UpdatedAt = prevRevision, prevUpdated
		return services.Wrap(services.ErrValidation, "manifest", "write", m.HashID, err)
	}
	if err := fileutil.WriteJSON(s.ManifestPath(m.HashID), m); err != nil {
		m.Revision, m.UpdatedAt = prevRevision, prevUpdated
		return services.Wrap(services.ErrExternalTool, "manifest", "write", m.HashID, err)
	}
	return nil
}

func (s *Store) withLock(ctx context.Context, hashID string, fn func() error) error {
	if !validHashID(hashID) {
		return services.Wrap(services.ErrValidation, "manifest", "lock", fmt.Sprintf("invalid bucket id %q", hashID), nil)
	}
	dir := s.BucketDir(hashID)
	if _, err := os.Stat(dir); err != nil {
		return services.Wrap(services.ErrNotFound, "manifest", "lock", fmt.Sprintf("bucket %s", hashID), err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, s.lockRetry)
	if err != nil {
		return services.Wrap(services.ErrConflict, "manifest", "lock", fmt.Sprintf("bucket %s", hashID), err)
	}
	if !locked {
		return services.Wrap(services.ErrConflict, "manifest", "lock", fmt.Sprintf("bucket %s is locked", hashID), nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}

func validHashID(hashID string) bool {
	return hashID != "" && hashIDPattern.MatchString(hashID)
}
