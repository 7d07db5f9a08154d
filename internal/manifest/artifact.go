package manifest

import (
	"fmt"
	"time"
)

// MarkProcessing flags the artifact as being produced. Content and version are untouched.
func (f *FileItem) MarkProcessing() {
	f.State = FileProcessing
}

// MarkError flags a failed production. The previous version and content are kept.
func (f *FileItem) MarkError() {
	f.State = FileError
}

// RecordContent marks a successful producing run: the version advances and
// size and type are recorded.
func (f *FileItem) RecordContent(diskSize int64, mimeType string) {
	f.State = FileReady
	f.Version++
	c := f.EnsureMetadata().ContentInfo()
	c.DiskSize = diskSize
	if mimeType != "" {
		c.MimeType = mimeType
	}
	c.PurgedAt = nil
	c.PurgeReason = ""
}

// Purge marks an artifact's content as deleted while retaining its metadata.
func (m *Manifest) Purge(t ArtifactType, reason string, now time.Time) error {
	f := m.File(t)
	if f == nil {
		return fmt.Errorf("purge %s: artifact not found", t)
	}
	if f.State == FilePurged {
		return nil
	}
	now = now.UTC()
	c := f.EnsureMetadata().ContentInfo()
	c.DiskSize = 0
	c.PurgedAt = &now
	c.PurgeReason = reason
	f.State = FilePurged
	return nil
}

// UpsertFile inserts item or replaces the first entry of the same type and
// path. Version is carried forward from the replaced entry.
func (m *Manifest) UpsertFile(item FileItem) *FileItem {
	for i := range m.FileManifest {
		existing := &m.FileManifest[i]
		if existing.Type != item.Type || existing.Path != item.Path {
			continue
		}
		if item.Version < existing.Version {
			item.Version = existing.Version
		}
		*existing = item
		return existing
	}
	m.FileManifest = append(m.FileManifest, item)
	return &m.FileManifest[len(m.FileManifest)-1]
}

// RemoveFiles drops every entry of type t.
func (m *Manifest) RemoveFiles(t ArtifactType) int {
	kept := m.FileManifest[:0]
	removed := 0
	for _, f := range m.FileManifest {
		if f.Type == t {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	m.FileManifest = kept
	return removed
}
