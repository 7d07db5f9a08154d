package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written into every new manifest.
const SchemaVersion = "0.3.5"

// FileState is the lifecycle of an artifact record.
type FileState string

const (
	FileQueued     FileState = "queued"
	FileProcessing FileState = "processing"
	FileReady      FileState = "ready"
	FileError      FileState = "error"
	FilePurged     FileState = "purged"
)

// TaskState is the lifecycle of a pipeline stage instance.
type TaskState string

const (
	TaskQueued  TaskState = "queued"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskError   TaskState = "error"
)

// Terminal reports whether no further transition happens without an external reset.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskError
}

// ArtifactType is the closed vocabulary of artifact tags. Each value doubles as
// a node name in the dependency graph.
type ArtifactType string

const (
	InfoJSON               ArtifactType = "info_json"
	OriginalMedia          ArtifactType = "original_media"
	OriginalThumbnail      ArtifactType = "original_thumbnail"
	ExtractedAudio         ArtifactType = "extracted_audio"
	TranscriptWhisperXJSON ArtifactType = "transcript_whisperx_json"
	TranscriptEnVTT        ArtifactType = "transcript_en_vtt"
	TranscriptZhVTT        ArtifactType = "transcript_zh_vtt"
	TranscriptMergedVTT    ArtifactType = "transcript_merged_vtt"
	TranscriptText         ArtifactType = "transcript_text"
	SummaryRich            ArtifactType = "summary_rich"
	SummaryText            ArtifactType = "summary_text"
	SpeechSummary          ArtifactType = "speech_summary"
	Topics                 ArtifactType = "topics"
	ChatHistory            ArtifactType = "chat_history"
	ScreenshotCollection   ArtifactType = "screenshot_collection"
	Screenshot             ArtifactType = "screenshot"
)

var artifactTypes = []ArtifactType{
	InfoJSON,
	OriginalMedia,
	OriginalThumbnail,
	ExtractedAudio,
	TranscriptWhisperXJSON,
	TranscriptEnVTT,
	TranscriptZhVTT,
	TranscriptMergedVTT,
	TranscriptText,
	SummaryRich,
	SummaryText,
	SpeechSummary,
	Topics,
	ChatHistory,
	ScreenshotCollection,
	Screenshot,
}

// ArtifactTypes returns the ordered vocabulary.
func ArtifactTypes() []ArtifactType {
	cp := make([]ArtifactType, len(artifactTypes))
	copy(cp, artifactTypes)
	return cp
}

var defaultPaths = map[ArtifactType]string{
	InfoJSON:               "info.json",
	OriginalMedia:          "original/media.mp4",
	OriginalThumbnail:      "original/thumbnail.jpg",
	ExtractedAudio:         "audio/audio.m4a",
	TranscriptWhisperXJSON: "transcripts/whisperx/transcript.json",
	TranscriptEnVTT:        "transcript_en.vtt",
	TranscriptZhVTT:        "transcript_zh.vtt",
	TranscriptMergedVTT:    "transcripts/merged.vtt",
	TranscriptText:         "transcripts/transcript.txt",
	SummaryRich:            "summary/summary.json",
	SummaryText:            "summary/summary.txt",
	SpeechSummary:          "summary/speech.mp3",
	Topics:                 "topics/topics.json",
	ChatHistory:            "chat/history.json",
	ScreenshotCollection:   "screenshots/index.json",
	Screenshot:             "screenshots",
}

// DefaultPath returns the bucket-relative location an artifact type is written to.
func DefaultPath(t ArtifactType) string {
	return defaultPaths[t]
}

// Manifest is the root state document of one content bucket.
type Manifest struct {
	ID            string         `json:"id"`
	HashID        string         `json:"hashId"`
	Metadata      map[string]any `json:"metadata"`
	FileManifest  []FileItem     `json:"fileManifest"`
	Tasks         []Task         `json:"tasks"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	SchemaVersion string         `json:"schemaVersion"`
	Revision      int64          `json:"revision"`
}

// FileItem is one physical or virtual output of the pipeline.
type FileItem struct {
	Type        ArtifactType
	Version     int
	Path        string
	State       FileState
	GeneratedBy string
	DerivedFrom []string
	Metadata    Metadata
}

// Task is one pipeline stage instance.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	State         TaskState      `json:"state"`
	Percent       int            `json:"percent"`
	RelatedOutput ArtifactType   `json:"relatedOutput"`
	StartedAt     *time.Time     `json:"startedAt"`
	UpdatedAt     *time.Time     `json:"updatedAt"`
	Error         *string        `json:"error"`
	Context       map[string]any `json:"context"`
}

// HashIDFor derives the stable bucket identifier for a source URL.
func HashIDFor(sourceURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sourceURL)))
	return hex.EncodeToString(sum[:])[:16]
}

// New builds an empty manifest for a source URL.
func New(sourceURL string, metadata map[string]any, now time.Time) *Manifest {
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["url"] = strings.TrimSpace(sourceURL)
	now = now.UTC()
	return &Manifest{
		ID:            uuid.NewString(),
		HashID:        HashIDFor(sourceURL),
		Metadata:      meta,
		FileManifest:  []FileItem{},
		Tasks:         []Task{},
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
}

// SourceURL returns the bucket's source URL from metadata.
func (m *Manifest) SourceURL() string {
	return m.MetaString("url")
}

// MetaString returns a string metadata value, or "" when absent.
func (m *Manifest) MetaString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// File returns the authoritative artifact of a type: the first entry with that
// type. The pointer is invalidated by any append to FileManifest.
func (m *Manifest) File(t ArtifactType) *FileItem {
	for i := range m.FileManifest {
		if m.FileManifest[i].Type == t {
			return &m.FileManifest[i]
		}
	}
	return nil
}

// FileReady reports whether the authoritative artifact of a type is ready.
func (m *Manifest) FileReady(t ArtifactType) bool {
	f := m.File(t)
	return f != nil && f.State == FileReady
}

// Files returns every entry of a type, in document order.
func (m *Manifest) Files(t ArtifactType) []FileItem {
	var out []FileItem
	for _, f := range m.FileManifest {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// EnsurePlaceholder returns the artifact of type t, appending a queued
// placeholder when none exists.
func (m *Manifest) EnsurePlaceholder(t ArtifactType, generatedBy string, derivedFrom []string) *FileItem {
	if f := m.File(t); f != nil {
		return f
	}
	m.FileManifest = append(m.FileManifest, FileItem{
		Type:        t,
		Version:     0,
		Path:        DefaultPath(t),
		State:       FileQueued,
		GeneratedBy: generatedBy,
		DerivedFrom: append([]string{}, derivedFrom...),
	})
	return &m.FileManifest[len(m.FileManifest)-1]
}

// Task returns the task with the given id. The pointer is invalidated by any
// append to Tasks.
func (m *Manifest) Task(id string) *Task {
	for i := range m.Tasks {
		if m.Tasks[i].ID == id {
			return &m.Tasks[i]
		}
	}
	return nil
}

// HasTask reports whether a task with the id exists in any state.
func (m *Manifest) HasTask(id string) bool {
	return m.Task(id) != nil
}

// TaskDone reports whether the task exists and completed successfully.
func (m *Manifest) TaskDone(id string) bool {
	t := m.Task(id)
	return t != nil && t.State == TaskDone
}

// NextQueued returns the oldest queued task (document order), or nil.
func (m *Manifest) NextQueued() *Task {
	for i := range m.Tasks {
		if m.Tasks[i].State == TaskQueued {
			return &m.Tasks[i]
		}
	}
	return nil
}

// HasQueued reports whether any task waits to run.
func (m *Manifest) HasQueued() bool {
	return m.NextQueued() != nil
}

// ContextString returns a context value as a string, or def when absent.
func (t *Task) ContextString(key, def string) string {
	if t == nil || t.Context == nil {
		return def
	}
	v, ok := t.Context[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Start moves the task to running.
func (t *Task) Start(now time.Time) {
	now = now.UTC()
	t.State = TaskRunning
	t.Percent = 0
	t.Error = nil
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.UpdatedAt = &now
}

// SetPercent records progress, clamped to 0..100. It returns false when the
// value did not change.
func (t *Task) SetPercent(percent int, now time.Time) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent == t.Percent {
		return false
	}
	now = now.UTC()
	t.Percent = percent
	t.UpdatedAt = &now
	return true
}

// Complete moves the task to done.
func (t *Task) Complete(now time.Time) {
	now = now.UTC()
	t.State = TaskDone
	t.Percent = 100
	t.Error = nil
	t.UpdatedAt = &now
}

// Fail moves the task to error with a human-readable detail.
func (t *Task) Fail(message string, now time.Time) {
	now = now.UTC()
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "task failed"
	}
	t.State = TaskError
	if t.Percent >= 100 {
		t.Percent = 99
	}
	t.Error = &msg
	t.UpdatedAt = &now
}

// Reset returns a terminal task to queued, optionally replacing its context.
func (t *Task) Reset(context map[string]any, now time.Time) {
	now = now.UTC()
	t.State = TaskQueued
	t.Percent = 0
	t.Error = nil
	t.StartedAt = nil
	t.UpdatedAt = &now
	if context != nil {
		t.Context = context
	}
}

// ErrorText returns the error detail or "".
func (t *Task) ErrorText() string {
	if t == nil || t.Error == nil {
		return ""
	}
	return *t.Error
}
