package api

import (
	"time"

	"conveyor/internal/journal"
	"conveyor/internal/library"
	"conveyor/internal/manifest"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LibraryResponse wraps the filtered library listing.
type LibraryResponse struct {
	UpdatedAt string          `json:"updatedAt,omitempty"`
	Items     []library.Entry `json:"items"`
}

// IngestRequest is the POST /api/buckets body.
type IngestRequest struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Quality      string `json:"quality,omitempty"`
	WhisperModel string `json:"whisperModel,omitempty"`
	SummaryModel string `json:"summaryModel,omitempty"`
	ChatModel    string `json:"chatModel,omitempty"`
	Voice        string `json:"voice,omitempty"`
}

// IngestResponse reports the bucket an ingest resolved to.
type IngestResponse struct {
	Created  bool               `json:"created"`
	Manifest *manifest.Manifest `json:"manifest"`
}

// UpgradeRequest is the upgrade-quality body.
type UpgradeRequest struct {
	Quality string `json:"quality"`
}

// PurgeRequest is the purge-media body. KeepThumbnail defaults to true.
type PurgeRequest struct {
	KeepResults   bool   `json:"keepResults"`
	KeepThumbnail *bool  `json:"keepThumbnail,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ScreenshotRequest is the screenshots body.
type ScreenshotRequest struct {
	Mode     string `json:"mode"`
	Interval int    `json:"interval,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// ChatRequest is the chats body.
type ChatRequest struct {
	Action string `json:"action"`
	ChatID string `json:"chatId,omitempty"`
}

// TaskResponse wraps a task created or reset by a request.
type TaskResponse struct {
	Task manifest.Task `json:"task"`
}

// Run describes a journal entry in a transport-friendly format.
type Run struct {
	ID           int64    `json:"id"`
	HashID       string   `json:"hashId"`
	TaskID       string   `json:"taskId"`
	Status       string   `json:"status"`
	ExitCode     *int     `json:"exitCode,omitempty"`
	Error        string   `json:"error,omitempty"`
	Command      string   `json:"command,omitempty"`
	StartedAt    string   `json:"startedAt"`
	FinishedAt   string   `json:"finishedAt"`
	DurationMS   int64    `json:"durationMs"`
	CreatedTasks []string `json:"createdTasks"`
}

// HistoryResponse wraps journal runs, newest first.
type HistoryResponse struct {
	Runs []Run `json:"runs"`
}

// FromRun converts a journal run.
func FromRun(r journal.Run) Run {
	created := r.CreatedTasks
	if created == nil {
		created = []string{}
	}
	return Run{
		ID:           r.ID,
		HashID:       r.HashID,
		TaskID:       r.TaskID,
		Status:       string(r.Status),
		ExitCode:     r.ExitCode,
		Error:        r.Error,
		Command:      r.Command,
		StartedAt:    formatTime(r.StartedAt),
		FinishedAt:   formatTime(r.FinishedAt),
		DurationMS:   r.Duration.Milliseconds(),
		CreatedTasks: created,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
