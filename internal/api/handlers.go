package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"conveyor/internal/journal"
	"conveyor/internal/library"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/services"
	"conveyor/internal/tasks"
)

const maxBodyBytes = 1 << 20

// ListLibrary handles GET /api/library.
func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	idx, err := h.deps.Library.Load()
	if err != nil {
		h.writeServiceError(w, r, "load library", err)
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	platform := strings.TrimSpace(r.URL.Query().Get("platform"))
	items := make([]library.Entry, 0, len(idx.Items))
	for _, e := range idx.Items {
		if state != "" && e.State != state {
			continue
		}
		if platform != "" && e.Platform != platform {
			continue
		}
		items = append(items, e)
	}
	writeJSON(w, http.StatusOK, LibraryResponse{UpdatedAt: formatTime(idx.UpdatedAt), Items: items})
}

// RebuildLibrary handles POST /api/library/rebuild.
func (h *Handler) RebuildLibrary(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Library.Rebuild(r.Context()); err != nil {
		h.writeServiceError(w, r, "rebuild library", err)
		return
	}
	h.ListLibrary(w, r)
}

// GetBucket handles GET /api/buckets/{hashId}.
func (h *Handler) GetBucket(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Buckets.Load(chi.URLParam(r, "hashId"))
	if err != nil {
		h.writeServiceError(w, r, "load bucket", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Ingest handles POST /api/buckets. It answers 201 for a new bucket and 200
// when the URL was already ingested.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, created, err := h.deps.Tasks.Ingest(r.Context(), req.URL, tasks.IngestOptions{
		Title:        req.Title,
		Quality:      req.Quality,
		WhisperModel: req.WhisperModel,
		SummaryModel: req.SummaryModel,
		ChatModel:    req.ChatModel,
		Voice:        req.Voice,
	})
	if err != nil {
		h.writeServiceError(w, r, "ingest", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.kick(m.HashID)
	}
	writeJSON(w, status, IngestResponse{Created: created, Manifest: m})
}

// UpgradeQuality handles POST /api/buckets/{hashId}/upgrade-quality.
func (h *Handler) UpgradeQuality(w http.ResponseWriter, r *http.Request) {
	var req UpgradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "hashId")
	task, err := h.deps.Tasks.UpgradeQuality(r.Context(), id, req.Quality)
	h.writeTask(w, r, id, "upgrade quality", task, err)
}

// PurgeMedia handles POST /api/buckets/{hashId}/purge-media.
func (h *Handler) PurgeMedia(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	keepThumb := true
	if req.KeepThumbnail != nil {
		keepThumb = *req.KeepThumbnail
	}
	id := chi.URLParam(r, "hashId")
	task, err := h.deps.Tasks.PurgeMedia(r.Context(), id, tasks.PurgeOptions{
		KeepResults:   req.KeepResults,
		KeepThumbnail: keepThumb,
		Reason:        req.Reason,
	})
	h.writeTask(w, r, id, "purge media", task, err)
}

// ExtractScreenshots handles POST /api/buckets/{hashId}/screenshots.
func (h *Handler) ExtractScreenshots(w http.ResponseWriter, r *http.Request) {
	var req ScreenshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "hashId")
	task, err := h.deps.Tasks.ExtractScreenshots(r.Context(), id, tasks.ScreenshotOptions{
		Mode:     req.Mode,
		Interval: req.Interval,
		Count:    req.Count,
	})
	h.writeTask(w, r, id, "extract screenshots", task, err)
}

// ManageChats handles POST /api/buckets/{hashId}/chats.
func (h *Handler) ManageChats(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "hashId")
	task, err := h.deps.Tasks.ManageChats(r.Context(), id, req.Action, req.ChatID)
	h.writeTask(w, r, id, "manage chats", task, err)
}

// ResetTask handles POST /api/buckets/{hashId}/tasks/{taskId}/reset.
func (h *Handler) ResetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "hashId")
	task, err := h.deps.Tasks.Reset(r.Context(), id, chi.URLParam(r, "taskId"))
	h.writeTask(w, r, id, "reset task", task, err)
}

// History handles GET /api/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		notFound(w)
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{
		HashID: strings.TrimSpace(q.Get("hashId")),
		Status: journal.Status(strings.TrimSpace(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	runs, err := h.deps.History.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list history", err)
		return
	}
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: out})
}

func (h *Handler) writeTask(w http.ResponseWriter, r *http.Request, hashID, op string, task manifest.Task, err error) {
	if err != nil {
		h.writeServiceError(w, r, op, err)
		return
	}
	h.kick(hashID)
	writeJSON(w, http.StatusAccepted, TaskResponse{Task: task})
}

func (h *Handler) kick(hashID string) {
	if h.deps.Kicker != nil {
		h.deps.Kicker.Kick(hashID)
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context(), h.logger).Error(op+" failed",
			logging.String(logging.FieldEventType, "api_error"),
			logging.Error(err),
		)
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body. An empty body leaves dst zeroed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error()))
		return false
	}
	return true
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
