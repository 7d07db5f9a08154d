package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"conveyor/internal/library"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
)

// finalizeInput is what a finalizer may inspect and mutate. It runs inside the
// completion update, after outputs are marked ready and before the evaluator.
type finalizeInput struct {
	doc       *manifest.Manifest
	task      *manifest.Task
	bucketDir string
	now       time.Time
}

type finalizer func(in finalizeInput) error

var finalizers = map[string]finalizer{
	rules.TaskFetchInfo:          finalizeInfo,
	rules.TaskDownloadMedia:      finalizeMedia,
	rules.TaskUpgradeQuality:     finalizeMedia,
	rules.TaskExtractAudio:       finalizeAudio,
	rules.TaskTranscribeWhisperX: finalizeWhisperX,
	rules.TaskConvertText:        finalizeText,
	rules.TaskGenerateSummary:    finalizeSummary,
	rules.TaskInitChat:           finalizeChat,
	rules.TaskManageChats:        finalizeChat,
	rules.TaskExtractTopics:      finalizeTopics,
	rules.TaskGenerateSpeech:     finalizeSpeech,
	rules.TaskPurgeMedia:         finalizePurge,
	rules.TaskExtractScreenshots: finalizeScreenshots,
}

func readObject(p string) (map[string]any, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(p), err)
	}
	return obj, nil
}

func (in finalizeInput) path(f *manifest.FileItem) string {
	return filepath.Join(in.bucketDir, f.Path)
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func contextBool(t *manifest.Task, key string, def bool) bool {
	if t == nil || t.Context == nil {
		return def
	}
	switch v := t.Context[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// finalizeInfo copies well-known source fields from info.json into bucket
// metadata without overwriting values supplied at ingest.
func finalizeInfo(in finalizeInput) error {
	f := in.doc.File(manifest.InfoJSON)
	if f == nil {
		return nil
	}
	info, err := readObject(in.path(f))
	if err != nil {
		return err
	}
	if in.doc.Metadata == nil {
		in.doc.Metadata = map[string]any{}
	}
	for _, key := range []string{"title", "duration", "uploader", "extractor", "thumbnail", "description"} {
		v, ok := info[key]
		if !ok || v == nil {
			continue
		}
		if existing := in.doc.MetaString(key); existing != "" {
			continue
		}
		in.doc.Metadata[key] = v
	}
	return nil
}

func finalizeMedia(in finalizeInput) error {
	f := in.doc.File(manifest.OriginalMedia)
	if f == nil {
		return nil
	}
	f.EnsureMetadata()
	md, ok := f.Media()
	if !ok {
		return fmt.Errorf("original_media carries %T metadata", f.Metadata)
	}

	quality := in.task.ContextString("quality", "")
	previous := in.task.ContextString("previousQuality", md.Quality)
	if in.task.ID == rules.TaskUpgradeQuality && previous != "" && previous != quality {
		md.PreviousQualities = append(md.PreviousQualities, previous)
	}
	if quality != "" {
		md.Quality = quality
	}
	if d, ok := numberOf(in.doc.Metadata["duration"]); ok && d > 0 {
		md.Duration = d
	}
	if mt := md.MimeType; mt != "" {
		md.MediaType, _, _ = strings.Cut(mt, "/")
	}

	if info := in.doc.File(manifest.InfoJSON); info != nil {
		if obj, err := readObject(in.path(info)); err == nil {
			w, wok := numberOf(obj["width"])
			h, hok := numberOf(obj["height"])
			if wok && hok && w > 0 && h > 0 {
				md.Dimensions = &manifest.Dimensions{Width: int(w), Height: int(h)}
			}
		}
	}
	return nil
}

func finalizeAudio(in finalizeInput) error {
	f := in.doc.File(manifest.ExtractedAudio)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.AudioMetadata)
	if !ok {
		return fmt.Errorf("extracted_audio carries %T metadata", f.Metadata)
	}
	md.Format = in.task.ContextString("format", "m4a")
	if d, ok := numberOf(in.doc.Metadata["duration"]); ok && d > 0 {
		md.Duration = d
	}
	return nil
}

type whisperxDoc struct {
	Language string `json:"language"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

func finalizeWhisperX(in finalizeInput) error {
	f := in.doc.File(manifest.TranscriptWhisperXJSON)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.TranscriptMetadata)
	if !ok {
		return fmt.Errorf("transcript carries %T metadata", f.Metadata)
	}
	md.ModelName = in.task.ContextString("model", "")

	data, err := os.ReadFile(in.path(f))
	if err != nil {
		return err
	}
	var doc whisperxDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse whisperx transcript: %w", err)
	}
	md.Language = doc.Language
	md.SegmentCount = len(doc.Segments)
	words := 0
	for _, s := range doc.Segments {
		words += len(strings.Fields(s.Text))
	}
	md.WordCount = words
	return nil
}

func finalizeText(in finalizeInput) error {
	f := in.doc.File(manifest.TranscriptText)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.TranscriptMetadata)
	if !ok {
		return fmt.Errorf("transcript_text carries %T metadata", f.Metadata)
	}
	source := manifest.ArtifactType(in.task.ContextString("source", ""))
	if src := in.doc.File(source); src != nil {
		if sm, ok := src.Metadata.(*manifest.TranscriptMetadata); ok {
			md.Language = sm.Language
			md.ModelName = sm.ModelName
		}
	}
	data, err := os.ReadFile(in.path(f))
	if err != nil {
		return err
	}
	md.WordCount = len(strings.Fields(string(data)))
	return nil
}

func finalizeSummary(in finalizeInput) error {
	model := in.task.ContextString("model", "")
	for _, pair := range []struct {
		t      manifest.ArtifactType
		format string
	}{
		{manifest.SummaryRich, "json"},
		{manifest.SummaryText, "text"},
	} {
		f := in.doc.File(pair.t)
		if f == nil {
			continue
		}
		md, ok := f.EnsureMetadata().(*manifest.SummaryMetadata)
		if !ok {
			return fmt.Errorf("%s carries %T metadata", pair.t, f.Metadata)
		}
		md.Model = model
		md.Format = pair.format
	}
	return nil
}

// countMessages accepts a bare message array, {"messages": [...]}, or
// {"chats": [{"messages": [...]}, ...]}.
func countMessages(data []byte) (int, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return len(list), nil
	}
	var doc struct {
		Messages []json.RawMessage `json:"messages"`
		Chats    []struct {
			Messages []json.RawMessage `json:"messages"`
		} `json:"chats"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse chat history: %w", err)
	}
	total := len(doc.Messages)
	for _, c := range doc.Chats {
		total += len(c.Messages)
	}
	return total, nil
}

func finalizeChat(in finalizeInput) error {
	f := in.doc.File(manifest.ChatHistory)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.ChatMetadata)
	if !ok {
		return fmt.Errorf("chat_history carries %T metadata", f.Metadata)
	}
	if model := in.task.ContextString("model", ""); model != "" {
		md.Model = model
	}
	data, err := os.ReadFile(in.path(f))
	if err != nil {
		return err
	}
	n, err := countMessages(data)
	if err != nil {
		return err
	}
	md.MessageCount = n
	return nil
}

func finalizeTopics(in finalizeInput) error {
	f := in.doc.File(manifest.Topics)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.TopicsMetadata)
	if !ok {
		return fmt.Errorf("topics carries %T metadata", f.Metadata)
	}
	data, err := os.ReadFile(in.path(f))
	if err != nil {
		return err
	}
	tags, err := library.ParseTags(data)
	if err != nil {
		return err
	}
	md.TagCount = len(tags)
	return nil
}

func finalizeSpeech(in finalizeInput) error {
	f := in.doc.File(manifest.SpeechSummary)
	if f == nil {
		return nil
	}
	md, ok := f.EnsureMetadata().(*manifest.AudioMetadata)
	if !ok {
		return fmt.Errorf("speech_summary carries %T metadata", f.Metadata)
	}
	md.Voice = in.task.ContextString("voice", "")
	md.Format = strings.TrimPrefix(path.Ext(f.Path), ".")
	return nil
}

func finalizePurge(in finalizeInput) error {
	reason := in.task.ContextString("reason", "manual purge")
	if err := in.doc.Purge(manifest.OriginalMedia, reason, in.now); err != nil {
		return err
	}
	if !contextBool(in.task, "keepResults", false) && in.doc.File(manifest.ExtractedAudio) != nil {
		if err := in.doc.Purge(manifest.ExtractedAudio, reason, in.now); err != nil {
			return err
		}
	}
	if !contextBool(in.task, "keepThumbnail", true) && in.doc.File(manifest.OriginalThumbnail) != nil {
		if err := in.doc.Purge(manifest.OriginalThumbnail, reason, in.now); err != nil {
			return err
		}
	}
	return nil
}

func finalizeScreenshots(in finalizeInput) error {
	dir := filepath.Join(in.bucketDir, manifest.DefaultPath(manifest.Screenshot))
	matches, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	mode := in.task.ContextString("mode", "interval")

	var derived []string
	if media := in.doc.File(manifest.OriginalMedia); media != nil {
		derived = []string{media.Path}
	}
	in.doc.RemoveFiles(manifest.Screenshot)
	for _, abs := range matches {
		var size int64
		if info, err := os.Stat(abs); err == nil {
			size = info.Size()
		}
		in.doc.FileManifest = append(in.doc.FileManifest, manifest.FileItem{
			Type:        manifest.Screenshot,
			Version:     1,
			Path:        path.Join(manifest.DefaultPath(manifest.Screenshot), filepath.Base(abs)),
			State:       manifest.FileReady,
			GeneratedBy: "ffmpeg",
			DerivedFrom: derived,
			Metadata: &manifest.ScreenshotMetadata{
				Content: manifest.Content{DiskSize: size, MimeType: "image/jpeg"},
				Mode:    mode,
			},
		})
	}

	if f := in.doc.File(manifest.ScreenshotCollection); f != nil {
		md, ok := f.EnsureMetadata().(*manifest.ScreenshotMetadata)
		if !ok {
			return fmt.Errorf("screenshot_collection carries %T metadata", f.Metadata)
		}
		md.Mode = mode
		md.Count = len(matches)
	}
	return nil
}
