package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is the type-specific payload attached to a FileItem. The concrete
// variant is selected by the artifact type; see NewMetadata.
type Metadata interface {
	ContentInfo() *Content
}

// Content is recorded by the executor after a successful producing run and is
// embedded in every metadata variant.
type Content struct {
	DiskSize    int64      `json:"diskSize"`
	MimeType    string     `json:"mimeType,omitempty"`
	PurgedAt    *time.Time `json:"purgedAt,omitempty"`
	PurgeReason string     `json:"purgeReason,omitempty"`
}

// ContentInfo exposes the shared content block of any variant.
func (c *Content) ContentInfo() *Content { return c }

// Dimensions of a video stream.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type MediaMetadata struct {
	Content
	Quality           string      `json:"quality,omitempty"`
	MediaType         string      `json:"mediaType,omitempty"`
	Duration          float64     `json:"duration,omitempty"`
	Dimensions        *Dimensions `json:"dimensions,omitempty"`
	PreviousQualities []string    `json:"previousQualities,omitempty"`
}

type AudioMetadata struct {
	Content
	Format   string  `json:"format,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Voice    string  `json:"voice,omitempty"`
}

type TranscriptMetadata struct {
	Content
	Language     string `json:"language,omitempty"`
	ModelName    string `json:"modelName,omitempty"`
	WordCount    int    `json:"wordCount,omitempty"`
	SegmentCount int    `json:"segmentCount,omitempty"`
}

type SummaryMetadata struct {
	Content
	Model  string `json:"model,omitempty"`
	Format string `json:"format,omitempty"`
}

type ChatMetadata struct {
	Content
	Model        string `json:"model,omitempty"`
	MessageCount int    `json:"messageCount"`
}

type TopicsMetadata struct {
	Content
	TagCount int `json:"tagCount,omitempty"`
}

type ScreenshotMetadata struct {
	Content
	Mode      string  `json:"mode,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Count     int     `json:"count,omitempty"`
}

// BasicMetadata carries only the content block.
type BasicMetadata struct {
	Content
}

// NewMetadata returns the empty variant for an artifact type.
func NewMetadata(t ArtifactType) (Metadata, error) {
	switch t {
	case OriginalMedia:
		return &MediaMetadata{}, nil
	case ExtractedAudio, SpeechSummary:
		return &AudioMetadata{}, nil
	case TranscriptWhisperXJSON, TranscriptEnVTT, TranscriptZhVTT, TranscriptMergedVTT, TranscriptText:
		return &TranscriptMetadata{}, nil
	case SummaryRich, SummaryText:
		return &SummaryMetadata{}, nil
	case ChatHistory:
		return &ChatMetadata{}, nil
	case Topics:
		return &TopicsMetadata{}, nil
	case ScreenshotCollection, Screenshot:
		return &ScreenshotMetadata{}, nil
	case InfoJSON, OriginalThumbnail:
		return &BasicMetadata{}, nil
	default:
		return nil, fmt.Errorf("unknown artifact type %q", t)
	}
}

// DecodeMetadata parses a raw metadata object into the variant for t.
func DecodeMetadata(t ArtifactType, raw json.RawMessage) (Metadata, error) {
	md, err := NewMetadata(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, md); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", t, err)
	}
	return md, nil
}

type fileItemJSON struct {
	Type        ArtifactType    `json:"type"`
	Version     int             `json:"version"`
	Path        string          `json:"path"`
	State       FileState       `json:"state"`
	GeneratedBy string          `json:"generatedBy"`
	DerivedFrom []string        `json:"derivedFrom"`
	Metadata    json.RawMessage `json:"metadata"`
}

// MarshalJSON writes the metadata variant inline.
func (f FileItem) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if f.Metadata != nil {
		b, err := json.Marshal(f.Metadata)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	derived := f.DerivedFrom
	if derived == nil {
		derived = []string{}
	}
	return json.Marshal(fileItemJSON{
		Type:        f.Type,
		Version:     f.Version,
		Path:        f.Path,
		State:       f.State,
		GeneratedBy: f.GeneratedBy,
		DerivedFrom: derived,
		Metadata:    raw,
	})
}

// UnmarshalJSON selects the metadata variant from the type tag.
func (f *FileItem) UnmarshalJSON(data []byte) error {
	var wire fileItemJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	md, err := DecodeMetadata(wire.Type, wire.Metadata)
	if err != nil {
		return err
	}
	*f = FileItem{
		Type:        wire.Type,
		Version:     wire.Version,
		Path:        wire.Path,
		State:       wire.State,
		GeneratedBy: wire.GeneratedBy,
		DerivedFrom: wire.DerivedFrom,
		Metadata:    md,
	}
	return nil
}

// EnsureMetadata returns the item's metadata, allocating the empty variant if
// none is attached yet.
func (f *FileItem) EnsureMetadata() Metadata {
	if f.Metadata == nil {
		md, err := NewMetadata(f.Type)
		if err != nil {
			md = &BasicMetadata{}
		}
		f.Metadata = md
	}
	return f.Metadata
}

// Content returns the content block, or nil when no metadata is attached.
func (f *FileItem) Content() *Content {
	if f == nil || f.Metadata == nil {
		return nil
	}
	return f.Metadata.ContentInfo()
}

// Media returns the media variant when attached.
func (f *FileItem) Media() (*MediaMetadata, bool) {
	if f == nil {
		return nil, false
	}
	md, ok := f.Metadata.(*MediaMetadata)
	return md, ok
}

// Chat returns the chat variant when attached.
func (f *FileItem) Chat() (*ChatMetadata, bool) {
	if f == nil {
		return nil, false
	}
	md, ok := f.Metadata.(*ChatMetadata)
	return md, ok
}
