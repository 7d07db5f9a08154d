package rules

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/manifest"
)

// Task ids with built-in meaning.
const (
	TaskFetchInfo          = "fetch_info"
	TaskDownloadMedia      = "download_media"
	TaskExtractAudio       = "extract_audio"
	TaskTranscribeWhisperX = "transcribe_whisperx"
	TaskMergeTranscripts   = "merge_transcripts"
	TaskConvertText        = "convert_text"
	TaskGenerateSummary    = "generate_summary"
	TaskInitChat           = "init_chat"
	TaskExtractTopics      = "extract_topics"
	TaskGenerateSpeech     = "generate_speech"

	TaskUpgradeQuality     = "upgrade_quality"
	TaskPurgeMedia         = "purge_media"
	TaskExtractScreenshots = "extract_screenshots"
	TaskManageChats        = "manage_chats"
)

// Defaults supply context values when bucket metadata does not.
type Defaults struct {
	Quality      string
	WhisperModel string
	SummaryModel string
	ChatModel    string
	Voice        string
}

// Fallbacks used when neither metadata nor configuration names a value.
var builtinDefaults = Defaults{
	Quality:      "best",
	WhisperModel: "medium.en",
	SummaryModel: "gpt-4o-mini",
	ChatModel:    "gpt-4o-mini",
	Voice:        "alloy",
}

// Rule is one edge set of the dependency graph.
type Rule struct {
	TaskID string
	Output manifest.ArtifactType
	// Siblings are produced by the same run and become ready with Output.
	Siblings []manifest.ArtifactType
	// Optional outputs are recorded only when the worker wrote them.
	Optional []manifest.ArtifactType
	// NoContent tasks act on Output without producing new content for it.
	NoContent bool
	// Trigger returns the satisfying upstream artifact types.
	Trigger  func(m *manifest.Manifest) ([]manifest.ArtifactType, bool)
	Context  func(m *manifest.Manifest, d Defaults, inputs []manifest.ArtifactType) map[string]any
	Producer func(ctx map[string]any) string
}

func ready(types ...manifest.ArtifactType) func(m *manifest.Manifest) ([]manifest.ArtifactType, bool) {
	return func(m *manifest.Manifest) ([]manifest.ArtifactType, bool) {
		for _, t := range types {
			if !m.FileReady(t) {
				return nil, false
			}
		}
		return types, true
	}
}

func anyReady(types ...manifest.ArtifactType) func(m *manifest.Manifest) ([]manifest.ArtifactType, bool) {
	return func(m *manifest.Manifest) ([]manifest.ArtifactType, bool) {
		for _, t := range types {
			if m.FileReady(t) {
				return []manifest.ArtifactType{t}, true
			}
		}
		return nil, false
	}
}

func fixed(name string) func(map[string]any) string {
	return func(map[string]any) string { return name }
}

func versioned(name, key string) func(map[string]any) string {
	return func(ctx map[string]any) string {
		if v, ok := ctx[key].(string); ok && v != "" {
			return name + "@" + v
		}
		return name
	}
}

func metaOr(m *manifest.Manifest, key, configured, builtin string) string {
	if v := m.MetaString(key); v != "" {
		return v
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	return builtin
}

var table = []Rule{
	{
		TaskID:   TaskDownloadMedia,
		Output:   manifest.OriginalMedia,
		Optional: []manifest.ArtifactType{manifest.OriginalThumbnail, manifest.TranscriptEnVTT, manifest.TranscriptZhVTT},
		Trigger: func(m *manifest.Manifest) ([]manifest.ArtifactType, bool) {
			if !m.TaskDone(TaskFetchInfo) {
				return nil, false
			}
			return ready(manifest.InfoJSON)(m)
		},
		Context: func(m *manifest.Manifest, d Defaults, _ []manifest.ArtifactType) map[string]any {
			return map[string]any{"quality": metaOr(m, "quality", d.Quality, builtinDefaults.Quality)}
		},
		Producer: fixed("yt-dlp"),
	},
	{
		TaskID:  TaskExtractAudio,
		Output:  manifest.ExtractedAudio,
		Trigger: ready(manifest.OriginalMedia),
		Context: func(*manifest.Manifest, Defaults, []manifest.ArtifactType) map[string]any {
			return map[string]any{"format": "m4a"}
		},
		Producer: fixed("ffmpeg"),
	},
	{
		TaskID:  TaskTranscribeWhisperX,
		Output:  manifest.TranscriptWhisperXJSON,
		Trigger: ready(manifest.ExtractedAudio),
		Context: func(m *manifest.Manifest, d Defaults, _ []manifest.ArtifactType) map[string]any {
			return map[string]any{"model": metaOr(m, "whisperModel", d.WhisperModel, builtinDefaults.WhisperModel)}
		},
		Producer: versioned("whisperx", "model"),
	},
	{
		TaskID:   TaskMergeTranscripts,
		Output:   manifest.TranscriptMergedVTT,
		Trigger:  ready(manifest.TranscriptEnVTT, manifest.TranscriptZhVTT),
		Producer: fixed("vtt-merge"),
	},
	{
		TaskID:  TaskConvertText,
		Output:  manifest.TranscriptText,
		Trigger: anyReady(manifest.TranscriptMergedVTT, manifest.TranscriptWhisperXJSON),
		Context: func(_ *manifest.Manifest, _ Defaults, inputs []manifest.ArtifactType) map[string]any {
			return map[string]any{"source": string(inputs[0])}
		},
		Producer: fixed("text-converter"),
	},
	{
		TaskID:   TaskGenerateSummary,
		Output:   manifest.SummaryRich,
		Siblings: []manifest.ArtifactType{manifest.SummaryText},
		Trigger:  ready(manifest.TranscriptText),
		Context: func(m *manifest.Manifest, d Defaults, _ []manifest.ArtifactType) map[string]any {
			return map[string]any{"model": metaOr(m, "summaryModel", d.SummaryModel, builtinDefaults.SummaryModel)}
		},
		Producer: versioned("summary", "model"),
	},
	{
		TaskID:  TaskInitChat,
		Output:  manifest.ChatHistory,
		Trigger: ready(manifest.TranscriptText),
		Context: func(m *manifest.Manifest, d Defaults, _ []manifest.ArtifactType) map[string]any {
			return map[string]any{"model": metaOr(m, "chatModel", d.ChatModel, builtinDefaults.ChatModel)}
		},
		Producer: versioned("chat", "model"),
	},
	{
		TaskID:   TaskExtractTopics,
		Output:   manifest.Topics,
		Trigger:  ready(manifest.SummaryRich),
		Producer: fixed("topics"),
	},
	{
		TaskID:  TaskGenerateSpeech,
		Output:  manifest.SpeechSummary,
		Trigger: ready(manifest.SummaryText),
		Context: func(m *manifest.Manifest, d Defaults, _ []manifest.ArtifactType) map[string]any {
			return map[string]any{"voice": metaOr(m, "voice", d.Voice, builtinDefaults.Voice)}
		},
		Producer: versioned("tts", "voice"),
	},
}

// Outputs of tasks that are not created by rules.
var manualOutputs = map[string]Rule{
	TaskFetchInfo:          {TaskID: TaskFetchInfo, Output: manifest.InfoJSON, Producer: fixed("yt-dlp")},
	TaskUpgradeQuality:     {TaskID: TaskUpgradeQuality, Output: manifest.OriginalMedia, Producer: fixed("yt-dlp")},
	TaskPurgeMedia:         {TaskID: TaskPurgeMedia, Output: manifest.OriginalMedia, NoContent: true, Producer: fixed("purge")},
	TaskExtractScreenshots: {TaskID: TaskExtractScreenshots, Output: manifest.ScreenshotCollection, Producer: fixed("ffmpeg")},
	TaskManageChats:        {TaskID: TaskManageChats, Output: manifest.ChatHistory, Producer: versioned("chat", "model")},
}

// Rules returns a copy of the dependency table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(table))
	copy(out, table)
	return out
}

// Lookup finds the rule, or manual task description, for a task id.
func Lookup(taskID string) (Rule, bool) {
	for _, r := range table {
		if r.TaskID == taskID {
			return r, true
		}
	}
	r, ok := manualOutputs[taskID]
	return r, ok
}

var titleCaser = cases.Title(language.English)

// Title renders a task id as a display title.
func Title(taskID string) string {
	return titleCaser.String(strings.ReplaceAll(taskID, "_", " "))
}

// Evaluator applies the rule table to manifests.
type Evaluator struct {
	rules    []Rule
	defaults Defaults
	now      func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source stamped on new tasks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator constructs an evaluator over the built-in table.
func NewEvaluator(defaults Defaults, opts ...Option) *Evaluator {
	e := &Evaluator{rules: Rules(), defaults: defaults, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate appends a queued task (and output placeholders) for every rule
// whose inputs are ready and whose task does not exist yet. It returns the new
// tasks; an empty result means the manifest is unchanged.
func (e *Evaluator) Evaluate(m *manifest.Manifest) []manifest.Task {
	var created []manifest.Task
	for _, rule := range e.rules {
		if m.HasTask(rule.TaskID) {
			continue
		}
		inputs, ok := rule.Trigger(m)
		if !ok {
			continue
		}
		task := e.build(m, rule, inputs)
		m.Tasks = append(m.Tasks, task)
		created = append(created, task)
	}
	return created
}

func (e *Evaluator) build(m *manifest.Manifest, rule Rule, inputs []manifest.ArtifactType) manifest.Task {
	ctx := map[string]any{}
	if rule.Context != nil {
		ctx = rule.Context(m, e.defaults, inputs)
	}
	derived := make([]string, 0, len(inputs))
	for _, t := range inputs {
		if f := m.File(t); f != nil {
			derived = append(derived, f.Path)
		}
	}
	producer := rule.TaskID
	if rule.Producer != nil {
		producer = rule.Producer(ctx)
	}
	m.EnsurePlaceholder(rule.Output, producer, derived)
	for _, sibling := range rule.Siblings {
		m.EnsurePlaceholder(sibling, producer, derived)
	}
	now := e.now().UTC()
	return manifest.Task{
		ID:            rule.TaskID,
		Title:         Title(rule.TaskID),
		State:         manifest.TaskQueued,
		RelatedOutput: rule.Output,
		UpdatedAt:     &now,
		Context:       ctx,
	}
}
