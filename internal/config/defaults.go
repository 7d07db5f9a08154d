package config

const (
	defaultStorageRoot        = "~/.local/share/conveyor/storage"
	defaultLogDir             = "~/.local/share/conveyor/logs"
	defaultJournalName        = "journal.db"
	defaultAPIBind            = "127.0.0.1:7488"
	defaultProgressStep       = 10
	defaultStderrLimitBytes   = 64 * 1024
	defaultQuality            = "best"
	defaultWhisperModel       = "medium.en"
	defaultSummaryModel       = "gpt-4o-mini"
	defaultChatModel          = "gpt-4o-mini"
	defaultVoice              = "alloy"
	defaultExcerptRunes       = 200
	defaultRebuildWorkers     = 4
	defaultWatchDebounceMS    = 500
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultWorkerInterpreter  = "python3"
	defaultWorkerScriptPrefix = "workers/"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageRoot: defaultStorageRoot,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Executor: Executor{
			ProgressStep:     defaultProgressStep,
			StderrLimitBytes: defaultStderrLimitBytes,
		},
		Defaults: Defaults{
			Quality:      defaultQuality,
			WhisperModel: defaultWhisperModel,
			SummaryModel: defaultSummaryModel,
			ChatModel:    defaultChatModel,
			Voice:        defaultVoice,
		},
		Library: Library{
			ExcerptRunes:   defaultExcerptRunes,
			RebuildWorkers: defaultRebuildWorkers,
		},
		Watch: Watch{
			Enabled:    true,
			DebounceMS: defaultWatchDebounceMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Workers: defaultWorkers(),
	}
}

func script(name string, args ...string) Worker {
	return Worker{
		Command: defaultWorkerInterpreter,
		Args:    append([]string{defaultWorkerScriptPrefix + name}, args...),
	}
}

// defaultWorkers mirrors the worker scripts shipped alongside the pipeline.
// Every worker receives the manifest path and bucket id so it can locate its
// inputs; outputs are written to the declared artifact path.
func defaultWorkers() map[string]Worker {
	common := []string{"--manifest", "{{.ManifestPath}}", "--hashId", "{{.HashID}}"}
	with := func(extra ...string) []string {
		return append(append([]string{}, common...), extra...)
	}
	return map[string]Worker{
		"fetch_info":          script("yt-dlp/fetch_info.py", with("--url", "{{.SourceURL}}", "--info-only")...),
		"download_media":      script("yt-dlp/fetch_info.py", with("--url", "{{.SourceURL}}", "--quality", `{{ctx "quality" "best"}}`, "--output", "{{.Output}}")...),
		"upgrade_quality":     script("yt-dlp/fetch_info.py", with("--url", "{{.SourceURL}}", "--quality", `{{ctx "quality" "best"}}`, "--output", "{{.Output}}")...),
		"extract_audio":       script("ffmpeg/extract_audio.py", with("--format", `{{ctx "format" "m4a"}}`, "--output", "{{.Output}}")...),
		"transcribe_whisperx": script("whisperx/transcribe.py", with("--model", `{{ctx "model" "medium.en"}}`)...),
		"merge_transcripts":   script("transcripts/merge_vtt.py", with("--output", "{{.Output}}")...),
		"convert_text":        script("transcripts/to_text.py", with("--source", `{{ctx "source" ""}}`, "--output", "{{.Output}}")...),
		"generate_summary":    script("ai/summarize.py", with("--model", `{{ctx "model" "gpt-4o-mini"}}`, "--output", "{{.Output}}")...),
		"init_chat":           script("ai/chat_init.py", with("--model", `{{ctx "model" "gpt-4o-mini"}}`, "--output", "{{.Output}}")...),
		"extract_topics":      script("ai/topics.py", with("--output", "{{.Output}}")...),
		"generate_speech":     script("ai/speech.py", with("--voice", `{{ctx "voice" "alloy"}}`, "--output", "{{.Output}}")...),
		"purge_media":         script("maintenance/purge.py", with("--keep-results", `{{ctx "keepResults" "false"}}`, "--keep-thumbnail", `{{ctx "keepThumbnail" "true"}}`)...),
		"extract_screenshots": script("ffmpeg/screenshots.py", with("--mode", `{{ctx "mode" "interval"}}`, "--interval", `{{ctx "interval" "60"}}`, "--count", `{{ctx "count" "0"}}`)...),
		"manage_chats":        script("ai/chat_manage.py", with("--action", `{{ctx "action" "new"}}`, "--chat-id", `{{ctx "chatId" ""}}`)...),
	}
}
