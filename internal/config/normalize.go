package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExecutor()
	c.normalizeDefaults()
	c.normalizeLibrary()
	c.normalizeLogging()
	c.normalizeWorkers()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StorageRoot) == "" {
		c.Paths.StorageRoot = defaultStorageRoot
	}
	if c.Paths.StorageRoot, err = expandPath(c.Paths.StorageRoot); err != nil {
		return fmt.Errorf("paths.storage_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JournalPath) == "" {
		c.Paths.JournalPath = filepath.Join(c.Paths.LogDir, defaultJournalName)
	}
	if c.Paths.JournalPath, err = expandPath(c.Paths.JournalPath); err != nil {
		return fmt.Errorf("paths.journal_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeExecutor() {
	if c.Executor.ProgressStep <= 0 {
		c.Executor.ProgressStep = defaultProgressStep
	}
	if c.Executor.StderrLimitBytes <= 0 {
		c.Executor.StderrLimitBytes = defaultStderrLimitBytes
	}
	if c.Executor.TaskTimeoutSeconds < 0 {
		c.Executor.TaskTimeoutSeconds = 0
	}
}

func (c *Config) normalizeDefaults() {
	c.Defaults.Quality = fallback(c.Defaults.Quality, defaultQuality)
	c.Defaults.WhisperModel = fallback(c.Defaults.WhisperModel, defaultWhisperModel)
	c.Defaults.SummaryModel = fallback(c.Defaults.SummaryModel, defaultSummaryModel)
	c.Defaults.ChatModel = fallback(c.Defaults.ChatModel, defaultChatModel)
	c.Defaults.Voice = fallback(c.Defaults.Voice, defaultVoice)
}

func (c *Config) normalizeLibrary() {
	if c.Library.ExcerptRunes <= 0 {
		c.Library.ExcerptRunes = defaultExcerptRunes
	}
	if c.Library.RebuildWorkers <= 0 {
		c.Library.RebuildWorkers = defaultRebuildWorkers
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = defaultWatchDebounceMS
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(fallback(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(fallback(c.Logging.Level, defaultLogLevel))
}

func (c *Config) normalizeWorkers() {
	if c.Workers == nil {
		c.Workers = map[string]Worker{}
	}
	for id, w := range c.Workers {
		w.Command = strings.TrimSpace(w.Command)
		if w.Dir != "" {
			if expanded, err := expandPath(w.Dir); err == nil {
				w.Dir = expanded
			}
		}
		if w.TimeoutSeconds < 0 {
			w.TimeoutSeconds = 0
		}
		c.Workers[id] = w
	}
}

func fallback(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}
