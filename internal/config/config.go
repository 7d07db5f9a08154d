package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StorageRoot string `toml:"storage_root"`
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
	APIBind     string `toml:"api_bind"`
}

// Executor tunes how workers are launched and how progress is persisted.
type Executor struct {
	// ProgressStep is the percent interval at which in-flight progress is
	// written back to the manifest. Final state is always written.
	ProgressStep int `toml:"progress_step"`
	// TaskTimeoutSeconds bounds every worker run; 0 disables the limit.
	TaskTimeoutSeconds int `toml:"task_timeout_seconds"`
	StderrLimitBytes   int `toml:"stderr_limit_bytes"`
}

// Defaults are the fallback task parameters used when bucket metadata does not
// carry an override.
type Defaults struct {
	Quality      string `toml:"quality"`
	WhisperModel string `toml:"whisper_model"`
	SummaryModel string `toml:"summary_model"`
	ChatModel    string `toml:"chat_model"`
	Voice        string `toml:"voice"`
}

// Library contains configuration for the library index rebuild.
type Library struct {
	ExcerptRunes   int `toml:"excerpt_runes"`
	RebuildWorkers int `toml:"rebuild_workers"`
}

// Watch contains configuration for the manifest watcher used by serve.
type Watch struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Worker describes how one task id maps onto an external process. Args are
// text/template strings rendered per invocation.
type Worker struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Env            map[string]string `toml:"env"`
	Dir            string            `toml:"dir"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values for conveyor.
//
// Configuration sections by subsystem:
//   - Paths: storage root, logs, journal database, API bind address
//   - Executor: progress persistence step and worker timeouts
//   - Defaults: task parameters used when bucket metadata has no override
//   - Library: index rebuild tuning
//   - Watch: manifest watcher used by `conveyor serve`
//   - Logging: log format and level
//   - Workers: task id to worker command mapping
type Config struct {
	Paths    Paths             `toml:"paths"`
	Executor Executor          `toml:"executor"`
	Defaults Defaults          `toml:"defaults"`
	Library  Library           `toml:"library"`
	Watch    Watch             `toml:"watch"`
	Logging  Logging           `toml:"logging"`
	Workers  map[string]Worker `toml:"workers"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
}

// Load reads the configuration at path, or the first file found among
// DefaultConfigPath and ./conveyor.toml when path is empty. Missing files
// yield the defaults. It returns the normalized config, the path consulted,
// and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	source, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", source, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", source, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, exists, nil
}

// locate picks the configuration file. An explicit path is used as given,
// existing or not.
func locate(explicit string) (string, bool, error) {
	var candidates []string
	if strings.TrimSpace(explicit) != "" {
		candidates = []string{explicit}
	} else {
		home, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		candidates = []string{home, "conveyor.toml"}
	}

	var first string
	for _, candidate := range candidates {
		abs, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = abs
		}
		info, err := os.Stat(abs)
		switch {
		case err == nil && !info.IsDir():
			return abs, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config %s: %w", abs, err)
		}
	}
	return first, false, nil
}

// EnsureDirectories creates the storage root and log directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StorageRoot, c.Paths.LogDir, filepath.Dir(c.Paths.JournalPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Worker returns the worker mapping registered for a task id.
func (c *Config) Worker(taskID string) (Worker, bool) {
	if c == nil || c.Workers == nil {
		return Worker{}, false
	}
	w, ok := c.Workers[taskID]
	if !ok || strings.TrimSpace(w.Command) == "" {
		return Worker{}, false
	}
	return w, true
}

// WorkerIDs lists registered task ids in sorted order.
func (c *Config) WorkerIDs() []string {
	ids := make([]string, 0, len(c.Workers))
	for id := range c.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// expandPath resolves a leading "~" and returns an absolute, cleaned path.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", value, err)
	}
	return abs, nil
}

// ExpandPath applies the configuration path rules to a user-supplied path.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

// ErrConfigExists is returned by WriteSample when the target exists and
// overwriting was not requested.
var ErrConfigExists = errors.New("config file already exists")

// WriteSample writes the annotated sample configuration to path.
func WriteSample(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w at %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("check %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
