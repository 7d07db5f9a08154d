package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStorage := filepath.Join(tempHome, ".local", "share", "conveyor", "storage")
	if cfg.Paths.StorageRoot != wantStorage {
		t.Fatalf("unexpected storage root: got %q want %q", cfg.Paths.StorageRoot, wantStorage)
	}
	wantJournal := filepath.Join(tempHome, ".local", "share", "conveyor", "logs", "journal.db")
	if cfg.Paths.JournalPath != wantJournal {
		t.Fatalf("unexpected journal path: got %q want %q", cfg.Paths.JournalPath, wantJournal)
	}
	if cfg.Executor.ProgressStep != 10 {
		t.Fatalf("unexpected progress step: %d", cfg.Executor.ProgressStep)
	}
	if cfg.Defaults.WhisperModel != "medium.en" {
		t.Fatalf("unexpected whisper default: %q", cfg.Defaults.WhisperModel)
	}
	if cfg.Defaults.Quality != "best" {
		t.Fatalf("unexpected quality default: %q", cfg.Defaults.Quality)
	}
	if _, ok := cfg.Worker("transcribe_whisperx"); !ok {
		t.Fatal("expected built-in transcribe worker")
	}
	if _, ok := cfg.Worker("no_such_task"); ok {
		t.Fatal("expected unknown task to have no worker")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StorageRoot, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "conveyor.toml")
	storage := filepath.Join(tempDir, "storage")

	body := `
[paths]
storage_root = "` + storage + `"

[executor]
progress_step = 25
task_timeout_seconds = 30

[defaults]
quality = "720p"

[workers.custom_task]
command = "/bin/echo"
args = ["{{.HashID}}"]
timeout_seconds = 5
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StorageRoot != storage {
		t.Fatalf("unexpected storage root: %q", cfg.Paths.StorageRoot)
	}
	if cfg.Executor.ProgressStep != 25 || cfg.Executor.TaskTimeoutSeconds != 30 {
		t.Fatalf("unexpected executor config: %+v", cfg.Executor)
	}
	if cfg.Defaults.Quality != "720p" {
		t.Fatalf("unexpected quality: %q", cfg.Defaults.Quality)
	}
	worker, ok := cfg.Worker("custom_task")
	if !ok {
		t.Fatal("expected custom worker")
	}
	if worker.Command != "/bin/echo" || worker.TimeoutSeconds != 5 {
		t.Fatalf("unexpected worker: %+v", worker)
	}
}

func TestValidateRejectsUnknownQuality(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StorageRoot = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.JournalPath = filepath.Join(cfg.Paths.LogDir, "journal.db")
	cfg.Defaults.Quality = "4k"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "defaults") {
		t.Fatalf("expected defaults section in error, got %v", err)
	}
}

func TestValidateRejectsWorkerWithoutCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StorageRoot = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.JournalPath = filepath.Join(cfg.Paths.LogDir, "journal.db")
	cfg.Workers["broken"] = config.Worker{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "workers.broken") {
		t.Fatalf("expected worker id in error, got %v", err)
	}
}

func TestWriteSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.WriteSample(path, false); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path, false); !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("second WriteSample err = %v, want ErrConfigExists", err)
	}
	if err := config.WriteSample(path, true); err != nil {
		t.Fatalf("WriteSample overwrite: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	worker, ok := cfg.Worker("transcribe_whisperx")
	if !ok || worker.TimeoutSeconds != 7200 {
		t.Fatalf("expected sample transcribe worker override, got %+v", worker)
	}
}
