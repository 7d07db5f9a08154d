package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/library"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
)

type cliTestEnv struct {
	configPath  string
	storageRoot string
}

// workerScript writes "{}" to the rendered output path.
const workerScript = `'mkdir -p "$(dirname "$1")" && printf {} > "$1"'`

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))

	storage := filepath.Join(base, "storage")
	logs := filepath.Join(base, "logs")
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nstorage_root = %q\nlog_dir = %q\n\n", storage, logs)
	b.WriteString("[logging]\nlevel = \"error\"\n\n")
	ids := []string{rules.TaskFetchInfo, rules.TaskUpgradeQuality, rules.TaskPurgeMedia, rules.TaskExtractScreenshots, rules.TaskManageChats}
	for _, r := range rules.Rules() {
		ids = append(ids, r.TaskID)
	}
	for _, id := range ids {
		fmt.Fprintf(&b, "[workers.%s]\ncommand = \"sh\"\nargs = [\"-c\", %s, \"worker\", \"{{.Output}}\"]\n\n", id, workerScript)
	}
	configPath := filepath.Join(base, "conveyor.toml")
	if err := os.WriteFile(configPath, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{configPath: configPath, storageRoot: storage}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, rules.TaskExtractAudio)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Sample configuration written")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestIngestRunAndInspect(t *testing.T) {
	env := setupCLITestEnv(t)
	url := "https://www.youtube.com/watch?v=cli"
	hashID := manifest.HashIDFor(url)

	out, err := runCLI(t, env.configPath, "ingest", url, "--quality", "720p")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	requireContains(t, out, "Created bucket "+hashID)

	out, err = runCLI(t, env.configPath, "ingest", url)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	requireContains(t, out, "already exists")

	out, err = runCLI(t, env.configPath, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "across 1 bucket(s)")

	out, err = runCLI(t, env.configPath, "show", hashID, "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	for _, task := range m.Tasks {
		if task.State != manifest.TaskDone {
			t.Fatalf("task %s ended %s: %s", task.ID, task.State, task.ErrorText())
		}
	}
	if !m.FileReady(manifest.SpeechSummary) {
		t.Fatalf("expected the cascade to reach speech_summary, files %+v", m.FileManifest)
	}

	out, err = runCLI(t, env.configPath, "library", "list", "--json")
	if err != nil {
		t.Fatalf("library list: %v", err)
	}
	var items []library.Entry
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(items) != 1 || items[0].State != library.StateComplete || items[0].Platform != "youtube" {
		t.Fatalf("unexpected library %+v", items)
	}

	out, err = runCLI(t, env.configPath, "history", "--bucket", hashID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, rules.TaskGenerateSpeech)

	out, err = runCLI(t, env.configPath, "show", hashID)
	if err != nil {
		t.Fatalf("show table: %v", err)
	}
	requireContains(t, out, "complete")
}

func TestManualTaskCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	url := "https://vimeo.com/77"
	hashID := manifest.HashIDFor(url)
	if _, err := runCLI(t, env.configPath, "ingest", url, "--run"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := runCLI(t, env.configPath, "task", "upgrade", hashID, "8k"); err == nil {
		t.Fatal("expected invalid quality to fail")
	}
	out, err := runCLI(t, env.configPath, "task", "purge", hashID, "--reason", "space", "--run")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Queued purge_media")

	out, err = runCLI(t, env.configPath, "show", hashID, "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	media := m.File(manifest.OriginalMedia)
	if media == nil || media.State != manifest.FilePurged {
		t.Fatalf("expected purged media, got %+v", media)
	}
	if c := media.Content(); c == nil || c.PurgeReason != "space" || c.DiskSize != 0 {
		t.Fatalf("unexpected purge content %+v", c)
	}

	if _, err := runCLI(t, env.configPath, "task", "reset", hashID, rules.TaskGenerateSummary); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := runCLI(t, env.configPath, "task", "reset", hashID, rules.TaskGenerateSummary); err == nil {
		t.Fatal("expected resetting a queued task to fail")
	}
}

func TestIngestRejectsInvalidURL(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env.configPath, "ingest", "not-a-url"); err == nil {
		t.Fatal("expected ingest to reject the url")
	}
}
