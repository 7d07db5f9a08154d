package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "conveyor.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestComponentAndContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")

	base, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithHashID(context.Background(), "bucket1")
	ctx = services.WithTaskID(ctx, "extract_audio")
	logger := logging.WithContext(ctx, logging.NewComponentLogger(base, "executor"))
	logger.Info("task started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record[logging.FieldComponent] != "executor" {
		t.Fatalf("expected component field, got %v", record)
	}
	if record[logging.FieldHashID] != "bucket1" || record[logging.FieldTaskID] != "extract_audio" {
		t.Fatalf("expected context fields, got %v", record)
	}
	if record["msg"] != "task started" {
		t.Fatalf("expected msg key, got %v", record)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLogger(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("discarded")
	if logger.Enabled(context.Background(), 0) {
		t.Fatal("expected nop logger to be disabled")
	}
}

func TestConsoleLoggerRendersSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	base, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithHashID(context.Background(), "0123456789abcdef")
	ctx = services.WithTaskID(ctx, "extract_audio")
	logger := logging.WithContext(ctx, logging.NewComponentLogger(base, "executor"))
	logger.Info("task finished", logging.String("reason", "exit status 1"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "executor [01234567/extract_audio] task finished") {
		t.Fatalf("expected subject prefix, got %q", line)
	}
	if !strings.Contains(line, `reason="exit status 1"`) {
		t.Fatalf("expected quoted attribute, got %q", line)
	}
}
