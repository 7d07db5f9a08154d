package services_test

import (
	"errors"
	"strings"
	"testing"

	"conveyor/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "executor", "spawn", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"executor", "spawn", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestIsBucketFatal(t *testing.T) {
	if !services.IsBucketFatal(services.Wrap(services.ErrValidation, "manifest", "load", "bad", nil)) {
		t.Fatal("expected validation error to be bucket fatal")
	}
	if !services.IsBucketFatal(services.Wrap(services.ErrUnreadable, "manifest", "load", "is a directory", nil)) {
		t.Fatal("expected unreadable document to be bucket fatal")
	}
	if services.IsBucketFatal(services.Wrap(services.ErrExternalTool, "executor", "run", "exit 1", nil)) {
		t.Fatal("expected worker error to be task local")
	}
	if services.IsBucketFatal(nil) {
		t.Fatal("expected nil to be non-fatal")
	}
}
