package executor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcessRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	var lines []string
	res, err := NewProcessRunner().Run(context.Background(), Invocation{
		Command: "sh",
		Args:    []string{"-c", `echo '{"percent": 50}'; echo oops >&2; exit 4`},
	}, func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 4 || strings.TrimSpace(res.Stderr) != "oops" {
		t.Fatalf("result = %+v", res)
	}
	if len(lines) != 1 || lines[0] != `{"percent": 50}` {
		t.Fatalf("lines = %v", lines)
	}
}

func TestProcessRunnerTimeoutKillsGroup(t *testing.T) {
	requireShell(t)
	start := time.Now()
	res, err := NewProcessRunner().Run(context.Background(), Invocation{
		Command: "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
		Timeout: 200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("runner waited %s for killed group", elapsed)
	}
}

func TestProcessRunnerSpawnFailure(t *testing.T) {
	if _, err := NewProcessRunner().Run(context.Background(), Invocation{Command: "/nonexistent/worker"}, nil); err == nil {
		t.Fatal("expected spawn error")
	}
}
