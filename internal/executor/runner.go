package executor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Invocation fully describes one worker process.
type Invocation struct {
	Command     string
	Args        []string
	Env         []string
	Dir         string
	Timeout     time.Duration
	StderrLimit int
}

// Result is the outcome of a worker process that started.
type Result struct {
	ExitCode int
	Stderr   string
	TimedOut bool
}

// Runner launches worker processes. Run returns an error only when the process
// could not be started or the caller's context was cancelled; a nonzero exit
// is reported through Result.
type Runner interface {
	Run(ctx context.Context, inv Invocation, onStdout func(line string)) (Result, error)
}

type processRunner struct{}

// NewProcessRunner returns the Runner that spawns real subprocesses. Each
// worker gets its own process group so a timeout can kill its children too.
func NewProcessRunner() Runner {
	return processRunner{}
}

func (processRunner) Run(ctx context.Context, inv Invocation, onStdout func(string)) (Result, error) {
	cmd := exec.Command(inv.Command, inv.Args...) //nolint:gosec
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr := newTailBuffer(inv.StderrLimit)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	runCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	exited := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		case <-exited:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onStdout != nil {
			onStdout(scanner.Text())
		}
	}
	// Keep the pipe drained if the scanner gave up on an oversized line.
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	close(exited)

	res := Result{Stderr: stderr.String()}
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if waitErr != nil {
		return res, waitErr
	}
	return res, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 64 * 1024
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	if overflow := len(t.buf) + n - t.limit; overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
