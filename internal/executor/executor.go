package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/journal"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/services"
)

// Recorder receives one entry per executor run.
type Recorder interface {
	Record(ctx context.Context, run journal.Run) error
}

// Indexer rebuilds the library index after every run.
type Indexer interface {
	Rebuild(ctx context.Context) error
}

// Outcome summarises one Execute call.
type Outcome struct {
	HashID  string
	TaskID  string
	State   manifest.TaskState
	Error   string
	Created []string
}

// Executor runs queued tasks.
type Executor struct {
	store          *manifest.Store
	evaluator      *rules.Evaluator
	workers        map[string]config.Worker
	runner         Runner
	recorder       Recorder
	indexer        Indexer
	logger         *slog.Logger
	progressStep   int
	defaultTimeout time.Duration
	stderrLimit    int
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner overrides the process runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(e *Executor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithRecorder attaches the run journal.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithIndexer attaches the library index rebuilder.
func WithIndexer(i Indexer) Option {
	return func(e *Executor) { e.indexer = i }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an executor from configuration.
func New(cfg *config.Config, store *manifest.Store, evaluator *rules.Evaluator, opts ...Option) *Executor {
	e := &Executor{
		store:     store,
		evaluator: evaluator,
		workers:   map[string]config.Worker{},
		runner:    NewProcessRunner(),
		now:       time.Now,
	}
	if cfg != nil {
		for id, w := range cfg.Workers {
			e.workers[id] = w
		}
		e.progressStep = cfg.Executor.ProgressStep
		e.defaultTimeout = time.Duration(cfg.Executor.TaskTimeoutSeconds) * time.Second
		e.stderrLimit = cfg.Executor.StderrLimitBytes
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "executor")
	return e
}

// Execute runs the queued task taskID of bucket hashID to a terminal state.
// Task-level failures are recorded on the manifest and reported through the
// Outcome; the error return is reserved for failures to read or write the
// bucket itself.
func (e *Executor) Execute(ctx context.Context, hashID, taskID string) (Outcome, error) {
	ctx = services.WithTaskID(services.WithHashID(ctx, hashID), taskID)
	logger := logging.WithContext(ctx, e.logger)
	started := e.now().UTC()
	out := Outcome{HashID: hashID, TaskID: taskID}

	doc, err := e.store.Load(hashID)
	if err != nil {
		return out, err
	}
	task := doc.Task(taskID)
	if task == nil {
		return out, services.Wrap(services.ErrNotFound, "executor", "execute", fmt.Sprintf("task %s not found", taskID), nil)
	}
	if task.State != manifest.TaskQueued {
		return out, services.Wrap(services.ErrConflict, "executor", "execute", fmt.Sprintf("task %s is %s", taskID, task.State), nil)
	}

	rule, _ := rules.Lookup(taskID)
	if rule.Output == "" {
		rule.Output = task.RelatedOutput
	}
	bucketDir := e.store.BucketDir(hashID)
	data := TemplateData{
		HashID:       hashID,
		TaskID:       taskID,
		BucketDir:    bucketDir,
		ManifestPath: e.store.ManifestPath(hashID),
		Output:       e.outputPath(doc, task.RelatedOutput),
		SourceURL:    doc.SourceURL(),
		Context:      task.Context,
	}

	worker, ok := e.workers[taskID]
	if !ok {
		return e.failConfig(ctx, logger, out, started, fmt.Sprintf("no worker registered for task %s", taskID))
	}
	inv, err := buildInvocation(worker, data)
	if err != nil {
		return e.failConfig(ctx, logger, out, started, fmt.Sprintf("worker for task %s: %v", taskID, err))
	}
	inv.StderrLimit = e.stderrLimit
	inv.Timeout = e.defaultTimeout
	if worker.TimeoutSeconds > 0 {
		inv.Timeout = time.Duration(worker.TimeoutSeconds) * time.Second
	}

	if _, err := e.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		t := m.Task(taskID)
		if t == nil || t.State != manifest.TaskQueued {
			return services.Wrap(services.ErrConflict, "executor", "start", fmt.Sprintf("task %s is no longer queued", taskID), nil)
		}
		t.Start(e.now())
		if rule.NoContent {
			return nil
		}
		// Missing artifacts are created on completion, not here.
		for _, at := range producedTypes(rule) {
			if f := m.File(at); f != nil {
				f.MarkProcessing()
			}
		}
		return nil
	}); err != nil {
		return out, err
	}

	logger.Info(
		"task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.String("command", commandLine(inv)),
		logging.Duration("timeout", inv.Timeout),
	)

	gate := newProgressGate(e.progressStep)
	res, runErr := e.runner.Run(ctx, inv, func(line string) {
		percent, flush, ok := parseProgress(line)
		if !ok {
			logger.Debug("worker output", logging.String("line", line))
			return
		}
		// 100 is reserved for the done state.
		if percent > 99 {
			percent = 99
		}
		if gate.admit(percent, flush) {
			e.persistProgress(ctx, logger, hashID, taskID, percent)
		}
	})

	// Final state is written even when the caller has been cancelled.
	finishCtx := context.WithoutCancel(ctx)
	failure := failureFor(ctx, inv, res, runErr)

	var exitCode *int
	if runErr == nil {
		code := res.ExitCode
		exitCode = &code
	}

	if failure != nil {
		err = e.fail(finishCtx, hashID, taskID, rule, failure.Error())
		out.State = manifest.TaskError
		out.Error = failure.Error()
		logging.ErrorWithContext(logger, "task failed", "task_failure",
			logging.Error(failure),
			logging.Bool("timed_out", errors.Is(failure, services.ErrTimeout)),
			logging.String(logging.FieldErrorHint, "inspect worker stderr, then reset the task to retry"),
		)
	} else {
		out.Created, err = e.complete(finishCtx, logger, hashID, taskID, rule)
		out.State = manifest.TaskDone
		logger.Info(
			"task completed",
			logging.String(logging.FieldEventType, "task_complete"),
			logging.Any("created_tasks", out.Created),
			logging.Duration("elapsed", e.now().UTC().Sub(started)),
		)
	}
	if err != nil {
		return out, err
	}

	status := journal.StatusDone
	if out.State == manifest.TaskError {
		status = journal.StatusError
	}
	e.finish(finishCtx, logger, journal.Run{
		HashID:       hashID,
		TaskID:       taskID,
		Status:       status,
		ExitCode:     exitCode,
		Error:        out.Error,
		Command:      commandLine(inv),
		StartedAt:    started,
		FinishedAt:   e.now().UTC(),
		CreatedTasks: out.Created,
	})
	return out, nil
}

// workerFailure carries the text stored on the task and the marker used to
// classify it.
type workerFailure struct {
	marker error
	msg    string
}

func (w *workerFailure) Error() string { return w.msg }

func (w *workerFailure) Unwrap() error { return w.marker }

func failureFor(ctx context.Context, inv Invocation, res Result, runErr error) error {
	switch {
	case runErr != nil && ctx.Err() != nil:
		return &workerFailure{marker: ctx.Err(), msg: fmt.Sprintf("worker cancelled: %v", ctx.Err())}
	case runErr != nil:
		return &workerFailure{marker: services.ErrExternalTool, msg: strings.TrimSpace(runErr.Error())}
	case res.TimedOut:
		return &workerFailure{marker: services.ErrTimeout, msg: fmt.Sprintf("worker timed out after %s", inv.Timeout)}
	case res.ExitCode != 0:
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("worker exited with code %d", res.ExitCode)
		}
		return &workerFailure{marker: services.ErrExternalTool, msg: msg}
	default:
		return nil
	}
}

func (e *Executor) failConfig(ctx context.Context, logger *slog.Logger, out Outcome, started time.Time, message string) (Outcome, error) {
	if _, err := e.store.Update(ctx, out.HashID, func(m *manifest.Manifest) error {
		t := m.Task(out.TaskID)
		if t == nil || t.State != manifest.TaskQueued {
			return manifest.ErrUnchanged
		}
		t.Fail(message, e.now())
		return nil
	}); err != nil {
		return out, err
	}
	out.State = manifest.TaskError
	out.Error = message
	logging.ErrorWithContext(logger, "task has no runnable worker", "task_config_error",
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, "add a [workers."+out.TaskID+"] entry to the configuration"),
	)
	e.finish(ctx, logger, journal.Run{
		HashID:     out.HashID,
		TaskID:     out.TaskID,
		Status:     journal.StatusConfigError,
		Error:      message,
		StartedAt:  started,
		FinishedAt: e.now().UTC(),
	})
	return out, nil
}

func (e *Executor) persistProgress(ctx context.Context, logger *slog.Logger, hashID, taskID string, percent int) {
	_, err := e.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		t := m.Task(taskID)
		if t == nil || t.State != manifest.TaskRunning {
			return manifest.ErrUnchanged
		}
		if !t.SetPercent(percent, e.now()) {
			return manifest.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		logging.WarnWithContext(logger, "progress not persisted", "progress_persist_failed",
			logging.Int("percent", percent),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task progress display may lag"),
		)
		return
	}
	logger.Debug("task progress", logging.Int("percent", percent))
}

func (e *Executor) fail(ctx context.Context, hashID, taskID string, rule rules.Rule, message string) error {
	_, err := e.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		t := m.Task(taskID)
		if t == nil {
			return services.Wrap(services.ErrNotFound, "executor", "fail", fmt.Sprintf("task %s vanished", taskID), nil)
		}
		t.Fail(message, e.now())
		if rule.NoContent {
			return nil
		}
		for _, at := range producedTypes(rule) {
			if f := m.File(at); f != nil {
				f.MarkError()
			}
		}
		return nil
	})
	return err
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, hashID, taskID string, rule rules.Rule) ([]string, error) {
	bucketDir := e.store.BucketDir(hashID)
	var created []string
	_, err := e.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		created = nil
		t := m.Task(taskID)
		if t == nil {
			return services.Wrap(services.ErrNotFound, "executor", "complete", fmt.Sprintf("task %s vanished", taskID), nil)
		}
		t.Complete(e.now())
		taskCopy := *t

		if !rule.NoContent {
			producer := producerFor(rule, &taskCopy)
			for _, at := range producedTypes(rule) {
				f := m.EnsurePlaceholder(at, producer, nil)
				size, mime := inspect(bucketDir, f.Path)
				f.RecordContent(size, mime)
			}
			for _, at := range rule.Optional {
				rel := manifest.DefaultPath(at)
				if !fileutil.Exists(filepath.Join(bucketDir, rel)) {
					continue
				}
				var derived []string
				if main := m.File(rule.Output); main != nil {
					derived = []string{main.Path}
				}
				f := m.EnsurePlaceholder(at, producer, derived)
				size, mime := inspect(bucketDir, f.Path)
				f.RecordContent(size, mime)
			}
		}

		if fin, ok := finalizers[taskID]; ok {
			in := finalizeInput{doc: m, task: &taskCopy, bucketDir: bucketDir, now: e.now().UTC()}
			if err := fin(in); err != nil {
				logging.WarnWithContext(logger, "task finalizer failed", "finalize_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "artifact metadata may be incomplete"),
				)
			}
		}

		if e.evaluator != nil {
			for _, nt := range e.evaluator.Evaluate(m) {
				created = append(created, nt.ID)
			}
		}
		return nil
	})
	return created, err
}

func (e *Executor) finish(ctx context.Context, logger *slog.Logger, run journal.Run) {
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, run); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history is missing this execution"),
			)
		}
	}
	if e.indexer != nil {
		if err := e.indexer.Rebuild(ctx); err != nil {
			logging.WarnWithContext(logger, "library index rebuild failed", "library_rebuild_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "library listing is stale until the next rebuild"),
			)
		}
	}
}

func (e *Executor) outputPath(m *manifest.Manifest, t manifest.ArtifactType) string {
	rel := manifest.DefaultPath(t)
	if f := m.File(t); f != nil && f.Path != "" {
		rel = f.Path
	}
	return filepath.Join(e.store.BucketDir(m.HashID), rel)
}

func producedTypes(rule rules.Rule) []manifest.ArtifactType {
	out := make([]manifest.ArtifactType, 0, 1+len(rule.Siblings))
	if rule.Output != "" {
		out = append(out, rule.Output)
	}
	return append(out, rule.Siblings...)
}

func producerFor(rule rules.Rule, t *manifest.Task) string {
	if rule.Producer != nil {
		return rule.Producer(t.Context)
	}
	return t.ID
}

func inspect(bucketDir, rel string) (int64, string) {
	abs := filepath.Join(bucketDir, rel)
	size, err := fileutil.Size(abs)
	if err != nil {
		return 0, ""
	}
	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return size, ""
	}
	return size, mt.String()
}
