// Package scheduler drives buckets to quiescence: evaluate rules, run the next
// queued task, repeat.
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"conveyor/internal/executor"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/services"
)

// TaskExecutor runs one queued task.
type TaskExecutor interface {
	Execute(ctx context.Context, hashID, taskID string) (executor.Outcome, error)
}

// Scheduler picks and runs queued tasks in manifest order.
type Scheduler struct {
	store     *manifest.Store
	evaluator *rules.Evaluator
	exec      TaskExecutor
	logger    *slog.Logger
}

// New constructs a scheduler.
func New(store *manifest.Store, evaluator *rules.Evaluator, exec TaskExecutor, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		evaluator: evaluator,
		exec:      exec,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
	}
}

// RunNext evaluates the bucket, persists any new tasks, and executes the first
// queued task. It reports whether a task ran.
func (s *Scheduler) RunNext(ctx context.Context, hashID string) (bool, error) {
	var next string
	_, err := s.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		created := s.evaluator.Evaluate(m)
		if t := m.NextQueued(); t != nil {
			next = t.ID
		}
		if len(created) == 0 {
			return manifest.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if next == "" {
		return false, nil
	}

	out, err := s.exec.Execute(ctx, hashID, next)
	if err != nil {
		// Another scheduler claimed the task first; the bucket is still
		// progressing, so the loop should look again.
		if errors.Is(err, services.ErrConflict) {
			s.logger.Debug("task claimed elsewhere",
				logging.String(logging.FieldHashID, hashID),
				logging.String(logging.FieldTaskID, next),
			)
			return true, nil
		}
		return false, err
	}
	s.logger.Debug("task finished",
		logging.String(logging.FieldHashID, hashID),
		logging.String(logging.FieldTaskID, next),
		logging.String("state", string(out.State)),
	)
	return true, nil
}

// RunAll runs tasks of one bucket until nothing is queued. It returns the
// number of tasks run.
func (s *Scheduler) RunAll(ctx context.Context, hashID string) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		ok, err := s.RunNext(ctx, hashID)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
}

// Summary reports a RunAllBuckets pass.
type Summary struct {
	Buckets int
	Tasks   int
	Skipped []string
}

// RunAllBuckets drives every bucket to quiescence in id order. Buckets whose
// manifest cannot be read are logged and skipped.
func (s *Scheduler) RunAllBuckets(ctx context.Context) (Summary, error) {
	var sum Summary
	ids, err := s.store.List()
	if err != nil {
		return sum, err
	}
	for _, id := range ids {
		n, err := s.RunAll(ctx, id)
		sum.Tasks += n
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			if services.IsBucketFatal(err) || errors.Is(err, services.ErrConflict) {
				logging.WarnWithContext(s.logger, "skipping bucket", "bucket_skipped",
					logging.String(logging.FieldHashID, id),
					logging.Error(err),
					logging.String(logging.FieldImpact, "bucket tasks were not advanced in this pass"),
				)
				sum.Skipped = append(sum.Skipped, id)
				continue
			}
			return sum, err
		}
		sum.Buckets++
	}
	return sum, nil
}
