package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"conveyor/internal/config"
	"conveyor/internal/library"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/services"
)

// Provisioner records a library entry for a bucket that has not been indexed yet.
type Provisioner interface {
	UpsertProvisional(ctx context.Context, e library.Entry) error
}

// Service creates buckets and manual tasks.
type Service struct {
	store  *manifest.Store
	lib    Provisioner
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithProvisioner attaches the library index so ingest lists new buckets immediately.
func WithProvisioner(p Provisioner) Option {
	return func(s *Service) { s.lib = p }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(store *manifest.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "tasks")
	return s
}

// IngestOptions seed bucket metadata. Empty fields fall back to configured defaults.
type IngestOptions struct {
	Title        string
	Quality      string
	WhisperModel string
	SummaryModel string
	ChatModel    string
	Voice        string
}

func (o IngestOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Quality, validation.In(qualityValues()...)),
		validation.Field(&o.WhisperModel, validation.In(whisperValues()...)),
	)
}

func qualityValues() []any {
	out := make([]any, len(config.Qualities))
	for i, q := range config.Qualities {
		out[i] = q
	}
	return out
}

func whisperValues() []any {
	out := make([]any, len(config.WhisperModels))
	for i, m := range config.WhisperModels {
		out[i] = m
	}
	return out
}

func validateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if err := validation.Validate(raw, validation.Required, is.URL); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL")
	}
	return nil
}

// Ingest creates the bucket for rawURL with a queued fetch_info task. When the
// bucket already exists it is returned unchanged with created=false.
func (s *Service) Ingest(ctx context.Context, rawURL string, opts IngestOptions) (*manifest.Manifest, bool, error) {
	if err := validateSourceURL(rawURL); err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "tasks", "ingest", "source url", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "tasks", "ingest", "options", err)
	}

	hashID := manifest.HashIDFor(rawURL)
	if s.store.Exists(hashID) {
		m, err := s.store.Load(hashID)
		return m, false, err
	}

	meta := map[string]any{}
	for key, value := range map[string]string{
		"title":        opts.Title,
		"quality":      opts.Quality,
		"whisperModel": opts.WhisperModel,
		"summaryModel": opts.SummaryModel,
		"chatModel":    opts.ChatModel,
		"voice":        opts.Voice,
	} {
		if v := strings.TrimSpace(value); v != "" {
			meta[key] = v
		}
	}
	now := s.now().UTC()
	m := manifest.New(rawURL, meta, now)
	m.EnsurePlaceholder(manifest.InfoJSON, "yt-dlp", nil)
	m.Tasks = append(m.Tasks, manifest.Task{
		ID:            rules.TaskFetchInfo,
		Title:         rules.Title(rules.TaskFetchInfo),
		State:         manifest.TaskQueued,
		RelatedOutput: manifest.InfoJSON,
		UpdatedAt:     &now,
		Context:       map[string]any{"url": m.SourceURL()},
	})

	if err := s.store.Create(ctx, m); err != nil {
		if errors.Is(err, services.ErrConflict) {
			existing, loadErr := s.store.Load(hashID)
			return existing, false, loadErr
		}
		return nil, false, err
	}

	if s.lib != nil {
		entry := library.Entry{
			HashID:    m.HashID,
			Title:     firstNonEmpty(m.MetaString("title"), m.SourceURL()),
			SourceURL: m.SourceURL(),
			CreatedAt: m.CreatedAt,
			State:     library.StateIngesting,
		}
		if err := s.lib.UpsertProvisional(ctx, entry); err != nil {
			logging.WarnWithContext(s.logger, "provisional library entry not written", "library_provisional_failed",
				logging.String(logging.FieldHashID, m.HashID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "bucket appears in the library after its first task"),
			)
		}
	}

	s.logger.Info("bucket ingested",
		logging.String(logging.FieldEventType, "bucket_ingested"),
		logging.String(logging.FieldHashID, m.HashID),
		logging.String("source_url", m.SourceURL()),
	)
	return m, true, nil
}

// enqueue adds taskID to the bucket, or resets it in place when it exists and
// is terminal. prepare runs first and may reject the request.
func (s *Service) enqueue(ctx context.Context, hashID, taskID string, taskCtx map[string]any, prepare func(*manifest.Manifest) error) (manifest.Task, error) {
	rule, ok := rules.Lookup(taskID)
	if !ok {
		return manifest.Task{}, services.Wrap(services.ErrValidation, "tasks", "enqueue", fmt.Sprintf("unknown task %s", taskID), nil)
	}
	var out manifest.Task
	_, err := s.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		if prepare != nil {
			if err := prepare(m); err != nil {
				return err
			}
		}
		now := s.now()
		if existing := m.Task(taskID); existing != nil {
			if !existing.State.Terminal() {
				return services.Wrap(services.ErrConflict, "tasks", "enqueue", fmt.Sprintf("task %s is already %s", taskID, existing.State), nil)
			}
			existing.Reset(taskCtx, now)
			out = *existing
			return nil
		}
		if !rule.NoContent {
			producer := rule.TaskID
			if rule.Producer != nil {
				producer = rule.Producer(taskCtx)
			}
			m.EnsurePlaceholder(rule.Output, producer, nil)
		}
		stamp := now.UTC()
		task := manifest.Task{
			ID:            taskID,
			Title:         rules.Title(taskID),
			State:         manifest.TaskQueued,
			RelatedOutput: rule.Output,
			UpdatedAt:     &stamp,
			Context:       taskCtx,
		}
		m.Tasks = append(m.Tasks, task)
		out = task
		return nil
	})
	if err != nil {
		return manifest.Task{}, err
	}
	s.logger.Info("task enqueued",
		logging.String(logging.FieldEventType, "task_enqueued"),
		logging.String(logging.FieldHashID, hashID),
		logging.String(logging.FieldTaskID, taskID),
	)
	return out, nil
}

func requireFile(m *manifest.Manifest, t manifest.ArtifactType, states ...manifest.FileState) error {
	f := m.File(t)
	if f == nil {
		return services.Wrap(services.ErrValidation, "tasks", "precondition", fmt.Sprintf("bucket has no %s", t), nil)
	}
	if len(states) == 0 {
		return nil
	}
	for _, st := range states {
		if f.State == st {
			return nil
		}
	}
	return services.Wrap(services.ErrValidation, "tasks", "precondition", fmt.Sprintf("%s is %s", t, f.State), nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
