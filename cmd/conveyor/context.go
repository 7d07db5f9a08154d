package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/executor"
	"conveyor/internal/journal"
	"conveyor/internal/library"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/scheduler"
	"conveyor/internal/tasks"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// application wires the pipeline components for one command invocation.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *manifest.Store
	evaluator *rules.Evaluator
	journal   *journal.Journal
	library   *library.Rebuilder
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	tasks     *tasks.Service
}

func (c *commandContext) withApp(ctx context.Context, fn func(*application) error) error {
	app, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	return fn(app)
}

func (c *commandContext) openApp(ctx context.Context) (*application, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	jrnl, err := journal.Open(ctx, cfg.Paths.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	store := manifest.NewStore(cfg.Paths.StorageRoot)
	evaluator := rules.NewEvaluator(rules.Defaults{
		Quality:      cfg.Defaults.Quality,
		WhisperModel: cfg.Defaults.WhisperModel,
		SummaryModel: cfg.Defaults.SummaryModel,
		ChatModel:    cfg.Defaults.ChatModel,
		Voice:        cfg.Defaults.Voice,
	})
	lib := library.NewRebuilder(store,
		library.WithExcerptRunes(cfg.Library.ExcerptRunes),
		library.WithWorkers(cfg.Library.RebuildWorkers),
		library.WithLogger(logger),
	)
	exec := executor.New(cfg, store, evaluator,
		executor.WithRecorder(jrnl),
		executor.WithIndexer(lib),
		executor.WithLogger(logger),
	)
	return &application{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		evaluator: evaluator,
		journal:   jrnl,
		library:   lib,
		executor:  exec,
		scheduler: scheduler.New(store, evaluator, exec, logger),
		tasks:     tasks.NewService(store, tasks.WithProvisioner(lib), tasks.WithLogger(logger)),
	}, nil
}

func (a *application) close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
