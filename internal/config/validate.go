package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Qualities lists the media quality presets understood by the download worker.
var Qualities = []string{"best", "1080p", "720p", "360p"}

// WhisperModels lists the transcription models understood by the transcriber.
var WhisperModels = []string{"tiny.en", "medium.en", "large-v3"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if err := c.validateDefaults(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateWorkers()
}

func (c *Config) validatePaths() error {
	if err := validation.ValidateStruct(&c.Paths,
		validation.Field(&c.Paths.StorageRoot, validation.Required),
		validation.Field(&c.Paths.LogDir, validation.Required),
		validation.Field(&c.Paths.JournalPath, validation.Required),
	); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if err := validation.ValidateStruct(&c.Executor,
		validation.Field(&c.Executor.ProgressStep, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.Executor.TaskTimeoutSeconds, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}

func (c *Config) validateDefaults() error {
	if err := validation.ValidateStruct(&c.Defaults,
		validation.Field(&c.Defaults.Quality, validation.Required, validation.In(toAny(Qualities)...)),
		validation.Field(&c.Defaults.WhisperModel, validation.Required, validation.In(toAny(WhisperModels)...)),
	); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if err := validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Format, validation.In("console", "json")),
		validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
	); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	for _, id := range c.WorkerIDs() {
		w := c.Workers[id]
		if err := validation.ValidateStruct(&w,
			validation.Field(&w.Command, validation.Required),
			validation.Field(&w.TimeoutSeconds, validation.Min(0)),
		); err != nil {
			return fmt.Errorf("workers.%s: %w", id, err)
		}
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
