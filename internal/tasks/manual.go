package tasks

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"conveyor/internal/manifest"
	"conveyor/internal/rules"
	"conveyor/internal/services"
)

// UpgradeQuality re-downloads the primary media at a new quality preset.
func (s *Service) UpgradeQuality(ctx context.Context, hashID, quality string) (manifest.Task, error) {
	quality = strings.TrimSpace(quality)
	if err := validation.Validate(quality, validation.Required, validation.In(qualityValues()...)); err != nil {
		return manifest.Task{}, services.Wrap(services.ErrValidation, "tasks", "upgrade_quality", "quality", err)
	}
	taskCtx := map[string]any{"quality": quality}
	return s.enqueue(ctx, hashID, rules.TaskUpgradeQuality, taskCtx, func(m *manifest.Manifest) error {
		if err := requireFile(m, manifest.OriginalMedia); err != nil {
			return err
		}
		previous := ""
		if md, ok := m.File(manifest.OriginalMedia).Media(); ok {
			previous = md.Quality
		}
		if previous == "" {
			if t := m.Task(rules.TaskDownloadMedia); t != nil {
				previous = t.ContextString("quality", "")
			}
		}
		taskCtx["previousQuality"] = previous
		return nil
	})
}

// PurgeOptions controls which artifacts a purge removes alongside the media.
type PurgeOptions struct {
	KeepResults   bool
	KeepThumbnail bool
	Reason        string
}

// PurgeMedia deletes the primary media while keeping its metadata.
func (s *Service) PurgeMedia(ctx context.Context, hashID string, opts PurgeOptions) (manifest.Task, error) {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = "manual purge"
	}
	taskCtx := map[string]any{
		"keepResults":   opts.KeepResults,
		"keepThumbnail": opts.KeepThumbnail,
		"reason":        reason,
	}
	return s.enqueue(ctx, hashID, rules.TaskPurgeMedia, taskCtx, func(m *manifest.Manifest) error {
		return requireFile(m, manifest.OriginalMedia, manifest.FileReady)
	})
}

// Screenshot extraction modes.
const (
	ScreenshotInterval = "interval"
	ScreenshotCount    = "count"
	ScreenshotScene    = "scene"
)

// ScreenshotOptions select frames to extract.
type ScreenshotOptions struct {
	Mode     string
	Interval int
	Count    int
}

func (o ScreenshotOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Mode, validation.Required, validation.In(ScreenshotInterval, ScreenshotCount, ScreenshotScene)),
		validation.Field(&o.Interval, validation.When(o.Mode == ScreenshotInterval, validation.Required, validation.Min(1))),
		validation.Field(&o.Count, validation.When(o.Mode == ScreenshotCount, validation.Required, validation.Min(1))),
	)
}

// ExtractScreenshots queues frame extraction from the primary media.
func (s *Service) ExtractScreenshots(ctx context.Context, hashID string, opts ScreenshotOptions) (manifest.Task, error) {
	if opts.Mode == "" {
		opts.Mode = ScreenshotInterval
	}
	if err := opts.Validate(); err != nil {
		return manifest.Task{}, services.Wrap(services.ErrValidation, "tasks", "extract_screenshots", "options", err)
	}
	taskCtx := map[string]any{"mode": opts.Mode, "interval": opts.Interval, "count": opts.Count}
	return s.enqueue(ctx, hashID, rules.TaskExtractScreenshots, taskCtx, func(m *manifest.Manifest) error {
		return requireFile(m, manifest.OriginalMedia, manifest.FileReady)
	})
}

// Chat actions.
const (
	ChatNew    = "new"
	ChatClear  = "clear"
	ChatDelete = "delete"
)

// ManageChats queues a chat history operation.
func (s *Service) ManageChats(ctx context.Context, hashID, action, chatID string) (manifest.Task, error) {
	action = strings.TrimSpace(action)
	chatID = strings.TrimSpace(chatID)
	if err := validation.Validate(action, validation.Required, validation.In(ChatNew, ChatClear, ChatDelete)); err != nil {
		return manifest.Task{}, services.Wrap(services.ErrValidation, "tasks", "manage_chats", "action", err)
	}
	if action == ChatDelete && chatID == "" {
		return manifest.Task{}, services.Wrap(services.ErrValidation, "tasks", "manage_chats", "delete requires a chat id", nil)
	}
	taskCtx := map[string]any{"action": action, "chatId": chatID}
	return s.enqueue(ctx, hashID, rules.TaskManageChats, taskCtx, func(m *manifest.Manifest) error {
		if err := requireFile(m, manifest.TranscriptText, manifest.FileReady); err != nil {
			return err
		}
		if model := m.MetaString("chatModel"); model != "" {
			taskCtx["model"] = model
		}
		return nil
	})
}

// Reset returns a terminal task to queued so the scheduler runs it again.
func (s *Service) Reset(ctx context.Context, hashID, taskID string) (manifest.Task, error) {
	var out manifest.Task
	_, err := s.store.Update(ctx, hashID, func(m *manifest.Manifest) error {
		t := m.Task(taskID)
		if t == nil {
			return services.Wrap(services.ErrNotFound, "tasks", "reset", fmt.Sprintf("task %s", taskID), nil)
		}
		if !t.State.Terminal() {
			return services.Wrap(services.ErrConflict, "tasks", "reset", fmt.Sprintf("task %s is %s", taskID, t.State), nil)
		}
		t.Reset(nil, s.now())
		out = *t
		return nil
	})
	return out, err
}
