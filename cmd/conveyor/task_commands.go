package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/manifest"
	"conveyor/internal/tasks"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	var run bool

	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Queue manual tasks",
	}
	taskCmd.PersistentFlags().BoolVar(&run, "run", false, "Run queued tasks until the bucket is idle")

	// enqueue runs fn, reports the queued task, and optionally drains the bucket.
	enqueue := func(cmd *cobra.Command, hashID string, fn func(*application) (manifest.Task, error)) error {
		return ctx.withApp(cmd.Context(), func(app *application) error {
			task, err := fn(app)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %s for %s\n", task.ID, hashID)
			if !run {
				return nil
			}
			ran, err := app.scheduler.RunAll(cmd.Context(), hashID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Ran %d task(s)\n", ran)
			return nil
		})
	}

	taskCmd.AddCommand(&cobra.Command{
		Use:   "upgrade <hashId> <quality>",
		Short: "Re-download the media at another quality",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, args[0], func(app *application) (manifest.Task, error) {
				return app.tasks.UpgradeQuality(cmd.Context(), args[0], args[1])
			})
		},
	})

	var purge tasks.PurgeOptions
	purgeCmd := &cobra.Command{
		Use:   "purge <hashId>",
		Short: "Delete the media file while keeping its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, args[0], func(app *application) (manifest.Task, error) {
				return app.tasks.PurgeMedia(cmd.Context(), args[0], purge)
			})
		},
	}
	purgeCmd.Flags().BoolVar(&purge.KeepResults, "keep-results", false, "Keep extracted audio")
	purgeCmd.Flags().BoolVar(&purge.KeepThumbnail, "keep-thumbnail", true, "Keep the thumbnail")
	purgeCmd.Flags().StringVar(&purge.Reason, "reason", "", "Reason recorded on the purged artifacts")
	taskCmd.AddCommand(purgeCmd)

	var shots tasks.ScreenshotOptions
	shotsCmd := &cobra.Command{
		Use:   "screenshots <hashId>",
		Short: "Extract frames from the media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, args[0], func(app *application) (manifest.Task, error) {
				return app.tasks.ExtractScreenshots(cmd.Context(), args[0], shots)
			})
		},
	}
	shotsCmd.Flags().StringVar(&shots.Mode, "mode", tasks.ScreenshotInterval, "Selection mode (interval, count, scene)")
	shotsCmd.Flags().IntVar(&shots.Interval, "interval", 60, "Seconds between frames in interval mode")
	shotsCmd.Flags().IntVar(&shots.Count, "count", 0, "Number of frames in count mode")
	taskCmd.AddCommand(shotsCmd)

	taskCmd.AddCommand(&cobra.Command{
		Use:   "chats <hashId> <new|clear|delete> [chatId]",
		Short: "Manage chat history",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := ""
			if len(args) == 3 {
				chatID = args[2]
			}
			return enqueue(cmd, args[0], func(app *application) (manifest.Task, error) {
				return app.tasks.ManageChats(cmd.Context(), args[0], args[1], chatID)
			})
		},
	})

	taskCmd.AddCommand(&cobra.Command{
		Use:   "reset <hashId> <taskId>",
		Short: "Queue a finished or failed task again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, args[0], func(app *application) (manifest.Task, error) {
				return app.tasks.Reset(cmd.Context(), args[0], args[1])
			})
		},
	})

	return taskCmd
}
