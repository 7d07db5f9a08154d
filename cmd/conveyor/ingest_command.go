package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/tasks"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var opts tasks.IngestOptions
	var run bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Create a bucket for a source URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				m, created, err := app.tasks.Ingest(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				ran := 0
				if run {
					if ran, err = app.scheduler.RunAll(cmd.Context(), m.HashID); err != nil {
						return err
					}
					if m, err = app.store.Load(m.HashID); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"created": created, "hashId": m.HashID, "tasksRun": ran})
				}
				out := cmd.OutOrStdout()
				if created {
					fmt.Fprintf(out, "Created bucket %s\n", m.HashID)
				} else {
					fmt.Fprintf(out, "Bucket %s already exists\n", m.HashID)
				}
				if run {
					fmt.Fprintf(out, "Ran %d task(s)\n", ran)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "Display title until metadata is fetched")
	cmd.Flags().StringVar(&opts.Quality, "quality", "", "Download quality (best, 1080p, 720p, 360p)")
	cmd.Flags().StringVar(&opts.WhisperModel, "whisper-model", "", "Transcription model")
	cmd.Flags().StringVar(&opts.SummaryModel, "summary-model", "", "Summary model")
	cmd.Flags().StringVar(&opts.ChatModel, "chat-model", "", "Chat model")
	cmd.Flags().StringVar(&opts.Voice, "voice", "", "Speech voice")
	cmd.Flags().BoolVar(&run, "run", false, "Run queued tasks until the bucket is idle")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
