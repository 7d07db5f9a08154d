package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var bucket, status string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded task runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				runs, err := app.journal.List(cmd.Context(), journal.Filter{
					HashID: bucket,
					Status: journal.Status(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]api.Run, 0, len(runs))
					for _, r := range runs {
						out = append(out, api.FromRun(r))
					}
					return writeJSON(cmd, out)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				color := shouldColorize(out)
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					kind := statusOK
					if r.Status != journal.StatusDone {
						kind = statusError
					}
					exit := "-"
					if r.ExitCode != nil {
						exit = strconv.Itoa(*r.ExitCode)
					}
					started := r.StartedAt
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						r.HashID,
						r.TaskID,
						colorize(string(r.Status), kind, color),
						exit,
						r.Duration.Round(10*time.Millisecond).String(),
						formatTime(&started),
						truncate(r.Error, 48),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{right("ID"), left("Bucket"), left("Task"), left("Status"), right("Exit"), right("Duration"), left("Started"), left("Error")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Only runs for this bucket id")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (done, error, config_error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
