package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRunCommand(ctx),
		newRunNextCommand(ctx),
		newRunAllCommand(ctx),
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run [hashId]",
		Short: "Run queued tasks for one bucket, or every bucket when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					ran, err := app.scheduler.RunAll(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Ran %d task(s) for %s\n", ran, args[0])
					return nil
				}
				return runAllBuckets(cmd, app)
			})
		},
	}
}

func newRunNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run-next <hashId>",
		Short: "Evaluate a bucket and run its next queued task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				ran, err := app.scheduler.RunNext(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ran {
					fmt.Fprintln(out, "Nothing queued")
					return nil
				}
				m, err := app.store.Load(args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(out, renderTaskTable(m.Tasks, shouldColorize(out)))
				return nil
			})
		},
	}
}

func newRunAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run every bucket until nothing is queued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				return runAllBuckets(cmd, app)
			})
		},
	}
}

func runAllBuckets(cmd *cobra.Command, app *application) error {
	out := cmd.OutOrStdout()
	summary, err := app.scheduler.RunAllBuckets(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Ran %d task(s) across %d bucket(s)", summary.Tasks, summary.Buckets)
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(out, "; skipped %s", strings.Join(summary.Skipped, ", "))
	}
	fmt.Fprintln(out)
	return nil
}
