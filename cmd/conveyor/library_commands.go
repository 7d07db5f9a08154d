package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"conveyor/internal/library"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libCmd := &cobra.Command{
		Use:   "library",
		Short: "Inspect and rebuild the library index",
	}
	libCmd.AddCommand(newLibraryListCommand(ctx))
	libCmd.AddCommand(newLibraryRebuildCommand(ctx))
	return libCmd
}

func newLibraryListCommand(ctx *commandContext) *cobra.Command {
	var state, platform string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				idx, err := app.library.Load()
				if err != nil {
					return err
				}
				items := make([]library.Entry, 0, len(idx.Items))
				for _, e := range idx.Items {
					if (state == "" || e.State == state) && (platform == "" || e.Platform == platform) {
						items = append(items, e)
					}
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Library is empty")
					return nil
				}
				color := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, e := range items {
					rows = append(rows, []string{
						e.HashID,
						truncate(e.Title, 48),
						e.Platform,
						colorize(e.State, entryKind(e.State), color),
						humanize.IBytes(uint64(e.DiskSize)),
						strconv.Itoa(len(e.Tags)),
						e.CreatedAt.Local().Format("2006-01-02"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{left("Bucket"), left("Title"), left("Platform"), left("State"), right("Size"), right("Tags"), left("Created")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by lifecycle state")
	cmd.Flags().StringVar(&platform, "platform", "", "Filter by platform")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newLibraryRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild library.json from every bucket manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				if err := app.library.Rebuild(cmd.Context()); err != nil {
					return err
				}
				idx, err := app.library.Load()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d bucket(s)\n", len(idx.Items))
				return nil
			})
		},
	}
}
