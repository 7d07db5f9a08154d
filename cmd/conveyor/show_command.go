package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/library"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <hashId>",
		Short: "Show a bucket's artifacts and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				m, err := app.store.Load(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, m)
				}
				out := cmd.OutOrStdout()
				color := shouldColorize(out)
				state := library.LifecycleState(m)

				title := m.MetaString("title")
				if title == "" {
					title = m.SourceURL()
				}
				fmt.Fprintln(out, strings.Join(renderSectionHeader(title, color), "\n"))
				fmt.Fprintf(out, "Bucket:   %s\n", m.HashID)
				fmt.Fprintf(out, "Source:   %s\n", m.SourceURL())
				fmt.Fprintf(out, "Platform: %s\n", library.ClassifyPlatform(m.SourceURL()))
				fmt.Fprintf(out, "State:    %s\n", colorize(state, entryKind(state), color))
				fmt.Fprintf(out, "Revision: %d\n\n", m.Revision)
				fmt.Fprint(out, renderFileTable(m.FileManifest, color))
				fmt.Fprint(out, renderTaskTable(m.Tasks, color))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the raw manifest")
	return cmd
}
