package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"conveyor/internal/api"
	"conveyor/internal/watch"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run buckets as their manifests change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(app *application) error {
				address := strings.TrimSpace(bind)
				if address == "" {
					address = app.cfg.Paths.APIBind
				}
				deps := api.Deps{
					Library: app.library,
					Buckets: app.store,
					Tasks:   app.tasks,
					History: app.journal,
					Logger:  app.logger,
				}

				g, gctx := errgroup.WithContext(cmd.Context())
				if app.cfg.Watch.Enabled && !noWatch {
					w, err := watch.New(app.cfg.Paths.StorageRoot,
						time.Duration(app.cfg.Watch.DebounceMS)*time.Millisecond,
						app.scheduler, app.logger)
					if err != nil {
						return err
					}
					deps.Kicker = w
					g.Go(func() error { return w.Run(gctx) })
				}
				server := api.NewServer(address, deps)
				g.Go(func() error { return server.Serve(gctx) })
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to paths.api_bind)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Serve the API without running tasks")
	return cmd
}
