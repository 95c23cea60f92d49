package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/storyweave/karta/internal/api"
	"github.com/storyweave/karta/internal/config"
)

func newServeCmd(app *App) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = config.GetString("listen")
			}
			log := app.session.log

			return app.withEngine(func(eng *engine) error {
				deps := api.Dependencies{
					Chapters: eng.chapters,
					Store:    eng.store,
					Logger:   log,
					APIKey:   app.APIKey,
				}
				if m := app.session.metrics(); m != nil {
					deps.Metrics = m
				}

				srv := &http.Server{
					Addr:              listen,
					Handler:           api.NewServer(deps),
					ReadHeaderTimeout: 10 * time.Second,
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.ListenAndServe()
				}()
				log.Info("Serving HTTP API", "addr", listen, "auth", app.APIKey != "")

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return writeErr(cmd, err)
				case <-ctx.Done():
				}

				log.Info("Shutting down HTTP API")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default listen from config)")
	return cmd
}
