package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/storyweave/karta/internal/snapshot"
)

func newImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot>",
		Short: "Import a snapshot file (plain or gzip JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			if c := app.remote(); c != nil {
				if err := c.UploadSnapshot(cmd.Context(), path); err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, map[string]string{"imported": path})
			}

			snap, err := snapshot.ReadFile(path)
			if err != nil {
				return writeErr(cmd, err)
			}
			return app.withEngine(func(eng *engine) error {
				if err := snapshot.Import(cmd.Context(), eng.store, snap); err != nil {
					return writeErr(cmd, err)
				}
				app.session.log.InfoContext(cmd.Context(), "Imported snapshot", "path", path, "projects", len(snap.Projects))
				return writeOut(cmd, app, map[string]any{
					"imported": path,
					"projects": len(snap.Projects),
				})
			})
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	var compress bool

	cmd := &cobra.Command{
		Use:   "export <file> <project>...",
		Short: "Export projects to a snapshot file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Server != "" {
				return writeErr(cmd, errors.New("export reads storage directly and cannot run against --server"))
			}
			path, projectIDs := args[0], args[1:]

			return app.withEngine(func(eng *engine) error {
				snap, err := snapshot.Export(cmd.Context(), eng.store, projectIDs...)
				if err != nil {
					return writeErr(cmd, err)
				}
				if err := snapshot.WriteFile(path, snap, compress); err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, map[string]any{
					"exported": path,
					"projects": len(snap.Projects),
				})
			})
		},
	}

	cmd.Flags().BoolVar(&compress, "gzip", false, "Gzip the snapshot")
	return cmd
}
