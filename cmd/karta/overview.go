package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/storyweave/karta/internal/api"
)

// withEngine opens the configured storage for one local command and closes
// it afterwards, which also writes the memory backend's snapshot.
func (a *App) withEngine(fn func(eng *engine) error) error {
	eng, err := a.session.openEngine()
	if err != nil {
		return err
	}
	err = fn(eng)
	if cerr := eng.close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close storage: %w", cerr)
	}
	return err
}

func newOverviewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "overview <project>",
		Short: "Print the chapter overview of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			if c := app.remote(); c != nil {
				overview, err := c.GetChapters(cmd.Context(), projectID)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, overview)
			}

			return app.withEngine(func(eng *engine) error {
				overview, err := eng.chapters.GetChapterOverview(cmd.Context(), projectID)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, overview)
			})
		},
	}
}

func newSaveOverviewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "save-overview <project> <file.json>",
		Short: "Save a chapter overview and sweep the project's maps",
		Long: `Save a chapter overview read from a JSON file of the form
{"chapters": [...], "links": [...]}. Detail views of new chapters are
created, detail views of deleted chapters removed, and every map marker
is moved to the chapter numbering of the saved overview.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]

			data, err := os.ReadFile(args[1])
			if err != nil {
				return writeErr(cmd, fmt.Errorf("failed to read overview: %w", err))
			}
			var req api.SaveChaptersRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return writeErr(cmd, fmt.Errorf("failed to parse overview: %w", err))
			}

			if c := app.remote(); c != nil {
				overview, err := c.SaveChapters(cmd.Context(), projectID, req)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, overview)
			}

			return app.withEngine(func(eng *engine) error {
				overview, err := eng.chapters.SaveChapterOverview(cmd.Context(), projectID, req.Chapters, req.Links)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, overview)
			})
		},
	}
}

func newRepairCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <project> <chapter>",
		Short: "Sweep the project's maps for a chapter number that no longer exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			deleted, err := strconv.Atoi(args[1])
			if err != nil {
				return writeErr(cmd, fmt.Errorf("chapter number must be an integer: %q", args[1]))
			}

			if c := app.remote(); c != nil {
				result, err := c.Repair(cmd.Context(), projectID, deleted)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, result)
			}

			return app.withEngine(func(eng *engine) error {
				result, err := eng.chapters.RepairSweep(cmd.Context(), projectID, deleted)
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeOut(cmd, app, result)
			})
		},
	}
}
