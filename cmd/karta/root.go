package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/storyweave/karta/internal/api"
	"github.com/storyweave/karta/internal/config"
)

// App holds the persistent flag values and everything set up before a command runs.
type App struct {
	ConfigDir string
	Server    string
	APIKey    string
	Pretty    bool

	session *session
}

func newRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "karta",
		Short:        "Chapter overview and map marker consistency engine",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the HTTP API with the settings of ./karta.cfg.json
  karta serve

  # Save a chapter overview and sweep the maps
  karta save-overview my-project overview.json

  # Same against a running server
  karta --server http://localhost:8088 save-overview my-project overview.json

  # Repair markers after chapter 4 was removed elsewhere
  karta repair my-project 4
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		s, err := setupSession(app.ConfigDir, cmd.ErrOrStderr())
		if err != nil {
			return writeErr(cmd, err)
		}
		app.session = s
		if app.APIKey == "" {
			app.APIKey = config.GetString("api.key")
		}
		return nil
	}

	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.session == nil {
			return nil
		}
		err := app.session.shutdown()
		app.session = nil
		return err
	}

	cmd.PersistentFlags().StringVar(&app.ConfigDir, "config-dir", envOr("KARTA_CONFIG_DIR", "."), "Directory containing "+config.FileName)
	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("KARTA_SERVER", ""), "Base URL of a running karta server; commands run locally when empty")
	cmd.PersistentFlags().StringVar(&app.APIKey, "api-key", envOr("KARTA_API_KEY", ""), "Bearer key for --server (default api.key from config)")
	cmd.PersistentFlags().BoolVar(&app.Pretty, "pretty", false, "Pretty-print JSON output")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newOverviewCmd(app))
	cmd.AddCommand(newSaveOverviewCmd(app))
	cmd.AddCommand(newRepairCmd(app))
	cmd.AddCommand(newImportCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newVersionCmd(app))

	return cmd
}

// remote returns an API client when --server is set.
func (a *App) remote() *api.Client {
	if a.Server == "" {
		return nil
	}
	return api.New(a.Server, a.APIKey)
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOut(cmd, app, map[string]string{
				"version":   Version,
				"buildDate": BuildDate,
			})
		},
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if app.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
