package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/storyweave/karta/internal/api"
	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/snapshot"
	"github.com/storyweave/karta/internal/storage/memory"
	"github.com/storyweave/karta/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workspace writes a config using the memory backend persisted to store.json.
func workspace(t *testing.T) string {
	t.Helper()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
		"logsDir": %q,
		"storage": {
			"type": "memory",
			"memory": {"snapshotPath": %q, "compressOutput": false}
		}
	}`, filepath.Join(dir, "logs"), filepath.Join(dir, "store.json"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedProject() snapshot.Project {
	return snapshot.Project{
		ID: "p1",
		Overview: &core.ChapterOverview{
			ID:        "o1",
			ProjectID: "p1",
			Chapters:  seedChapters(),
		},
		DetailViews: []*core.DetailView{
			{ID: "v1", ProjectID: "p1", ChapterID: "c1"},
			{ID: "v2", ProjectID: "p1", ChapterID: "c2"},
			{ID: "v3", ProjectID: "p1", ChapterID: "c3"},
		},
		Maps: []*core.Map{{
			ID:        "m1",
			ProjectID: "p1",
			NpcMarkers: []core.Marker{
				{ID: "moves", X: 10, Y: 10, AddedInChapter: 2, DeletedInChapter: core.NoChapter},
				{ID: "collapses", X: 40, Y: 30, AddedInChapter: 2, DeletedInChapter: 3},
			},
		}},
	}
}

func seedChapters() []core.Chapter {
	return []core.Chapter{
		{ID: "c1", Number: 1, Name: "Arrival", DetailViewID: "v1"},
		{ID: "c2", Number: 2, Name: "Harbour", DetailViewID: "v2"},
		{ID: "c3", Number: 3, Name: "Storm", DetailViewID: "v3"},
	}
}

func writeSeed(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "seed.json.gz")
	require.NoError(t, snapshot.WriteFile(path, &snapshot.Snapshot{
		Version:  snapshot.Version,
		Projects: []snapshot.Project{seedProject()},
	}, true))
	return path
}

func writeOverview(t *testing.T, dir string, chapters []core.Chapter) string {
	t.Helper()
	data, err := json.Marshal(api.SaveChaptersRequest{Chapters: chapters})
	require.NoError(t, err)
	path := filepath.Join(dir, "overview.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestVersion(t *testing.T) {
	dir := workspace(t)

	stdout, _, err := runCLI(t, "--config-dir", dir, "version")
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, Version, out["version"])
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)

	_, stderr, err := runCLI(t, "--config-dir", filepath.Join(dir, "nope"), "version")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Failed to load config, using defaults!")
	assert.DirExists(t, filepath.Join(dir, "kartalogs"))
}

func TestLocalWorkflow(t *testing.T) {
	dir := workspace(t)
	seed := writeSeed(t, dir)

	stdout, stderr, err := runCLI(t, "--config-dir", dir, "import", seed)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, `"projects":1`)
	assert.FileExists(t, filepath.Join(dir, "store.json"))

	// store.json carries the state into the next invocation
	stdout, stderr, err = runCLI(t, "--config-dir", dir, "overview", "p1")
	require.NoError(t, err, stderr)
	var overview core.ChapterOverview
	require.NoError(t, json.Unmarshal([]byte(stdout), &overview))
	assert.Equal(t, []int{1, 2, 3}, overview.ChapterNumbers())

	without2 := []core.Chapter{seedChapters()[0], seedChapters()[2]}
	stdout, stderr, err = runCLI(t, "--config-dir", dir, "save-overview", "p1", writeOverview(t, dir, without2))
	require.NoError(t, err, stderr)
	require.NoError(t, json.Unmarshal([]byte(stdout), &overview))
	assert.Equal(t, []int{1, 3}, overview.ChapterNumbers())

	out := filepath.Join(dir, "out", "p1.json")
	_, stderr, err = runCLI(t, "--config-dir", dir, "export", out, "p1")
	require.NoError(t, err, stderr)

	snap, err := snapshot.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, snap.Projects, 1)
	require.Len(t, snap.Projects[0].Maps, 1)
	markers := snap.Projects[0].Maps[0].NpcMarkers
	require.Len(t, markers, 1)
	assert.Equal(t, "moves", markers[0].ID)
	assert.Equal(t, 3, markers[0].AddedInChapter)
	assert.Len(t, snap.Projects[0].DetailViews, 2)

	stdout, stderr, err = runCLI(t, "--config-dir", dir, "repair", "p1", "2")
	require.NoError(t, err, stderr)
	var result chapter.SweepResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 2, result.DeletedChapter)
	assert.Equal(t, 1, result.MapsVisited)
	assert.Equal(t, 0, result.MapsWritten)
}

func TestSaveOverview_Rejected(t *testing.T) {
	dir := workspace(t)
	_, stderr, err := runCLI(t, "--config-dir", dir, "import", writeSeed(t, dir))
	require.NoError(t, err, stderr)

	_, stderr, err = runCLI(t, "--config-dir", dir, "save-overview", "p1", writeOverview(t, dir, nil))
	require.Error(t, err)
	verr := chapter.AsValidation(err)
	require.NotNil(t, verr)
	assert.Equal(t, chapter.CodeAllChaptersDeleted, verr.Code)
	assert.NotEmpty(t, stderr)
}

func TestRepair_Errors(t *testing.T) {
	dir := workspace(t)
	_, _, err := runCLI(t, "--config-dir", dir, "import", writeSeed(t, dir))
	require.NoError(t, err)

	_, _, err = runCLI(t, "--config-dir", dir, "repair", "p1", "two")
	assert.ErrorContains(t, err, "must be an integer")

	_, _, err = runCLI(t, "--config-dir", dir, "repair", "p1", "3")
	verr := chapter.AsValidation(err)
	require.NotNil(t, verr)
	assert.Equal(t, chapter.CodeChapterStillExists, verr.Code)
}

func TestSaveOverview_BadFile(t *testing.T) {
	dir := workspace(t)

	_, _, err := runCLI(t, "--config-dir", dir, "save-overview", "p1", filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read overview")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, _, err = runCLI(t, "--config-dir", dir, "save-overview", "p1", bad)
	assert.ErrorContains(t, err, "failed to parse overview")
}

func TestExport_RejectsServer(t *testing.T) {
	dir := workspace(t)
	_, _, err := runCLI(t, "--config-dir", dir, "--server", "http://127.0.0.1:1", "export", "out.json", "p1")
	assert.ErrorContains(t, err, "cannot run against --server")
}

func TestRemoteMode(t *testing.T) {
	dir := workspace(t)

	store := memory.New(config.MemoryConfig{})
	svc, err := chapter.NewService(chapter.Dependencies{
		Overviews: store,
		Details:   store,
		Maps:      store,
		Timeline:  store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(api.Dependencies{
		Chapters: svc,
		Store:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		APIKey:   "secret",
	}))
	t.Cleanup(srv.Close)

	remote := []string{"--config-dir", dir, "--server", srv.URL, "--api-key", "secret"}

	_, stderr, err := runCLI(t, append(remote, "import", writeSeed(t, dir))...)
	require.NoError(t, err, stderr)

	stdout, stderr, err := runCLI(t, append(remote, "save-overview", "p1", writeOverview(t, dir, seedChapters()[:2]))...)
	require.NoError(t, err, stderr)
	var overview core.ChapterOverview
	require.NoError(t, json.Unmarshal([]byte(stdout), &overview))
	assert.Equal(t, []int{1, 2}, overview.ChapterNumbers())

	stdout, stderr, err = runCLI(t, append(remote, "repair", "p1", "3")...)
	require.NoError(t, err, stderr)
	var result chapter.SweepResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 3, result.DeletedChapter)

	// the local store was never touched
	assert.NoFileExists(t, filepath.Join(dir, "store.json"))

	_, _, err = runCLI(t, "--config-dir", dir, "--server", srv.URL, "--api-key", "wrong", "overview", "p1")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Status)
}
