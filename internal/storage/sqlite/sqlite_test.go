package sqlitestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/storyweave/karta/internal/database"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestBackend_FileDatabase(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{Path: filepath.Join(dir, "karta.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	ctx := context.Background()
	require.NoError(t, b.CreateMap(ctx, &core.Map{ID: "m1", ProjectID: "p1"}))
	maps, err := b.GetAllMapsWithFullDetail(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, maps, 1)

	require.NoError(t, b.Close())
}

func TestBackend_CloseWritesFinalDump(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "dump.db")
	b, err := New(Config{
		Path:         filepath.Join(dir, "live.db"),
		DumpInterval: time.Hour,
		DumpPath:     dump,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	ctx := context.Background()
	require.NoError(t, b.CreateOverview(ctx, &core.ChapterOverview{ID: "o1", ProjectID: "p1"}))
	b.Record(ctx, "p1", core.TimelineChapterOverviewUpdated)
	require.NoError(t, b.Close())

	_, err = os.Stat(dump)
	require.NoError(t, err)

	restored, err := database.GetSqliteDBStandalone(dump)
	require.NoError(t, err)
	var count int64
	require.NoError(t, restored.Table("timeline_entries").Count(&count).Error)
	assert.Equal(t, int64(1), count, "queued timeline entries are flushed before the dump")
}

func TestBackend_DumpLoop(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "dump.db")
	b, err := New(Config{
		Path:         filepath.Join(dir, "live.db"),
		DumpInterval: 20 * time.Millisecond,
		DumpPath:     dump,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dump)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
