// internal/storage/memory/memory_test.go
package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(cfg config.MemoryConfig) *Backend {
	b := New(cfg)
	b.now = func() time.Time { return testNow }
	return b
}

func seed(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.CreateOverview(ctx, &core.ChapterOverview{
		ID:        "o1",
		ProjectID: "p1",
		Chapters: []core.Chapter{
			{ID: "c1", Number: 1, Name: "Arrival", DetailViewID: "v1"},
			{ID: "c2", Number: 2, Name: "Harbour", DetailViewID: "v2"},
		},
	}))
	require.NoError(t, b.CreateDetailView(ctx, &core.DetailView{ID: "v1", ProjectID: "p1", ChapterID: "c1"}))
	require.NoError(t, b.CreateDetailView(ctx, &core.DetailView{
		ID: "v2", ProjectID: "p1", ChapterID: "c2",
		Detail: []core.DetailNode{{ID: "n1", RefID: "v1"}},
	}))
	require.NoError(t, b.CreateMap(ctx, &core.Map{
		ID:        "m1",
		ProjectID: "p1",
		NpcMarkers: []core.Marker{{
			ID: "npc", AddedInChapter: 1, DeletedInChapter: core.NoChapter,
			ChapterPixelCoords: []core.ChapterPixelCoords{{ChapterNumber: 2, X: 5, Y: 5}},
		}},
	}))
}

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{SnapshotPath: "/tmp/test.json", CompressOutput: true})

	require.NotNil(t, b)
	assert.Equal(t, "/tmp/test.json", b.cfg.SnapshotPath)
	assert.True(t, b.cfg.CompressOutput)
	assert.NotNil(t, b.overviews)
	assert.NotNil(t, b.details)
	assert.NotNil(t, b.maps)
}

func TestInitAndClose_WithoutSnapshot(t *testing.T) {
	b := New(config.MemoryConfig{})
	assert.NoError(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInit_MissingSnapshotIsIgnored(t *testing.T) {
	b := New(config.MemoryConfig{SnapshotPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.NoError(t, b.Init())
}

func TestOverviews(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})

	got, err := b.GetOverviewByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	o := &core.ChapterOverview{ID: "o1", ProjectID: "p1", Chapters: []core.Chapter{{ID: "c1", Number: 1}}}
	require.NoError(t, b.CreateOverview(ctx, o))
	assert.Error(t, b.CreateOverview(ctx, o), "second create must fail")

	// the stored copy is detached from the caller's value
	o.Chapters[0].Name = "changed"
	got, err = b.GetOverviewByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.Chapters[0].Name)

	got.Chapters = append(got.Chapters, core.Chapter{ID: "c2", Number: 2})
	require.NoError(t, b.UpdateOverview(ctx, got))
	got, err = b.GetOverviewByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got.ChapterNumbers())

	err = b.UpdateOverview(ctx, &core.ChapterOverview{ProjectID: "p2"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.DeleteOverview(ctx, got))
	got, err = b.GetOverviewByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDetailViews(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})
	seed(t, b)

	d, err := b.GetDetailView(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.IsEmpty())

	d.Name = "Renamed"
	require.NoError(t, b.UpdateDetailView(ctx, d))
	d, err = b.GetDetailView(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", d.Name)

	assert.ErrorIs(t, b.UpdateDetailView(ctx, &core.DetailView{ID: "nope"}), storage.ErrNotFound)
	assert.Error(t, b.CreateDetailView(ctx, &core.DetailView{ID: "v1"}))

	views, err := b.ListDetailViews(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "v1", views[0].ID)
	assert.Equal(t, "v2", views[1].ID)

	require.NoError(t, b.DeleteDetailView(ctx, d))
	d, err = b.GetDetailView(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, b.DeleteDetailView(ctx, &core.DetailView{ID: "v1"}), "deleting twice is fine")
}

func TestCountNodesReferencing(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})
	seed(t, b)

	// v2 links to v1
	n, err := b.CountNodesReferencing(ctx, "v1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.CountNodesReferencing(ctx, "v1", "v2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.CountNodesReferencing(ctx, "missing", "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMaps(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})
	seed(t, b)

	maps, err := b.GetAllMapsWithFullDetail(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, maps, 1)

	// mutating a loaded map leaves the store alone until UpdateMap
	m := maps[0]
	m.NpcMarkers[0].ChapterPixelCoords[0].X = 99
	stored, err := b.GetMap(ctx, "p1", "m1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), stored.NpcMarkers[0].ChapterPixelCoords[0].X)

	require.NoError(t, b.UpdateMap(ctx, m))
	stored, err = b.GetMap(ctx, "p1", "m1")
	require.NoError(t, err)
	assert.Equal(t, float64(99), stored.NpcMarkers[0].ChapterPixelCoords[0].X)
	assert.True(t, stored.ModifiedOn.Equal(testNow))

	other, err := b.GetMap(ctx, "p2", "m1")
	require.NoError(t, err)
	assert.Nil(t, other, "maps are scoped to their project")

	assert.ErrorIs(t, b.UpdateMap(ctx, &core.Map{ID: "nope"}), storage.ErrNotFound)
	assert.Error(t, b.CreateMap(ctx, &core.Map{ID: "m1"}))

	none, err := b.GetAllMapsWithFullDetail(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, b.DeleteMap(ctx, m))
	require.NoError(t, b.DeleteMap(ctx, m))
	stored, err = b.GetMap(ctx, "p1", "m1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestTimeline(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})

	b.Record(ctx, "p1", core.TimelineChapterOverviewUpdated)
	b.Record(ctx, "p2", core.TimelineKartaMarkersRepaired, "2")
	b.Record(ctx, "p1", core.TimelineKartaMarkersRepaired, "3")

	entries, err := b.ListTimeline(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.TimelineChapterOverviewUpdated, entries[0].Event)
	assert.Equal(t, []string{"3"}, entries[1].Args)
	assert.True(t, entries[1].Timestamp.Equal(testNow))
}

func TestRestart_KeepsTimeline(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	b := newTestBackend(config.MemoryConfig{SnapshotPath: path})
	seed(t, b)
	b.Record(ctx, "p1", core.TimelineChapterOverviewUpdated)
	b.Record(ctx, "p0", core.TimelineKartaMarkersRepaired, "3")
	require.NoError(t, b.Close())

	// every restart must see the same history
	for range 3 {
		b = newTestBackend(config.MemoryConfig{SnapshotPath: path})
		require.NoError(t, b.Init())
		require.NoError(t, b.Close())
	}

	entries, err := b.ListTimeline(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.TimelineChapterOverviewUpdated, entries[0].Event)

	entries, err = b.ListTimeline(ctx, "p0")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"3"}, entries[0].Args)
	assert.Equal(t, []string{"p0", "p1"}, b.ProjectIDs())
}

func TestProjectIDs(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(config.MemoryConfig{})
	seed(t, b)
	b.Record(ctx, "p0", core.TimelineProjectImported)

	assert.Equal(t, []string{"p0", "p1"}, b.ProjectIDs())
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "snapshot.json")

			b := newTestBackend(config.MemoryConfig{SnapshotPath: path, CompressOutput: compress})
			require.NoError(t, b.Init())
			seed(t, b)
			b.Record(ctx, "p1", core.TimelineChapterOverviewUpdated, "2")
			require.NoError(t, b.Close())

			restored := newTestBackend(config.MemoryConfig{SnapshotPath: path})
			require.NoError(t, restored.Init())

			o, err := restored.GetOverviewByProject(ctx, "p1")
			require.NoError(t, err)
			require.NotNil(t, o)
			assert.Equal(t, []int{1, 2}, o.ChapterNumbers())

			views, err := restored.ListDetailViews(ctx, "p1")
			require.NoError(t, err)
			assert.Len(t, views, 2)

			m, err := restored.GetMap(ctx, "p1", "m1")
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.Equal(t, "npc", m.NpcMarkers[0].ID)

			entries, err := restored.ListTimeline(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, core.TimelineChapterOverviewUpdated, entries[0].Event)
			assert.Equal(t, []string{"2"}, entries[0].Args)
			assert.True(t, entries[0].Timestamp.Equal(testNow))
		})
	}
}
