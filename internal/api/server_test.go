package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/geo"
	"github.com/storyweave/karta/internal/logging"
	"github.com/storyweave/karta/internal/storage/memory"
	"github.com/storyweave/karta/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seededBackend holds project p1 with chapters 1..3. The detail view of
// chapter 3 has content, map m1 has two npc markers.
func seededBackend(t *testing.T) *memory.Backend {
	t.Helper()
	ctx := context.Background()
	b := memory.New(config.MemoryConfig{})

	require.NoError(t, b.CreateOverview(ctx, &core.ChapterOverview{
		ID:        "o1",
		ProjectID: "p1",
		Chapters: []core.Chapter{
			{ID: "c1", Number: 1, Name: "Arrival", DetailViewID: "v1"},
			{ID: "c2", Number: 2, Name: "Harbour", DetailViewID: "v2"},
			{ID: "c3", Number: 3, Name: "Storm", DetailViewID: "v3"},
		},
	}))
	require.NoError(t, b.CreateDetailView(ctx, &core.DetailView{ID: "v1", ProjectID: "p1", ChapterID: "c1"}))
	require.NoError(t, b.CreateDetailView(ctx, &core.DetailView{ID: "v2", ProjectID: "p1", ChapterID: "c2"}))
	require.NoError(t, b.CreateDetailView(ctx, &core.DetailView{
		ID: "v3", ProjectID: "p1", ChapterID: "c3",
		Quest: []core.DetailNode{{ID: "q1", RefID: "quest-1"}},
	}))
	require.NoError(t, b.CreateMap(ctx, &core.Map{
		ID:        "m1",
		ProjectID: "p1",
		NpcMarkers: []core.Marker{
			{ID: "moves", X: 10, Y: 10, AddedInChapter: 2, DeletedInChapter: core.NoChapter},
			{ID: "collapses", X: 40, Y: 30, AddedInChapter: 2, DeletedInChapter: 3},
		},
	}))
	return b
}

type testServer struct {
	*httptest.Server
	store *memory.Backend
}

func newTestServer(t *testing.T, opts ...func(*Dependencies)) *testServer {
	t.Helper()
	store := seededBackend(t)
	svc, err := chapter.NewService(chapter.Dependencies{
		Overviews: store,
		Details:   store,
		Maps:      store,
		Timeline:  store,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	deps := Dependencies{Chapters: svc, Store: store, Logger: discardLogger()}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := httptest.NewServer(NewServer(deps))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, header ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func chaptersWithout(numbers ...int) []core.Chapter {
	all := []core.Chapter{
		{ID: "c1", Number: 1, Name: "Arrival", DetailViewID: "v1"},
		{ID: "c2", Number: 2, Name: "Harbour", DetailViewID: "v2"},
		{ID: "c3", Number: 3, Name: "Storm", DetailViewID: "v3"},
	}
	var out []core.Chapter
outer:
	for _, c := range all {
		for _, n := range numbers {
			if c.Number == n {
				continue outer
			}
		}
		out = append(out, c)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetChapters(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/projects/p1/chapters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var overview core.ChapterOverview
	require.NoError(t, json.Unmarshal(body, &overview))
	assert.Equal(t, []int{1, 2, 3}, overview.ChapterNumbers())

	resp, _ = ts.request(t, http.MethodGet, "/api/projects/unknown/chapters", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveChapters_DeletesChapterAndSweepsMarkers(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPut, "/api/projects/p1/chapters",
		SaveChaptersRequest{Chapters: chaptersWithout(2)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var overview core.ChapterOverview
	require.NoError(t, json.Unmarshal(body, &overview))
	assert.Equal(t, []int{1, 3}, overview.ChapterNumbers())

	ctx := context.Background()
	v2, err := ts.store.GetDetailView(ctx, "v2")
	require.NoError(t, err)
	assert.Nil(t, v2, "detail view of the deleted chapter is removed")

	m, err := ts.store.GetMap(ctx, "p1", "m1")
	require.NoError(t, err)
	require.Len(t, m.NpcMarkers, 1)
	assert.Equal(t, "moves", m.NpcMarkers[0].ID)
	assert.Equal(t, 3, m.NpcMarkers[0].AddedInChapter)

	entries, err := ts.store.ListTimeline(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.TimelineChapterOverviewUpdated, entries[0].Event)
}

// lockedBuffer is written by the server goroutine while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSaveChapters_LogsCarryRequestID(t *testing.T) {
	var out lockedBuffer
	logs := logging.NewSlogManager()
	logs.SetService("karta", "test")
	logs.Setup(&out, "info", nil)

	store := seededBackend(t)
	svc, err := chapter.NewService(chapter.Dependencies{
		Overviews: store,
		Details:   store,
		Maps:      store,
		Timeline:  store,
		Logger:    logs.Logger(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(Dependencies{Chapters: svc, Store: store, Logger: logs.Logger()}))
	t.Cleanup(srv.Close)
	ts := &testServer{Server: srv, store: store}

	resp, body := ts.request(t, http.MethodPut, "/api/projects/p1/chapters",
		SaveChaptersRequest{Chapters: chaptersWithout(2)}, "X-Request-Id", "req-42")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var saved string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "Saved chapter overview") {
			saved = line
		}
	}
	require.NotEmpty(t, saved)
	assert.Contains(t, saved, "request_id=req-42")
	assert.Contains(t, saved, "project=p1")
	assert.Contains(t, saved, "service=karta")
}

func TestSaveChapters_ValidationIsLocalized(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		accept   string
		contains string
	}{
		{"english", "", `Chapter "Storm" can not be deleted`},
		{"german", "de-DE,de;q=0.9", `Kapitel "Storm" kann nicht gelöscht werden`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.request(t, http.MethodPut, "/api/projects/p1/chapters",
				SaveChaptersRequest{Chapters: chaptersWithout(3)},
				"Accept-Language", tt.accept)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, chapter.CodeChapterNotEmpty, e.Code)
			assert.Contains(t, e.Error, tt.contains)
		})
	}

	overview, err := ts.store.GetOverviewByProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, overview.ChapterNumbers(), "rejected saves write nothing")
}

func TestSaveChapters_BadBody(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/projects/p1/chapters", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRepair(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/projects/p1/chapters/two/repair", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.request(t, http.MethodPost, "/api/projects/p1/chapters/2/repair", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, chapter.CodeChapterStillExists, e.Code)

	// chapter 4 never existed: nothing references it
	resp, body = ts.request(t, http.MethodPost, "/api/projects/p1/chapters/4/repair", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result chapter.SweepResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.MapsVisited)
	assert.Equal(t, 0, result.MapsWritten)

	resp, _ = ts.request(t, http.MethodPost, "/api/projects/unknown/chapters/1/repair", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMapExtent(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/projects/p1/maps/m1/extent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ext MapExtentResponse
	require.NoError(t, json.Unmarshal(body, &ext))
	assert.Equal(t, geo.Extent{MinX: 10, MinY: 10, MaxX: 40, MaxY: 30, Markers: 2}, ext.Extent)
	assert.False(t, ext.Empty)

	resp, _ = ts.request(t, http.MethodGet, "/api/projects/p1/maps/missing/extent", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMapExtent_EmptyMap(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.CreateMap(context.Background(), &core.Map{ID: "blank", ProjectID: "p1"}))

	resp, body := ts.request(t, http.MethodGet, "/api/projects/p1/maps/blank/extent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ext MapExtentResponse
	require.NoError(t, json.Unmarshal(body, &ext))
	assert.True(t, ext.Empty)
	assert.Equal(t, geo.Extent{}, ext.Extent)
}

func TestTimeline(t *testing.T) {
	ts := newTestServer(t)
	ts.store.Record(context.Background(), "p1", core.TimelineKartaMarkersRepaired, "2")

	resp, body := ts.request(t, http.MethodGet, "/api/projects/p1/timeline", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Entries []core.TimelineEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, []string{"2"}, out.Entries[0].Args)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.APIKey = "secret" })

	resp, _ := ts.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")

	resp, _ = ts.request(t, http.MethodGet, "/api/projects/p1/chapters", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/projects/p1/chapters", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/projects/p1/chapters", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// brokenOverviews fails every overview read.
type brokenOverviews struct {
	*memory.Backend
}

func (brokenOverviews) GetOverviewByProject(context.Context, string) (*core.ChapterOverview, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	store := seededBackend(t)
	broken := brokenOverviews{store}
	svc, err := chapter.NewService(chapter.Dependencies{
		Overviews: broken,
		Details:   store,
		Maps:      store,
		Timeline:  store,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(Dependencies{Chapters: svc, Store: store, Logger: discardLogger()}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/projects/p1/chapters")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(body), "connection reset")
}

type staticMetrics struct{}

func (staticMetrics) Collect(context.Context) (metricdata.ResourceMetrics, error) {
	return metricdata.ResourceMetrics{
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Scope: instrumentation.Scope{Name: "test"},
			Metrics: []metricdata.Metrics{
				{
					Name: "karta.sweep.maps_written",
					Data: metricdata.Sum[int64]{DataPoints: []metricdata.DataPoint[int64]{{Value: 2}, {Value: 3}}},
				},
				{
					Name: "ignored.histogram",
					Data: metricdata.Histogram[float64]{},
				},
			},
		}},
	}, nil
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.request(t, http.MethodGet, "/api/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not served without a source")

	ts = newTestServer(t, func(d *Dependencies) { d.Metrics = staticMetrics{} })
	resp, body := ts.request(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"metrics":[{"name":"karta.sweep.maps_written","value":5}]}`, string(body))
}
