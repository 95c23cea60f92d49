// internal/storage/memory/memory.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/snapshot"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
)

// Backend keeps every record in process memory. Records are copied on the
// way in and out, so callers never share state with the store.
type Backend struct {
	cfg config.MemoryConfig
	now func() time.Time

	overviews map[string]*core.ChapterOverview // keyed by ProjectID
	details   map[string]*core.DetailView      // keyed by ID
	maps      map[string]*core.Map             // keyed by ID
	timeline  []core.TimelineEntry

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:       cfg,
		now:       time.Now,
		overviews: make(map[string]*core.ChapterOverview),
		details:   make(map[string]*core.DetailView),
		maps:      make(map[string]*core.Map),
	}
}

// Init loads the configured snapshot when it exists.
func (b *Backend) Init() error {
	if b.cfg.SnapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(b.cfg.SnapshotPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return b.LoadSnapshot(b.cfg.SnapshotPath)
}

// Close writes the configured snapshot.
func (b *Backend) Close() error {
	if b.cfg.SnapshotPath == "" {
		return nil
	}
	return b.ExportSnapshot(b.cfg.SnapshotPath)
}

// LoadSnapshot restores every project of the snapshot file at path together
// with its timeline, so a restart does not add import entries.
func (b *Backend) LoadSnapshot(path string) error {
	s, err := snapshot.ReadFile(path)
	if err != nil {
		return err
	}
	if err := snapshot.Restore(context.Background(), b, s); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range s.Projects {
		for _, e := range p.Timeline {
			e.ProjectID = p.ID
			e.Args = slices.Clone(e.Args)
			b.timeline = append(b.timeline, e)
		}
	}
	return nil
}

// ExportSnapshot writes every stored project to path.
func (b *Backend) ExportSnapshot(path string) error {
	s, err := snapshot.Export(context.Background(), b, b.ProjectIDs()...)
	if err != nil {
		return err
	}
	return snapshot.WriteFile(path, s, b.cfg.CompressOutput)
}

// ProjectIDs returns the sorted ids of every project with stored data.
func (b *Backend) ProjectIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range b.overviews {
		seen[id] = struct{}{}
	}
	for _, d := range b.details {
		seen[d.ProjectID] = struct{}{}
	}
	for _, m := range b.maps {
		seen[m.ProjectID] = struct{}{}
	}
	for _, e := range b.timeline {
		seen[e.ProjectID] = struct{}{}
	}

	ids := slices.Collect(maps.Keys(seen))
	sort.Strings(ids)
	return ids
}

// GetOverviewByProject returns the overview of a project, or nil.
func (b *Backend) GetOverviewByProject(_ context.Context, projectID string) (*core.ChapterOverview, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if o, ok := b.overviews[projectID]; ok {
		return cloneOverview(o), nil
	}
	return nil, nil
}

// CreateOverview stores the first overview of a project
func (b *Backend) CreateOverview(_ context.Context, o *core.ChapterOverview) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.overviews[o.ProjectID]; ok {
		return fmt.Errorf("overview for project %s already exists", o.ProjectID)
	}
	b.overviews[o.ProjectID] = cloneOverview(o)
	return nil
}

// UpdateOverview replaces the overview of a project
func (b *Backend) UpdateOverview(_ context.Context, o *core.ChapterOverview) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.overviews[o.ProjectID]; !ok {
		return fmt.Errorf("overview for project %s: %w", o.ProjectID, storage.ErrNotFound)
	}
	b.overviews[o.ProjectID] = cloneOverview(o)
	return nil
}

// DeleteOverview removes the overview of o's project.
func (b *Backend) DeleteOverview(_ context.Context, o *core.ChapterOverview) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.overviews, o.ProjectID)
	return nil
}

// GetDetailView returns a detail view by id, or nil.
func (b *Backend) GetDetailView(_ context.Context, id string) (*core.DetailView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if d, ok := b.details[id]; ok {
		return cloneDetailView(d), nil
	}
	return nil, nil
}

// CreateDetailView stores a new detail view
func (b *Backend) CreateDetailView(_ context.Context, d *core.DetailView) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.details[d.ID]; ok {
		return fmt.Errorf("detail view %s already exists", d.ID)
	}
	b.details[d.ID] = cloneDetailView(d)
	return nil
}

// UpdateDetailView replaces a stored detail view
func (b *Backend) UpdateDetailView(_ context.Context, d *core.DetailView) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.details[d.ID]; !ok {
		return fmt.Errorf("detail view %s: %w", d.ID, storage.ErrNotFound)
	}
	b.details[d.ID] = cloneDetailView(d)
	return nil
}

// DeleteDetailView removes a detail view. Deleting a missing view is not an error.
func (b *Backend) DeleteDetailView(_ context.Context, d *core.DetailView) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.details, d.ID)
	return nil
}

// CountNodesReferencing counts detail nodes of the same project pointing at
// detailID, skipping the view excludeID.
func (b *Backend) CountNodesReferencing(_ context.Context, detailID, excludeID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	target, ok := b.details[detailID]
	if !ok {
		return 0, nil
	}

	count := 0
	for id, d := range b.details {
		if id == excludeID || d.ProjectID != target.ProjectID {
			continue
		}
		for _, n := range d.Detail {
			if n.RefID == detailID {
				count++
			}
		}
	}
	return count, nil
}

// ListDetailViews returns the detail views of a project ordered by id.
func (b *Backend) ListDetailViews(_ context.Context, projectID string) ([]*core.DetailView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*core.DetailView, 0)
	for _, d := range b.details {
		if d.ProjectID == projectID {
			out = append(out, cloneDetailView(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAllMapsWithFullDetail returns every map of a project ordered by id.
func (b *Backend) GetAllMapsWithFullDetail(_ context.Context, projectID string) ([]*core.Map, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*core.Map, 0)
	for _, m := range b.maps {
		if m.ProjectID == projectID {
			out = append(out, cloneMap(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetMap returns one map of a project, or nil.
func (b *Backend) GetMap(_ context.Context, projectID, mapID string) (*core.Map, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.maps[mapID]
	if !ok || m.ProjectID != projectID {
		return nil, nil
	}
	return cloneMap(m), nil
}

// CreateMap stores a new map
func (b *Backend) CreateMap(_ context.Context, m *core.Map) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.maps[m.ID]; ok {
		return fmt.Errorf("map %s already exists", m.ID)
	}
	b.maps[m.ID] = cloneMap(m)
	return nil
}

// DeleteMap removes a map. Deleting a missing map is not an error.
func (b *Backend) DeleteMap(_ context.Context, m *core.Map) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.maps, m.ID)
	return nil
}

// UpdateMap replaces a stored map with every marker list
func (b *Backend) UpdateMap(_ context.Context, m *core.Map) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.maps[m.ID]; !ok {
		return fmt.Errorf("map %s: %w", m.ID, storage.ErrNotFound)
	}
	stored := cloneMap(m)
	stored.ModifiedOn = b.now().UTC()
	b.maps[m.ID] = stored
	return nil
}

// Record appends a timeline entry
func (b *Backend) Record(_ context.Context, projectID string, event core.TimelineEvent, args ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeline = append(b.timeline, core.TimelineEntry{
		ProjectID: projectID,
		Event:     event,
		Args:      slices.Clone(args),
		Timestamp: b.now().UTC(),
	})
}

// ListTimeline returns the entries of a project in recording order.
func (b *Backend) ListTimeline(_ context.Context, projectID string) ([]core.TimelineEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.TimelineEntry, 0)
	for _, e := range b.timeline {
		if e.ProjectID == projectID {
			e.Args = slices.Clone(e.Args)
			out = append(out, e)
		}
	}
	return out, nil
}
