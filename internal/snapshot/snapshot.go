// Package snapshot reads and writes project fixtures: a chapter overview with
// its detail views, maps and timeline, as plain or gzip compressed JSON.
package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/geo"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
)

// Version is the current snapshot format version.
const Version = 1

// Snapshot is the root JSON structure
type Snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Projects   []Project `json:"projects"`
}

// Project is everything stored for one project
type Project struct {
	ID          string                `json:"id"`
	Overview    *core.ChapterOverview `json:"chapterOverview,omitempty"`
	DetailViews []*core.DetailView    `json:"detailViews"`
	Maps        []*core.Map           `json:"maps"`
	Timeline    []core.TimelineEntry  `json:"timeline,omitempty"`
}

// Source is the read side of a backend needed for an export.
type Source interface {
	storage.OverviewStore
	GetAllMapsWithFullDetail(ctx context.Context, projectID string) ([]*core.Map, error)
	ListDetailViews(ctx context.Context, projectID string) ([]*core.DetailView, error)
	ListTimeline(ctx context.Context, projectID string) ([]core.TimelineEntry, error)
}

// Export collects the given projects from src.
func Export(ctx context.Context, src Source, projectIDs ...string) (*Snapshot, error) {
	s := &Snapshot{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Projects:   make([]Project, 0, len(projectIDs)),
	}

	for _, id := range projectIDs {
		p := Project{ID: id}
		var err error
		if p.Overview, err = src.GetOverviewByProject(ctx, id); err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		if p.DetailViews, err = src.ListDetailViews(ctx, id); err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		if p.Maps, err = src.GetAllMapsWithFullDetail(ctx, id); err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		if p.Timeline, err = src.ListTimeline(ctx, id); err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		s.Projects = append(s.Projects, p)
	}
	return s, nil
}

// ErrConflict is returned when an import would overwrite stored detail views
// or maps.
var ErrConflict = errors.New("snapshot conflicts with stored data")

// Validate checks the format version, the chapter list of every overview,
// record ownership and map geometry before anything is imported.
func (s *Snapshot) Validate() error {
	if s.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}

	projectIDs := make(map[string]struct{})
	viewIDs := make(map[string]struct{})
	mapIDs := make(map[string]struct{})
	for _, p := range s.Projects {
		if p.ID == "" {
			return fmt.Errorf("snapshot project without id")
		}
		if _, ok := projectIDs[p.ID]; ok {
			return fmt.Errorf("project %s is listed more than once", p.ID)
		}
		projectIDs[p.ID] = struct{}{}
		if p.Overview != nil {
			if err := chapter.ValidateChapters(p.Overview.Chapters); err != nil {
				return fmt.Errorf("project %s: %w", p.ID, err)
			}
		}
		for _, d := range p.DetailViews {
			if d.ProjectID != p.ID {
				return fmt.Errorf("detail view %s belongs to project %q, not %q", d.ID, d.ProjectID, p.ID)
			}
			if _, ok := viewIDs[d.ID]; ok {
				return fmt.Errorf("detail view %s is listed more than once", d.ID)
			}
			viewIDs[d.ID] = struct{}{}
		}
		for _, m := range p.Maps {
			if m.ProjectID != p.ID {
				return fmt.Errorf("map %s belongs to project %q, not %q", m.ID, m.ProjectID, p.ID)
			}
			if _, ok := mapIDs[m.ID]; ok {
				return fmt.Errorf("map %s is listed more than once", m.ID)
			}
			mapIDs[m.ID] = struct{}{}
			if err := geo.ValidateMap(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Import writes every project of s into dst and records one import entry per
// project. Existing overviews are replaced. A project that already holds
// detail views or maps is rejected with ErrConflict before anything is
// written, and a failed write undoes the writes before it.
func Import(ctx context.Context, dst storage.Backend, s *Snapshot) error {
	if err := Restore(ctx, dst, s); err != nil {
		return err
	}
	for _, p := range s.Projects {
		dst.Record(ctx, p.ID, core.TimelineProjectImported,
			fmt.Sprint(len(p.DetailViews)), fmt.Sprint(len(p.Maps)))
	}
	return nil
}

// Restore writes like Import without recording timeline entries. Backends
// that keep their own timeline restore p.Timeline themselves.
func Restore(ctx context.Context, dst storage.Backend, s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := checkConflicts(ctx, dst, s); err != nil {
		return err
	}

	var undo []func() error
	rollback := func(cause error) error {
		errs := []error{cause}
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				errs = append(errs, fmt.Errorf("rollback: %w", err))
			}
		}
		return errors.Join(errs...)
	}

	for _, p := range s.Projects {
		for _, d := range p.DetailViews {
			if err := dst.CreateDetailView(ctx, d); err != nil {
				return rollback(fmt.Errorf("project %s: detail view %s: %w", p.ID, d.ID, err))
			}
			undo = append(undo, func() error { return dst.DeleteDetailView(ctx, d) })
		}
		for _, m := range p.Maps {
			if err := dst.CreateMap(ctx, m); err != nil {
				return rollback(fmt.Errorf("project %s: map %s: %w", p.ID, m.ID, err))
			}
			undo = append(undo, func() error { return dst.DeleteMap(ctx, m) })
		}
	}

	// overviews last, so a rejected detail view or map leaves them untouched
	for _, p := range s.Projects {
		if p.Overview == nil {
			continue
		}
		existing, err := dst.GetOverviewByProject(ctx, p.ID)
		if err != nil {
			return rollback(fmt.Errorf("project %s: %w", p.ID, err))
		}
		overview := *p.Overview
		overview.ProjectID = p.ID
		if existing != nil {
			overview.ID = existing.ID
			if err := dst.UpdateOverview(ctx, &overview); err != nil {
				return rollback(fmt.Errorf("project %s: %w", p.ID, err))
			}
			undo = append(undo, func() error { return dst.UpdateOverview(ctx, existing) })
			continue
		}
		if err := dst.CreateOverview(ctx, &overview); err != nil {
			return rollback(fmt.Errorf("project %s: %w", p.ID, err))
		}
		undo = append(undo, func() error { return dst.DeleteOverview(ctx, &overview) })
	}
	return nil
}

// checkConflicts rejects projects that already hold detail views or maps and
// detail view ids that are taken by any project.
func checkConflicts(ctx context.Context, dst storage.Backend, s *Snapshot) error {
	for _, p := range s.Projects {
		views, err := dst.ListDetailViews(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
		if len(views) > 0 {
			return fmt.Errorf("project %s already has %d detail views: %w", p.ID, len(views), ErrConflict)
		}
		maps, err := dst.GetAllMapsWithFullDetail(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("project %s: %w", p.ID, err)
		}
		if len(maps) > 0 {
			return fmt.Errorf("project %s already has %d maps: %w", p.ID, len(maps), ErrConflict)
		}
		for _, d := range p.DetailViews {
			existing, err := dst.GetDetailView(ctx, d.ID)
			if err != nil {
				return fmt.Errorf("project %s: %w", p.ID, err)
			}
			if existing != nil {
				return fmt.Errorf("detail view %s is stored in project %s: %w", d.ID, existing.ProjectID, ErrConflict)
			}
		}
	}
	return nil
}

// ReadFile loads a snapshot, detecting gzip compression from the content.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return &s, nil
}

// WriteFile stores s at path, gzip compressed when compress is set.
func WriteFile(path string, s *Snapshot, compress bool) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if compress {
		return writeGzipJSON(path, s)
	}
	return writeJSON(path, s)
}

func writeJSON(path string, data *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
