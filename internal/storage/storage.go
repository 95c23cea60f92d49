// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/storyweave/karta/pkg/core"
)

// OverviewStore persists the chapter overview of a project
type OverviewStore interface {
	// GetOverviewByProject returns nil and no error when the project has no overview yet.
	GetOverviewByProject(ctx context.Context, projectID string) (*core.ChapterOverview, error)
	CreateOverview(ctx context.Context, o *core.ChapterOverview) error
	UpdateOverview(ctx context.Context, o *core.ChapterOverview) error
}

// DetailViewStore persists chapter detail views
type DetailViewStore interface {
	// GetDetailView returns nil and no error when the view does not exist.
	GetDetailView(ctx context.Context, id string) (*core.DetailView, error)
	CreateDetailView(ctx context.Context, d *core.DetailView) error
	UpdateDetailView(ctx context.Context, d *core.DetailView) error
	DeleteDetailView(ctx context.Context, d *core.DetailView) error
	// CountNodesReferencing counts detail nodes pointing at detailID in every view except excludeID.
	CountNodesReferencing(ctx context.Context, detailID, excludeID string) (int, error)
}

// MapStore persists project maps. A map is always written as a whole.
type MapStore interface {
	GetAllMapsWithFullDetail(ctx context.Context, projectID string) ([]*core.Map, error)
	UpdateMap(ctx context.Context, m *core.Map) error
}

// Timeline records audit entries. Recording never fails from the caller's view.
type Timeline interface {
	Record(ctx context.Context, projectID string, event core.TimelineEvent, args ...string)
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	OverviewStore
	DetailViewStore
	MapStore
	Timeline

	// Project import/export
	DeleteOverview(ctx context.Context, o *core.ChapterOverview) error
	CreateMap(ctx context.Context, m *core.Map) error
	DeleteMap(ctx context.Context, m *core.Map) error
	GetMap(ctx context.Context, projectID, mapID string) (*core.Map, error)
	ListDetailViews(ctx context.Context, projectID string) ([]*core.DetailView, error)
	ListTimeline(ctx context.Context, projectID string) ([]core.TimelineEntry, error)
}

// ErrNotFound is returned by updates of records that do not exist.
var ErrNotFound = errors.New("record not found")
