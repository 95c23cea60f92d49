// Package gormstorage implements the storage.Backend interface on top of GORM.
// Overviews, detail views and maps are written synchronously. Timeline entries
// are queued and drained into the DB by a background writer.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storyweave/karta/internal/logging"
	"github.com/storyweave/karta/internal/model"
	"github.com/storyweave/karta/internal/model/convert"
	"github.com/storyweave/karta/internal/queue"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"

	"gorm.io/gorm"
)

const defaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager

	// FlushInterval is how often queued timeline entries are written.
	FlushInterval time.Duration
	Now           func() time.Time
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps     Dependencies
	log      *slog.Logger
	timeline *queue.Queue[model.TimelineEntry]
	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:     deps,
		log:      deps.LogManager.Logger().With("component", "gormstorage"),
		timeline: queue.New[model.TimelineEntry](),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the timeline writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("no database configured")
	}

	b.log.Info("Migrating schema")
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.timelineWriter()

	b.log.Info("Database setup complete")
	return nil
}

// Close stops the timeline writer and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	b.flushTimeline()
	return nil
}

func (b *Backend) timelineWriter() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.flushTimeline()
		}
	}
}

func (b *Backend) flushTimeline() {
	if b.deps.DB == nil {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	writeQueue(b.deps.DB, b.timeline, "timeline entries", b.log)
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items are pushed back for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Failed to write queued records", "records", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}
	tx.Commit()
}

// updateAll overwrites every column of an existing row. It returns
// storage.ErrNotFound when no row has the given id.
func updateAll[T any](ctx context.Context, db *gorm.DB, row *T, id string) error {
	res := db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Select("*").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

////////////////////////
// CHAPTER OVERVIEWS
////////////////////////

// GetOverviewByProject returns the project's overview, or nil if it has none.
func (b *Backend) GetOverviewByProject(ctx context.Context, projectID string) (*core.ChapterOverview, error) {
	var row model.ChapterOverview
	err := b.deps.DB.WithContext(ctx).Where("project_id = ?", projectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter overview: %w", err)
	}

	o, err := convert.ChapterOverviewToCore(row)
	if err != nil {
		return nil, fmt.Errorf("chapter overview %s: %w", row.ID, err)
	}
	return &o, nil
}

func (b *Backend) CreateOverview(ctx context.Context, o *core.ChapterOverview) error {
	row := convert.CoreToChapterOverview(*o)
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert chapter overview: %w", err)
	}
	return nil
}

func (b *Backend) UpdateOverview(ctx context.Context, o *core.ChapterOverview) error {
	row := convert.CoreToChapterOverview(*o)
	if err := updateAll(ctx, b.deps.DB, &row, row.ID); err != nil {
		return fmt.Errorf("failed to update chapter overview %s: %w", o.ID, err)
	}
	return nil
}

// DeleteOverview removes the overview of o's project.
func (b *Backend) DeleteOverview(ctx context.Context, o *core.ChapterOverview) error {
	if err := b.deps.DB.WithContext(ctx).Where("project_id = ?", o.ProjectID).Delete(&model.ChapterOverview{}).Error; err != nil {
		return fmt.Errorf("failed to delete chapter overview of %s: %w", o.ProjectID, err)
	}
	return nil
}

////////////////////////
// DETAIL VIEWS
////////////////////////

// GetDetailView returns the view with the given id, or nil if it does not exist.
func (b *Backend) GetDetailView(ctx context.Context, id string) (*core.DetailView, error) {
	var row model.DetailView
	err := b.deps.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load detail view %s: %w", id, err)
	}

	d, err := convert.DetailViewToCore(row)
	if err != nil {
		return nil, fmt.Errorf("detail view %s: %w", id, err)
	}
	return &d, nil
}

func (b *Backend) CreateDetailView(ctx context.Context, d *core.DetailView) error {
	row := convert.CoreToDetailView(*d)
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert detail view: %w", err)
	}
	return nil
}

func (b *Backend) UpdateDetailView(ctx context.Context, d *core.DetailView) error {
	row := convert.CoreToDetailView(*d)
	if err := updateAll(ctx, b.deps.DB, &row, row.ID); err != nil {
		return fmt.Errorf("failed to update detail view %s: %w", d.ID, err)
	}
	return nil
}

func (b *Backend) DeleteDetailView(ctx context.Context, d *core.DetailView) error {
	if err := b.deps.DB.WithContext(ctx).Where("id = ?", d.ID).Delete(&model.DetailView{}).Error; err != nil {
		return fmt.Errorf("failed to delete detail view %s: %w", d.ID, err)
	}
	return nil
}

// CountNodesReferencing counts detail nodes in the project of detailID that
// point at it, skipping the view excludeID. Node lists are JSON documents, so
// the count happens after loading rather than in SQL.
func (b *Backend) CountNodesReferencing(ctx context.Context, detailID, excludeID string) (int, error) {
	db := b.deps.DB.WithContext(ctx)

	var target model.DetailView
	err := db.Select("id", "project_id").Where("id = ?", detailID).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load detail view %s: %w", detailID, err)
	}

	var rows []model.DetailView
	err = db.Select("id", "detail").
		Where("project_id = ? AND id <> ?", target.ProjectID, excludeID).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load detail views of project %s: %w", target.ProjectID, err)
	}

	count := 0
	for _, row := range rows {
		d, err := convert.DetailViewToCore(row)
		if err != nil {
			return 0, fmt.Errorf("detail view %s: %w", row.ID, err)
		}
		for _, node := range d.Detail {
			if node.RefID == detailID {
				count++
			}
		}
	}
	return count, nil
}

// ListDetailViews returns every detail view of a project ordered by id.
func (b *Backend) ListDetailViews(ctx context.Context, projectID string) ([]*core.DetailView, error) {
	var rows []model.DetailView
	if err := b.deps.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list detail views: %w", err)
	}

	views := make([]*core.DetailView, 0, len(rows))
	for _, row := range rows {
		d, err := convert.DetailViewToCore(row)
		if err != nil {
			return nil, fmt.Errorf("detail view %s: %w", row.ID, err)
		}
		views = append(views, &d)
	}
	return views, nil
}

////////////////////////
// MAPS
////////////////////////

// GetAllMapsWithFullDetail loads every map of a project with all marker lists, ordered by id.
func (b *Backend) GetAllMapsWithFullDetail(ctx context.Context, projectID string) ([]*core.Map, error) {
	var rows []model.KartaMap
	if err := b.deps.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load maps: %w", err)
	}

	maps := make([]*core.Map, 0, len(rows))
	for _, row := range rows {
		m, err := convert.MapToCore(row)
		if err != nil {
			return nil, err
		}
		maps = append(maps, &m)
	}
	return maps, nil
}

// GetMap returns one map of a project, or nil if it does not exist.
func (b *Backend) GetMap(ctx context.Context, projectID, mapID string) (*core.Map, error) {
	var row model.KartaMap
	err := b.deps.DB.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, mapID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load map %s: %w", mapID, err)
	}

	m, err := convert.MapToCore(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *Backend) CreateMap(ctx context.Context, m *core.Map) error {
	row := convert.CoreToMap(*m)
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert map: %w", err)
	}
	return nil
}

func (b *Backend) DeleteMap(ctx context.Context, m *core.Map) error {
	if err := b.deps.DB.WithContext(ctx).Where("id = ?", m.ID).Delete(&model.KartaMap{}).Error; err != nil {
		return fmt.Errorf("failed to delete map %s: %w", m.ID, err)
	}
	return nil
}

// UpdateMap writes every marker list of m in one statement.
func (b *Backend) UpdateMap(ctx context.Context, m *core.Map) error {
	m.ModifiedOn = b.deps.Now()
	row := convert.CoreToMap(*m)
	if err := updateAll(ctx, b.deps.DB, &row, row.ID); err != nil {
		return fmt.Errorf("failed to update map %s: %w", m.ID, err)
	}
	return nil
}

////////////////////////
// TIMELINE
////////////////////////

// Record queues a timeline entry. It is written by the background writer.
func (b *Backend) Record(_ context.Context, projectID string, event core.TimelineEvent, args ...string) {
	b.timeline.Push(convert.CoreToTimelineEntry(core.TimelineEntry{
		ProjectID: projectID,
		Event:     event,
		Args:      args,
		Timestamp: b.deps.Now(),
	}))
}

// ListTimeline writes pending entries and returns the project's timeline in recording order.
func (b *Backend) ListTimeline(ctx context.Context, projectID string) ([]core.TimelineEntry, error) {
	b.flushTimeline()

	var rows []model.TimelineEntry
	if err := b.deps.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list timeline: %w", err)
	}

	entries := make([]core.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		e, err := convert.TimelineEntryToCore(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
