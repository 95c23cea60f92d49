package chapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Dependencies holds all dependencies for the chapter Service.
type Dependencies struct {
	Overviews storage.OverviewStore
	Details   storage.DetailViewStore
	Maps      storage.MapStore
	Timeline  storage.Timeline

	// Stats is optional.
	Stats  SweepRecorder
	Logger *slog.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Service saves chapter overviews and keeps map markers in line with them.
type Service struct {
	deps        Dependencies
	provisioner *Provisioner
	sweeper     *Sweeper
	metrics     *metrics
}

// NewService creates a chapter Service.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	sweeper, err := NewSweeper(deps.Maps, deps.Logger)
	if err != nil {
		return nil, err
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	provisioner := NewProvisioner(deps.Details, deps.Logger)
	provisioner.newID = deps.NewID
	provisioner.now = deps.Now

	return &Service{
		deps:        deps,
		provisioner: provisioner,
		sweeper:     sweeper,
		metrics:     m,
	}, nil
}

// savePlan is what a save has to do besides writing the overview, computed
// before anything is written.
type savePlan struct {
	deletedNumbers []int
	removedViews   []*core.DetailView
	renames        map[string]string // detail view id -> new name
}

// GetChapterOverview returns the overview of a project, or ErrOverviewNotFound.
func (s *Service) GetChapterOverview(ctx context.Context, projectID string) (*core.ChapterOverview, error) {
	overview, err := s.deps.Overviews.GetOverviewByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading chapter overview: %w", err)
	}
	if overview == nil {
		return nil, ErrOverviewNotFound
	}
	return overview, nil
}

// SaveChapterOverview replaces the chapter list of a project.
//
// Validation and the diff against the stored overview happen before any write,
// so a rejected save leaves storage untouched. Missing detail views are created
// as one batch. After the overview is written, detail views of renamed chapters
// are renamed, those of removed chapters are deleted, and every map marker is
// renumbered once per deleted chapter number against the final chapter list.
// A sweep failure is returned as is: the overview and the maps saved before it
// stay committed.
func (s *Service) SaveChapterOverview(ctx context.Context, projectID string, chapters []core.Chapter, links []core.NodeLink) (*core.ChapterOverview, error) {
	log := s.deps.Logger.With("project", projectID)

	if chapters == nil {
		chapters = []core.Chapter{}
	}
	if links == nil {
		links = []core.NodeLink{}
	}
	if err := s.validateChapters(chapters); err != nil {
		return nil, err
	}

	overview, err := s.deps.Overviews.GetOverviewByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading chapter overview: %w", err)
	}

	var plan savePlan
	if overview != nil {
		plan, err = s.plan(ctx, overview, chapters)
		if err != nil {
			if verr := AsValidation(err); verr != nil {
				log.InfoContext(ctx, "Rejected chapter overview save", "code", verr.Code, "chapter", verr.ChapterName)
			}
			return nil, err
		}
	}

	batch, err := s.provisioner.Provision(ctx, projectID, chapters)
	if err != nil {
		return nil, err
	}

	isNew := overview == nil
	if isNew {
		overview = &core.ChapterOverview{
			ID:        s.deps.NewID(),
			ProjectID: projectID,
		}
	}
	overview.Chapters = chapters
	overview.Links = links
	overview.ModifiedOn = s.deps.Now()

	if isNew {
		err = s.deps.Overviews.CreateOverview(ctx, overview)
	} else {
		err = s.deps.Overviews.UpdateOverview(ctx, overview)
	}
	if err != nil {
		s.provisioner.Rollback(ctx, batch, chapters)
		return nil, fmt.Errorf("saving chapter overview: %w", err)
	}
	s.metrics.saves.Add(ctx, 1, metric.WithAttributes(attribute.String("project", projectID)))

	for id, name := range plan.renames {
		view, err := s.deps.Details.GetDetailView(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading detail view %s for rename: %w", id, err)
		}
		if view == nil {
			continue
		}
		view.Name = name
		view.ModifiedOn = s.deps.Now()
		if err := s.deps.Details.UpdateDetailView(ctx, view); err != nil {
			return nil, fmt.Errorf("renaming detail view %s: %w", id, err)
		}
	}

	for _, view := range plan.removedViews {
		if err := s.deps.Details.DeleteDetailView(ctx, view); err != nil {
			return nil, fmt.Errorf("deleting detail view %s: %w", view.ID, err)
		}
	}

	if len(plan.deletedNumbers) > 0 {
		// Every pass uses the final list, never one updated between passes.
		surviving, err := NewSurvivingChapters(overview.ChapterNumbers())
		if err != nil {
			return nil, err
		}
		for _, deleted := range plan.deletedNumbers {
			if err := s.sweep(ctx, projectID, deleted, surviving); err != nil {
				return nil, err
			}
		}
	}

	s.deps.Timeline.Record(ctx, projectID, core.TimelineChapterOverviewUpdated)
	log.InfoContext(ctx, "Saved chapter overview",
		"chapters", len(chapters),
		"provisioned", batch.Len(),
		"renamed", len(plan.renames),
		"removedDetailViews", len(plan.removedViews),
		"deletedChapterNumbers", plan.deletedNumbers)

	return overview, nil
}

// RepairSweep renumbers the project's markers for a chapter number that no
// longer exists. It re-runs the pass a save performs, for use after a save
// failed partway through its sweep.
func (s *Service) RepairSweep(ctx context.Context, projectID string, deleted int) (SweepResult, error) {
	overview, err := s.GetChapterOverview(ctx, projectID)
	if err != nil {
		return SweepResult{}, err
	}
	if overview.HasChapterNumber(deleted) {
		return SweepResult{}, &ValidationError{Code: CodeChapterStillExists, ChapterNumber: deleted}
	}

	surviving, err := NewSurvivingChapters(overview.ChapterNumbers())
	if err != nil {
		return SweepResult{}, err
	}

	result, err := s.sweeper.Sweep(ctx, projectID, deleted, surviving)
	s.recordStats(ctx, projectID, result)
	if err != nil {
		return result, err
	}

	s.deps.Timeline.Record(ctx, projectID, core.TimelineKartaMarkersRepaired, fmt.Sprint(deleted))
	return result, nil
}

func (s *Service) sweep(ctx context.Context, projectID string, deleted int, surviving SurvivingChapters) error {
	result, err := s.sweeper.Sweep(ctx, projectID, deleted, surviving)
	s.recordStats(ctx, projectID, result)
	return err
}

func (s *Service) recordStats(ctx context.Context, projectID string, result SweepResult) {
	if s.deps.Stats == nil {
		return
	}
	if err := s.deps.Stats.RecordSweep(ctx, projectID, result); err != nil {
		s.deps.Logger.WarnContext(ctx, "Failed to record sweep stats", "project", projectID, "error", err)
	}
}

// validateChapters gives chapters without an id a fresh one, then checks the
// requested list on its own.
func (s *Service) validateChapters(chapters []core.Chapter) error {
	for i := range chapters {
		if chapters[i].ID == "" {
			chapters[i].ID = s.deps.NewID()
		}
	}
	return ValidateChapters(chapters)
}

// ValidateChapters checks that chapter numbers are positive and unique and
// that chapter ids are unique. An empty id is rejected.
func ValidateChapters(chapters []core.Chapter) error {
	ids := make(map[string]struct{}, len(chapters))
	numbers := make(map[int]struct{}, len(chapters))
	for _, c := range chapters {
		if c.Number <= 0 {
			return &ValidationError{Code: CodeInvalidChapterNumber, ChapterName: c.Name, ChapterNumber: c.Number}
		}
		if _, ok := numbers[c.Number]; ok {
			return &ValidationError{Code: CodeDuplicateChapterNumber, ChapterName: c.Name, ChapterNumber: c.Number}
		}
		numbers[c.Number] = struct{}{}

		if c.ID == "" {
			return &ValidationError{Code: CodeMissingChapterID, ChapterName: c.Name, ChapterNumber: c.Number}
		}
		if _, ok := ids[c.ID]; ok {
			return &ValidationError{Code: CodeDuplicateChapterID, ChapterName: c.Name, ChapterNumber: c.Number}
		}
		ids[c.ID] = struct{}{}
	}
	return nil
}

// plan diffs the stored overview against the requested chapters. It reads
// detail views but writes nothing.
func (s *Service) plan(ctx context.Context, previous *core.ChapterOverview, chapters []core.Chapter) (savePlan, error) {
	requestedNumbers := make(map[int]struct{}, len(chapters))
	requestedByID := make(map[string]*core.Chapter, len(chapters))
	for i := range chapters {
		requestedNumbers[chapters[i].Number] = struct{}{}
		requestedByID[chapters[i].ID] = &chapters[i]
	}

	plan := savePlan{renames: make(map[string]string)}
	seen := make(map[int]struct{})
	for _, c := range previous.Chapters {
		if _, ok := requestedNumbers[c.Number]; ok {
			continue
		}
		if _, ok := seen[c.Number]; ok {
			continue
		}
		seen[c.Number] = struct{}{}
		plan.deletedNumbers = append(plan.deletedNumbers, c.Number)
	}

	if len(chapters) == 0 && len(plan.deletedNumbers) > 0 {
		return savePlan{}, &ValidationError{Code: CodeAllChaptersDeleted}
	}

	for _, old := range previous.Chapters {
		requested, kept := requestedByID[old.ID]
		if kept {
			// A kept chapter keeps its detail view even when the editor sent it without one.
			if requested.DetailViewID == "" {
				requested.DetailViewID = old.DetailViewID
			}
			if requested.Name != old.Name && requested.DetailViewID != "" {
				plan.renames[requested.DetailViewID] = requested.Name
			}
			continue
		}

		if old.DetailViewID == "" {
			continue
		}
		view, err := s.deps.Details.GetDetailView(ctx, old.DetailViewID)
		if err != nil {
			return savePlan{}, fmt.Errorf("loading detail view %s: %w", old.DetailViewID, err)
		}
		if view == nil {
			continue
		}
		references, err := s.deps.Details.CountNodesReferencing(ctx, view.ID, view.ID)
		if err != nil {
			return savePlan{}, fmt.Errorf("counting references to detail view %s: %w", view.ID, err)
		}
		if !view.IsEmpty() || references > 0 {
			return savePlan{}, &ValidationError{
				Code:          CodeChapterNotEmpty,
				ChapterName:   old.Name,
				ChapterNumber: old.Number,
				DetailViewID:  view.ID,
			}
		}
		plan.removedViews = append(plan.removedViews, view)
	}

	return plan, nil
}
