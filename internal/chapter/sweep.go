package chapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SweepResult summarizes one sweep over a project's maps
type SweepResult struct {
	DeletedChapter int           `json:"deletedChapter"`
	MapsVisited    int           `json:"mapsVisited"`
	MapsWritten    int           `json:"mapsWritten"`
	MarkersChanged int           `json:"markersChanged"`
	MarkersRemoved int           `json:"markersRemoved"`
	Duration       time.Duration `json:"duration"`
}

// SweepRecorder receives the result of every finished sweep.
type SweepRecorder interface {
	RecordSweep(ctx context.Context, projectID string, result SweepResult) error
}

// Sweeper applies Renumber to every marker of every map of a project.
type Sweeper struct {
	maps    storage.MapStore
	log     *slog.Logger
	metrics *metrics
}

// NewSweeper creates a Sweeper writing through maps.
func NewSweeper(maps storage.MapStore, log *slog.Logger) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	return &Sweeper{maps: maps, log: log, metrics: m}, nil
}

// Sweep renumbers every marker of the project for one deleted chapter number.
// A map is only saved when at least one of its markers changed or was removed.
// Map saves are independent: when one fails, the maps saved before it stay
// saved and the error wraps ErrSweepPersistence.
func (s *Sweeper) Sweep(ctx context.Context, projectID string, deleted int, chapters SurvivingChapters) (SweepResult, error) {
	start := time.Now()
	result := SweepResult{DeletedChapter: deleted}

	maps, err := s.maps.GetAllMapsWithFullDetail(ctx, projectID)
	if err != nil {
		return result, fmt.Errorf("loading maps of project %s: %w", projectID, err)
	}

	attrs := metric.WithAttributes(attribute.String("project", projectID))
	for _, m := range maps {
		result.MapsVisited++

		changed, removed := SweepMap(m, deleted, chapters)
		if changed+removed == 0 {
			continue
		}
		result.MarkersChanged += changed
		result.MarkersRemoved += removed
		s.metrics.markersChanged.Add(ctx, int64(changed), attrs)
		s.metrics.markersRemoved.Add(ctx, int64(removed), attrs)

		if err := s.maps.UpdateMap(ctx, m); err != nil {
			s.log.ErrorContext(ctx, "Failed to save map during marker sweep",
				"project", projectID, "map", m.ID, "deletedChapter", deleted, "error", err)
			result.Duration = time.Since(start)
			return result, fmt.Errorf("%w: map %s: %w", ErrSweepPersistence, m.ID, err)
		}
		result.MapsWritten++
		s.metrics.mapsWritten.Add(ctx, 1, attrs)
	}

	result.Duration = time.Since(start)
	s.log.DebugContext(ctx, "Marker sweep finished",
		"project", projectID,
		"deletedChapter", deleted,
		"mapsVisited", result.MapsVisited,
		"mapsWritten", result.MapsWritten,
		"markersChanged", result.MarkersChanged,
		"markersRemoved", result.MarkersRemoved)
	return result, nil
}

// SweepMap renumbers every marker list of m in place and reports how many
// markers changed and how many were removed.
func SweepMap(m *core.Map, deleted int, chapters SurvivingChapters) (changed, removed int) {
	for _, kind := range core.MarkerKinds {
		list := m.MarkerList(kind)
		var c, r int
		*list, c, r = sweepMarkers(*list, deleted, chapters)
		changed += c
		removed += r
	}
	return changed, removed
}

// sweepMarkers walks backwards so removals never shift markers not yet visited.
func sweepMarkers(markers []core.Marker, deleted int, chapters SurvivingChapters) ([]core.Marker, int, int) {
	var changed, removed int
	for i := len(markers) - 1; i >= 0; i-- {
		switch Renumber(deleted, chapters, &markers[i]) {
		case Changed:
			changed++
		case Removed:
			markers = slices.Delete(markers, i, i+1)
			removed++
		}
	}
	return markers, changed, removed
}
