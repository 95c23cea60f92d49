package chapter

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/storyweave/karta/internal/chapter"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	saves          metric.Int64Counter
	mapsWritten    metric.Int64Counter
	markersChanged metric.Int64Counter
	markersRemoved metric.Int64Counter
}

// newMetrics creates the engine instruments from the global meter provider
// (no-op if not configured).
func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)

	out.saves, err = m.Int64Counter(
		"karta.overview.saves",
		metric.WithDescription("Chapter overview saves committed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating saves counter: %w", err)
	}

	out.mapsWritten, err = m.Int64Counter(
		"karta.sweep.maps_written",
		metric.WithDescription("Maps persisted by marker sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating maps written counter: %w", err)
	}

	out.markersChanged, err = m.Int64Counter(
		"karta.sweep.markers_changed",
		metric.WithDescription("Markers renumbered by marker sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating markers changed counter: %w", err)
	}

	out.markersRemoved, err = m.Int64Counter(
		"karta.sweep.markers_removed",
		metric.WithDescription("Markers removed because their window collapsed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating markers removed counter: %w", err)
	}

	return &out, nil
}
