// Package geo turns marker geometry into simple features for validation and
// extent calculation.
package geo

import (
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/storyweave/karta/pkg/core"
)

// Map space is Leaflet's simple CRS: lng is the horizontal axis, lat the
// vertical one. Marker X/Y are already in that space.

// Geometry types drawn by the map editor
const (
	TypePolyline  = "Polyline"
	TypePolygon   = "Polygon"
	TypeRectangle = "Rectangle"
	TypeCircle    = "Circle"
)

// ErrInvalidGeometry is returned when marker geometry can not be turned into a valid shape
var ErrInvalidGeometry = errors.New("invalid marker geometry")

func toXY(p core.LatLng) geom.XY {
	return geom.XY{X: p.Lng, Y: p.Lat}
}

func flatCoords(positions []core.LatLng, closeRing bool) []float64 {
	coords := make([]float64, 0, (len(positions)+1)*2)
	for _, p := range positions {
		coords = append(coords, p.Lng, p.Lat)
	}
	if closeRing && len(positions) > 0 {
		first, last := positions[0], positions[len(positions)-1]
		if first != last {
			coords = append(coords, first.Lng, first.Lat)
		}
	}
	return coords
}

// MarkerGeometry converts one geometry entry into a geom.Geometry. Circles
// become their center point; the radius is only used for extents.
func MarkerGeometry(g core.MarkerGeometry) (geom.Geometry, error) {
	switch g.GeoType {
	case TypePolyline:
		if len(g.Positions) < 2 {
			return geom.Geometry{}, fmt.Errorf("%w: %s polyline needs at least 2 points, got %d", ErrInvalidGeometry, g.ID, len(g.Positions))
		}
		ls := geom.NewLineString(geom.NewSequence(flatCoords(g.Positions, false), geom.DimXY))
		if err := ls.Validate(); err != nil {
			return geom.Geometry{}, fmt.Errorf("%w: %s: %v", ErrInvalidGeometry, g.ID, err)
		}
		return ls.AsGeometry(), nil

	case TypePolygon:
		if len(g.Positions) < 3 {
			return geom.Geometry{}, fmt.Errorf("%w: %s polygon needs at least 3 points, got %d", ErrInvalidGeometry, g.ID, len(g.Positions))
		}
		ring := geom.NewLineString(geom.NewSequence(flatCoords(g.Positions, true), geom.DimXY))
		poly := geom.NewPolygon([]geom.LineString{ring})
		if err := poly.Validate(); err != nil {
			return geom.Geometry{}, fmt.Errorf("%w: %s: %v", ErrInvalidGeometry, g.ID, err)
		}
		return poly.AsGeometry(), nil

	case TypeRectangle:
		if len(g.Positions) < 2 {
			return geom.Geometry{}, fmt.Errorf("%w: %s rectangle needs 2 corners, got %d", ErrInvalidGeometry, g.ID, len(g.Positions))
		}
		minXY, maxXY := bounds(g.Positions)
		if minXY.X == maxXY.X || minXY.Y == maxXY.Y {
			return geom.Geometry{}, fmt.Errorf("%w: %s rectangle has no area", ErrInvalidGeometry, g.ID)
		}
		ring := geom.NewLineString(geom.NewSequence([]float64{
			minXY.X, minXY.Y,
			maxXY.X, minXY.Y,
			maxXY.X, maxXY.Y,
			minXY.X, maxXY.Y,
			minXY.X, minXY.Y,
		}, geom.DimXY))
		return geom.NewPolygon([]geom.LineString{ring}).AsGeometry(), nil

	case TypeCircle:
		if len(g.Positions) != 1 {
			return geom.Geometry{}, fmt.Errorf("%w: %s circle needs exactly 1 center, got %d", ErrInvalidGeometry, g.ID, len(g.Positions))
		}
		if g.Radius <= 0 {
			return geom.Geometry{}, fmt.Errorf("%w: %s circle radius must be positive", ErrInvalidGeometry, g.ID)
		}
		return geom.NewPoint(geom.Coordinates{XY: toXY(g.Positions[0]), Type: geom.DimXY}).AsGeometry(), nil
	}

	return geom.Geometry{}, fmt.Errorf("%w: %s has unknown type %q", ErrInvalidGeometry, g.ID, g.GeoType)
}

func bounds(positions []core.LatLng) (minXY, maxXY geom.XY) {
	minXY, maxXY = toXY(positions[0]), toXY(positions[0])
	for _, p := range positions[1:] {
		xy := toXY(p)
		minXY.X, minXY.Y = min(minXY.X, xy.X), min(minXY.Y, xy.Y)
		maxXY.X, maxXY.Y = max(maxXY.X, xy.X), max(maxXY.Y, xy.Y)
	}
	return minXY, maxXY
}

// ValidateMap checks the geometry of every marker of m.
func ValidateMap(m *core.Map) error {
	for _, kind := range core.MarkerKinds {
		for _, marker := range *m.MarkerList(kind) {
			for _, g := range marker.Geometry {
				if _, err := MarkerGeometry(g); err != nil {
					return fmt.Errorf("map %s, %s marker %s: %w", m.ID, kind, marker.ID, err)
				}
			}
		}
	}
	return nil
}

// Extent is the bounding box of everything drawn on a map
type Extent struct {
	MinX    float64 `json:"minX"`
	MinY    float64 `json:"minY"`
	MaxX    float64 `json:"maxX"`
	MaxY    float64 `json:"maxY"`
	Markers int     `json:"markers"`
}

// MarkerExtent returns the box covering every marker position, chapter
// override and geometry of m. ok is false for a map without markers.
// Geometry that fails validation is skipped.
func MarkerExtent(m *core.Map) (ext Extent, ok bool) {
	ext.Markers = m.MarkerCount()
	env := geom.Envelope{}
	include := func(xy geom.XY) {
		env = env.ExpandToIncludeXY(xy)
	}

	for _, kind := range core.MarkerKinds {
		for _, marker := range *m.MarkerList(kind) {
			include(geom.XY{X: marker.X, Y: marker.Y})
			for _, c := range marker.ChapterPixelCoords {
				include(geom.XY{X: c.X, Y: c.Y})
			}
			for _, g := range marker.Geometry {
				shape, err := MarkerGeometry(g)
				if err != nil {
					continue
				}
				if g.GeoType == TypeCircle {
					center := toXY(g.Positions[0])
					include(geom.XY{X: center.X - g.Radius, Y: center.Y - g.Radius})
					include(geom.XY{X: center.X + g.Radius, Y: center.Y + g.Radius})
					continue
				}
				env = env.ExpandToIncludeEnvelope(shape.Envelope())
			}
		}
	}

	minXY, maxXY, ok := env.MinMaxXYs()
	if !ok {
		return Extent{}, false
	}
	ext.MinX, ext.MinY = minXY.X, minXY.Y
	ext.MaxX, ext.MaxY = maxXY.X, maxXY.Y
	return ext, true
}
