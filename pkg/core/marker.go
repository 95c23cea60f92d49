// pkg/core/marker.go
package core

// NoChapter marks an unbounded visibility window end: visible from the start
// for AddedInChapter, visible through the end for DeletedInChapter.
const NoChapter = -1

// MarkerKind identifies which list of a Map a marker belongs to
type MarkerKind string

const (
	MarkerKindNpc       MarkerKind = "npc"
	MarkerKindItem      MarkerKind = "item"
	MarkerKindPage      MarkerKind = "page"
	MarkerKindQuest     MarkerKind = "quest"
	MarkerKindMapChange MarkerKind = "mapChange"
	MarkerKindNote      MarkerKind = "note"
)

// MarkerKinds lists every kind in persistence order.
var MarkerKinds = []MarkerKind{
	MarkerKindNpc,
	MarkerKindItem,
	MarkerKindPage,
	MarkerKindQuest,
	MarkerKindMapChange,
	MarkerKindNote,
}

// ChapterPixelCoords positions a marker at and after ChapterNumber until a
// later entry supersedes it.
type ChapterPixelCoords struct {
	ChapterNumber int     `json:"chapterNumber"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
}

// LatLng is a point of marker geometry in map space
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MarkerGeometry is optional line or polygon data drawn with a marker
type MarkerGeometry struct {
	ID        string   `json:"id"`
	GeoType   string   `json:"geoType"` // "Polyline", "Polygon", "Rectangle" or "Circle"
	Color     string   `json:"color,omitempty"`
	Radius    float64  `json:"radius,omitempty"`
	Positions []LatLng `json:"positions"`
}

// Marker is the shape shared by every marker kind. Kind specific data
// (referenced npc, item, quest...) lives in Payload and is never read by
// the chapter engine.
type Marker struct {
	ID                 string               `json:"id"`
	X                  float64              `json:"x"`
	Y                  float64              `json:"y"`
	AddedInChapter     int                  `json:"addedInChapter"`
	DeletedInChapter   int                  `json:"deletedInChapter"`
	ChapterPixelCoords []ChapterPixelCoords `json:"chapterPixelCoords,omitempty"`
	Geometry           []MarkerGeometry     `json:"geometry,omitempty"`
	Payload            map[string]string    `json:"payload,omitempty"`
}

// PixelCoordsIndex returns the index of the override for chapter, or -1.
func (m *Marker) PixelCoordsIndex(chapter int) int {
	for i, c := range m.ChapterPixelCoords {
		if c.ChapterNumber == chapter {
			return i
		}
	}
	return -1
}

// RemovePixelCoords drops the override at index i, keeping the order of the rest.
func (m *Marker) RemovePixelCoords(i int) {
	m.ChapterPixelCoords = append(m.ChapterPixelCoords[:i], m.ChapterPixelCoords[i+1:]...)
}
