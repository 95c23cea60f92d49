// pkg/core/map.go
package core

import "time"

// Map is a project map. It owns one marker list per kind and is persisted
// as a whole: one update saves every list.
type Map struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	Name             string    `json:"name"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	NpcMarkers       []Marker  `json:"npcMarker"`
	ItemMarkers      []Marker  `json:"itemMarker"`
	PageMarkers      []Marker  `json:"kirjaPageMarker"`
	QuestMarkers     []Marker  `json:"questMarker"`
	MapChangeMarkers []Marker  `json:"mapChangeMarker"`
	NoteMarkers      []Marker  `json:"noteMarker"`
	ModifiedOn       time.Time `json:"modifiedOn"`
}

// MarkerList returns a pointer to the list holding markers of the given kind,
// or nil for an unknown kind.
func (m *Map) MarkerList(kind MarkerKind) *[]Marker {
	switch kind {
	case MarkerKindNpc:
		return &m.NpcMarkers
	case MarkerKindItem:
		return &m.ItemMarkers
	case MarkerKindPage:
		return &m.PageMarkers
	case MarkerKindQuest:
		return &m.QuestMarkers
	case MarkerKindMapChange:
		return &m.MapChangeMarkers
	case MarkerKindNote:
		return &m.NoteMarkers
	}
	return nil
}

// MarkerCount returns the number of markers over all kinds.
func (m *Map) MarkerCount() int {
	n := 0
	for _, kind := range MarkerKinds {
		n += len(*m.MarkerList(kind))
	}
	return n
}
