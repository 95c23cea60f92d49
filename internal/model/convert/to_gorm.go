// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"

	"github.com/storyweave/karta/internal/model"
	"github.com/storyweave/karta/pkg/core"
	"gorm.io/datatypes"
)

// listToJSON converts a slice to datatypes.JSON for DB storage. Empty and nil
// slices are both stored as "[]".
func listToJSON[T any](items []T) datatypes.JSON {
	if len(items) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(items)
	return datatypes.JSON(data)
}

// CoreToChapterOverview converts a core.ChapterOverview to a GORM model.ChapterOverview.
func CoreToChapterOverview(o core.ChapterOverview) model.ChapterOverview {
	return model.ChapterOverview{
		ID:         o.ID,
		ProjectID:  o.ProjectID,
		Chapters:   listToJSON(o.Chapters),
		Links:      listToJSON(o.Links),
		ModifiedBy: o.ModifiedBy,
		ModifiedOn: o.ModifiedOn,
	}
}

// CoreToDetailView converts a core.DetailView to a GORM model.DetailView.
func CoreToDetailView(d core.DetailView) model.DetailView {
	return model.DetailView{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		ChapterID:  d.ChapterID,
		Name:       d.Name,
		Detail:     listToJSON(d.Detail),
		Quest:      listToJSON(d.Quest),
		AllDone:    listToJSON(d.AllDone),
		Finish:     listToJSON(d.Finish),
		Links:      listToJSON(d.Links),
		ModifiedOn: d.ModifiedOn,
	}
}

// CoreToMap converts a core.Map to a GORM model.KartaMap. Every marker list is
// written, so one save persists the whole map.
func CoreToMap(m core.Map) model.KartaMap {
	return model.KartaMap{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		Name:             m.Name,
		Width:            m.Width,
		Height:           m.Height,
		NpcMarkers:       listToJSON(m.NpcMarkers),
		ItemMarkers:      listToJSON(m.ItemMarkers),
		PageMarkers:      listToJSON(m.PageMarkers),
		QuestMarkers:     listToJSON(m.QuestMarkers),
		MapChangeMarkers: listToJSON(m.MapChangeMarkers),
		NoteMarkers:      listToJSON(m.NoteMarkers),
		ModifiedOn:       m.ModifiedOn,
	}
}

// CoreToTimelineEntry converts a core.TimelineEntry to a GORM model.TimelineEntry.
func CoreToTimelineEntry(e core.TimelineEntry) model.TimelineEntry {
	return model.TimelineEntry{
		ProjectID: e.ProjectID,
		Event:     string(e.Event),
		Args:      listToJSON(e.Args),
		Timestamp: e.Timestamp,
	}
}
