package convert

import (
	"encoding/json"
	"fmt"

	"github.com/storyweave/karta/internal/model"
	"github.com/storyweave/karta/pkg/core"
	"gorm.io/datatypes"
)

// jsonToList decodes a JSON array column. NULL and empty columns decode to an
// empty, non-nil slice.
func jsonToList[T any](data datatypes.JSON, column string) ([]T, error) {
	items := []T{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", column, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// ChapterOverviewToCore converts a GORM ChapterOverview to a core.ChapterOverview.
func ChapterOverviewToCore(o model.ChapterOverview) (core.ChapterOverview, error) {
	chapters, err := jsonToList[core.Chapter](o.Chapters, "chapters")
	if err != nil {
		return core.ChapterOverview{}, err
	}
	links, err := jsonToList[core.NodeLink](o.Links, "links")
	if err != nil {
		return core.ChapterOverview{}, err
	}

	return core.ChapterOverview{
		ID:         o.ID,
		ProjectID:  o.ProjectID,
		Chapters:   chapters,
		Links:      links,
		ModifiedBy: o.ModifiedBy,
		ModifiedOn: o.ModifiedOn,
	}, nil
}

// DetailViewToCore converts a GORM DetailView to a core.DetailView.
func DetailViewToCore(d model.DetailView) (core.DetailView, error) {
	out := core.DetailView{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		ChapterID:  d.ChapterID,
		Name:       d.Name,
		ModifiedOn: d.ModifiedOn,
	}

	var err error
	if out.Detail, err = jsonToList[core.DetailNode](d.Detail, "detail"); err != nil {
		return core.DetailView{}, err
	}
	if out.Quest, err = jsonToList[core.DetailNode](d.Quest, "quest"); err != nil {
		return core.DetailView{}, err
	}
	if out.AllDone, err = jsonToList[core.DetailNode](d.AllDone, "allDone"); err != nil {
		return core.DetailView{}, err
	}
	if out.Finish, err = jsonToList[core.DetailNode](d.Finish, "finish"); err != nil {
		return core.DetailView{}, err
	}
	if out.Links, err = jsonToList[core.NodeLink](d.Links, "links"); err != nil {
		return core.DetailView{}, err
	}
	return out, nil
}

// MapToCore converts a GORM KartaMap to a core.Map with every marker list loaded.
func MapToCore(m model.KartaMap) (core.Map, error) {
	out := core.Map{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		Name:       m.Name,
		Width:      m.Width,
		Height:     m.Height,
		ModifiedOn: m.ModifiedOn,
	}

	columns := []struct {
		kind core.MarkerKind
		data datatypes.JSON
	}{
		{core.MarkerKindNpc, m.NpcMarkers},
		{core.MarkerKindItem, m.ItemMarkers},
		{core.MarkerKindPage, m.PageMarkers},
		{core.MarkerKindQuest, m.QuestMarkers},
		{core.MarkerKindMapChange, m.MapChangeMarkers},
		{core.MarkerKindNote, m.NoteMarkers},
	}
	for _, c := range columns {
		markers, err := jsonToList[core.Marker](c.data, string(c.kind)+" markers")
		if err != nil {
			return core.Map{}, fmt.Errorf("map %s: %w", m.ID, err)
		}
		*out.MarkerList(c.kind) = markers
	}
	return out, nil
}

// TimelineEntryToCore converts a GORM TimelineEntry to a core.TimelineEntry.
func TimelineEntryToCore(e model.TimelineEntry) (core.TimelineEntry, error) {
	args, err := jsonToList[string](e.Args, "args")
	if err != nil {
		return core.TimelineEntry{}, err
	}
	return core.TimelineEntry{
		ProjectID: e.ProjectID,
		Event:     core.TimelineEvent(e.Event),
		Args:      args,
		Timestamp: e.Timestamp,
	}, nil
}
