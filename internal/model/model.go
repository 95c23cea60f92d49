package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ChapterOverview{},
	&DetailView{},
	&KartaMap{},
	&TimelineEntry{},
}

////////////////////////
// CHAPTER MODELS
////////////////////////

// ChapterOverview is the per-project chapter list. Chapters and links are
// stored as JSON documents and always written as a whole.
type ChapterOverview struct {
	ID         string         `json:"id" gorm:"primaryKey;size:64"`
	ProjectID  string         `json:"projectId" gorm:"size:64;uniqueIndex:idx_chapter_overview_project"`
	Chapters   datatypes.JSON `json:"chapter"`
	Links      datatypes.JSON `json:"link"`
	ModifiedBy string         `json:"modifiedBy" gorm:"size:127"`
	ModifiedOn time.Time      `json:"modifiedOn"`
}

func (*ChapterOverview) TableName() string {
	return "chapter_overviews"
}

// DetailView is the content attached to one chapter
type DetailView struct {
	ID         string         `json:"id" gorm:"primaryKey;size:64"`
	ProjectID  string         `json:"projectId" gorm:"size:64;index:idx_detail_view_project"`
	ChapterID  string         `json:"chapterId" gorm:"size:64"`
	Name       string         `json:"name" gorm:"size:255"`
	Detail     datatypes.JSON `json:"detail"`
	Quest      datatypes.JSON `json:"quest"`
	AllDone    datatypes.JSON `json:"allDone"`
	Finish     datatypes.JSON `json:"finish"`
	Links      datatypes.JSON `json:"link"`
	ModifiedOn time.Time      `json:"modifiedOn"`
}

func (*DetailView) TableName() string {
	return "detail_views"
}

////////////////////////
// MAP MODELS
////////////////////////

// KartaMap is a project map with one JSON column per marker kind
type KartaMap struct {
	ID               string         `json:"id" gorm:"primaryKey;size:64"`
	ProjectID        string         `json:"projectId" gorm:"size:64;index:idx_karta_map_project"`
	Name             string         `json:"name" gorm:"size:255"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	NpcMarkers       datatypes.JSON `json:"npcMarker"`
	ItemMarkers      datatypes.JSON `json:"itemMarker"`
	PageMarkers      datatypes.JSON `json:"kirjaPageMarker"`
	QuestMarkers     datatypes.JSON `json:"questMarker"`
	MapChangeMarkers datatypes.JSON `json:"mapChangeMarker"`
	NoteMarkers      datatypes.JSON `json:"noteMarker"`
	ModifiedOn       time.Time      `json:"modifiedOn"`
}

func (*KartaMap) TableName() string {
	return "karta_maps"
}

////////////////////////
// AUDIT MODELS
////////////////////////

// TimelineEntry is one audit record of a project
type TimelineEntry struct {
	ID        uint           `json:"-" gorm:"primarykey"`
	ProjectID string         `json:"projectId" gorm:"size:64;index:idx_timeline_project"`
	Event     string         `json:"event" gorm:"size:64"`
	Args      datatypes.JSON `json:"args"`
	Timestamp time.Time      `json:"timestamp" gorm:"index:idx_timeline_timestamp"`
}

func (*TimelineEntry) TableName() string {
	return "timeline_entries"
}
