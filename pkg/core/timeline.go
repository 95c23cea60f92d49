// pkg/core/timeline.go
package core

import "time"

// TimelineEvent names an audit entry kind
type TimelineEvent string

const (
	TimelineChapterOverviewUpdated TimelineEvent = "ChapterOverviewUpdated"
	TimelineKartaMarkersRepaired   TimelineEvent = "KartaMarkersRepaired"
	TimelineProjectImported        TimelineEvent = "ProjectImported"
)

// TimelineEntry is one recorded audit entry
type TimelineEntry struct {
	ProjectID string        `json:"projectId"`
	Event     TimelineEvent `json:"event"`
	Args      []string      `json:"args,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
