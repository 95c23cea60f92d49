// pkg/core/detail.go
package core

import "time"

// DetailNode is a single node inside a chapter detail view. RefID points at
// the referenced entity: a quest for quest nodes, another detail view for detail nodes.
type DetailNode struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	RefID string  `json:"refId,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// DetailView is the auxiliary content record attached to a chapter
type DetailView struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"projectId"`
	ChapterID  string       `json:"chapterId"`
	Name       string       `json:"name"`
	Detail     []DetailNode `json:"detail"`
	Quest      []DetailNode `json:"quest"`
	AllDone    []DetailNode `json:"allDone"`
	Finish     []DetailNode `json:"finish"`
	Links      []NodeLink   `json:"link"`
	ModifiedOn time.Time    `json:"modifiedOn"`
}

// IsEmpty reports whether the view holds no content nodes of any kind.
// Links without nodes do not count as content.
func (d *DetailView) IsEmpty() bool {
	return len(d.Detail) == 0 &&
		len(d.Quest) == 0 &&
		len(d.AllDone) == 0 &&
		len(d.Finish) == 0
}
