// pkg/core/chapter.go
package core

import "time"

// Chapter is one numbered unit of the story. Number is the key markers reference;
// it is whatever the editor supplied and may have gaps after deletions.
type Chapter struct {
	ID           string  `json:"id"`
	Number       int     `json:"chapterNumber"`
	Name         string  `json:"name"`
	DetailViewID string  `json:"detailViewId,omitempty"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

// NodeLink connects two nodes of the chapter overview graph
type NodeLink struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Label    string   `json:"label,omitempty"`
	Vertices []Vertex `json:"vertices,omitempty"`
}

// Vertex is a bend point of a NodeLink
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ChapterOverview is the per-project ordered chapter list
type ChapterOverview struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"projectId"`
	Chapters   []Chapter  `json:"chapter"`
	Links      []NodeLink `json:"link"`
	ModifiedBy string     `json:"modifiedBy,omitempty"`
	ModifiedOn time.Time  `json:"modifiedOn"`
}

// ChapterNumbers returns the number of every chapter in overview order.
func (o *ChapterOverview) ChapterNumbers() []int {
	if o == nil {
		return nil
	}
	numbers := make([]int, 0, len(o.Chapters))
	for _, c := range o.Chapters {
		numbers = append(numbers, c.Number)
	}
	return numbers
}

// HasChapterNumber reports whether any chapter carries the given number.
func (o *ChapterOverview) HasChapterNumber(number int) bool {
	if o == nil {
		return false
	}
	for _, c := range o.Chapters {
		if c.Number == number {
			return true
		}
	}
	return false
}
