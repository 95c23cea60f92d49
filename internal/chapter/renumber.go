// Package chapter keeps map markers consistent with a project's chapter list
// when chapters are deleted from the chapter overview.
package chapter

import (
	"slices"

	"github.com/storyweave/karta/pkg/core"
)

// SurvivingChapters is the sorted set of chapter numbers that exist once a
// chapter overview save has committed. It is never empty.
type SurvivingChapters struct {
	numbers []int
}

// NewSurvivingChapters builds the set from chapter numbers in any order.
// Duplicates are folded.
func NewSurvivingChapters(numbers []int) (SurvivingChapters, error) {
	if len(numbers) == 0 {
		return SurvivingChapters{}, ErrNoSurvivingChapters
	}
	sorted := slices.Clone(numbers)
	slices.Sort(sorted)
	return SurvivingChapters{numbers: slices.Compact(sorted)}, nil
}

// Min returns the earliest surviving chapter number.
func (s SurvivingChapters) Min() int {
	return s.numbers[0]
}

// Max returns the latest surviving chapter number.
func (s SurvivingChapters) Max() int {
	return s.numbers[len(s.numbers)-1]
}

// Numbers returns a copy of the sorted chapter numbers.
func (s SurvivingChapters) Numbers() []int {
	return slices.Clone(s.numbers)
}

// contains reports whether n is a surviving chapter number.
func (s SurvivingChapters) contains(n int) bool {
	_, found := slices.BinarySearch(s.numbers, n)
	return found
}

// NextAfter returns the smallest surviving number strictly greater than n.
func (s SurvivingChapters) NextAfter(n int) (int, bool) {
	i, found := slices.BinarySearch(s.numbers, n)
	if found {
		i++
	}
	if i >= len(s.numbers) {
		return 0, false
	}
	return s.numbers[i], true
}

// PrevBefore returns the largest surviving number strictly less than n.
func (s SurvivingChapters) PrevBefore(n int) (int, bool) {
	i, _ := slices.BinarySearch(s.numbers, n)
	if i == 0 {
		return 0, false
	}
	return s.numbers[i-1], true
}

// Outcome is the result of renumbering one marker
type Outcome int

const (
	// Unchanged means the marker was not touched.
	Unchanged Outcome = iota
	// Changed means the marker window, overrides or base position were rewritten.
	Changed
	// Removed means the marker window collapsed and the marker must be dropped.
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return "unchanged"
}

// Renumber rewrites the visibility window and per-chapter overrides of m after
// chapter number deleted was removed, so that m keeps its meaning against the
// surviving chapters. The steps run in a fixed order and later steps see the
// results of earlier ones.
func Renumber(deleted int, chapters SurvivingChapters, m *core.Marker) Outcome {
	minC, maxC := chapters.Min(), chapters.Max()
	dirty := false

	// Added: move forward to the next chapter, or back to the previous one when
	// the last chapter went away.
	if m.AddedInChapter == deleted {
		switch {
		case deleted < maxC:
			m.AddedInChapter, _ = chapters.NextAfter(deleted)
		case m.AddedInChapter <= minC:
			m.AddedInChapter = core.NoChapter
		default:
			m.AddedInChapter, _ = chapters.PrevBefore(m.AddedInChapter)
		}
		dirty = true
	} else if m.AddedInChapter > 0 && m.AddedInChapter <= minC {
		m.AddedInChapter = core.NoChapter
		dirty = true
	}

	// Deleted: only the exact match is adjusted. There is no counterpart to the
	// min collapse above.
	if m.DeletedInChapter == deleted {
		if deleted < maxC {
			m.DeletedInChapter, _ = chapters.NextAfter(deleted)
		} else {
			m.DeletedInChapter = core.NoChapter
		}
		dirty = true
	}

	if m.AddedInChapter > 0 && m.AddedInChapter == m.DeletedInChapter {
		return Removed
	}

	if i := m.PixelCoordsIndex(deleted); i >= 0 {
		if deleted >= maxC {
			m.RemovePixelCoords(i)
		} else {
			next, _ := chapters.NextAfter(deleted)
			if m.PixelCoordsIndex(next) >= 0 {
				m.RemovePixelCoords(i)
			} else {
				m.ChapterPixelCoords[i].ChapterNumber = next
			}
		}
		dirty = true
	}

	// The first chapter went away: the earliest override becomes the base position.
	if deleted < minC {
		if i := m.PixelCoordsIndex(minC); i >= 0 {
			m.X = m.ChapterPixelCoords[i].X
			m.Y = m.ChapterPixelCoords[i].Y
			m.RemovePixelCoords(i)
			dirty = true
		}
	}

	if dirty {
		return Changed
	}
	return Unchanged
}
