package memory

import (
	"maps"
	"slices"

	"github.com/storyweave/karta/pkg/core"
)

func cloneOverview(o *core.ChapterOverview) *core.ChapterOverview {
	c := *o
	c.Chapters = slices.Clone(o.Chapters)
	c.Links = cloneLinks(o.Links)
	return &c
}

func cloneLinks(links []core.NodeLink) []core.NodeLink {
	if links == nil {
		return nil
	}
	out := make([]core.NodeLink, len(links))
	for i, l := range links {
		l.Vertices = slices.Clone(l.Vertices)
		out[i] = l
	}
	return out
}

func cloneDetailView(d *core.DetailView) *core.DetailView {
	c := *d
	c.Detail = slices.Clone(d.Detail)
	c.Quest = slices.Clone(d.Quest)
	c.AllDone = slices.Clone(d.AllDone)
	c.Finish = slices.Clone(d.Finish)
	c.Links = cloneLinks(d.Links)
	return &c
}

func cloneMap(m *core.Map) *core.Map {
	c := *m
	for _, kind := range core.MarkerKinds {
		list := c.MarkerList(kind)
		*list = cloneMarkers(*list)
	}
	return &c
}

func cloneMarkers(markers []core.Marker) []core.Marker {
	if markers == nil {
		return nil
	}
	out := make([]core.Marker, len(markers))
	for i, m := range markers {
		m.ChapterPixelCoords = slices.Clone(m.ChapterPixelCoords)
		m.Payload = maps.Clone(m.Payload)
		if m.Geometry != nil {
			geometry := make([]core.MarkerGeometry, len(m.Geometry))
			for j, g := range m.Geometry {
				g.Positions = slices.Clone(g.Positions)
				geometry[j] = g
			}
			m.Geometry = geometry
		}
		out[i] = m
	}
	return out
}
