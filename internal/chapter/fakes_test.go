package chapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/storyweave/karta/pkg/core"
)

var errStore = errors.New("store unavailable")

// fakeStore is an in-test implementation of every store contract the
// chapter engine consumes. Failures are injected per operation.
type fakeStore struct {
	overview *core.ChapterOverview
	details  map[string]*core.DetailView
	maps     []*core.Map

	// failCreateDetailAfter fails the n-th detail view creation (1-based).
	failCreateDetailAfter int
	failDeleteDetail      bool
	failOverviewWrite     bool
	failMapUpdate         map[string]bool

	createdDetails  []string
	deletedDetails  []string
	updatedDetails  []string
	overviewCreates int
	overviewUpdates int
	mapUpdates      []string
	timeline        []core.TimelineEvent
	references      map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		details:       make(map[string]*core.DetailView),
		failMapUpdate: make(map[string]bool),
		references:    make(map[string]int),
	}
}

func (f *fakeStore) writes() int {
	return len(f.createdDetails) + len(f.deletedDetails) + len(f.updatedDetails) +
		f.overviewCreates + f.overviewUpdates + len(f.mapUpdates)
}

func (f *fakeStore) GetOverviewByProject(_ context.Context, projectID string) (*core.ChapterOverview, error) {
	if f.overview == nil || f.overview.ProjectID != projectID {
		return nil, nil
	}
	cp := *f.overview
	cp.Chapters = append([]core.Chapter(nil), f.overview.Chapters...)
	return &cp, nil
}

func (f *fakeStore) CreateOverview(_ context.Context, o *core.ChapterOverview) error {
	if f.failOverviewWrite {
		return errStore
	}
	f.overviewCreates++
	cp := *o
	f.overview = &cp
	return nil
}

func (f *fakeStore) UpdateOverview(_ context.Context, o *core.ChapterOverview) error {
	if f.failOverviewWrite {
		return errStore
	}
	f.overviewUpdates++
	cp := *o
	f.overview = &cp
	return nil
}

func (f *fakeStore) GetDetailView(_ context.Context, id string) (*core.DetailView, error) {
	d, ok := f.details[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) CreateDetailView(_ context.Context, d *core.DetailView) error {
	if f.failCreateDetailAfter > 0 && len(f.createdDetails)+1 == f.failCreateDetailAfter {
		return errStore
	}
	f.createdDetails = append(f.createdDetails, d.ID)
	cp := *d
	f.details[d.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateDetailView(_ context.Context, d *core.DetailView) error {
	f.updatedDetails = append(f.updatedDetails, d.ID)
	cp := *d
	f.details[d.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteDetailView(_ context.Context, d *core.DetailView) error {
	if f.failDeleteDetail {
		return errStore
	}
	f.deletedDetails = append(f.deletedDetails, d.ID)
	delete(f.details, d.ID)
	return nil
}

func (f *fakeStore) CountNodesReferencing(_ context.Context, detailID, _ string) (int, error) {
	return f.references[detailID], nil
}

func (f *fakeStore) GetAllMapsWithFullDetail(_ context.Context, projectID string) ([]*core.Map, error) {
	var out []*core.Map
	for _, m := range f.maps {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateMap(_ context.Context, m *core.Map) error {
	if f.failMapUpdate[m.ID] {
		return errStore
	}
	f.mapUpdates = append(f.mapUpdates, m.ID)
	return nil
}

func (f *fakeStore) Record(_ context.Context, _ string, event core.TimelineEvent, _ ...string) {
	f.timeline = append(f.timeline, event)
}

func (f *fakeStore) detailIDs() []string {
	ids := make([]string, 0, len(f.details))
	for id := range f.details {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fakeRecorder collects sweep results.
type fakeRecorder struct {
	results []SweepResult
}

func (r *fakeRecorder) RecordSweep(_ context.Context, _ string, result SweepResult) error {
	r.results = append(r.results, result)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequentialIDs returns an id generator yielding prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
