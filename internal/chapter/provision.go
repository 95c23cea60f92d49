package chapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storyweave/karta/internal/queue"
	"github.com/storyweave/karta/internal/storage"
	"github.com/storyweave/karta/pkg/core"
)

// Provisioner creates missing chapter detail views as one all-or-nothing batch.
type Provisioner struct {
	details storage.DetailViewStore
	log     *slog.Logger
	newID   func() string
	now     func() time.Time
}

// NewProvisioner creates a Provisioner writing through details.
func NewProvisioner(details storage.DetailViewStore, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		details: details,
		log:     log,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Batch holds the detail views created by one Provision call, in creation order.
type Batch struct {
	created *queue.Queue[*core.DetailView]
}

// Len returns the number of views created in the batch.
func (b *Batch) Len() int {
	if b == nil || b.created == nil {
		return 0
	}
	return b.created.Len()
}

// Provision creates a detail view for every chapter without one and stores the
// new id on the chapter. If any creation fails, every view created so far is
// deleted again, the chapters are left as they were and ErrProvisioning is returned.
func (p *Provisioner) Provision(ctx context.Context, projectID string, chapters []core.Chapter) (*Batch, error) {
	batch := &Batch{created: queue.New[*core.DetailView]()}

	for i := range chapters {
		if chapters[i].DetailViewID != "" {
			continue
		}

		view := &core.DetailView{
			ID:         p.newID(),
			ProjectID:  projectID,
			ChapterID:  chapters[i].ID,
			Name:       chapters[i].Name,
			Detail:     []core.DetailNode{},
			Quest:      []core.DetailNode{},
			AllDone:    []core.DetailNode{},
			Finish:     []core.DetailNode{},
			Links:      []core.NodeLink{},
			ModifiedOn: p.now(),
		}
		if err := p.details.CreateDetailView(ctx, view); err != nil {
			p.log.ErrorContext(ctx, "Failed to create chapter detail view",
				"project", projectID, "chapter", chapters[i].ID, "error", err)
			p.Rollback(ctx, batch, chapters)
			return nil, fmt.Errorf("%w: chapter %q: %w", ErrProvisioning, chapters[i].Name, err)
		}

		batch.created.Push(view)
		chapters[i].DetailViewID = view.ID
	}

	return batch, nil
}

// Rollback deletes every view of the batch and clears their ids from chapters.
// Cleanup is best effort: a failed delete is logged and the rest still run.
func (p *Provisioner) Rollback(ctx context.Context, batch *Batch, chapters []core.Chapter) {
	if batch.Len() == 0 {
		return
	}

	created := batch.created.GetAndEmptyReversed()
	rolledBack := make(map[string]struct{}, len(created))
	for _, view := range created {
		if err := p.details.DeleteDetailView(ctx, view); err != nil {
			p.log.ErrorContext(ctx, "Failed to roll back chapter detail view",
				"project", view.ProjectID, "detailView", view.ID, "error", err)
		}
		rolledBack[view.ID] = struct{}{}
	}

	for i := range chapters {
		if _, ok := rolledBack[chapters[i].DetailViewID]; ok {
			chapters[i].DetailViewID = ""
		}
	}
	p.log.InfoContext(ctx, "Rolled back chapter detail views", "count", len(created))
}
