package execution

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/iayos/backend/internal/events"
)

// Inserter is the part of the River client the publisher needs.
type Inserter interface {
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// InsertManyFunc adapts a function to Inserter. main uses it to wire the publisher before the
// River client exists.
type InsertManyFunc func(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)

func (f InsertManyFunc) InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
	return f(ctx, params)
}

// RiverPublisher queues one notify job per event. Events are published after the transition
// commits, so a failed insert is logged and dropped.
type RiverPublisher struct {
	client Inserter
	logger *slog.Logger
}

func NewRiverPublisher(client Inserter, logger *slog.Logger) *RiverPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiverPublisher{client: client, logger: logger}
}

var _ events.Publisher = (*RiverPublisher)(nil)

func (p *RiverPublisher) Publish(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	params := make([]river.InsertManyParams, 0, len(evs))
	for _, e := range evs {
		params = append(params, river.InsertManyParams{Args: NotifyArgs{Event: e}})
	}
	if _, err := p.client.InsertMany(ctx, params); err != nil {
		for _, e := range evs {
			p.logger.Error("could not queue notification", "type", e.Type, "job_id", e.JobID, "error", err)
		}
	}
}
