package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// Query methods read straight from the store. Buffered events that have not
// been flushed yet are not visible.

// EventsByUser returns a participant's events, newest first.
func (p *Pipeline) EventsByUser(ctx context.Context, participantID string, opts model.UserEventOptions) ([]*model.Event, error) {
	if participantID == "" {
		return nil, required("participantId")
	}
	if opts.EventType != "" && !opts.EventType.IsValid() {
		return nil, invalid("eventType", string(opts.EventType))
	}
	return p.store.EventsByUser(ctx, participantID, opts)
}

// EventsBySession returns a session's events, oldest first.
func (p *Pipeline) EventsBySession(ctx context.Context, sessionID string) ([]*model.Event, error) {
	if sessionID == "" {
		return nil, required("sessionId")
	}
	return p.store.EventsBySession(ctx, sessionID)
}

// EventCounts groups events in [start, end] by groupBy; an empty groupBy
// means eventType.
func (p *Pipeline) EventCounts(ctx context.Context, start, end *time.Time, groupBy string) ([]model.EventCount, error) {
	g, err := model.ParseGroupBy(groupBy)
	if err != nil {
		return nil, invalid("groupBy", groupBy)
	}
	counts, err := p.store.EventCounts(ctx, start, end, g)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []model.EventCount{}
	}
	return counts, nil
}

// SummaryStats aggregates the events matching filter.
func (p *Pipeline) SummaryStats(ctx context.Context, filter model.SummaryFilter) (*model.SummaryStats, error) {
	ve := &model.ValidationError{}
	if filter.EventType != "" && !filter.EventType.IsValid() {
		ve.Errors = append(ve.Errors, invalid("eventType", string(filter.EventType)).Errors...)
	}
	if filter.EventCategory != "" && !filter.EventCategory.IsValid() {
		ve.Errors = append(ve.Errors, invalid("eventCategory", string(filter.EventCategory)).Errors...)
	}
	if ve.HasErrors() {
		return nil, ve
	}
	return p.store.SummaryStats(ctx, filter)
}

// ExperimentEvents lists an experiment's events, optionally for one group.
func (p *Pipeline) ExperimentEvents(ctx context.Context, experimentID, group string) ([]*model.Event, error) {
	if experimentID == "" {
		return nil, required("experimentId")
	}
	return p.store.ExperimentEvents(ctx, experimentID, group)
}

func required(field string) *model.ValidationError {
	return &model.ValidationError{Errors: []model.FieldError{{Field: field, Message: "is required"}}}
}

func invalid(field, value string) *model.ValidationError {
	return &model.ValidationError{Errors: []model.FieldError{{Field: field, Message: fmt.Sprintf("invalid value %q", value)}}}
}
