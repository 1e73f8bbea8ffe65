package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// Store defines the durable sink for research events and the read queries
// served from it.
type Store interface {
	// InsertEvents writes a batch and reports the outcome per record.
	// It never returns a bare error: infrastructure failures are AllFailed.
	InsertEvents(ctx context.Context, events []*model.Event) WriteResult

	// Reads
	EventsByUser(ctx context.Context, participantID string, opts model.UserEventOptions) ([]*model.Event, error) // newest first
	EventsBySession(ctx context.Context, sessionID string) ([]*model.Event, error)                              // oldest first
	EventCounts(ctx context.Context, start, end *time.Time, groupBy model.GroupBy) ([]model.EventCount, error)
	SummaryStats(ctx context.Context, filter model.SummaryFilter) (*model.SummaryStats, error)
	ExperimentEvents(ctx context.Context, experimentID, group string) ([]*model.Event, error) // newest first

	// Export and retention
	ListEventsSynced(ctx context.Context, from, to time.Time) ([]*model.Event, error) // syncedAt in (from, to], oldest first
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// WriteResult is the outcome of InsertEvents: exactly one of AllWritten,
// PartiallyWritten or AllFailed.
type WriteResult interface {
	writeResult()
}

// AllWritten means every record in the batch is durable.
type AllWritten struct {
	Count int
}

// PartiallyWritten means the batch was applied except for records the store
// rejected on their content. Those records would fail identically on retry.
type PartiallyWritten struct {
	Written  int
	Failures []RecordFailure
}

// AllFailed means nothing was written, typically because the store was
// unreachable. The whole batch may be retried.
type AllFailed struct {
	Err error
}

// RecordFailure identifies one rejected record by its index in the batch.
type RecordFailure struct {
	Index   int
	EventID string
	Reason  string
}

func (AllWritten) writeResult()       {}
func (PartiallyWritten) writeResult() {}
func (AllFailed) writeResult()        {}

// Reasons returns the rejection reasons in batch order.
func (p PartiallyWritten) Reasons() []string {
	out := make([]string, len(p.Failures))
	for i, f := range p.Failures {
		out[i] = f.Reason
	}
	return out
}

func (a AllFailed) Error() string {
	if a.Err == nil {
		return "write failed"
	}
	return a.Err.Error()
}

func (a AllFailed) Unwrap() error {
	return a.Err
}
