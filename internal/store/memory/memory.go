// Package memory implements store.Store in process memory. It enforces the
// same record constraints as the Postgres schema so that poison records behave
// identically in both.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/store"
)

// MemoryStore is a store.Store holding events in a slice.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*model.Event
	ids    map[string]struct{}
	closed bool
}

var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// InsertEvents appends every record that satisfies the schema constraints.
func (s *MemoryStore) InsertEvents(ctx context.Context, events []*model.Event) store.WriteResult {
	if err := ctx.Err(); err != nil {
		return store.AllFailed{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.AllFailed{Err: fmt.Errorf("memory store closed")}
	}

	var failures []store.RecordFailure
	for i, e := range events {
		if reason := s.violation(e); reason != "" {
			failures = append(failures, store.RecordFailure{Index: i, EventID: e.ID, Reason: reason})
			continue
		}
		cp := *e
		s.events = append(s.events, &cp)
		s.ids[e.ID] = struct{}{}
	}

	if len(failures) == 0 {
		return store.AllWritten{Count: len(events)}
	}
	return store.PartiallyWritten{Written: len(events) - len(failures), Failures: failures}
}

// violation mirrors the CHECK, NOT NULL and PRIMARY KEY constraints of the
// research_events table.
func (s *MemoryStore) violation(e *model.Event) string {
	switch {
	case e.ID == "":
		return "null value in column \"id\""
	case e.ParticipantID == "" || e.SessionID == "":
		return "participant and session are required"
	case !e.EventType.IsValid():
		return fmt.Sprintf("invalid event_type %q", e.EventType)
	case !e.EventCategory.IsValid():
		return fmt.Sprintf("invalid event_category %q", e.EventCategory)
	case !slices.Contains(model.DeviceTypes, e.Context.DeviceType):
		return fmt.Sprintf("invalid deviceType %q", e.Context.DeviceType)
	case !slices.Contains(model.NetworkTypes, e.Context.NetworkType):
		return fmt.Sprintf("invalid networkType %q", e.Context.NetworkType)
	case !slices.Contains(model.Languages, e.Context.Language):
		return fmt.Sprintf("invalid language %q", e.Context.Language)
	case !slices.Contains(model.AccessibilityModes, e.Context.AccessibilityMode):
		return fmt.Sprintf("invalid accessibilityMode %q", e.Context.AccessibilityMode)
	case !e.Sync.Source.IsValid():
		return fmt.Sprintf("invalid sync source %q", e.Sync.Source)
	}
	if _, dup := s.ids[e.ID]; dup {
		return fmt.Sprintf("duplicate event id %q", e.ID)
	}
	return ""
}

// EventsByUser returns a participant's events, newest first.
func (s *MemoryStore) EventsByUser(_ context.Context, participantID string, opts model.UserEventOptions) ([]*model.Event, error) {
	out := s.filter(func(e *model.Event) bool {
		return e.ParticipantID == participantID &&
			inWindow(e.Timestamp, opts.Start, opts.End) &&
			(opts.EventType == "" || e.EventType == opts.EventType)
	})
	sortByTimestamp(out, true)
	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventsBySession returns a session's events, oldest first.
func (s *MemoryStore) EventsBySession(_ context.Context, sessionID string) ([]*model.Event, error) {
	out := s.filter(func(e *model.Event) bool { return e.SessionID == sessionID })
	sortByTimestamp(out, false)
	return out, nil
}

// EventCounts groups events in the window, largest group first.
func (s *MemoryStore) EventCounts(_ context.Context, start, end *time.Time, groupBy model.GroupBy) ([]model.EventCount, error) {
	if !groupBy.IsValid() {
		return nil, fmt.Errorf("unsupported groupBy %q", groupBy)
	}
	counts := make(map[string]int64)
	for _, e := range s.filter(func(e *model.Event) bool { return inWindow(e.Timestamp, start, end) }) {
		counts[groupBy.Key(e)]++
	}
	out := make([]model.EventCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.EventCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// SummaryStats aggregates events matching filter.
func (s *MemoryStore) SummaryStats(_ context.Context, f model.SummaryFilter) (*model.SummaryStats, error) {
	matched := s.filter(func(e *model.Event) bool {
		return inWindow(e.Timestamp, f.Start, f.End) &&
			(f.EventType == "" || e.EventType == f.EventType) &&
			(f.EventCategory == "" || e.EventCategory == f.EventCategory) &&
			(f.ParticipantID == "" || e.ParticipantID == f.ParticipantID) &&
			(f.ExperimentGroup == "" || e.Experiment.Group == f.ExperimentGroup)
	})

	participants := make(map[string]struct{})
	sessions := make(map[string]struct{})
	types := make(map[model.EventType]struct{})
	var sum float64
	var n int
	for _, e := range matched {
		participants[e.ParticipantID] = struct{}{}
		sessions[e.SessionID] = struct{}{}
		types[e.EventType] = struct{}{}
		if rt := e.Data.ResponseTimeMs; rt != nil {
			sum += *rt
			n++
		}
	}

	stats := &model.SummaryStats{
		TotalEvents:        int64(len(matched)),
		UniqueParticipants: int64(len(participants)),
		UniqueSessions:     int64(len(sessions)),
		EventTypeCount:     int64(len(types)),
	}
	if n > 0 {
		avg := math.Round(sum/float64(n)*100) / 100
		stats.AvgResponseTimeMs = &avg
	}
	return stats, nil
}

// ExperimentEvents returns an experiment's events, newest first. An empty
// group matches every group.
func (s *MemoryStore) ExperimentEvents(_ context.Context, experimentID, group string) ([]*model.Event, error) {
	out := s.filter(func(e *model.Event) bool {
		return e.Experiment.ExperimentID == experimentID && (group == "" || e.Experiment.Group == group)
	})
	sortByTimestamp(out, true)
	return out, nil
}

// ListEventsSynced returns events with from < syncedAt <= to, oldest first.
func (s *MemoryStore) ListEventsSynced(_ context.Context, from, to time.Time) ([]*model.Event, error) {
	out := s.filter(func(e *model.Event) bool {
		return e.Sync.SyncedAt.After(from) && !e.Sync.SyncedAt.After(to)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Sync.SyncedAt.Equal(out[j].Sync.SyncedAt) {
			return out[i].Sync.SyncedAt.Before(out[j].Sync.SyncedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PurgeBefore deletes events whose timestamp is before cutoff.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.events[:0]
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.ids, e.ID)
			n++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.events[len(kept):])
	s.events = kept
	return n, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the store closed; later writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// filter returns copies of the matching events in insertion order.
func (s *MemoryStore) filter(keep func(*model.Event) bool) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Event
	for _, e := range s.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func inWindow(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

func sortByTimestamp(events []*model.Event, newestFirst bool) {
	sort.SliceStable(events, func(i, j int) bool {
		if newestFirst {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
