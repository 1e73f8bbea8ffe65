package model

import (
	"fmt"
	"time"
)

// DefaultUserEventLimit caps EventsByUser when the caller sets no limit.
const DefaultUserEventLimit = 100

// UserEventOptions narrows a participant's event history.
type UserEventOptions struct {
	Start     *time.Time `json:"startDate,omitempty"`
	End       *time.Time `json:"endDate,omitempty"`
	EventType EventType  `json:"eventType,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// EffectiveLimit returns Limit, or DefaultUserEventLimit when unset.
func (o UserEventOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultUserEventLimit
	}
	return o.Limit
}

// SummaryFilter selects the events aggregated by SummaryStats.
type SummaryFilter struct {
	Start           *time.Time `json:"startDate,omitempty"`
	End             *time.Time `json:"endDate,omitempty"`
	EventType       EventType  `json:"eventType,omitempty"`
	EventCategory   Category   `json:"eventCategory,omitempty"`
	ParticipantID   string     `json:"participantId,omitempty"`
	ExperimentGroup string     `json:"experimentGroup,omitempty"`
}

// GroupBy names the field EventCounts groups on.
type GroupBy string

const (
	GroupByEventType       GroupBy = "eventType"
	GroupByEventCategory   GroupBy = "eventCategory"
	GroupByParticipant     GroupBy = "participantId"
	GroupBySession         GroupBy = "sessionId"
	GroupByExperimentGroup GroupBy = "experimentGroup"
)

// IsValid checks whether the grouping field is supported.
func (g GroupBy) IsValid() bool {
	switch g {
	case GroupByEventType, GroupByEventCategory, GroupByParticipant, GroupBySession, GroupByExperimentGroup:
		return true
	}
	return false
}

// ParseGroupBy validates s, defaulting to GroupByEventType when empty.
func ParseGroupBy(s string) (GroupBy, error) {
	if s == "" {
		return GroupByEventType, nil
	}
	g := GroupBy(s)
	if !g.IsValid() {
		return "", fmt.Errorf("unsupported groupBy %q", s)
	}
	return g, nil
}

// Key returns the value of the grouping field on e.
func (g GroupBy) Key(e *Event) string {
	switch g {
	case GroupByEventCategory:
		return string(e.EventCategory)
	case GroupByParticipant:
		return e.ParticipantID
	case GroupBySession:
		return e.SessionID
	case GroupByExperimentGroup:
		return e.Experiment.Group
	default:
		return string(e.EventType)
	}
}

// EventCount is one row of a grouped count.
type EventCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// SummaryStats aggregates a filtered window of events.
// AvgResponseTimeMs is nil when no event in the window carries a response time.
type SummaryStats struct {
	TotalEvents        int64    `json:"totalEvents"`
	UniqueParticipants int64    `json:"uniqueParticipants"`
	UniqueSessions     int64    `json:"uniqueSessions"`
	AvgResponseTimeMs  *float64 `json:"avgResponseTimeMs"`
	EventTypeCount     int64    `json:"eventTypeCount"`
}
