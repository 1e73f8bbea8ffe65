package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// Ingestion subjects (collaborators publish, the pipeline consumes).
const (
	TopicTrack = "telemetry.events.track" // one event payload
	TopicBatch = "telemetry.events.batch" // {"events": [...]}
)

// Notification subjects (the pipeline publishes after each flush).
const (
	TopicFlushCompleted = "telemetry.flush.completed"
	TopicFlushFailed    = "telemetry.flush.failed"
)

// Session subjects. TopicSessions is request-reply; TopicSessionEnded is
// published when a session ends by inactivity.
const (
	TopicSessions     = "telemetry.sessions.active"
	TopicSessionEnded = "telemetry.sessions.ended"
)

// IngestQueue is the queue group shared by every pipeline instance so that
// each ingested message is handled once.
const IngestQueue = "learnertrace-ingest"

// FlushCompleted is published after a flush wrote at least one event.
type FlushCompleted struct {
	Instance string    `json:"instance"`
	Flushed  int       `json:"flushed"`
	Failed   int       `json:"failed,omitempty"`
	At       time.Time `json:"at"`
}

// FlushFailed is published when the store rejected a whole flush and the
// events were put back in the buffer.
type FlushFailed struct {
	Instance string    `json:"instance"`
	Requeued int       `json:"requeued"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// SessionsRequest is the body of a TopicSessions request.
type SessionsRequest struct {
	IncludeEnded bool `json:"includeEnded,omitempty"`
}

// SessionEnded is published when the reaper ends an idle session.
type SessionEnded struct {
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	EventCount    int64     `json:"eventCount"`
	LastSeen      time.Time `json:"lastSeen"`
	At            time.Time `json:"at"`
}

// BatchRequest is the body of a TopicBatch message.
type BatchRequest struct {
	Events json.RawMessage `json:"events"`
}

// Reply is the response envelope for ingestion requests.
type Reply struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Errors  []model.FieldError `json:"errors,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
