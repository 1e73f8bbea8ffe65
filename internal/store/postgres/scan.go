package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		eventType     string
		eventCategory string
		data          []byte
		ctxJSON       []byte
		experimentID  sql.NullString
		group         sql.NullString
		variant       sql.NullString
		queuedAt      sql.NullTime
		source        string
	)

	err := row.Scan(
		&e.ID,
		&e.ParticipantID,
		&e.SessionID,
		&e.Timestamp,
		&eventType,
		&eventCategory,
		&data,
		&ctxJSON,
		&experimentID,
		&group,
		&variant,
		&e.Experiment.TreatmentApplied,
		&queuedAt,
		&e.Sync.SyncedAt,
		&e.Sync.RetryCount,
		&source,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = model.EventType(eventType)
	e.EventCategory = model.Category(eventCategory)
	e.Sync.Source = model.SyncSource(source)
	e.Timestamp = e.Timestamp.UTC()
	e.Sync.SyncedAt = e.Sync.SyncedAt.UTC()
	e.Experiment.ExperimentID = experimentID.String
	e.Experiment.Group = group.String
	e.Experiment.Variant = variant.String

	if queuedAt.Valid {
		t := queuedAt.Time.UTC()
		e.Sync.QueuedAt = &t
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("decode event_data of %s: %w", e.ID, err)
		}
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", e.ID, err)
		}
	}

	return &e, nil
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbValue encodes v for a JSONB column.
func jsonbValue(v any) ([]byte, error) {
	return json.Marshal(v)
}
