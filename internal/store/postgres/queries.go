package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// eventColumns is the column list used for SELECT statements on research_events.
const eventColumns = `id, participant_id, session_id, ts, event_type, event_category,
	event_data, context, experiment_id, experiment_group, experiment_variant,
	treatment_applied, queued_at, synced_at, retry_count, source`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// where accumulates AND-ed predicates with numbered placeholders.
type where struct {
	clauses []string
	args    []any
}

// add appends a predicate; format must contain a single %s for the placeholder.
func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) window(start, end *time.Time) {
	if start != nil {
		w.add("ts >= %s", start.UTC())
	}
	if end != nil {
		w.add("ts <= %s", end.UTC())
	}
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// next returns the placeholder for an argument appended after the predicates.
func (w *where) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

// groupColumns maps a GroupBy to the SQL expression it groups on.
var groupColumns = map[model.GroupBy]string{
	model.GroupByEventType:       "event_type",
	model.GroupByEventCategory:   "event_category",
	model.GroupByParticipant:     "participant_id",
	model.GroupBySession:         "session_id",
	model.GroupByExperimentGroup: "COALESCE(experiment_group, '')",
}

func queryEventsByUser(ctx context.Context, db executor, participantID string, opts model.UserEventOptions) ([]*model.Event, error) {
	var w where
	w.add("participant_id = %s", participantID)
	w.window(opts.Start, opts.End)
	if opts.EventType != "" {
		w.add("event_type = %s", string(opts.EventType))
	}
	q := "SELECT " + eventColumns + " FROM research_events" + w.sql() +
		" ORDER BY ts DESC, id LIMIT " + w.next(opts.EffectiveLimit())
	return listEvents(ctx, db, "events by user", q, w.args...)
}

func queryEventsBySession(ctx context.Context, db executor, sessionID string) ([]*model.Event, error) {
	return listEvents(ctx, db, "events by session",
		`SELECT `+eventColumns+` FROM research_events WHERE session_id = $1 ORDER BY ts ASC, id`, sessionID)
}

func queryExperimentEvents(ctx context.Context, db executor, experimentID, group string) ([]*model.Event, error) {
	var w where
	w.add("experiment_id = %s", experimentID)
	if group != "" {
		w.add("experiment_group = %s", group)
	}
	q := "SELECT " + eventColumns + " FROM research_events" + w.sql() + " ORDER BY ts DESC, id"
	return listEvents(ctx, db, "experiment events", q, w.args...)
}

func queryListEventsSynced(ctx context.Context, db executor, from, to time.Time) ([]*model.Event, error) {
	return listEvents(ctx, db, "events by sync time",
		`SELECT `+eventColumns+` FROM research_events WHERE synced_at > $1 AND synced_at <= $2 ORDER BY synced_at, id`,
		from.UTC(), to.UTC())
}

func queryEventCounts(ctx context.Context, db executor, start, end *time.Time, groupBy model.GroupBy) ([]model.EventCount, error) {
	col, ok := groupColumns[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported groupBy %q", groupBy)
	}
	var w where
	w.window(start, end)
	q := "SELECT " + col + " AS group_key, COUNT(*) AS n FROM research_events" + w.sql() +
		" GROUP BY 1 ORDER BY n DESC, group_key"

	rows, err := db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	defer rows.Close()

	var out []model.EventCount
	for rows.Next() {
		var c model.EventCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan event counts: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan event counts: %w", err)
	}
	return out, nil
}

func querySummaryStats(ctx context.Context, db executor, f model.SummaryFilter) (*model.SummaryStats, error) {
	var w where
	w.window(f.Start, f.End)
	if f.EventType != "" {
		w.add("event_type = %s", string(f.EventType))
	}
	if f.EventCategory != "" {
		w.add("event_category = %s", string(f.EventCategory))
	}
	if f.ParticipantID != "" {
		w.add("participant_id = %s", f.ParticipantID)
	}
	if f.ExperimentGroup != "" {
		w.add("experiment_group = %s", f.ExperimentGroup)
	}

	q := `SELECT COUNT(*), COUNT(DISTINCT participant_id), COUNT(DISTINCT session_id),
		ROUND(AVG((event_data->>'responseTimeMs')::numeric), 2), COUNT(DISTINCT event_type)
		FROM research_events` + w.sql()

	var (
		s   model.SummaryStats
		avg sql.NullFloat64
	)
	err := db.QueryRowContext(ctx, q, w.args...).Scan(
		&s.TotalEvents, &s.UniqueParticipants, &s.UniqueSessions, &avg, &s.EventTypeCount)
	if err != nil {
		return nil, fmt.Errorf("summary stats: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		s.AvgResponseTimeMs = &v
	}
	return &s, nil
}

func queryPurgeBefore(ctx context.Context, db executor, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM research_events WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return n, nil
}

func listEvents(ctx context.Context, db executor, what, query string, args ...any) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", what, err)
	}
	return events, nil
}
