package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/store"
)

// insertColumns must stay in step with eventArgs.
const insertColumns = `id, participant_id, session_id, ts, event_type, event_category,
	event_data, context, experiment_id, experiment_group, experiment_variant,
	treatment_applied, queued_at, synced_at, retry_count, source`

const insertColumnCount = 16

// maxRowsPerStatement keeps a multi-row INSERT under the protocol's
// 65535 bind-parameter limit.
const maxRowsPerStatement = 1000

// encodeError marks a record whose fields could not be encoded for the
// database. Like a constraint violation it is a property of the record.
type encodeError struct {
	err error
}

func (e *encodeError) Error() string { return "encode event: " + e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }

// isRecordError reports whether err was caused by the content of a record
// rather than by the database or the connection: SQLSTATE class 22 (data
// exception) or 23 (integrity constraint violation).
func isRecordError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return true
		}
		return false
	}
	var ee *encodeError
	return errors.As(err, &ee)
}

// queryInsertEvents writes the whole batch in one transaction. If a record
// is rejected on its content, the transaction is rolled back and the batch is
// retried one record at a time under savepoints, so that only the offending
// records are left out.
func queryInsertEvents(ctx context.Context, db *sql.DB, events []*model.Event) store.WriteResult {
	if len(events) == 0 {
		return store.AllWritten{}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return store.AllFailed{Err: fmt.Errorf("begin insert: %w", err)}
	}

	for start := 0; start < len(events); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(events))
		if err = insertRows(ctx, tx, events[start:end]); err != nil {
			break
		}
	}
	if err == nil {
		if err := tx.Commit(); err != nil {
			return store.AllFailed{Err: fmt.Errorf("commit insert: %w", err)}
		}
		return store.AllWritten{Count: len(events)}
	}

	_ = tx.Rollback()
	if !isRecordError(err) {
		return store.AllFailed{Err: fmt.Errorf("insert events: %w", err)}
	}
	return insertEachRecord(ctx, db, events)
}

func insertEachRecord(ctx context.Context, db *sql.DB, events []*model.Event) store.WriteResult {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return store.AllFailed{Err: fmt.Errorf("begin insert: %w", err)}
	}
	abort := func(err error) store.WriteResult {
		_ = tx.Rollback()
		return store.AllFailed{Err: err}
	}

	var failures []store.RecordFailure
	for i, e := range events {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT ev"); err != nil {
			return abort(fmt.Errorf("savepoint: %w", err))
		}
		if err := insertRows(ctx, tx, events[i:i+1]); err != nil {
			if !isRecordError(err) {
				return abort(fmt.Errorf("insert event %s: %w", e.ID, err))
			}
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ev"); rbErr != nil {
				return abort(fmt.Errorf("rollback to savepoint: %w", rbErr))
			}
			failures = append(failures, store.RecordFailure{Index: i, EventID: e.ID, Reason: err.Error()})
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT ev"); err != nil {
			return abort(fmt.Errorf("release savepoint: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return store.AllFailed{Err: fmt.Errorf("commit insert: %w", err)}
	}
	if len(failures) == 0 {
		return store.AllWritten{Count: len(events)}
	}
	return store.PartiallyWritten{Written: len(events) - len(failures), Failures: failures}
}

func insertRows(ctx context.Context, db executor, events []*model.Event) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(events)*insertColumnCount)
	)
	sb.WriteString("INSERT INTO research_events (" + insertColumns + ") VALUES ")
	for i, e := range events {
		row, err := eventArgs(e)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	_, err := db.ExecContext(ctx, sb.String(), args...)
	return err
}

func eventArgs(e *model.Event) ([]any, error) {
	data, err := jsonbValue(e.Data)
	if err != nil {
		return nil, &encodeError{err: fmt.Errorf("%s eventData: %w", e.ID, err)}
	}
	ctxJSON, err := jsonbValue(e.Context)
	if err != nil {
		return nil, &encodeError{err: fmt.Errorf("%s context: %w", e.ID, err)}
	}
	return []any{
		e.ID,
		e.ParticipantID,
		e.SessionID,
		e.Timestamp.UTC(),
		string(e.EventType),
		string(e.EventCategory),
		data,
		ctxJSON,
		nullString(e.Experiment.ExperimentID),
		nullString(e.Experiment.Group),
		nullString(e.Experiment.Variant),
		e.Experiment.TreatmentApplied,
		nullTimePtr(e.Sync.QueuedAt),
		e.Sync.SyncedAt.UTC(),
		e.Sync.RetryCount,
		string(e.Sync.Source),
	}, nil
}
