package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every event synced in (from, to] as JSONL to w, oldest
// first, after a header line. It returns the number of events written.
func ExportJSONL(ctx context.Context, s store.Store, from, to time.Time, w io.Writer) (int, error) {
	events, err := s.ListEventsSynced(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		From:       from.UTC(),
		To:         to.UTC(),
		EventCount: len(events),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for i, e := range events {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return i, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
	}
	return len(events), nil
}
