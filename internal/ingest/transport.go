package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/learnertrace/internal/events"
	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// Serve consumes ingestion messages from sub until ctx is cancelled. Requests
// that carry a reply subject are answered with an events.Reply. On
// cancellation Serve unsubscribes and handles every message already delivered
// before returning, so nothing acknowledged by the transport is dropped.
func (p *Pipeline) Serve(ctx context.Context, sub events.Subscriber) error {
	trackCh, cancelTrack, err := sub.Subscribe(events.TopicTrack, events.IngestQueue)
	if err != nil {
		return fmt.Errorf("subscribe track: %w", err)
	}

	batchCh, cancelBatch, err := sub.Subscribe(events.TopicBatch, events.IngestQueue)
	if err != nil {
		cancelTrack()
		return fmt.Errorf("subscribe batch: %w", err)
	}

	// A nil channel never receives, so the sessions case is inert without a tracker.
	var sessionsCh <-chan events.Message
	cancelSessions := func() {}
	if p.sessions != nil {
		ch, cancel, err := sub.Subscribe(events.TopicSessions, events.IngestQueue)
		if err != nil {
			cancelTrack()
			cancelBatch()
			return fmt.Errorf("subscribe sessions: %w", err)
		}
		sessionsCh, cancelSessions = ch, cancel
	}

	p.logger.Info("consuming ingestion subjects", "track", events.TopicTrack, "batch", events.TopicBatch, "queue", events.IngestQueue)

	for {
		select {
		case <-ctx.Done():
			cancelTrack()
			cancelBatch()
			cancelSessions()
			p.drain(context.WithoutCancel(ctx), trackCh, batchCh, sessionsCh)
			return nil
		case m, ok := <-trackCh:
			if !ok {
				cancelBatch()
				cancelSessions()
				return nil
			}
			p.handleTrack(ctx, m)
		case m, ok := <-batchCh:
			if !ok {
				cancelTrack()
				cancelSessions()
				return nil
			}
			p.handleBatch(ctx, m)
		case m, ok := <-sessionsCh:
			if !ok {
				cancelTrack()
				cancelBatch()
				return nil
			}
			p.handleSessions(m)
		}
	}
}

// drain handles messages left on the channels after unsubscribing. Each
// channel is read until its subscriber closes it.
func (p *Pipeline) drain(ctx context.Context, trackCh, batchCh, sessionsCh <-chan events.Message) {
	n := 0
	for m := range trackCh {
		p.handleTrack(ctx, m)
		n++
	}
	for m := range batchCh {
		p.handleBatch(ctx, m)
		n++
	}
	if sessionsCh != nil {
		for m := range sessionsCh {
			p.handleSessions(m)
			n++
		}
	}
	if n > 0 {
		p.logger.Info("drained buffered messages", "count", n)
	}
}

func (p *Pipeline) handleTrack(ctx context.Context, m events.Message) {
	var payload model.Payload
	if err := json.Unmarshal(m.Data, &payload); err != nil {
		p.reply(m, nil, fmt.Errorf("decode event: %w", err))
		return
	}
	res, err := p.TrackEvent(ctx, payload)
	p.reply(m, res, err)
}

func (p *Pipeline) handleBatch(ctx context.Context, m events.Message) {
	payloads, err := DecodeBatch(m.Data)
	if err != nil {
		p.reply(m, nil, err)
		return
	}
	res, err := p.TrackBatch(ctx, payloads)
	p.reply(m, res, err)
}

func (p *Pipeline) handleSessions(m events.Message) {
	var req events.SessionsRequest
	if len(bytes.TrimSpace(m.Data)) > 0 {
		if err := json.Unmarshal(m.Data, &req); err != nil {
			p.reply(m, nil, fmt.Errorf("decode sessions request: %w", err))
			return
		}
	}
	p.reply(m, p.sessions.Roster(req.IncludeEnded), nil)
}

// DecodeBatch decodes a TopicBatch message body.
func DecodeBatch(data []byte) ([]model.Payload, error) {
	var req events.BatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return DecodeEvents(req.Events)
}

// DecodeEvents decodes a JSON array of event payloads. Elements that are not
// objects decode to nil payloads, which fail validation individually.
func DecodeEvents(raw json.RawMessage) ([]model.Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrNotArray
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	out := make([]model.Payload, len(elems))
	for i, el := range elems {
		var pl model.Payload
		if json.Unmarshal(el, &pl) == nil {
			out[i] = pl
		}
	}
	return out, nil
}

func (p *Pipeline) reply(m events.Message, data any, err error) {
	if m.Respond == nil {
		if err != nil {
			p.logger.Debug("dropped ingestion message", "subject", m.Subject, "err", err)
		}
		return
	}

	r := events.Reply{Success: err == nil}
	if err != nil {
		r.Error = err.Error()
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			r.Error = "validation failed"
			r.Errors = ve.Errors
		}
	} else if data != nil {
		b, mErr := json.Marshal(data)
		if mErr != nil {
			r = events.Reply{Error: mErr.Error()}
		} else {
			r.Data = b
		}
	}

	body, mErr := json.Marshal(r)
	if mErr != nil {
		p.logger.Error("encode reply failed", "subject", m.Subject, "err", mErr)
		return
	}
	if err := m.Respond(body); err != nil {
		p.logger.Warn("reply failed", "subject", m.Subject, "err", err)
	}
}
