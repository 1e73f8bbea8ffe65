// Package ingest buffers validated learner events in memory and flushes them
// to the store in batches, on size and on a timer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/learnertrace/internal/events"
	"github.com/alfredjeanlab/learnertrace/internal/idgen"
	"github.com/alfredjeanlab/learnertrace/internal/metrics"
	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/presence"
	"github.com/alfredjeanlab/learnertrace/internal/store"
)

// MaxBatchEvents is the largest batch TrackBatch accepts.
const MaxBatchEvents = 100

var (
	ErrEmptyBatch    = errors.New("events must be a non-empty array")
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d events", MaxBatchEvents)
	ErrNotArray      = errors.New("events must be an array")
	ErrClosed        = errors.New("pipeline is shut down")
)

// Config controls flush triggers and timeouts.
type Config struct {
	BatchSize       int           // flush once the buffer holds this many events
	FlushInterval   time.Duration // periodic flush
	ShutdownTimeout time.Duration // bound on the final drain
	WriteTimeout    time.Duration // bound on a single store write
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		FlushInterval:   5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// TrackResult is returned for an accepted event.
type TrackResult struct {
	Queued     bool   `json:"queued"`
	BufferSize int    `json:"bufferSize"`
	EventID    string `json:"eventId"`
}

// BatchItemError describes one rejected element of a batch.
type BatchItemError struct {
	Event  model.Payload `json:"event"`
	Errors []string      `json:"errors,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BatchResult summarizes a TrackBatch call.
type BatchResult struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Errors    []BatchItemError `json:"errors"`
}

// FlushResult reports what a flush wrote. A flush that found the buffer
// empty, or another flush in progress, reports zero.
type FlushResult struct {
	Flushed int `json:"flushed"`
	Failed  int `json:"failed,omitempty"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithPublisher sets where flush notifications go.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.pub = pub }
}

// WithSessionTracker records every accepted event in t.
func WithSessionTracker(t *presence.Tracker) Option {
	return func(p *Pipeline) { p.sessions = t }
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is the ingestion buffer. It owns every queued event until a flush
// reports it written or rejected.
type Pipeline struct {
	store    store.Store
	cfg      Config
	logger   *slog.Logger
	pub      events.Publisher
	sessions *presence.Tracker
	now      func() time.Time
	instance string

	// mu guards buf, flushing, flushDone and closed. No I/O happens under it.
	mu       sync.Mutex
	buf      []*model.Event
	flushing bool
	closed   bool

	// flushDone is closed when the running flush finishes.
	flushDone chan struct{}

	// bg tracks size-triggered flushes.
	bg sync.WaitGroup

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// New returns a pipeline writing to s. Call Start to enable the periodic flush.
func New(s store.Store, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    s,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		pub:      events.NoopPublisher{},
		now:      time.Now,
		instance: uuid.NewString(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Instance identifies this pipeline in flush notifications.
func (p *Pipeline) Instance() string { return p.instance }

// TrackEvent normalizes, validates and queues one event. It never waits for
// the store. A *model.ValidationError lists every violated rule.
func (p *Pipeline) TrackEvent(ctx context.Context, payload model.Payload) (TrackResult, error) {
	e, err := p.prepare(payload)
	if err != nil {
		return TrackResult{}, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return TrackResult{}, ErrClosed
	}
	p.buf = append(p.buf, e)
	size := len(p.buf)
	p.triggerLocked()
	p.mu.Unlock()

	metrics.EventsAccepted.Inc()
	if p.sessions != nil {
		p.sessions.Record(e)
	}
	return TrackResult{Queued: true, BufferSize: size, EventID: e.ID}, nil
}

// TrackBatch queues every valid element of payloads and reports the rest.
// Batches that are empty or larger than MaxBatchEvents are refused whole.
func (p *Pipeline) TrackBatch(ctx context.Context, payloads []model.Payload) (BatchResult, error) {
	switch {
	case len(payloads) == 0:
		return BatchResult{}, ErrEmptyBatch
	case len(payloads) > MaxBatchEvents:
		return BatchResult{}, ErrBatchTooLarge
	}

	res := BatchResult{Errors: []BatchItemError{}}
	accepted := make([]*model.Event, 0, len(payloads))
	for _, pl := range payloads {
		e, err := p.prepare(pl)
		if err != nil {
			item := BatchItemError{Event: pl}
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				item.Errors = ve.Messages()
			} else {
				item.Error = err.Error()
			}
			res.Errors = append(res.Errors, item)
			res.Failed++
			continue
		}
		accepted = append(accepted, e)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return BatchResult{}, ErrClosed
	}
	p.buf = append(p.buf, accepted...)
	p.triggerLocked()
	p.mu.Unlock()

	res.Processed = len(accepted)
	metrics.EventsAccepted.Add(float64(len(accepted)))
	if p.sessions != nil {
		for _, e := range accepted {
			p.sessions.Record(e)
		}
	}
	return res, nil
}

func (p *Pipeline) prepare(payload model.Payload) (*model.Event, error) {
	e := model.Normalize(payload, p.now())
	if err := model.ValidateEvent(e); err != nil {
		metrics.EventsRejected.Inc()
		p.logger.Debug("rejected invalid event", "err", err)
		return nil, err
	}
	if e.ID == "" {
		id, err := idgen.NewEventID()
		if err != nil {
			return nil, fmt.Errorf("assign event id: %w", err)
		}
		e.ID = id
	}
	return e, nil
}

// Len returns the number of buffered events.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Flush writes the buffered events to the store. Only one flush runs at a
// time; a call made while another is in progress returns a zero result.
// On a store outage the events go back to the front of the buffer and the
// error is returned.
func (p *Pipeline) Flush(ctx context.Context) (FlushResult, error) {
	p.mu.Lock()
	snapshot := p.claimLocked()
	p.mu.Unlock()
	if snapshot == nil {
		return FlushResult{}, nil
	}
	return p.write(ctx, snapshot)
}

// claimLocked swaps the buffer for an empty one and marks a flush in
// progress. It returns nil when there is nothing to do.
func (p *Pipeline) claimLocked() []*model.Event {
	if p.flushing || len(p.buf) == 0 {
		return nil
	}
	snapshot := p.buf
	p.buf = nil
	p.flushing = true
	p.flushDone = make(chan struct{})
	metrics.BufferSize.Set(0)
	return snapshot
}

// triggerLocked starts a background flush once the buffer reaches BatchSize.
// The swap happens here, under the caller's lock, so exactly one flush
// claims the batch that crossed the threshold.
func (p *Pipeline) triggerLocked() {
	metrics.BufferSize.Set(float64(len(p.buf)))
	if p.closed || len(p.buf) < p.cfg.BatchSize {
		return
	}
	snapshot := p.claimLocked()
	if snapshot == nil {
		return
	}
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		if _, err := p.write(context.Background(), snapshot); err != nil {
			p.logger.Warn("size-triggered flush failed", "err", err)
		}
	}()
}

func (p *Pipeline) write(ctx context.Context, snapshot []*model.Event) (FlushResult, error) {
	// syncedAt marks when the event reached the store; archive runs select on it.
	syncedAt := p.now().UTC()
	for _, e := range snapshot {
		e.Sync.SyncedAt = syncedAt
	}

	wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	start := time.Now()
	res := p.store.InsertEvents(wctx, snapshot)
	cancel()
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	switch r := res.(type) {
	case store.AllWritten:
		p.finish(nil)
		metrics.FlushesTotal.WithLabelValues(metrics.OutcomeWritten).Inc()
		metrics.EventsFlushed.Add(float64(r.Count))
		p.logger.Info("flushed events", "count", r.Count)
		p.notify(events.TopicFlushCompleted, events.FlushCompleted{Instance: p.instance, Flushed: r.Count, At: p.now().UTC()})
		return FlushResult{Flushed: r.Count}, nil

	case store.PartiallyWritten:
		p.finish(nil)
		metrics.FlushesTotal.WithLabelValues(metrics.OutcomePartial).Inc()
		metrics.EventsFlushed.Add(float64(r.Written))
		metrics.EventsPoisoned.Add(float64(len(r.Failures)))
		p.logger.Warn("dropped events rejected by store",
			"written", r.Written, "failed", len(r.Failures), "reasons", r.Reasons())
		if r.Written > 0 {
			p.notify(events.TopicFlushCompleted, events.FlushCompleted{Instance: p.instance, Flushed: r.Written, Failed: len(r.Failures), At: p.now().UTC()})
		}
		return FlushResult{Flushed: r.Written, Failed: len(r.Failures)}, nil

	case store.AllFailed:
		return FlushResult{}, p.requeue(snapshot, r)

	default:
		return FlushResult{}, p.requeue(snapshot, fmt.Errorf("unexpected write result %T", res))
	}
}

func (p *Pipeline) requeue(snapshot []*model.Event, cause error) error {
	for _, e := range snapshot {
		e.Sync.RetryCount++
	}
	p.finish(snapshot)
	metrics.FlushesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	metrics.EventsRequeued.Add(float64(len(snapshot)))
	p.logger.Warn("flush failed, events re-queued", "count", len(snapshot), "err", cause)
	p.notify(events.TopicFlushFailed, events.FlushFailed{Instance: p.instance, Requeued: len(snapshot), Error: cause.Error(), At: p.now().UTC()})
	return fmt.Errorf("flush %d events: %w", len(snapshot), cause)
}

// finish ends the in-progress flush. Requeued events go ahead of anything
// that arrived during the write.
func (p *Pipeline) finish(requeued []*model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushing = false
	close(p.flushDone)
	p.flushDone = nil
	if len(requeued) > 0 {
		p.buf = slices.Concat(requeued, p.buf)
		metrics.BufferSize.Set(float64(len(p.buf)))
		return
	}
	p.triggerLocked()
}

func (p *Pipeline) notify(topic string, event any) {
	if err := p.pub.Publish(context.Background(), topic, event); err != nil {
		p.logger.Debug("publish flush notification failed", "topic", topic, "err", err)
	}
}

// Start begins the periodic flush. Calling Start again restarts the timer.
func (p *Pipeline) Start() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	p.stopLoopLocked()

	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go p.loop(stop, done)

	p.logger.Info("ingestion pipeline started", "instance", p.instance, "batch_size", p.cfg.BatchSize, "flush_interval", p.cfg.FlushInterval)
}

func (p *Pipeline) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := p.Flush(context.Background()); err != nil {
				p.logger.Warn("periodic flush failed", "err", err)
			}
		}
	}
}

// stopLoopLocked stops the timer goroutine and waits for it to exit,
// including any flush it is running.
func (p *Pipeline) stopLoopLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
}

// Shutdown stops the timer, refuses new events, waits for in-flight flushes
// and drains the buffer. A flush that fails while Shutdown waits leaves its
// events requeued, so the drain repeats until the buffer is empty. The whole
// sequence is bounded by ShutdownTimeout; events still buffered after a
// failure or timeout are logged as lost and the error is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		p.loopMu.Lock()
		p.stopLoopLocked()
		p.loopMu.Unlock()
		p.bg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		return p.lost(fmt.Errorf("waiting for in-flight flushes: %w", ctx.Err()))
	}

	var total FlushResult
	for {
		if err := p.waitFlushed(ctx); err != nil {
			return p.lost(fmt.Errorf("waiting for in-flight flushes: %w", err))
		}
		res, err := p.Flush(ctx)
		if err != nil {
			return p.lost(err)
		}
		total.Flushed += res.Flushed
		total.Failed += res.Failed
		if p.Len() == 0 {
			break
		}
	}
	p.logger.Info("ingestion pipeline stopped", "final_flush", total.Flushed, "dropped", total.Failed)
	return nil
}

// waitFlushed blocks until no flush is running or ctx is done.
func (p *Pipeline) waitFlushed(ctx context.Context) error {
	for {
		p.mu.Lock()
		done := p.flushDone
		p.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) lost(err error) error {
	n := p.Len()
	metrics.EventsLost.Add(float64(n))
	p.logger.Error("shutdown drain failed, buffered events lost", "count", n, "err", err)
	return fmt.Errorf("shutdown: %d events not written: %w", n, err)
}
