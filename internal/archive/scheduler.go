// Package archive exports flushed research events as JSONL to S3 or a local
// directory on a schedule and enforces the retention window afterwards.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/alfredjeanlab/learnertrace/internal/metrics"
	"github.com/alfredjeanlab/learnertrace/internal/store"
)

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	retention    time.Duration
	logger       *slog.Logger
	compression  string
	settle       time.Duration
	now          func() time.Time

	// watermark is the upper bound of the last successful export. Zero
	// until the first run, which therefore exports a full snapshot.
	mu        sync.Mutex
	watermark time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compression codecs for exports.
const (
	CompressionNone   = ""
	CompressionSnappy = "snappy"
)

// DefaultSettle is how far behind the clock a run's upper bound trails, so
// writes stamped just before a run but not yet committed fall into the next one.
const DefaultSettle = 30 * time.Second

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCompression compresses each export with codec before upload.
// Snappy exports use the block format and get a ".sz" suffix.
func WithCompression(codec string) SchedulerOption {
	return func(s *Scheduler) { s.compression = codec }
}

// WithSettle sets how far behind the clock each run stops. It should be at
// least the ingestion write timeout.
func WithSettle(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.settle = max(d, 0) }
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval. A positive retention purges
// events older than now-retention after each successful export.
func NewScheduler(s store.Store, destinations []Destination, interval, retention time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	sched := &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		retention:    retention,
		logger:       logger,
		settle:       DefaultSettle,
		now:          time.Now,
	}
	for _, o := range opts {
		o(sched)
	}
	return sched
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("archive run failed", "err", err)
	}
}

// RunOnce exports events synced since the last successful run to every
// destination, then purges expired events. The watermark only advances when
// all destinations accepted the export, so a failed run is retried in full.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := s.watermark, s.now().UTC().Add(-s.settle)
	full := from.IsZero()

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.store, from, to, &buf)
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return fmt.Errorf("export: %w", err)
	}

	if n > 0 {
		name, data := ObjectName(to, full), buf.Bytes()
		if s.compression == CompressionSnappy {
			name, data = name+".sz", snappy.Encode(nil, data)
		}
		var errs []error
		for i, dest := range s.destinations {
			if err := dest.Write(ctx, name, data); err != nil {
				s.logger.Error("archive destination write failed", "destination", i, "name", name, "err", err)
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			metrics.ArchiveRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
			return fmt.Errorf("write %s: %w", name, errors.Join(errs...))
		}
		metrics.EventsArchived.Add(float64(n))
		s.logger.Info("archive completed", "name", name, "events", n, "destinations", len(s.destinations), "bytes", len(data))
	}
	s.watermark = to
	metrics.ArchiveRuns.WithLabelValues(metrics.OutcomeWritten).Inc()

	if s.retention > 0 {
		cutoff := to.Add(-s.retention)
		purged, err := s.store.PurgeBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		if purged > 0 {
			metrics.EventsPurged.Add(float64(purged))
			s.logger.Info("purged expired events", "count", purged, "cutoff", cutoff)
		}
	}
	return nil
}

// Watermark returns the upper bound of the last successful export.
func (s *Scheduler) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}
