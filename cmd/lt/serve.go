package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/learnertrace/internal/archive"
	"github.com/alfredjeanlab/learnertrace/internal/config"
	"github.com/alfredjeanlab/learnertrace/internal/events"
	"github.com/alfredjeanlab/learnertrace/internal/ingest"
	"github.com/alfredjeanlab/learnertrace/internal/metrics"
	"github.com/alfredjeanlab/learnertrace/internal/presence"
	"github.com/alfredjeanlab/learnertrace/internal/store"
	"github.com/alfredjeanlab/learnertrace/internal/store/memory"
	"github.com/alfredjeanlab/learnertrace/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the ingestion pipeline",
	GroupID: "system",
	Long: `Run the ingestion pipeline until SIGINT or SIGTERM.

Configuration comes from LT_* environment variables. With LT_NATS_URL set the
pipeline consumes telemetry.events.track and telemetry.events.batch, answers
telemetry.sessions.active with the live session roster, and publishes flush
and session-ended notifications. On shutdown the buffer is drained with a final
flush bounded by LT_SHUTDOWN_TIMEOUT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var st store.Store
		switch cfg.Store {
		case config.StoreMemory:
			st = memory.New()
			logger.Warn("using in-memory store; events are lost on exit")
		default:
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
		}

		var publisher events.Publisher = events.NoopPublisher{}
		var subscriber *events.NATSSubscriber
		if cfg.NATSURL != "" {
			connLog := []nats.Option{
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					logger.Warn("NATS disconnected", "err", err)
				}),
				nats.ReconnectHandler(func(nc *nats.Conn) {
					logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
				}),
			}
			pub, err := events.NewNATSPublisher(cfg.NATSURL, connLog...)
			if err != nil {
				st.Close()
				return err
			}
			sub, err := events.NewNATSSubscriber(cfg.NATSURL, connLog...)
			if err != nil {
				pub.Close()
				st.Close()
				return err
			}
			publisher, subscriber = pub, sub
			logger.Info("NATS enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS disabled (LT_NATS_URL not set)")
		}

		sessions := presence.New(logger)
		sessions.StartReaper(&presence.ReaperConfig{
			IdleThreshold: cfg.SessionIdleTimeout,
			OnEnded: func(e presence.Entry) {
				pctx, pcancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer pcancel()
				ended := events.SessionEnded{
					SessionID:     e.SessionID,
					ParticipantID: e.ParticipantID,
					EventCount:    e.EventCount,
					LastSeen:      e.LastSeen,
					At:            e.EndedAt,
				}
				if err := publisher.Publish(pctx, events.TopicSessionEnded, ended); err != nil {
					logger.Warn("publish session ended failed", "session", e.SessionID, "err", err)
				}
			},
		})

		pipeline := ingest.New(st, ingest.Config{
			BatchSize:       cfg.BatchSize,
			FlushInterval:   cfg.FlushInterval,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, ingest.WithLogger(logger), ingest.WithPublisher(publisher), ingest.WithSessionTracker(sessions))
		pipeline.Start()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		serveDone := make(chan struct{})
		if subscriber != nil {
			go func() {
				defer close(serveDone)
				if err := pipeline.Serve(ctx, subscriber); err != nil {
					logger.Error("ingestion subscriber error", "err", err)
				}
			}()
		} else {
			close(serveDone)
		}

		var metricsServer *http.Server
		if cfg.MetricsAddr != "" {
			metricsServer = metrics.NewServer(cfg.MetricsAddr)
			go func() {
				logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server error", "err", err)
				}
			}()
		}

		var scheduler *archive.Scheduler
		if cfg.ArchiveEnabled() {
			var dests []archive.Destination
			if cfg.ArchiveS3Bucket != "" {
				s3Dest, err := archive.NewS3Destination(ctx,
					cfg.ArchiveS3Bucket,
					cfg.ArchiveS3Prefix,
					cfg.ArchiveS3Region,
					cfg.ArchiveS3Endpoint,
				)
				if err != nil {
					logger.Error("failed to create S3 archive destination", "err", err)
				} else {
					dests = append(dests, s3Dest)
					logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
				}
			}
			if cfg.ArchiveDir != "" {
				dests = append(dests, archive.NewDirDestination(cfg.ArchiveDir))
				logger.Info("archive directory destination enabled", "dir", cfg.ArchiveDir)
			}
			if len(dests) > 0 {
				scheduler = archive.NewScheduler(st, dests, cfg.ArchiveInterval, cfg.Retention, logger,
					archive.WithCompression(cfg.ArchiveCompress),
					archive.WithSettle(ingest.DefaultConfig().WriteTimeout))
				scheduler.Start()
				logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval, "retention", cfg.Retention, "compression", cfg.ArchiveCompress)
			}
		}

		logger.Info("learnertrace started", "store", cfg.Store, "batch_size", cfg.BatchSize, "flush_interval", cfg.FlushInterval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Stop intake first so the final flush sees every accepted event.
		cancel()
		<-serveDone
		if subscriber != nil {
			subscriber.Close()
		}

		var shutdownErr error
		if err := pipeline.Shutdown(context.Background()); err != nil {
			shutdownErr = err
		}

		sessions.Stop()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		if metricsServer != nil {
			mctx, mcancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			if err := metricsServer.Shutdown(mctx); err != nil {
				logger.Error("metrics server shutdown error", "err", err)
			}
			mcancel()
		}

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return shutdownErr
	},
}
