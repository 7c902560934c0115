package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gtfs-reconciler/internal/api"
	"gtfs-reconciler/internal/config"
	"gtfs-reconciler/internal/consumer"
	"gtfs-reconciler/internal/db"
	"gtfs-reconciler/internal/gtfs"
	"gtfs-reconciler/internal/metrics"
	"gtfs-reconciler/internal/profiling"
	"gtfs-reconciler/internal/publisher"
	"gtfs-reconciler/internal/reconcile"
	"gtfs-reconciler/internal/schedule"
	"gtfs-reconciler/internal/snapshot"
	"gtfs-reconciler/internal/stream"
	"gtfs-reconciler/internal/tracing"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopProfiling := profiling.Init("gtfs-reconciler")
	defer stopProfiling()
	stopTracing, err := tracing.Init(ctx, "gtfs-reconciler")
	if err != nil {
		log.Fatalf("tracing error: %v", err)
	}
	defer stopTracing()

	// The schedule must be in memory before anything consumes or serves.
	repo, err := loadSchedule(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// Metrics setup; without METRICS_ADDR they are served on the API listener.
	mcol := metrics.NewCollector(cfg.PollInterval, cfg.FaultBackoff)
	var metricsHandler http.Handler
	if cfg.MetricsAddr != "" {
		msrv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(msrv)
	} else {
		metricsHandler = mcol.Handler()
	}

	// NATS carries both the position log and the optional snapshot fan-out.
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, "gtfs-reconciler", cfg.NATSSnapshotSubject, cfg.LogNATSSubjects, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()
	if err := pub.EnsureStream(ctx, cfg.NATSStreamName, []string{cfg.FeedSubject}, cfg.StreamMaxAge); err != nil {
		log.Fatalf("nats error: %v", err)
	}
	positions, err := stream.NewJetStreamLog(ctx, pub.Conn(), cfg.NATSStreamName, cfg.StreamBatchLimit)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}

	store := snapshot.NewStore()
	hub := api.NewHub(mcol)
	sinks := []consumer.SnapshotSink{hub}
	if cfg.NATSSnapshotSubject != "" {
		sinks = append(sinks, pub)
	}
	rec := reconcile.New(repo, reconcile.Options{
		ScheduleLocation: cfg.ScheduleLocation,
		DisplayLocation:  cfg.DisplayLocation,
	})
	cons := consumer.New(positions, rec, store, consumer.Options{
		PollInterval: cfg.PollInterval,
		FaultBackoff: cfg.FaultBackoff,
		Metrics:      mcol,
		Sinks:        sinks,
	})

	handler := api.NewServer(store, repo.Stats(), hub, api.Options{
		StaleAfter: cfg.StaleAfter,
		Metrics:    metricsHandler,
	}).Handler()
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
			cancel()
		}
	}()
	log.Printf("api listening on %s", cfg.HTTPAddr)

	cons.Start(ctx)

	// Block until context cancelled
	<-ctx.Done()
	cons.Stop()
	hub.Close()
	shutdown(srv)
	log.Println("shutdown complete")
}

// loadSchedule reads the schedule from Postgres when a database is
// configured, otherwise from the reference files under SCHEDULE_PATH.
func loadSchedule(ctx context.Context, cfg *config.Config) (*schedule.Repository, error) {
	if cfg.ScheduleDatabaseURL == "" {
		return schedule.Load(ctx, cfg.SchedulePath, cfg.ScheduleURL)
	}
	return schedule.LoadFrom(ctx, func(ctx context.Context) (*gtfs.Feed, error) {
		sqlDB, err := db.Connect(ctx, cfg.ScheduleDatabaseURL, cfg.City)
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
		return db.FetchFeed(ctx, sqlDB)
	})
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
