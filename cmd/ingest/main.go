package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"gtfs-reconciler/internal/config"
	"gtfs-reconciler/internal/ingest"
	"gtfs-reconciler/internal/metrics"
	"gtfs-reconciler/internal/profiling"
	"gtfs-reconciler/internal/publisher"
	"gtfs-reconciler/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.FeedURL == "" {
		log.Fatalf("config error: FEED_URL must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopProfiling := profiling.Init("gtfs-ingest")
	defer stopProfiling()
	stopTracing, err := tracing.Init(ctx, "gtfs-ingest")
	if err != nil {
		log.Fatalf("tracing error: %v", err)
	}
	defer stopTracing()

	mcol := metrics.NewCollector(cfg.PollInterval, cfg.FaultBackoff)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// Snapshot fan-out is the reconciler's job; the ingest side only appends.
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, "gtfs-ingest", "", cfg.LogNATSSubjects, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()
	if err := pub.EnsureStream(ctx, cfg.NATSStreamName, []string{cfg.FeedSubject}, cfg.StreamMaxAge); err != nil {
		log.Fatalf("nats error: %v", err)
	}

	p := ingest.NewPoller(cfg.FeedURL, cfg.FeedSubject, pub, ingest.Options{
		Interval: cfg.IngestInterval,
		Metrics:  mcol,
	})
	log.Printf("polling %s every %s into %s", cfg.FeedURL, cfg.IngestInterval, cfg.FeedSubject)
	p.Run(ctx)
	log.Println("shutdown complete")
}
