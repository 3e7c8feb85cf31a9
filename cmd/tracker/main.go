package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"transit-tracker/internal/api"
	"transit-tracker/internal/config"
	"transit-tracker/internal/course"
	"transit-tracker/internal/extrapolate"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/refdata"
	"transit-tracker/internal/scheduler"
	"transit-tracker/internal/stopindex"
	"transit-tracker/internal/store"
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

	// Resolve reference database if CITY is set; connect to the cluster's
	// meta DB first (usually 'postgres') to find the latest import.
	finalDSN := cfg.DatabaseURL
	if cfg.City != "" {
		metaDSN, err := refdata.MetaDSN(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("invalid base DSN: %v", err)
		}
		metaDB, err := store.Open(metaDSN)
		if err != nil {
			log.Fatalf("db open (meta) error: %v", err)
		}
		if err := store.Ping(ctx, metaDB); err != nil {
			log.Fatalf("db ping (meta) error: %v", err)
		}
		name, err := refdata.ResolveLatestImportDBName(ctx, metaDB, cfg.City)
		metaDB.Close()
		if err != nil {
			log.Fatalf("resolve latest import for city %q: %v", cfg.City, err)
		}
		finalDSN, err = refdata.ImportDSN(cfg.DatabaseURL, name)
		if err != nil {
			log.Fatalf("compose DSN: %v", err)
		}
		log.Printf("Using database %q for city %q", name, cfg.City)
	}

	sqlDB, err := store.Open(finalDSN)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := store.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.StaleTimeout, cfg.EvictInterval, cfg.Horizon)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Position store: durable rows in Postgres, hot view in memory
	persister, err := store.NewPGPersister(ctx, sqlDB)
	if err != nil {
		log.Fatalf("position schema error: %v", err)
	}
	positions := store.New(persister, store.WithClockSkewTolerance(cfg.ClockSkew))
	if err := positions.Warm(ctx); err != nil {
		log.Fatalf("warm position store: %v", err)
	}
	log.Printf("warmed %d vehicle positions", positions.Len())

	// Immutable stop/trip reference graph
	graph, err := refdata.Load(ctx, sqlDB)
	if err != nil {
		log.Fatalf("load reference data: %v", err)
	}
	index := stopindex.New(graph.Stops, graph.Trips)
	log.Printf("indexed %d stops, %d trips", len(graph.Stops), len(graph.Trips))

	engine := extrapolate.New(cfg.Horizon)
	matcher := course.New(positions, index, engine, course.WithMinSpeedKph(cfg.MinSpeedKph))

	// HTTP query surface
	apiSrv := api.NewServer(positions, index, engine, matcher, cfg.NextStopsLimit).Start(cfg.HTTPAddr)

	// Publisher for accepted positions
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.PositionSubjectPfx, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	// Ingest pipeline and its feeders
	pipelineOpts := []ingest.Option{ingest.WithPublisher(pub)}
	if mcol != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithMetrics(mcol))
	}
	pipeline := ingest.New(positions, pipelineOpts...)

	consumer, err := ingest.NewConsumer(cfg.NATSURL, pipeline)
	if err != nil {
		log.Fatalf("nats consumer error: %v", err)
	}
	defer consumer.Close()
	if err := consumer.Subscribe(ctx, cfg.ReportSubject); err != nil {
		log.Fatalf("subscribe %s: %v", cfg.ReportSubject, err)
	}

	if cfg.GTFSRTVehiclesURL != "" {
		poller := ingest.NewRTPoller(cfg.GTFSRTVehiclesURL, cfg.GTFSRTPollInterval, pipeline)
		go poller.Run(ctx)
		log.Printf("polling GTFS-RT vehicles from %s every %s", cfg.GTFSRTVehiclesURL, cfg.GTFSRTPollInterval)
	}

	// Periodic stale-position eviction
	schedOpts := []scheduler.Option{}
	if mcol != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(mcol))
	}
	sched := scheduler.New(positions, cfg.EvictInterval, cfg.StaleTimeout, schedOpts...)
	sched.Start(ctx)

	// Track live vehicle count while running
	if mcol != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mcol.LiveVehicles.Set(float64(positions.Len()))
				}
			}
		}()
	}

	// Block until context cancelled
	<-ctx.Done()
	api.Shutdown(apiSrv)
	sched.Wait()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts the Collector to the PublisherMetrics
// interface without handing the publisher a typed nil.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

