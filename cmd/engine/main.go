// Package main is the entry point for the optiplane engine: the
// scheduler, the learning-cycle pipeline, and the operator HTTP API
// all run in this one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optiplane/internal/alerting"
	"optiplane/internal/analyzer"
	"optiplane/internal/audit"
	"optiplane/internal/config"
	"optiplane/internal/controller"
	"optiplane/internal/detector"
	"optiplane/internal/engine"
	"optiplane/internal/logger"
	"optiplane/internal/observability"
	"optiplane/internal/optimizer"
	"optiplane/internal/store"
	"optiplane/internal/store/postgres"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// securityMonitor feeds denied API accesses into the audit trail and
// escalates anomalous ones to the alert manager.
type securityMonitor struct {
	recorder *audit.Recorder
	alerts   *alerting.Manager
}

func (s *securityMonitor) RecordAccess(ctx context.Context, ev audit.AccessEvent) (*store.SecurityEvent, error) {
	event, err := s.recorder.RecordAccess(ctx, ev)
	if err != nil {
		return nil, err
	}
	if event.AnomalyFlag {
		if alertErr := s.alerts.RaiseSecurity(ctx, event); alertErr != nil {
			return event, alertErr
		}
	}
	return event, nil
}

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: environment only)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	// Setup Database
	ctx := context.Background()
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(st.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "optiplane-engine", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	engineMetrics, err := observability.NewEngineMetrics()
	if err != nil {
		log.Fatalf("Failed to create engine metrics: %v", err)
	}

	// Use an Observable Gauge (Async) that queries the DB only when scraped.
	meter := otel.Meter("optiplane-engine")
	_, err = meter.Int64ObservableGauge("optiplane.alerts.active",
		metric.WithDescription("Current number of unresolved alerts across all tenants"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := st.CountActiveAlerts(ctx)
			if err != nil {
				log.Printf("Failed to count active alerts: %v", err)
				return nil // Don't crash metrics scrape on DB error
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register active alerts metric: %v", err)
	}

	// Engine components
	recorder := audit.New(st, slogger)
	alerts := alerting.New(st, recorder, slogger)
	an := analyzer.New(st, recorder, slogger)
	det := detector.New(st, recorder, slogger)
	opt := optimizer.New(st, recorder, slogger)

	pipeline := engine.NewPipeline(cfg, st, an, det, opt, recorder, alerts, engineMetrics, slogger)
	scheduler := engine.NewScheduler(cfg, st, pipeline, slogger)

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, controller.Deps{
		Store:         st,
		Tenants:       st,
		Recorder:      recorder,
		Security:      &securityMonitor{recorder: recorder, alerts: alerts},
		Cycles:        pipeline,
		IngestToken:   cfg.IngestToken,
		Metrics:       metricsHandler,
		EngineMetrics: engineMetrics,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := scheduler.Start(runCtx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		log.Printf("Optiplane engine starting on %s", addr)
		if err := srv.Run(runCtx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down engine...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Engine exited properly")
}
