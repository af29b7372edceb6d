// Command venueflow runs the venue tracking pipeline: it ingests device
// observations over MQTT, aggregates them into live tracks, derives zone
// visits, queue sessions, occupancy and alerts, persists everything to
// SQLite through the spool, and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/retailsense/venueflow/internal/api"
	"github.com/retailsense/venueflow/internal/config"
	"github.com/retailsense/venueflow/internal/engine"
	"github.com/retailsense/venueflow/internal/events"
	"github.com/retailsense/venueflow/internal/fsutil"
	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/ingest"
	"github.com/retailsense/venueflow/internal/kpi"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/publish"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/track"
	"github.com/retailsense/venueflow/internal/version"
	"github.com/retailsense/venueflow/internal/zones"
)

var (
	listen      = flag.String("listen", envOr("VENUEFLOW_LISTEN", ":8080"), "HTTP listen address")
	dbPath      = flag.String("db", envOr("VENUEFLOW_DB", "venueflow.db"), "SQLite database path")
	zonesPath   = flag.String("zones", envOr("VENUEFLOW_ZONES", "zones.json"), "Zone definition file")
	placePath   = flag.String("placements", envOr("VENUEFLOW_PLACEMENTS", ""), "Device placement file (optional)")
	tuningPath  = flag.String("tuning", envOr("VENUEFLOW_TUNING", ""), "Tuning config file (optional)")
	venueID     = flag.String("venue", envOr("VENUEFLOW_VENUE", "default"), "Venue identifier")
	mqttBroker  = flag.String("mqtt", envOr("VENUEFLOW_MQTT", "tcp://localhost:1883"), "MQTT broker URL, empty disables ingest")
	mqttTopic   = flag.String("mqtt-topic", envOr("VENUEFLOW_MQTT_TOPIC", "venueflow/observations/#"), "MQTT topic filter")
	kafkaAddrs  = flag.String("kafka", envOr("VENUEFLOW_KAFKA", ""), "Comma-separated Kafka brokers, empty disables publishing")
	kafkaTopic  = flag.String("kafka-topic", envOr("VENUEFLOW_KAFKA_TOPIC", "venueflow.events"), "Kafka topic for outbound events")
	zoneRefresh = flag.Duration("zone-refresh", 30*time.Second, "Zone registry poll interval")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadPlacements reads the device placement file: a JSON object mapping
// device IDs to their mount placements.
func loadPlacements(path string) (map[string]geo.Placement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read placements: %w", err)
	}
	placements := map[string]geo.Placement{}
	if err := json.Unmarshal(data, &placements); err != nil {
		return nil, fmt.Errorf("parse placements %s: %w", path, err)
	}
	return placements, nil
}

func main() {
	// .env is optional; flags and real environment win over it.
	godotenv.Load()
	flag.Parse()
	monitoring.Verbose = *verbose
	log.Printf("venueflow %s", version.String())

	cfg := &config.TuningConfig{}
	if *tuningPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	registry := zones.NewRegistry(&zones.FileProvider{Path: *zonesPath}, clock)
	if err := registry.Refresh(ctx); err != nil {
		log.Fatalf("failed to load zones: %v", err)
	}

	agg := track.NewAggregator(track.Config{
		TrackTTL:      cfg.GetTrackTTL(),
		TrailCap:      cfg.GetTrailCap(),
		BatchInterval: cfg.GetBatchInterval(),
	}, registry, clock)

	if *placePath != "" {
		placements, err := loadPlacements(*placePath)
		if err != nil {
			log.Fatalf("failed to load placements: %v", err)
		}
		for deviceID, p := range placements {
			agg.RegisterPlacement(deviceID, p)
		}
		log.Printf("registered %d device placements", len(placements))
	}

	bus := &events.Bus{}
	eng := engine.New(cfg, *venueID, registry, db, bus, fsutil.OSFileSystem{}, clock)
	agg.OnBatch = func(b track.Batch) {
		eng.HandleBatch(b)
		bus.PublishBatch(b)
	}
	agg.OnRemoved = eng.HandleRemoval

	var wg sync.WaitGroup

	if *kafkaAddrs != "" {
		pub := publish.New(strings.Split(*kafkaAddrs, ","), *kafkaTopic, *venueID)
		defer pub.Close()
		pub.Attach(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
			log.Print("kafka publisher stopped")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx, *zoneRefresh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		agg.Run(ctx)
		log.Print("track aggregator stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
		log.Print("storage engine stopped")
	}()

	if *mqttBroker != "" {
		sub := ingest.NewSubscriber(*mqttBroker, *mqttTopic, agg)
		if err := sub.Start(); err != nil {
			log.Fatalf("failed to start MQTT ingest: %v", err)
		}
		defer sub.Stop()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		calc := kpi.New(db, registry, cfg.GetRestSpeedMps())
		handler, err := api.NewServer(db, registry, agg, calc, clock).Handler()
		if err != nil {
			log.Fatalf("failed to build HTTP handler: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: handler,
		}

		go func() {
			log.Printf("serving HTTP on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Print("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
