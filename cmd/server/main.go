package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"

	"github.com/ignite/shipment-monitor/internal/api"
	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/eventlog"
	"github.com/ignite/shipment-monitor/internal/importer"
	"github.com/ignite/shipment-monitor/internal/normalizer"
	"github.com/ignite/shipment-monitor/internal/outcome"
	"github.com/ignite/shipment-monitor/internal/piivault"
	"github.com/ignite/shipment-monitor/internal/pkg/distlock"
	"github.com/ignite/shipment-monitor/internal/protocol"
	"github.com/ignite/shipment-monitor/internal/repository/postgres"
)

func main() {
	log.Println("Starting shipment-monitor API server...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	tables, err := loadTables(cfg.Ingestion.RuleTablesPath)
	if err != nil {
		log.Fatalf("Failed to load status rule tables: %v", err)
	}
	norm := normalizer.New(tables)

	eventRepo := postgres.NewEventRepo(db)
	calRepo := postgres.NewCalibrationRepo(db)

	// The API process never executes sends, so its vault only buffers
	// phones between ingest and the worker's next import cycle.
	vault := piivault.New()
	ingest := eventlog.NewService(norm, eventRepo, vault, cfg.Ingestion.DefaultCountryCode)
	imp := importer.New(ingest)

	sim := protocol.NewSimulator([]protocol.Protocol{
		protocol.AtOffice{Hours: float64(cfg.Protocols.AtOfficeHours)},
		protocol.NoMovement{
			Hours:            float64(cfg.Protocols.NoMovementHours),
			ResolvedKeywords: cfg.Protocols.ResolvedKeywords,
		},
	})

	pause := outcome.NewPauseList(redisClient)
	calibrator := outcome.NewCalibrator(calRepo, pause,
		distlock.NewLock(redisClient, db, "calibration", 10*time.Minute), cfg.Calibration)

	staleGrace := time.Duration(cfg.Protocols.StalenessGraceDays) * 24 * time.Hour
	handlers := api.NewHandlers(ingest, imp, sim, eventRepo, calRepo, calibrator,
		db, redisClient, staleGrace)
	server := api.NewServer(cfg.Server, handlers, cfg.Server.AdminToken)

	go func() {
		log.Printf("Listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(cfg.Server.Host, cfg.Server.Port); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	vault.Clear()
	log.Println("Server stopped")
}

func loadTables(path string) (*normalizer.Tables, error) {
	if path != "" {
		return normalizer.LoadTablesFile(path)
	}
	return normalizer.LoadDefaultTables()
}
