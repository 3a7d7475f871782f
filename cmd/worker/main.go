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

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/eventlog"
	"github.com/ignite/shipment-monitor/internal/executor"
	"github.com/ignite/shipment-monitor/internal/gateway"
	"github.com/ignite/shipment-monitor/internal/importer"
	"github.com/ignite/shipment-monitor/internal/normalizer"
	"github.com/ignite/shipment-monitor/internal/outcome"
	"github.com/ignite/shipment-monitor/internal/piivault"
	"github.com/ignite/shipment-monitor/internal/pkg/distlock"
	"github.com/ignite/shipment-monitor/internal/protocol"
	"github.com/ignite/shipment-monitor/internal/repository/postgres"
	"github.com/ignite/shipment-monitor/internal/ticket"
)

func main() {
	log.Println("Starting shipment-monitor worker...")

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

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancelPing()
	log.Println("Connected to database")

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	tables, err := normalizer.LoadDefaultTables()
	if cfg.Ingestion.RuleTablesPath != "" {
		tables, err = normalizer.LoadTablesFile(cfg.Ingestion.RuleTablesPath)
	}
	if err != nil {
		log.Fatalf("Failed to load status rule tables: %v", err)
	}
	norm := normalizer.New(tables)

	eventRepo := postgres.NewEventRepo(db)
	actionRepo := postgres.NewActionRepo(db)
	ticketRepo := postgres.NewTicketRepo(db)
	outcomeRepo := postgres.NewOutcomeRepo(db)
	calRepo := postgres.NewCalibrationRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the calibratable parameters from config so calibration always
	// has a row to adjust. Existing values win.
	seedParams(ctx, calRepo, cfg)

	vault := piivault.New()
	ingest := eventlog.NewService(norm, eventRepo, vault, cfg.Ingestion.DefaultCountryCode)
	imp := importer.New(ingest)

	if cfg.Importer.Enabled && cfg.Importer.S3Bucket != "" {
		poller, err := importer.NewS3Poller(ctx, imp, cfg.Importer, redisClient)
		if err != nil {
			log.Fatalf("Failed to start importer poller: %v", err)
		}
		go poller.Run(ctx)
		log.Printf("Importer poller started (bucket %s, every %dm)",
			cfg.Importer.S3Bucket, cfg.Importer.IntervalMinutes)
	}

	pause := outcome.NewPauseList(redisClient)
	staleGrace := time.Duration(cfg.Protocols.StalenessGraceDays) * 24 * time.Hour

	limiter := executor.NewRateLimiter(redisClient, executor.RateLimits{
		GlobalPerMinute: cfg.Executor.GlobalPerMinute,
		PerPhonePerDay:  cfg.Executor.PerPhonePerDay,
		AbsolutePerDay:  cfg.Executor.AbsolutePerDay,
	})
	exec := executor.New(actionRepo, eventRepo, vault, limiter,
		gateway.NewClient(cfg.Gateway), executor.NewTemplateService(), outcomeRepo,
		cfg.Executor, cfg.Gateway.MaxRetries)

	tickets := ticket.New(ticketRepo, actionRepo, outcomeRepo, eventRepo, cfg.Executor.StuckAfterSendDays)
	sweeper := outcome.NewSweeper(outcomeRepo, eventRepo, ticketRepo)
	reporter := outcome.NewReporter(outcomeRepo, calRepo, calRepo, cfg.Calibration)
	calibrator := outcome.NewCalibrator(calRepo, pause,
		distlock.NewLock(redisClient, db, "calibration", 10*time.Minute), cfg.Calibration)

	// Planning tick. Thresholds re-read each pass so calibration changes
	// take effect without a restart.
	go runEvery(ctx, 5*time.Minute, func(now time.Time) {
		engine := protocol.NewEngine(currentProtocols(ctx, calRepo, cfg), eventRepo, actionRepo, pause, staleGrace)
		if summary, err := engine.Tick(ctx, now); err != nil {
			log.Printf("Protocol tick failed: %v", err)
		} else if summary.Planned > 0 {
			log.Printf("Protocol tick: %d evaluated, %d planned", summary.Evaluated, summary.Planned)
		}
	})

	// Execution tick.
	go runEvery(ctx, time.Minute, func(now time.Time) {
		if _, err := exec.RunOnce(ctx, cfg.Executor.BatchSize); err != nil {
			log.Printf("Executor run failed: %v", err)
		}
	})

	// Escalation tick.
	go runEvery(ctx, 10*time.Minute, func(now time.Time) {
		if _, err := tickets.Sweep(ctx, now); err != nil {
			log.Printf("Ticket sweep failed: %v", err)
		}
	})

	// Measurement tick.
	go runEvery(ctx, time.Hour, func(now time.Time) {
		if _, err := sweeper.Run(ctx, now); err != nil {
			log.Printf("Outcome sweep failed: %v", err)
		}
	})

	// Daily calibration.
	if cfg.Calibration.Enabled {
		go runEvery(ctx, 24*time.Hour, func(now time.Time) {
			report, err := reporter.BuildDaily(ctx, now.Add(-24*time.Hour))
			if err != nil {
				log.Printf("Calibration report failed: %v", err)
				return
			}
			if len(report.Recommendations) == 0 {
				return
			}
			if _, err := calibrator.Apply(ctx, "calibration-worker", report.Recommendations); err != nil {
				log.Printf("Calibration apply failed: %v", err)
			}
		})
	}

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	vault.Clear()
	time.Sleep(2 * time.Second)
	log.Println("Worker stopped")
}

// runEvery runs fn immediately and then on every tick until ctx ends.
func runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// currentProtocols builds the ordered protocol list from the live
// calibration parameters, falling back to config values.
func currentProtocols(ctx context.Context, params *postgres.CalibrationRepo, cfg *config.Config) []protocol.Protocol {
	atOffice := float64(cfg.Protocols.AtOfficeHours)
	if v, err := params.Param(ctx, outcome.ParamAtOfficeHours); err == nil && v > 0 {
		atOffice = v
	}
	noMovement := float64(cfg.Protocols.NoMovementHours)
	if v, err := params.Param(ctx, outcome.ParamNoMovementHours); err == nil && v > 0 {
		noMovement = v
	}
	return []protocol.Protocol{
		protocol.AtOffice{Hours: atOffice},
		protocol.NoMovement{Hours: noMovement, ResolvedKeywords: cfg.Protocols.ResolvedKeywords},
	}
}

func seedParams(ctx context.Context, params *postgres.CalibrationRepo, cfg *config.Config) {
	if err := params.SeedParam(ctx, outcome.ParamNoMovementHours, float64(cfg.Protocols.NoMovementHours)); err != nil {
		log.Printf("Failed to seed %s: %v", outcome.ParamNoMovementHours, err)
	}
	if err := params.SeedParam(ctx, outcome.ParamAtOfficeHours, float64(cfg.Protocols.AtOfficeHours)); err != nil {
		log.Printf("Failed to seed %s: %v", outcome.ParamAtOfficeHours, err)
	}
}
