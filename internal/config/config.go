// Package config loads application configuration from a YAML file with
// environment variable overrides for secrets and deploy-time values.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Importer    ImporterConfig    `yaml:"importer"`
	Protocols   ProtocolConfig    `yaml:"protocols"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	AdminToken  string   `yaml:"admin_token"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GatewayConfig holds WhatsApp gateway settings.
type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// IngestionConfig holds event ingestion settings.
type IngestionConfig struct {
	// DefaultCountryCode is prepended to local phone numbers before hashing.
	DefaultCountryCode string `yaml:"default_country_code"`
	// RuleTablesPath overrides the embedded status mapping tables.
	RuleTablesPath string `yaml:"rule_tables_path"`
}

// ImporterConfig holds batch import settings, including the optional S3
// drop-bucket poller.
type ImporterConfig struct {
	Enabled         bool   `yaml:"enabled"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	S3Prefix        string `yaml:"s3_prefix"`
	AWSProfile      string `yaml:"aws_profile"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// ProtocolConfig holds protocol thresholds. Hour values are the live
// parameters the calibration engine is allowed to adjust within bounds.
type ProtocolConfig struct {
	NoMovementHours int `yaml:"no_movement_hours"`
	AtOfficeHours   int `yaml:"at_office_hours"`
	// StalenessGraceDays: guides whose last event is older than this are
	// skipped by the protocol engine entirely. Upstream behavior is not
	// fully specified, so this is an explicit knob with a conservative
	// default rather than an inferred constant.
	StalenessGraceDays int      `yaml:"staleness_grace_days"`
	ResolvedKeywords   []string `yaml:"resolved_keywords"`
}

// PilotSegment is one city/carrier combination in the pilot allow-list.
type PilotSegment struct {
	City    string `yaml:"city"`
	Carrier string `yaml:"carrier"`
}

// ExecutorConfig holds action executor settings.
type ExecutorConfig struct {
	BatchSize          int  `yaml:"batch_size"`
	GlobalPerMinute    int  `yaml:"global_per_minute"`
	PerPhonePerDay     int  `yaml:"per_phone_per_day"`
	AbsolutePerDay     int  `yaml:"absolute_per_day"`
	StuckAfterSendDays int  `yaml:"stuck_after_send_days"`
	PilotEnabled       bool `yaml:"pilot_enabled"`
	// PilotSegments restricts execution to these city/carrier pairs when
	// PilotEnabled; actions outside the list stay PLANNED.
	PilotSegments []PilotSegment `yaml:"pilot_segments"`
}

// CalibrationConfig holds calibration feedback loop settings.
type CalibrationConfig struct {
	Enabled            bool    `yaml:"enabled"`
	DryRun             bool    `yaml:"dry_run"`
	MaxChangesPerRun   int     `yaml:"max_changes_per_run"`
	CooldownHours      int     `yaml:"cooldown_hours"`
	MinSampleSize      int     `yaml:"min_sample_size"`
	ThresholdStepHours int     `yaml:"threshold_step_hours"`
	ThresholdMinHours  int     `yaml:"threshold_min_hours"`
	ThresholdMaxHours  int     `yaml:"threshold_max_hours"`
	Moved48TargetPct   float64 `yaml:"moved_48h_target_pct"`
}

// Load reads and validates configuration from a YAML file, applying
// defaults for everything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 30
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = 3
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Ingestion.DefaultCountryCode == "" {
		cfg.Ingestion.DefaultCountryCode = "57"
	}
	if cfg.Importer.IntervalMinutes == 0 {
		cfg.Importer.IntervalMinutes = 5
	}
	if cfg.Protocols.NoMovementHours == 0 {
		cfg.Protocols.NoMovementHours = 48
	}
	if cfg.Protocols.AtOfficeHours == 0 {
		cfg.Protocols.AtOfficeHours = 72
	}
	if cfg.Protocols.StalenessGraceDays == 0 {
		cfg.Protocols.StalenessGraceDays = 14
	}
	if len(cfg.Protocols.ResolvedKeywords) == 0 {
		cfg.Protocols.ResolvedKeywords = []string{"resuelto", "entregado", "solucionado"}
	}
	if cfg.Executor.BatchSize == 0 {
		cfg.Executor.BatchSize = 50
	}
	if cfg.Executor.GlobalPerMinute == 0 {
		cfg.Executor.GlobalPerMinute = 60
	}
	if cfg.Executor.PerPhonePerDay == 0 {
		cfg.Executor.PerPhonePerDay = 2
	}
	if cfg.Executor.AbsolutePerDay == 0 {
		cfg.Executor.AbsolutePerDay = 5000
	}
	if cfg.Executor.StuckAfterSendDays == 0 {
		cfg.Executor.StuckAfterSendDays = 3
	}
	if cfg.Calibration.MaxChangesPerRun == 0 {
		cfg.Calibration.MaxChangesPerRun = 2
	}
	if cfg.Calibration.CooldownHours == 0 {
		cfg.Calibration.CooldownHours = 72
	}
	if cfg.Calibration.MinSampleSize == 0 {
		cfg.Calibration.MinSampleSize = 30
	}
	if cfg.Calibration.ThresholdStepHours == 0 {
		cfg.Calibration.ThresholdStepHours = 6
	}
	if cfg.Calibration.ThresholdMinHours == 0 {
		cfg.Calibration.ThresholdMinHours = 24
	}
	if cfg.Calibration.ThresholdMaxHours == 0 {
		cfg.Calibration.ThresholdMaxHours = 120
	}
	if cfg.Calibration.Moved48TargetPct == 0 {
		cfg.Calibration.Moved48TargetPct = 50
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars on the host.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WA_GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("WA_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("IMPORTER_S3_BUCKET"); v != "" {
		cfg.Importer.S3Bucket = v
	}
	if v := os.Getenv("IMPORTER_S3_REGION"); v != "" {
		cfg.Importer.S3Region = v
	}

	return cfg, nil
}
