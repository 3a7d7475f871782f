package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

gateway:
  base_url: "https://wa.example.com/api"
  timeout_seconds: 45

protocols:
  no_movement_hours: 36
  at_office_hours: 96

executor:
  global_per_minute: 20
  pilot_enabled: true
  pilot_segments:
    - { city: "Bogota", carrier: "SERVIENTREGA" }

calibration:
  dry_run: true
  max_changes_per_run: 1
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://wa.example.com/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 45, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, 36, cfg.Protocols.NoMovementHours)
	assert.Equal(t, 96, cfg.Protocols.AtOfficeHours)
	assert.Equal(t, 20, cfg.Executor.GlobalPerMinute)
	assert.True(t, cfg.Executor.PilotEnabled)
	require.Len(t, cfg.Executor.PilotSegments, 1)
	assert.Equal(t, "Bogota", cfg.Executor.PilotSegments[0].City)
	assert.True(t, cfg.Calibration.DryRun)
	assert.Equal(t, 1, cfg.Calibration.MaxChangesPerRun)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8081\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 48, cfg.Protocols.NoMovementHours)
	assert.Equal(t, 72, cfg.Protocols.AtOfficeHours)
	assert.Equal(t, 14, cfg.Protocols.StalenessGraceDays)
	assert.Contains(t, cfg.Protocols.ResolvedKeywords, "resuelto")
	assert.Equal(t, 60, cfg.Executor.GlobalPerMinute)
	assert.Equal(t, 2, cfg.Executor.PerPhonePerDay)
	assert.Equal(t, 5000, cfg.Executor.AbsolutePerDay)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, "57", cfg.Ingestion.DefaultCountryCode)
	assert.Equal(t, 2, cfg.Calibration.MaxChangesPerRun)
	assert.Equal(t, 72, cfg.Calibration.CooldownHours)
	assert.Equal(t, 24, cfg.Calibration.ThresholdMinHours)
	assert.Equal(t, 120, cfg.Calibration.ThresholdMaxHours)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
database:
  url: "postgres://localhost/guides"
gateway:
  api_key: "from-yaml"
`), 0644))

	t.Setenv("DATABASE_URL", "postgres://prod-host/guides")
	t.Setenv("WA_GATEWAY_API_KEY", "from-env")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://prod-host/guides", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.Gateway.APIKey)
}
