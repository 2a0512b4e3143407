package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.DataPort)
	assert.Equal(t, 8081, cfg.Server.UIPort)
	assert.Equal(t, 20.0, cfg.Scoring.FuelThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Scoring.RecentWindow)
	assert.Equal(t, 1.5, cfg.Scoring.CategoryMultipliers["excavator"])
	assert.Equal(t, 4800.0, cfg.Scoring.CategoryRates["truck"])
	assert.Equal(t, Rule{Min: 1500, Max: 3500}, cfg.Dispatch.Rules["hydraulic_pressure"])
	assert.Equal(t, 10*time.Minute, cfg.Alerting.DedupeWindow)
	assert.Equal(t, 5*time.Minute, cfg.Gauge.PollInterval)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "fleet.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 7, cfg.Dispatch.IdleDays)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  ui_port: 9001
auth:
  jwt_secret: s3cret
  api_keys: ["k1", "k2"]
  users:
    - username: ops
      password_hash: "$2a$10$abc"
      role: dispatcher
scoring:
  fuel_threshold: 25
gauge:
  enabled: true
  base_url: https://gauge.example.com
  poll_interval: 90s
maintenance:
  components:
    generator:
      - name: engine
        interval_hours: 300
        weight: 1.0
lifecycle:
  profiles:
    trailer:
      useful_life_years: 20
      salvage_fraction: 0.05
      base_interval_hours: 1200
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("FLEET_SERVER_DATA_PORT", "7000")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.DataPort)
	assert.Equal(t, 9001, cfg.Server.UIPort)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "dispatcher", cfg.Auth.Users[0].Role)
	assert.Equal(t, 25.0, cfg.Scoring.FuelThreshold)
	assert.Equal(t, 90*time.Second, cfg.Gauge.PollInterval)
	assert.Equal(t, "/api/AssetList", cfg.Gauge.SnapshotPath)
	assert.Equal(t, []ComponentConfig{{Name: "engine", IntervalHours: 300, Weight: 1.0}}, cfg.Maintenance.Components["generator"])
	assert.Equal(t, ProfileConfig{UsefulLifeYears: 20, SalvageFraction: 0.05, BaseIntervalHours: 1200}, cfg.Lifecycle.Profiles["trailer"])
}

func TestLoadEnvWithoutDefaults(t *testing.T) {
	t.Setenv("FLEET_AUTH_JWT_SECRET", "from-env")
	t.Setenv("FLEET_AUTH_API_KEYS", "k1,k2")
	t.Setenv("FLEET_GAUGE_ENABLED", "true")
	t.Setenv("FLEET_GAUGE_BASE_URL", "https://g.example")
	t.Setenv("FLEET_GAUGE_PASSWORD", "pw")
	t.Setenv("FLEET_REDIS_ENABLED", "true")
	t.Setenv("FLEET_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Gauge.Enabled)
	assert.Equal(t, "https://g.example", cfg.Gauge.BaseURL)
	assert.Equal(t, "pw", cfg.Gauge.Password)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "fleet:alerts", cfg.Redis.Channel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("scoring:\n  fuel_threshold: 150\n"), 0o600))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "fuel_threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.UIPort = 0 }, "ports"},
		{"negative threshold", func(c *Config) { c.Scoring.FuelThreshold = -1 }, "fuel_threshold"},
		{"inverted rule", func(c *Config) { c.Dispatch.Rules["x"] = Rule{Min: 5, Max: 1} }, `rule "x"`},
		{"gauge without url", func(c *Config) { c.Gauge.Enabled = true }, "gauge.base_url"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"component without interval", func(c *Config) {
			c.Maintenance.Components = map[string][]ComponentConfig{"truck": {{Name: "engine", Weight: 0.5}}}
		}, "maintenance component"},
		{"salvage above price", func(c *Config) {
			c.Lifecycle.Profiles = map[string]ProfileConfig{"truck": {UsefulLifeYears: 8, SalvageFraction: 1, BaseIntervalHours: 400}}
		}, "lifecycle profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
