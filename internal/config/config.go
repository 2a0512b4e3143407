// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Gauge       GaugeConfig       `mapstructure:"gauge"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
}

type ServerConfig struct {
	DataPort int    `mapstructure:"data_port"`
	UIPort   int    `mapstructure:"ui_port"`
	WebDir   string `mapstructure:"web_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	JWTExpiration int      `mapstructure:"jwt_expiration"` // minutes
	APIKeys       []string `mapstructure:"api_keys"`
	Users         []User   `mapstructure:"users"`
}

type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type StorageConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	HistorySize int    `mapstructure:"history_size"`
}

type GaugeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// ScoringConfig drives status derivation and dispatch priority.
type ScoringConfig struct {
	FuelThreshold       float64            `mapstructure:"fuel_threshold"`
	RecentWindow        time.Duration      `mapstructure:"recent_window"`
	CategoryMultipliers map[string]float64 `mapstructure:"category_multipliers"`
	CategoryRates       map[string]float64 `mapstructure:"category_rates"`
	FuelWeight          float64            `mapstructure:"fuel_weight"`
	UtilizationWeight   float64            `mapstructure:"utilization_weight"`
	MaintenanceWeight   float64            `mapstructure:"maintenance_weight"`
}

type MaintenanceConfig struct {
	MaxFailureProbability float64 `mapstructure:"max_failure_probability"`

	// Components replaces the built-in wear table of a category.
	Components map[string][]ComponentConfig `mapstructure:"components"`
}

type ComponentConfig struct {
	Name          string  `mapstructure:"name"`
	IntervalHours float64 `mapstructure:"interval_hours"`
	Weight        float64 `mapstructure:"weight"`
}

// LifecycleConfig overrides the built-in depreciation profile per category.
type LifecycleConfig struct {
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

type ProfileConfig struct {
	UsefulLifeYears   float64 `mapstructure:"useful_life_years"`
	SalvageFraction   float64 `mapstructure:"salvage_fraction"`
	BaseIntervalHours float64 `mapstructure:"base_interval_hours"`
}

type DispatchConfig struct {
	IdleDays int             `mapstructure:"idle_days"`
	Rules    map[string]Rule `mapstructure:"rules"`
}

type Rule struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

type AlertingConfig struct {
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
}

// Load reads config.yaml from path, layering FLEET_* environment variables
// and defaults underneath. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	if c.Server.DataPort <= 0 || c.Server.UIPort <= 0 {
		return errors.New("config: server ports must be positive")
	}
	if c.Scoring.FuelThreshold < 0 || c.Scoring.FuelThreshold > 100 {
		return fmt.Errorf("config: fuel_threshold %.1f outside [0,100]", c.Scoring.FuelThreshold)
	}
	for name, r := range c.Dispatch.Rules {
		if r.Min > r.Max {
			return fmt.Errorf("config: rule %q has min > max", name)
		}
	}
	for category, table := range c.Maintenance.Components {
		for _, comp := range table {
			if comp.Name == "" || comp.IntervalHours <= 0 || comp.Weight <= 0 || comp.Weight > 1 {
				return fmt.Errorf("config: maintenance component %q in %q needs a name, interval_hours > 0 and weight in (0,1]", comp.Name, category)
			}
		}
	}
	for category, p := range c.Lifecycle.Profiles {
		if p.UsefulLifeYears <= 0 || p.BaseIntervalHours <= 0 || p.SalvageFraction < 0 || p.SalvageFraction >= 1 {
			return fmt.Errorf("config: lifecycle profile %q needs useful_life_years > 0, base_interval_hours > 0 and salvage_fraction in [0,1)", category)
		}
	}
	if c.Gauge.Enabled && c.Gauge.BaseURL == "" {
		return errors.New("config: gauge.base_url required when gauge is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("config: mqtt.broker required when mqtt is enabled")
	}
	return nil
}

// bindEnvs registers every scalar and string-list key so FLEET_* variables
// reach Unmarshal even when the key has no default. Maps and lists of
// structs are file-only.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			bindEnvs(v, f.Type, key)
		case reflect.Map:
		case reflect.Slice:
			if f.Type.Elem().Kind() == reflect.String {
				_ = v.BindEnv(key)
			}
		default:
			_ = v.BindEnv(key)
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("server.web_dir", "./web")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("auth.jwt_expiration", 60)

	v.SetDefault("storage.sqlite_path", "fleet.db")
	v.SetDefault("storage.history_size", 100)

	v.SetDefault("gauge.snapshot_path", "/api/AssetList")
	v.SetDefault("gauge.poll_interval", 5*time.Minute)
	v.SetDefault("gauge.timeout", 30*time.Second)
	v.SetDefault("gauge.retry_count", 3)

	v.SetDefault("mqtt.client_id", "fleet-gateway")
	v.SetDefault("mqtt.topic", "fleet/telemetry/#")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "fleet:alerts")

	v.SetDefault("scoring.fuel_threshold", 20.0)
	v.SetDefault("scoring.recent_window", 24*time.Hour)
	v.SetDefault("scoring.fuel_weight", 0.3)
	v.SetDefault("scoring.utilization_weight", 0.4)
	v.SetDefault("scoring.maintenance_weight", 0.3)
	v.SetDefault("scoring.category_multipliers", map[string]float64{
		"excavator": 1.5,
		"dozer":     1.4,
		"loader":    1.3,
		"compactor": 1.1,
		"truck":     1.2,
		"generator": 0.9,
		"trailer":   0.7,
		"other":     1.0,
	})
	v.SetDefault("scoring.category_rates", map[string]float64{
		"excavator": 8500,
		"dozer":     9000,
		"loader":    6500,
		"compactor": 3200,
		"truck":     4800,
		"generator": 1500,
		"trailer":   900,
		"other":     2000,
	})

	v.SetDefault("maintenance.max_failure_probability", 95.0)

	v.SetDefault("dispatch.idle_days", 7)
	v.SetDefault("dispatch.rules", map[string]any{
		"engine_temp":        map[string]any{"min": -20.0, "max": 105.0},
		"hydraulic_pressure": map[string]any{"min": 1500.0, "max": 3500.0},
		"battery_voltage":    map[string]any{"min": 11.5, "max": 14.8},
	})

	v.SetDefault("alerting.dedupe_window", 10*time.Minute)
}
