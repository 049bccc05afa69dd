package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	HTTP struct {
		Port     int    `yaml:"port"`
		AdminKey string `yaml:"admin_key"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Session struct {
		InactivityMinutes int `yaml:"inactivity_minutes"`
		RetentionHours    int `yaml:"retention_hours"`
	} `yaml:"session"`

	Booking struct {
		Timezone       string `yaml:"timezone"`
		Currency       string `yaml:"currency"`
		MaxAdvanceDays int    `yaml:"max_advance_days"`
		MaxPassengers  int    `yaml:"max_passengers"`
		SupportContact string `yaml:"support_contact"`
	} `yaml:"booking"`

	Payment struct {
		BaseURL             string `yaml:"base_url"`
		SecretKey           string `yaml:"secret_key"`
		CallbackURL         string `yaml:"callback_url"`
		CustomerEmailDomain string `yaml:"customer_email_domain"`
		TimeoutSeconds      int    `yaml:"timeout_seconds"`
	} `yaml:"payment"`

	Catalog struct {
		SeedPath              string `yaml:"seed_path"`
		CacheTTLSeconds       int    `yaml:"cache_ttl_seconds"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"catalog"`

	Throttle struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"throttle"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// BackupConfig controls periodic sqlite snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/tripbot.db"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Monitoring.PrometheusPort == 0 {
		cfg.Monitoring.PrometheusPort = 9090
	}
	if cfg.Booking.Currency == "" {
		cfg.Booking.Currency = "NGN"
	}
	if cfg.Catalog.SeedPath == "" {
		cfg.Catalog.SeedPath = "configs/catalog.yaml"
	}

	if _, err = cfg.Location(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location returns the timezone departures are displayed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone %q: %w", c.Booking.Timezone, err)
	}
	return loc, nil
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Session.InactivityMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Session.InactivityMinutes) * time.Minute
}

func (c *Config) SessionRetention() time.Duration {
	if c.Session.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Session.RetentionHours) * time.Hour
}

func (c *Config) PaymentTimeout() time.Duration {
	if c.Payment.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Payment.TimeoutSeconds) * time.Second
}

func (c *Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.Catalog.CacheTTLSeconds) * time.Second
}

func (c *Config) CatalogReloadInterval() time.Duration {
	if c.Catalog.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.ReloadIntervalSeconds) * time.Second
}

func (c *Config) MaxAdvanceDays() int {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 90
	}
	return c.Booking.MaxAdvanceDays
}

func (c *Config) MaxPassengers() int {
	if c.Booking.MaxPassengers <= 0 {
		return 10
	}
	return c.Booking.MaxPassengers
}

func (c *Config) ThrottleRate() (float64, int) {
	rate, burst := c.Throttle.PerSecond, c.Throttle.Burst
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return rate, burst
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
